// Package scenario contains the canned demonstration runs exposed by the
// gojotxn command.
package scenario

import (
	"context"
	"fmt"

	"github.com/sushant-115/gojotxn/core/commit"
	"github.com/sushant-115/gojotxn/core/storage/versionstore"
	"github.com/sushant-115/gojotxn/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Env carries the shared logging and telemetry plumbing into a scenario.
type Env struct {
	Logger       *zap.Logger
	Tracer       trace.Tracer
	TxnMetrics   *internaltelemetry.TxnMetrics
	RoundMetrics *internaltelemetry.RoundMetrics
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Tracer == nil {
		e.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if e.TxnMetrics == nil {
		e.TxnMetrics = internaltelemetry.NopTxnMetrics()
	}
	if e.RoundMetrics == nil {
		e.RoundMetrics = internaltelemetry.NopRoundMetrics()
	}
	return e
}

// NewManager builds a transaction manager over a fresh store.
func (e Env) NewManager() *transaction.Manager[string] {
	e = e.withDefaults()
	return transaction.NewManager(versionstore.New[string](), e.Logger, e.TxnMetrics)
}

// NewCoordinator builds a coordinator wired to the environment's telemetry.
func (e Env) NewCoordinator() *commit.Coordinator {
	e = e.withDefaults()
	return commit.NewCoordinator(e.Logger, commit.WithTracer(e.Tracer), commit.WithMetrics(e.RoundMetrics))
}

// MVCCResult captures what the MVCC scenario observed.
type MVCCResult struct {
	ReadInTxn1     string
	ReadInTxn2     string
	ReadAfterAbort string
	FoundAfter     bool
	Data           []versionstore.KV[string]
}

// RunMVCC commits one transaction, rolls back another, and reports what was
// read along the way.
func RunMVCC(env Env) (MVCCResult, error) {
	env = env.withDefaults()
	log := env.Logger
	db := env.NewManager()
	var res MVCCResult

	if _, err := db.BeginTransaction(1); err != nil {
		return res, err
	}
	if err := db.Write(1, "key1", "value1"); err != nil {
		return res, err
	}
	res.ReadInTxn1, _ = db.Read(1, "key1", true)
	log.Info("Read key1 in transaction 1.", zap.String("value", res.ReadInTxn1))
	if err := db.Commit(1); err != nil {
		return res, err
	}
	db.ShowData()

	if _, err := db.BeginTransaction(2); err != nil {
		return res, err
	}
	if err := db.Write(2, "key2", "value2"); err != nil {
		return res, err
	}
	res.ReadInTxn2, _ = db.Read(2, "key2", true)
	log.Info("Read key2 in transaction 2.", zap.String("value", res.ReadInTxn2))
	if err := db.Rollback(2); err != nil {
		return res, err
	}

	res.ReadAfterAbort, res.FoundAfter = db.Read(2, "key2", true)
	log.Info("Read key2 after rollback.", zap.String("value", res.ReadAfterAbort), zap.Bool("found", res.FoundAfter))
	res.Data = db.ShowData()
	return res, nil
}

// DefaultVotes is the participant set used when none is given.
var DefaultVotes = []bool{true, true, true}

// RunRound runs one commit round with static participants voting votes.
func RunRound(ctx context.Context, env Env, strategy commit.Strategy, votes []bool) *commit.Round {
	env = env.withDefaults()
	c := env.NewCoordinator()
	for i, v := range votes {
		c.AddParticipant(commit.NewStaticParticipant(fmt.Sprintf("Participant %d", i+1), v, env.Logger))
	}
	return c.Run(ctx, strategy)
}
