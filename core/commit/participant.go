package commit

import (
	"errors"
	"sync/atomic"

	"github.com/sushant-115/gojotxn/core/transaction"
	"go.uber.org/zap"
)

// Decision is a participant's answer to a vote request. The zero value is
// Negative.
type Decision int

const (
	Negative    Decision = iota // abort (one-phase) or not ready (two-phase)
	Affirmative                 // commit (one-phase) or ready (two-phase)
)

// Label renders the decision in the vocabulary of the given strategy.
func (d Decision) Label(s Strategy) string {
	switch {
	case s == TwoPhase && d == Affirmative:
		return "ready"
	case s == TwoPhase:
		return "not ready"
	case d == Affirmative:
		return "commit"
	default:
		return "abort"
	}
}

func (d Decision) String() string { return d.Label(OnePhase) }

// DecisionOf maps a boolean vote onto a Decision.
func DecisionOf(ok bool) Decision {
	if ok {
		return Affirmative
	}
	return Negative
}

// Participant is a voting unit in a commit round. Vote must not mutate shared
// state; it is called exactly once per round.
type Participant interface {
	Name() string
	Vote() Decision
}

// LocalCommitter is implemented by participants that apply a prepared change
// once a two-phase round has decided to commit.
type LocalCommitter interface {
	CommitLocally()
}

// LocalAborter is implemented by participants that release prepared state
// when a two-phase round aborts.
type LocalAborter interface {
	AbortLocally()
}

// Applier is implemented by participants that own their change and apply it
// themselves once a one-phase round commits, or discard it once it aborts.
type Applier interface {
	Apply()
	Discard()
}

// --- Static participant ---

// StaticParticipant votes a fixed decision and counts the decisions it is told about.
type StaticParticipant struct {
	name     string
	decision Decision
	logger   *zap.Logger

	commits atomic.Int64
	aborts  atomic.Int64
}

// NewStaticParticipant creates a participant that always votes ready/commit
// when vote is true and not ready/abort otherwise.
func NewStaticParticipant(name string, vote bool, logger *zap.Logger) *StaticParticipant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticParticipant{
		name:     name,
		decision: DecisionOf(vote),
		logger:   logger.Named("participant").With(zap.String("participant", name)),
	}
}

func (p *StaticParticipant) Name() string   { return p.name }
func (p *StaticParticipant) Vote() Decision { return p.decision }

// CommitLocally records that the participant applied the transaction.
func (p *StaticParticipant) CommitLocally() {
	p.commits.Add(1)
	p.logger.Info("Participant is committing the transaction.")
}

// AbortLocally records that the participant discarded the transaction.
func (p *StaticParticipant) AbortLocally() {
	p.aborts.Add(1)
	p.logger.Info("Participant is aborting the transaction.")
}

// LocalCommits returns how many times CommitLocally was invoked.
func (p *StaticParticipant) LocalCommits() int64 { return p.commits.Load() }

// LocalAborts returns how many times AbortLocally was invoked.
func (p *StaticParticipant) LocalAborts() int64 { return p.aborts.Load() }

// --- Transaction participant ---

// TxnParticipant votes on behalf of one transaction of a transaction
// manager. Voting claims the transaction, so it is ready only if the
// transaction is active and no other participant has claimed it. Committing
// it locally materializes the transaction's overlay and aborting rolls it back.
type TxnParticipant[V any] struct {
	name    string
	manager *transaction.Manager[V]
	id      transaction.TxnID
	logger  *zap.Logger
}

// NewTxnParticipant wraps transaction id of manager.
func NewTxnParticipant[V any](name string, manager *transaction.Manager[V], id transaction.TxnID, logger *zap.Logger) *TxnParticipant[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxnParticipant[V]{
		name:    name,
		manager: manager,
		id:      id,
		logger:  logger.Named("participant").With(zap.String("participant", name), zap.Uint64("txn_id", uint64(id))),
	}
}

func (p *TxnParticipant[V]) Name() string { return p.name }

func (p *TxnParticipant[V]) Vote() Decision {
	return DecisionOf(p.manager.Prepare(p.id))
}

// CommitLocally commits the wrapped transaction. A transaction that already
// left the active set is left alone.
func (p *TxnParticipant[V]) CommitLocally() {
	if err := p.manager.Commit(p.id); err != nil {
		p.logLocalError("commit", err)
		return
	}
	p.logger.Info("Participant committed its transaction.")
}

// AbortLocally rolls back the wrapped transaction.
func (p *TxnParticipant[V]) AbortLocally() {
	if err := p.manager.Rollback(p.id); err != nil {
		p.logLocalError("rollback", err)
		return
	}
	p.logger.Info("Participant rolled back its transaction.")
}

// Apply commits the wrapped transaction after a one-phase commit.
func (p *TxnParticipant[V]) Apply() { p.CommitLocally() }

// Discard rolls back the wrapped transaction after a one-phase abort.
func (p *TxnParticipant[V]) Discard() { p.AbortLocally() }

func (p *TxnParticipant[V]) logLocalError(op string, err error) {
	if errors.Is(err, transaction.ErrUnknownTransaction) {
		p.logger.Warn("Transaction already finished.", zap.String("op", op))
		return
	}
	p.logger.Error("Local decision failed.", zap.String("op", op), zap.Error(err))
}

// FuncParticipant adapts a function into a Participant.
type FuncParticipant struct {
	ParticipantName string
	VoteFunc        func() Decision
	CommitFunc      func()
}

func (p FuncParticipant) Name() string   { return p.ParticipantName }
func (p FuncParticipant) Vote() Decision { return p.VoteFunc() }

func (p FuncParticipant) CommitLocally() {
	if p.CommitFunc != nil {
		p.CommitFunc()
	}
}
