// Package commit drives atomic commit rounds over a set of voting
// participants, using either a one-phase or a two-phase protocol.
//
// A negative vote is an ordinary outcome: the round completes with status
// aborted and no error is returned. Participants are polled in the order they
// were added and every participant is polled even after a negative vote, so
// the vote log of a round is always complete.
//
// There is no timeout: a participant that never answers Vote blocks the
// round. Callers that need a bound must enforce it inside the participant.
package commit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Coordinator collects votes from its participants and decides the outcome of
// each round. Each call to Commit, Prepare or Run starts a fresh round.
type Coordinator struct {
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *internaltelemetry.RoundMetrics

	mu           sync.Mutex
	participants []Participant
	last         *Round
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTracer records every round as a span of tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

// WithMetrics records round and vote counts into metrics.
func WithMetrics(metrics *internaltelemetry.RoundMetrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// NewCoordinator creates a Coordinator with no participants.
func NewCoordinator(logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:  logger.Named("coordinator"),
		tracer:  nooptrace.NewTracerProvider().Tracer(""),
		metrics: internaltelemetry.NopRoundMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddParticipant appends p to the participant list. The coordinator only
// borrows p for the duration of each round.
func (c *Coordinator) AddParticipant(p Participant) {
	c.mu.Lock()
	c.participants = append(c.participants, p)
	c.mu.Unlock()
	c.logger.Info("Added participant.", zap.String("participant", p.Name()))
}

// Participants returns the participant list in insertion order.
func (c *Coordinator) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Participant(nil), c.participants...)
}

// Status returns the status of the most recent round, or StatusNotStarted
// if no round has run.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return StatusNotStarted
	}
	return c.last.Status
}

// LastRound returns the most recent round, or nil.
func (c *Coordinator) LastRound() *Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Commit runs a one-phase round: the round commits iff every participant
// votes commit. Participants implementing Applier are then told to apply or
// discard their change.
func (c *Coordinator) Commit(ctx context.Context) *Round {
	return c.Run(ctx, OnePhase)
}

// Prepare runs a two-phase round: a prepare phase collecting readiness,
// followed by CommitLocally on every participant if all were ready.
func (c *Coordinator) Prepare(ctx context.Context) *Round {
	return c.Run(ctx, TwoPhase)
}

// Run executes one round with the given strategy. ctx carries tracing only;
// it does not bound the round.
func (c *Coordinator) Run(ctx context.Context, strategy Strategy) *Round {
	participants := c.Participants()

	round := &Round{
		ID:       uuid.NewString(),
		Strategy: strategy,
		Status:   StatusNotStarted,
		Started:  time.Now(),
	}
	log := c.logger.With(zap.String("round_id", round.ID), zap.Stringer("strategy", strategy))

	ctx, span := c.tracer.Start(ctx, "commit.round", trace.WithAttributes(
		attribute.String("round.id", round.ID),
		attribute.String("round.strategy", strategy.String()),
		attribute.Int("round.participants", len(participants)),
	))
	defer span.End()

	switch {
	case len(participants) == 0:
		log.Warn("No participants to commit the transaction.")
		round.Status = StatusAborted
		round.Reason = ReasonNoParticipants
	case strategy == TwoPhase:
		c.runTwoPhase(ctx, log, round, participants)
	default:
		c.runOnePhase(ctx, log, round, participants)
	}

	round.Duration = time.Since(round.Started)
	c.record(ctx, round)
	span.SetAttributes(
		attribute.String("round.status", round.Status.String()),
		attribute.String("round.reason", round.Reason.String()),
	)
	if round.Status == StatusAborted {
		span.SetStatus(codes.Error, "round aborted: "+round.Reason.String())
	}

	c.mu.Lock()
	c.last = round
	c.mu.Unlock()

	log.Info("Final transaction status.", zap.Stringer("status", round.Status), zap.Stringer("reason", round.Reason))
	return round
}

func (c *Coordinator) runOnePhase(ctx context.Context, log *zap.Logger, round *Round, participants []Participant) {
	log.Info("Broadcasting commit request to all participants.")
	c.collectVotes(ctx, log, round, participants)

	if round.Unanimous() {
		round.Status = StatusCommitted
		for _, p := range participants {
			if a, ok := p.(Applier); ok {
				a.Apply()
				round.Committed = append(round.Committed, p.Name())
				c.metrics.LocalCommitsCounter.Add(ctx, 1)
			}
		}
		log.Info("Transaction committed successfully.")
		return
	}
	round.Status = StatusAborted
	round.Reason = ReasonNegativeVote
	log.Error("Transaction aborted due to participant disagreement.")
	for _, p := range participants {
		if a, ok := p.(Applier); ok {
			a.Discard()
			round.Aborted = append(round.Aborted, p.Name())
		}
	}
}

func (c *Coordinator) runTwoPhase(ctx context.Context, log *zap.Logger, round *Round, participants []Participant) {
	log.Info("Phase 1: Sending prepare request to all participants.")
	c.collectVotes(ctx, log, round, participants)

	if !round.Unanimous() {
		round.Status = StatusAborted
		round.Reason = ReasonNegativeVote
		log.Error("Phase 2: Transaction aborted due to participant readiness failure.")
		for _, p := range participants {
			if a, ok := p.(LocalAborter); ok {
				a.AbortLocally()
				round.Aborted = append(round.Aborted, p.Name())
			}
		}
		return
	}

	round.Status = StatusPrepared
	trace.SpanFromContext(ctx).AddEvent("round.prepared")
	log.Debug("Round prepared.", zap.Int("participants", len(participants)))
	log.Info("Phase 2: All participants are prepared. Sending commit command.")
	for _, p := range participants {
		lc, ok := p.(LocalCommitter)
		if !ok {
			continue
		}
		lc.CommitLocally()
		round.Committed = append(round.Committed, p.Name())
		c.metrics.LocalCommitsCounter.Add(ctx, 1)
	}
	round.Status = StatusCommitted
	log.Info("Transaction committed successfully.")
}

// collectVotes polls every participant in order; it never stops early.
func (c *Coordinator) collectVotes(ctx context.Context, log *zap.Logger, round *Round, participants []Participant) {
	round.Votes = make([]Vote, 0, len(participants))
	for _, p := range participants {
		d := p.Vote()
		round.Votes = append(round.Votes, Vote{Participant: p.Name(), Decision: d})
		c.metrics.VotesCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", round.Strategy.String()),
			attribute.String("decision", d.Label(round.Strategy)),
		))

		fields := []zap.Field{zap.String("participant", p.Name()), zap.String("decision", d.Label(round.Strategy))}
		if d == Affirmative {
			log.Info("Participant voted.", fields...)
		} else {
			log.Warn("Participant voted.", fields...)
		}
	}
}

func (c *Coordinator) record(ctx context.Context, round *Round) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", round.Strategy.String()),
		attribute.String("status", round.Status.String()),
	)
	c.metrics.RoundsCounter.Add(ctx, 1, attrs)
	c.metrics.RoundLatencyHistogram.Record(ctx, float64(round.Duration.Microseconds())/1000, attrs)
}
