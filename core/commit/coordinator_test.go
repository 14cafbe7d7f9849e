package commit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/storage/versionstore"
	"github.com/sushant-115/gojotxn/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// --- Test Helpers ---

// recorder captures the order of votes and local commits across participants.
type recorder struct {
	events []string
}

func (r *recorder) participant(name string, vote bool) FuncParticipant {
	return FuncParticipant{
		ParticipantName: name,
		VoteFunc: func() Decision {
			r.events = append(r.events, "vote:"+name)
			return DecisionOf(vote)
		},
		CommitFunc: func() {
			r.events = append(r.events, "commit:"+name)
		},
	}
}

func setupCoordinator(t *testing.T, votes ...bool) (*Coordinator, []*StaticParticipant) {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	c := NewCoordinator(logger)
	ps := make([]*StaticParticipant, 0, len(votes))
	for i, v := range votes {
		p := NewStaticParticipant(fmt.Sprintf("Participant %d", i+1), v, logger)
		c.AddParticipant(p)
		ps = append(ps, p)
	}
	return c, ps
}

func decisions(r *Round) []Decision {
	out := make([]Decision, 0, len(r.Votes))
	for _, v := range r.Votes {
		out = append(out, v.Decision)
	}
	return out
}

// --- One-phase ---

func TestOnePhase_AllCommit(t *testing.T) {
	c, _ := setupCoordinator(t, true, true, true)
	require.Equal(t, StatusNotStarted, c.Status())

	r := c.Commit(context.Background())
	require.Equal(t, StatusCommitted, r.Status)
	require.Equal(t, ReasonNone, r.Reason)
	require.Equal(t, StatusCommitted, c.Status())
	require.Equal(t, []Decision{Affirmative, Affirmative, Affirmative}, decisions(r))
	require.NotEmpty(t, r.ID)
}

func TestOnePhase_OneAbortRecordsAllVotes(t *testing.T) {
	c, _ := setupCoordinator(t, true, false, true)

	r := c.Commit(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, ReasonNegativeVote, r.Reason)
	require.Len(t, r.Votes, 3, "voting must not short-circuit")
	require.Equal(t, []Decision{Affirmative, Negative, Affirmative}, decisions(r))
	require.Equal(t, "Participant 3", r.Votes[2].Participant)
}

func TestOnePhase_NoLocalCommits(t *testing.T) {
	c, ps := setupCoordinator(t, true, true)
	c.Commit(context.Background())
	for _, p := range ps {
		require.Zero(t, p.LocalCommits())
	}
}

func TestOnePhase_Unanimity(t *testing.T) {
	cases := [][]bool{
		{true},
		{false},
		{true, true},
		{true, false},
		{false, false},
		{false, true, true, true},
		{true, true, true, false},
	}
	for _, votes := range cases {
		t.Run(fmt.Sprint(votes), func(t *testing.T) {
			c, _ := setupCoordinator(t, votes...)
			want := StatusCommitted
			for _, v := range votes {
				if !v {
					want = StatusAborted
				}
			}
			require.Equal(t, want, c.Commit(context.Background()).Status)
		})
	}
}

// --- Two-phase ---

func TestTwoPhase_AllReadyCommitsInOrder(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(zap.NewNop())
	for i := 1; i <= 3; i++ {
		c.AddParticipant(rec.participant(fmt.Sprintf("p%d", i), true))
	}

	r := c.Prepare(context.Background())
	require.Equal(t, StatusCommitted, r.Status)
	require.Equal(t, []string{"p1", "p2", "p3"}, r.Committed)
	require.Equal(t, []string{
		"vote:p1", "vote:p2", "vote:p3",
		"commit:p1", "commit:p2", "commit:p3",
	}, rec.events)
}

func TestTwoPhase_NotReadyNeverCommits(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(rec.participant("p1", true))
	c.AddParticipant(rec.participant("p2", false))
	c.AddParticipant(rec.participant("p3", true))

	r := c.Prepare(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, ReasonNegativeVote, r.Reason)
	require.Empty(t, r.Committed)
	require.Equal(t, []string{"vote:p1", "vote:p2", "vote:p3"}, rec.events)
}

func TestTwoPhase_StaticParticipantsAbortBroadcast(t *testing.T) {
	c, ps := setupCoordinator(t, true, false, true)

	r := c.Prepare(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, []string{"Participant 1", "Participant 2", "Participant 3"}, r.Aborted)
	for _, p := range ps {
		require.Zero(t, p.LocalCommits())
		require.Equal(t, int64(1), p.LocalAborts())
	}
}

func TestTwoPhase_StaticParticipantsCommit(t *testing.T) {
	c, ps := setupCoordinator(t, true, true, true)

	r := c.Prepare(context.Background())
	require.Equal(t, StatusCommitted, r.Status)
	for _, p := range ps {
		require.Equal(t, int64(1), p.LocalCommits())
		require.Zero(t, p.LocalAborts())
	}
	require.Equal(t, "ready", r.Votes[0].Decision.Label(r.Strategy))
}

func TestTwoPhase_ParticipantWithoutLocalCommit(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(voteOnly{name: "voter"})
	p := NewStaticParticipant("applier", true, nil)
	c.AddParticipant(p)

	r := c.Prepare(context.Background())
	require.Equal(t, StatusCommitted, r.Status)
	require.Equal(t, []string{"applier"}, r.Committed)
	require.Equal(t, int64(1), p.LocalCommits())
}

type voteOnly struct{ name string }

func (v voteOnly) Name() string   { return v.name }
func (v voteOnly) Vote() Decision { return Affirmative }

// --- Shared behaviour ---

func TestEmptyRoundAborts(t *testing.T) {
	for _, s := range []Strategy{OnePhase, TwoPhase} {
		t.Run(s.String(), func(t *testing.T) {
			c := NewCoordinator(zap.NewNop())
			r := c.Run(context.Background(), s)
			require.Equal(t, StatusAborted, r.Status)
			require.Equal(t, ReasonNoParticipants, r.Reason)
			require.Empty(t, r.Votes)
			require.Equal(t, StatusAborted, c.Status())
		})
	}
}

func TestRoundsAreIndependent(t *testing.T) {
	ready := true
	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(FuncParticipant{ParticipantName: "flip", VoteFunc: func() Decision { return DecisionOf(ready) }})

	first := c.Commit(context.Background())
	ready = false
	second := c.Commit(context.Background())
	ready = true
	third := c.Prepare(context.Background())

	require.Equal(t, StatusCommitted, first.Status)
	require.Equal(t, StatusAborted, second.Status)
	require.Equal(t, StatusCommitted, third.Status)
	require.NotEqual(t, first.ID, second.ID)
	require.Same(t, third, c.LastRound())
}

func TestDecisionLabels(t *testing.T) {
	require.Equal(t, "commit", Affirmative.Label(OnePhase))
	require.Equal(t, "abort", Negative.Label(OnePhase))
	require.Equal(t, "ready", Affirmative.Label(TwoPhase))
	require.Equal(t, "not ready", Negative.Label(TwoPhase))
	require.Equal(t, "not started", StatusNotStarted.String())
}

// --- Transaction participants ---

func TestTxnParticipants_TwoPhaseAcrossManagers(t *testing.T) {
	logger := zap.NewNop()
	left := transaction.NewManager(versionstore.New[string](), logger, nil)
	right := transaction.NewManager(versionstore.New[string](), logger, nil)

	_, err := left.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, left.Write(1, "debit", "-10"))
	_, err = right.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, right.Write(1, "credit", "+10"))

	c := NewCoordinator(logger)
	c.AddParticipant(NewTxnParticipant("left", left, 1, logger))
	c.AddParticipant(NewTxnParticipant("right", right, 1, logger))

	r := c.Prepare(context.Background())
	require.Equal(t, StatusCommitted, r.Status)

	v, ok := left.Store().Get("debit")
	require.True(t, ok)
	require.Equal(t, "-10", v)
	v, ok = right.Store().Get("credit")
	require.True(t, ok)
	require.Equal(t, "+10", v)
	require.False(t, left.IsActive(1))
	require.False(t, right.IsActive(1))
}

func TestTxnParticipants_NotReadyRollsBackOthers(t *testing.T) {
	logger := zap.NewNop()
	m := transaction.NewManager(versionstore.New[string](), logger, nil)

	_, err := m.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, m.Write(1, "k", "v"))

	c := NewCoordinator(logger)
	c.AddParticipant(NewTxnParticipant("live", m, 1, logger))
	c.AddParticipant(NewTxnParticipant("gone", m, 2, logger)) // never begun

	r := c.Prepare(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, []Decision{Affirmative, Negative}, decisions(r))

	_, ok := m.Store().Get("k")
	require.False(t, ok)
	require.False(t, m.IsActive(1), "abort broadcast rolls the live transaction back")
}

func TestTxnParticipants_OnePhaseApplies(t *testing.T) {
	m := transaction.NewManager(versionstore.New[string](), zap.NewNop(), nil)
	_, err := m.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, m.Write(1, "k", "v"))

	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(NewTxnParticipant("a", m, 1, nil))

	r := c.Commit(context.Background())
	require.Equal(t, StatusCommitted, r.Status)
	require.Equal(t, []string{"a"}, r.Committed)

	v, ok := m.Store().Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
	require.False(t, m.IsActive(1))
}

func TestTxnParticipants_OnePhaseAbortDiscards(t *testing.T) {
	m := transaction.NewManager(versionstore.New[string](), zap.NewNop(), nil)
	_, err := m.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, m.Write(1, "k", "v"))

	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(NewTxnParticipant("a", m, 1, nil))
	s := NewStaticParticipant("s", false, nil)
	c.AddParticipant(s)

	r := c.Commit(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, []string{"a"}, r.Aborted)
	require.Zero(t, s.LocalAborts())

	_, ok := m.Store().Get("k")
	require.False(t, ok)
	require.False(t, m.IsActive(1))
}

func TestTxnParticipants_SameTransactionTwice(t *testing.T) {
	m := transaction.NewManager(versionstore.New[string](), zap.NewNop(), nil)
	_, err := m.BeginTransaction(1)
	require.NoError(t, err)
	require.NoError(t, m.Write(1, "k", "v"))

	c := NewCoordinator(zap.NewNop())
	c.AddParticipant(NewTxnParticipant("a", m, 1, nil))
	c.AddParticipant(NewTxnParticipant("b", m, 1, nil))

	r := c.Prepare(context.Background())
	require.Equal(t, StatusAborted, r.Status)
	require.Equal(t, []Decision{Affirmative, Negative}, decisions(r))
	require.Empty(t, r.Committed)

	_, ok := m.Store().Get("k")
	require.False(t, ok)
	require.False(t, m.IsActive(1))
}

func TestZeroDecisionAborts(t *testing.T) {
	var zero Decision
	require.Equal(t, Negative, zero)

	for _, s := range []Strategy{OnePhase, TwoPhase} {
		t.Run(s.String(), func(t *testing.T) {
			committed := false
			c := NewCoordinator(zap.NewNop())
			c.AddParticipant(FuncParticipant{
				ParticipantName: "forgetful",
				VoteFunc:        func() Decision { return zero },
				CommitFunc:      func() { committed = true },
			})

			r := c.Run(context.Background(), s)
			require.Equal(t, StatusAborted, r.Status)
			require.Equal(t, ReasonNegativeVote, r.Reason)
			require.False(t, committed)
		})
	}
}

// --- Telemetry ---

func TestCoordinator_MetricsAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := internaltelemetry.NewRoundMetrics(provider.Meter("test"))
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	c := NewCoordinator(zap.NewNop(), WithMetrics(metrics), WithTracer(tp.Tracer("test")))
	c.AddParticipant(NewStaticParticipant("a", true, nil))
	c.AddParticipant(NewStaticParticipant("b", false, nil))
	c.Commit(context.Background())
	c.Prepare(context.Background())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(2), totals["gojotxn.commit.rounds_total"])
	require.Equal(t, int64(4), totals["gojotxn.commit.votes_total"])
	require.Zero(t, totals["gojotxn.commit.local_commits_total"])

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "commit.round", spans[0].Name)
}

func TestTwoPhase_PreparedEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	c := NewCoordinator(zap.NewNop(), WithTracer(tp.Tracer("test")))
	c.AddParticipant(NewStaticParticipant("a", true, nil))
	c.Prepare(context.Background())
	c.Commit(context.Background())
	c.AddParticipant(NewStaticParticipant("b", false, nil))
	c.Prepare(context.Background())

	eventNames := func(s tracetest.SpanStub) []string {
		names := make([]string, 0, len(s.Events))
		for _, e := range s.Events {
			names = append(names, e.Name)
		}
		return names
	}

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	require.Equal(t, []string{"round.prepared"}, eventNames(spans[0]))
	require.Empty(t, eventNames(spans[1]), "one-phase rounds have no prepare phase")
	require.Empty(t, eventNames(spans[2]), "aborted rounds never reach prepared")
}
