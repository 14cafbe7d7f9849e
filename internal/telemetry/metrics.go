package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// TxnMetrics holds the metric instruments for the transaction manager.
type TxnMetrics struct {
	BegunCounter      metric.Int64Counter
	CommittedCounter  metric.Int64Counter
	RolledBackCounter metric.Int64Counter
	// RejectedCounter counts calls refused with a duplicate or unknown id.
	RejectedCounter     metric.Int64Counter
	ActiveUpDownCounter metric.Int64UpDownCounter
}

// NewTxnMetrics creates and registers all the metrics for the transaction manager.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	begun, err := meter.Int64Counter(
		"gojotxn.txn.begun_total",
		metric.WithDescription("Total number of transactions begun."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	committed, err := meter.Int64Counter(
		"gojotxn.txn.committed_total",
		metric.WithDescription("Total number of transactions committed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rolledBack, err := meter.Int64Counter(
		"gojotxn.txn.rolled_back_total",
		metric.WithDescription("Total number of transactions rolled back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"gojotxn.txn.rejected_total",
		metric.WithDescription("Total number of transaction calls rejected for a duplicate or unknown id."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"gojotxn.txn.active",
		metric.WithDescription("Number of active transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		BegunCounter:        begun,
		CommittedCounter:    committed,
		RolledBackCounter:   rolledBack,
		RejectedCounter:     rejected,
		ActiveUpDownCounter: active,
	}, nil
}

// RoundMetrics holds the metric instruments for the commit coordinator.
type RoundMetrics struct {
	RoundsCounter metric.Int64Counter
	VotesCounter  metric.Int64Counter
	// LocalCommitsCounter counts local commits and applies issued after a
	// commit decision.
	LocalCommitsCounter   metric.Int64Counter
	RoundLatencyHistogram metric.Float64Histogram
}

// NewRoundMetrics creates and registers all the metrics for the commit coordinator.
func NewRoundMetrics(meter metric.Meter) (*RoundMetrics, error) {
	rounds, err := meter.Int64Counter(
		"gojotxn.commit.rounds_total",
		metric.WithDescription("Total number of commit rounds, by strategy and final status."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	votes, err := meter.Int64Counter(
		"gojotxn.commit.votes_total",
		metric.WithDescription("Total number of participant votes, by decision."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	localCommits, err := meter.Int64Counter(
		"gojotxn.commit.local_commits_total",
		metric.WithDescription("Total number of commit-locally calls issued to participants."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram(
		"gojotxn.commit.round.duration",
		metric.WithDescription("The latency of commit rounds."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &RoundMetrics{
		RoundsCounter:         rounds,
		VotesCounter:          votes,
		LocalCommitsCounter:   localCommits,
		RoundLatencyHistogram: latency,
	}, nil
}

// NopTxnMetrics returns instruments that record nothing.
func NopTxnMetrics() *TxnMetrics {
	m, _ := NewTxnMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// NopRoundMetrics returns instruments that record nothing.
func NopRoundMetrics() *RoundMetrics {
	m, _ := NewRoundMetrics(noop.NewMeterProvider().Meter(""))
	return m
}
