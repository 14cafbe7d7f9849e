package transaction

import "sync/atomic"

// TxnID identifies a transaction. Ids are chosen by the caller and must be
// unique among the currently active transactions.
type TxnID uint64

// TransactionState represents the lifecycle state of a transaction.
type TransactionState int32

const (
	TxnStateActive     TransactionState = iota // Transaction accepts reads and writes against its overlay
	TxnStateCommitted                          // Overlay was materialized into the version store (terminal)
	TxnStateRolledBack                         // Overlay was discarded (terminal)
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateActive:
		return "active"
	case TxnStateCommitted:
		return "committed"
	case TxnStateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is the handle returned by BeginTransaction. Its overlay is
// private to the transaction and only ever touched by the manager on behalf
// of the transaction's single owner.
type Transaction[V any] struct {
	id       TxnID
	state    atomic.Int32
	prepared atomic.Bool
	// overlay holds pending writes, invisible to other transactions until commit.
	overlay map[string]V
}

func newTransaction[V any](id TxnID) *Transaction[V] {
	return &Transaction[V]{id: id, overlay: make(map[string]V)}
}

// ID returns the caller-supplied transaction id.
func (t *Transaction[V]) ID() TxnID { return t.id }

// State returns the current lifecycle state.
func (t *Transaction[V]) State() TransactionState {
	return TransactionState(t.state.Load())
}

// Prepared reports whether a commit round has claimed the transaction.
func (t *Transaction[V]) Prepared() bool { return t.prepared.Load() }

// finish moves an active transaction into a terminal state. It reports false
// if the transaction had already left the active state.
func (t *Transaction[V]) finish(to TransactionState) bool {
	return t.state.CompareAndSwap(int32(TxnStateActive), int32(to))
}
