// Package transaction implements snapshot-isolated transactions on top of the
// version store. Each transaction buffers its writes in a private overlay that
// is consulted before the committed state and materialized on commit.
package transaction

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sushant-115/gojotxn/core/storage/versionstore"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.uber.org/zap"
)

// Manager owns the lifecycle of transactions against a shared Store.
//
// Write-write conflicts are resolved by commit order: the last committer wins.
// No conflict detection is performed.
type Manager[V any] struct {
	store   *versionstore.Store[V]
	logger  *zap.Logger
	metrics *internaltelemetry.TxnMetrics

	mu     sync.RWMutex
	active map[TxnID]*Transaction[V]
}

// NewManager creates a Manager over store. A nil logger or metrics disables
// the corresponding output.
func NewManager[V any](store *versionstore.Store[V], logger *zap.Logger, metrics *internaltelemetry.TxnMetrics) *Manager[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = internaltelemetry.NopTxnMetrics()
	}
	m := &Manager[V]{
		store:   store,
		logger:  logger.Named("txn"),
		metrics: metrics,
		active:  make(map[TxnID]*Transaction[V]),
	}
	m.logger.Info("Initialized transaction manager.")
	return m
}

// Store returns the version store backing this manager.
func (m *Manager[V]) Store() *versionstore.Store[V] { return m.store }

// BeginTransaction starts a transaction with an empty overlay.
func (m *Manager[V]) BeginTransaction(id TxnID) (*Transaction[V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[id]; exists {
		m.reject("begin", id)
		return nil, fmt.Errorf("begin %d: %w", id, ErrDuplicateTransaction)
	}
	tx := newTransaction[V](id)
	m.active[id] = tx

	m.metrics.BegunCounter.Add(context.Background(), 1)
	m.metrics.ActiveUpDownCounter.Add(context.Background(), 1)
	m.logger.Info("Transaction started.", zap.Uint64("txn_id", uint64(id)))
	return tx, nil
}

// Write records key=value in the transaction's overlay. The version store is
// not touched.
func (m *Manager[V]) Write(id TxnID, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.active[id]
	if !ok {
		m.reject("write", id)
		return fmt.Errorf("write %d: %w", id, ErrUnknownTransaction)
	}

	tx.overlay[key] = value
	m.logger.Info("Transaction wrote key.",
		zap.Uint64("txn_id", uint64(id)), zap.String("key", key), zap.Any("value", value))
	return nil
}

// Read returns the value of key as seen by the transaction: its own pending
// write if there is one, otherwise the committed value when fallbackToMain is
// set. An id that is not active has no overlay and is treated the same way.
func (m *Manager[V]) Read(id TxnID, key string, fallbackToMain bool) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.active[id]

	if !ok {
		if !fallbackToMain {
			m.logger.Error("Read failed: transaction does not exist.", zap.Uint64("txn_id", uint64(id)))
			var zero V
			return zero, false
		}
		m.logger.Warn("Transaction not found, reading from main data store.", zap.Uint64("txn_id", uint64(id)))
		return m.store.Get(key)
	}

	if v, inOverlay := tx.overlay[key]; inOverlay {
		m.logger.Info("Transaction read key from overlay.",
			zap.Uint64("txn_id", uint64(id)), zap.String("key", key), zap.Any("value", v))
		return v, true
	}
	if !fallbackToMain {
		var zero V
		return zero, false
	}
	v, found := m.store.Get(key)
	m.logger.Info("Transaction read key from main data store.",
		zap.Uint64("txn_id", uint64(id)), zap.String("key", key), zap.Bool("found", found), zap.Any("value", v))
	return v, found
}

// Commit materializes the overlay into the version store in one step and
// removes the transaction from the active set.
func (m *Manager[V]) Commit(id TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.active[id]
	if !ok {
		m.reject("commit", id)
		return fmt.Errorf("commit %d: %w", id, ErrUnknownTransaction)
	}

	keys := slices.Sorted(maps.Keys(tx.overlay))
	writes := make([]versionstore.KV[V], 0, len(keys))
	for _, k := range keys {
		writes = append(writes, versionstore.KV[V]{Key: k, Value: tx.overlay[k]})
	}
	m.store.Apply(writes)
	for _, kv := range writes {
		m.logger.Debug("Committed key to main data store.", zap.String("key", kv.Key), zap.Any("value", kv.Value))
	}

	tx.finish(TxnStateCommitted)
	tx.overlay = nil
	delete(m.active, id)

	m.metrics.CommittedCounter.Add(context.Background(), 1)
	m.metrics.ActiveUpDownCounter.Add(context.Background(), -1)
	m.logger.Info("Transaction committed and cleared.",
		zap.Uint64("txn_id", uint64(id)), zap.Int("keys", len(writes)))
	return nil
}

// Rollback discards the overlay and removes the transaction from the active
// set. The version store is untouched.
func (m *Manager[V]) Rollback(id TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.active[id]
	if !ok {
		m.reject("rollback", id)
		return fmt.Errorf("rollback %d: %w", id, ErrUnknownTransaction)
	}

	tx.finish(TxnStateRolledBack)
	tx.overlay = nil
	delete(m.active, id)

	m.metrics.RolledBackCounter.Add(context.Background(), 1)
	m.metrics.ActiveUpDownCounter.Add(context.Background(), -1)
	m.logger.Warn("Transaction rolled back and cleared.", zap.Uint64("txn_id", uint64(id)))
	return nil
}

// Prepare claims id for a commit round. It reports false if id is not active
// or has already been claimed.
func (m *Manager[V]) Prepare(id TxnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.active[id]
	if !ok {
		return false
	}
	if !tx.prepared.CompareAndSwap(false, true) {
		m.logger.Warn("Transaction already prepared.", zap.Uint64("txn_id", uint64(id)))
		return false
	}
	m.logger.Info("Transaction prepared.", zap.Uint64("txn_id", uint64(id)))
	return true
}

// IsActive reports whether id names an active transaction.
func (m *Manager[V]) IsActive(id TxnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok
}

// Active returns the ids of all active transactions in ascending order.
func (m *Manager[V]) Active() []TxnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.active))
}

// ShowData logs the committed state and returns it.
func (m *Manager[V]) ShowData() []versionstore.KV[V] {
	snap := m.store.Snapshot()
	m.logger.Info("Current main data store.", zap.Any("data", snap))
	return snap
}

func (m *Manager[V]) reject(op string, id TxnID) {
	m.metrics.RejectedCounter.Add(context.Background(), 1)
	m.logger.Error("Transaction call rejected.", zap.String("op", op), zap.Uint64("txn_id", uint64(id)))
}
