// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/swim-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (default backend, tests)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	charges    map[ledger.ChargeID]ledger.Charge
	order      []ledger.ChargeID
	lastIssued int
}

func NewMemory() *Memory {
	return &Memory{
		charges: make(map[ledger.ChargeID]ledger.Charge),
	}
}

func (m *Memory) List(_ context.Context) ([]ledger.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(), nil
}

func (m *Memory) Get(_ context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

// Insert adds a charge and advances the id high-water mark.
func (m *Memory) Insert(_ context.Context, c ledger.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(c)
}

// Update replaces amounts; history may only grow.
func (m *Memory) Update(_ context.Context, c ledger.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(c)
}

func (m *Memory) Delete(_ context.Context, id ledger.ChargeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) LastIssuedNumber(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastIssued, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) listLocked() []ledger.Charge {
	result := make([]ledger.Charge, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.charges[id].Clone())
	}
	return result
}

func (m *Memory) getLocked(id ledger.ChargeID) (ledger.Charge, error) {
	c, ok := m.charges[id]
	if !ok {
		return ledger.Charge{}, &ledger.NotFoundError{ID: id}
	}
	return c.Clone(), nil
}

func (m *Memory) insertLocked(c ledger.Charge) error {
	if _, exists := m.charges[c.ID]; exists {
		return ledger.ErrDuplicateChargeID
	}
	m.charges[c.ID] = c.Clone()
	m.order = append(m.order, c.ID)
	if n := ledger.ChargeNumber(c.ID); n > m.lastIssued {
		m.lastIssued = n
	}
	return nil
}

func (m *Memory) updateLocked(c ledger.Charge) error {
	stored, ok := m.charges[c.ID]
	if !ok {
		return &ledger.NotFoundError{ID: c.ID}
	}
	if err := ledger.CheckAppend(stored.PaymentHistory, c.PaymentHistory); err != nil {
		return err
	}
	m.charges[c.ID] = c.Clone()
	return nil
}

func (m *Memory) deleteLocked(id ledger.ChargeID) error {
	if _, ok := m.charges[id]; !ok {
		return &ledger.NotFoundError{ID: id}
	}
	delete(m.charges, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) resetLocked() {
	m.charges = make(map[ledger.ChargeID]ledger.Charge)
	m.order = nil
	m.lastIssued = 0
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	charges    map[ledger.ChargeID]ledger.Charge
	order      []ledger.ChargeID
	lastIssued int
}

func (tm *TxMemory) snapshot() memorySnapshot {
	chargesCopy := make(map[ledger.ChargeID]ledger.Charge, len(tm.charges))
	for k, v := range tm.charges {
		chargesCopy[k] = v.Clone()
	}
	return memorySnapshot{
		charges:    chargesCopy,
		order:      append([]ledger.ChargeID(nil), tm.order...),
		lastIssued: tm.lastIssued,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.charges = s.charges
	tm.order = s.order
	tm.lastIssued = s.lastIssued
}

// txMemoryView runs against the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) List(_ context.Context) ([]ledger.Charge, error) {
	return tv.parent.listLocked(), nil
}

func (tv *txMemoryView) Get(_ context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) Insert(_ context.Context, c ledger.Charge) error {
	return tv.parent.insertLocked(c)
}

func (tv *txMemoryView) Update(_ context.Context, c ledger.Charge) error {
	return tv.parent.updateLocked(c)
}

func (tv *txMemoryView) Delete(_ context.Context, id ledger.ChargeID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) LastIssuedNumber(_ context.Context) (int, error) {
	return tv.parent.lastIssued, nil
}

func (tv *txMemoryView) Reset(_ context.Context) error {
	tv.parent.resetLocked()
	return nil
}
