// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/academyos/tuition-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[entryKey][]ledger.Entry
	byReference map[refKey][]ledger.Entry
	idempotency map[idemKey]bool
	students    map[studentKey]bool
}

type entryKey struct {
	OrgID     string
	StudentID ledger.StudentID
}

type refKey struct {
	OrgID       string
	ReferenceID string
}

type idemKey struct {
	OrgID string
	Key   string
}

type studentKey struct {
	OrgID     string
	StudentID ledger.StudentID
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[entryKey][]ledger.Entry),
		byReference: make(map[refKey][]ledger.Entry),
		idempotency: make(map[idemKey]bool),
		students:    make(map[studentKey]bool),
	}
}

// RegisterStudent makes a student visible to StudentExists checks.
func (m *Memory) RegisterStudent(tenant ledger.Tenant, studentID ledger.StudentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[studentKey{OrgID: tenant.OrgID, StudentID: studentID}] = true
}

func (m *Memory) StudentExists(_ context.Context, tenant ledger.Tenant, studentID ledger.StudentID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.students[studentKey{OrgID: tenant.OrgID, StudentID: studentID}], nil
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, tenant ledger.Tenant, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tenant, e)
}

func (m *Memory) appendLocked(tenant ledger.Tenant, e ledger.Entry) error {
	if e.IdempotencyKey != "" {
		k := idemKey{OrgID: tenant.OrgID, Key: e.IdempotencyKey}
		if m.idempotency[k] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[k] = true
	}

	ek := entryKey{OrgID: tenant.OrgID, StudentID: e.StudentID}
	m.entries[ek] = append(m.entries[ek], e)

	if e.ReferenceID != "" {
		rk := refKey{OrgID: tenant.OrgID, ReferenceID: e.ReferenceID}
		m.byReference[rk] = append(m.byReference[rk], e)
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := entryKey{OrgID: tenant.OrgID, StudentID: studentID}
	result := make([]ledger.Entry, len(m.entries[k]))
	copy(result, m.entries[k])
	return result, nil
}

func (m *Memory) EntriesByReference(_ context.Context, tenant ledger.Tenant, referenceID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := refKey{OrgID: tenant.OrgID, ReferenceID: referenceID}
	result := make([]ledger.Entry, len(m.byReference[k]))
	copy(result, m.byReference[k])
	return result, nil
}

func (m *Memory) KeyExists(_ context.Context, tenant ledger.Tenant, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idemKey{OrgID: tenant.OrgID, Key: idempotencyKey}], nil
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
// For the memory store this is simulated with snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[entryKey][]ledger.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entriesCopy[k] = append([]ledger.Entry{}, v...)
	}
	refCopy := make(map[refKey][]ledger.Entry, len(tm.byReference))
	for k, v := range tm.byReference {
		refCopy[k] = append([]ledger.Entry{}, v...)
	}
	idemCopy := make(map[idemKey]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idemCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, byReference: refCopy, idempotency: idemCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.byReference = s.byReference
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	entries     map[entryKey][]ledger.Entry
	byReference map[refKey][]ledger.Entry
	idempotency map[idemKey]bool
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, tenant ledger.Tenant, e ledger.Entry) error {
	return tv.parent.appendLocked(tenant, e)
}

func (tv *txMemoryView) Entries(_ context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]ledger.Entry, error) {
	k := entryKey{OrgID: tenant.OrgID, StudentID: studentID}
	return tv.parent.entries[k], nil
}

func (tv *txMemoryView) EntriesByReference(_ context.Context, tenant ledger.Tenant, referenceID string) ([]ledger.Entry, error) {
	k := refKey{OrgID: tenant.OrgID, ReferenceID: referenceID}
	return tv.parent.byReference[k], nil
}

func (tv *txMemoryView) KeyExists(_ context.Context, tenant ledger.Tenant, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idemKey{OrgID: tenant.OrgID, Key: idempotencyKey}], nil
}
