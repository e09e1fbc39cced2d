/*
lock.go - Per-student advisory locks

PURPOSE:
  Concurrent operations on the SAME student's balance must be serialized:
  two simultaneous charges or duration changes reading the same rows
  would compute allocations off stale state and double-count. Operations
  on DIFFERENT students are independent and run in parallel.

USAGE:
  unlock := locks.Lock(tenant, studentID)
  defer unlock()

SCOPE:
  Locks are keyed by (org, student) so tenants never contend with each
  other. This is an in-process advisory lock; the database transaction
  still provides atomicity for the writes themselves.
*/
package ledger

import "sync"

// StudentLocks serializes balance mutations per (org, student).
type StudentLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	OrgID     string
	StudentID StudentID
}

func NewStudentLocks() *StudentLocks {
	return &StudentLocks{locks: make(map[lockKey]*sync.Mutex)}
}

// Lock acquires the lock for a student and returns the unlock function.
func (s *StudentLocks) Lock(tenant Tenant, studentID StudentID) func() {
	k := lockKey{OrgID: tenant.OrgID, StudentID: studentID}

	s.mu.Lock()
	m, ok := s.locks[k]
	if !ok {
		m = &sync.Mutex{}
		s.locks[k] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
