/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  enforces append-only semantics: no Update, no Delete. Different
  implementations back this with SQLite (store/sqlite) or memory
  (ledger/store) for tests.

APPEND-ONLY CONTRACT:
  - Append(): the only write operation on entries
  - Corrections via refund/adjustment entries, never edits

IDEMPOTENCY:
  Appending an entry whose idempotency key already exists is rejected.
  This prevents duplicate ledger rows from network retries or user
  double-clicks.

TENANCY:
  Every method takes a Tenant. Implementations scope every query by
  org_id; a row from another organization is a missing row.

SEE ALSO:
  - ledger.go: Higher-level interface using Store
  - store/sqlite/sqlite.go: Production implementation
  - ledger/store/memory.go: In-memory implementation for testing
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the
	// entry's idempotency key already exists. This is the ONLY write.
	Append(ctx context.Context, tenant Tenant, e Entry) error

	// Entries returns all entries for a student, oldest first.
	Entries(ctx context.Context, tenant Tenant, studentID StudentID) ([]Entry, error)

	// EntriesByReference returns entries tagged with a reference ID
	// (e.g. the debit + refund pair of a tuition charge), oldest first.
	EntriesByReference(ctx context.Context, tenant Tenant, referenceID string) ([]Entry, error)

	// KeyExists checks if an idempotency key is already used.
	KeyExists(ctx context.Context, tenant Tenant, idempotencyKey string) (bool, error)
}

// StudentStore resolves student existence. Ledger posts fail with
// ErrStudentNotFound when the student is missing from the organization.
type StudentStore interface {
	StudentExists(ctx context.Context, tenant Tenant, studentID StudentID) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an error
// the transaction is rolled back and none of its writes are visible.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
