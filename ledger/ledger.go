/*
ledger.go - Append-only balance transaction log

PURPOSE:
  The Ledger is the immutable source of truth for student balances.
  Every payment, lesson charge, refund, bonus and adjustment is recorded
  here. Balance is always computed by summing entries - there is no
  separate "balance" column that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. SIGN DISCIPLINE: Entry signs must match the declared type.
  3. AUDITABLE: Every balance change is traceable with full context.
  4. IDEMPOTENT: Same idempotency key = one entry (no duplicates).

CORRECTIONS:
  Mistakes are not edited. A cancelled charge gets an offsetting refund
  entry; both rows remain, the net effect is the correction and the
  history is preserved.

EXAMPLE FLOW:
  1. Student pays 5000 RUB / 2.5 hours:  payment  +5000 / +2.5
  2. Individual lesson billed:           lesson_charge -3000 / -1.5
  3. Lesson cancelled:                   refund   +3000 / +1.5

  Balance: [+5000, -3000, +3000] = 5000 RUB; hours 2.5.

SEE ALSO:
  - store.go: Low-level persistence interface
  - billing/charge.go: Charge/refund pairs posted through this ledger
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only entry log with validation
// =============================================================================

// Ledger posts validated entries and computes derived balances.
type Ledger struct {
	store    Store
	students StudentStore
}

// New creates a ledger over the given entry store. The student store may
// come from the same backing database (the SQLite store implements both).
func New(store Store, students StudentStore) *Ledger {
	return &Ledger{store: store, students: students}
}

// Post validates and appends one entry, returning its ID.
//
// Validation:
//   - StudentID must be set (ErrInsufficientData) and exist (ErrStudentNotFound)
//   - Type must be a known EntryType (ErrInvalidAmount)
//   - Amount/AcademicHours signs must match the type (InvalidAmountError)
//
// An empty Entry.ID is filled with a new UUID. CreatedAt is stamped if zero.
func (l *Ledger) Post(ctx context.Context, tenant Tenant, e Entry) (EntryID, error) {
	if e.StudentID == "" {
		return "", ErrInsufficientData
	}
	if err := ValidateSigns(e); err != nil {
		return "", err
	}

	exists, err := l.students.StudentExists(ctx, tenant, e.StudentID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &NotFoundError{Kind: "student", ID: string(e.StudentID)}
	}

	if e.IdempotencyKey != "" {
		used, err := l.store.KeyExists(ctx, tenant, e.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if used {
			return "", ErrDuplicateIdempotencyKey
		}
	}

	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.OrgID = tenant.OrgID

	if err := l.store.Append(ctx, tenant, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Balance returns the sum-reduction over all of a student's entries.
func (l *Ledger) Balance(ctx context.Context, tenant Tenant, studentID StudentID) (Balance, error) {
	exists, err := l.students.StudentExists(ctx, tenant, studentID)
	if err != nil {
		return Balance{}, err
	}
	if !exists {
		return Balance{}, &NotFoundError{Kind: "student", ID: string(studentID)}
	}

	entries, err := l.store.Entries(ctx, tenant, studentID)
	if err != nil {
		return Balance{}, err
	}

	b := Balance{
		StudentID:     studentID,
		Amount:        decimal.Zero,
		AcademicHours: decimal.Zero,
		AsOf:          time.Now().UTC(),
	}
	for _, e := range entries {
		b.Amount = b.Amount.Add(e.Amount)
		b.AcademicHours = b.AcademicHours.Add(e.AcademicHours)
	}
	return b, nil
}

// History returns all of a student's entries, oldest first.
func (l *Ledger) History(ctx context.Context, tenant Tenant, studentID StudentID) ([]Entry, error) {
	exists, err := l.students.StudentExists(ctx, tenant, studentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &NotFoundError{Kind: "student", ID: string(studentID)}
	}
	return l.store.Entries(ctx, tenant, studentID)
}

// EntriesByReference returns the entries tagged with a reference ID,
// oldest first. Used to verify the charge/refund net-zero invariant.
func (l *Ledger) EntriesByReference(ctx context.Context, tenant Tenant, referenceID string) ([]Entry, error) {
	return l.store.EntriesByReference(ctx, tenant, referenceID)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateSigns checks that an entry's amount and academic-hours signs
// are consistent with its declared type.
func ValidateSigns(e Entry) error {
	c, known := constraintFor(e.Type)
	if !known {
		return &InvalidAmountError{Type: e.Type, Amount: e.Amount, AcademicHours: e.AcademicHours}
	}
	switch c {
	case signNonNegative:
		if e.Amount.IsNegative() || e.AcademicHours.IsNegative() {
			return &InvalidAmountError{Type: e.Type, Amount: e.Amount, AcademicHours: e.AcademicHours}
		}
	case signNonPositive:
		if e.Amount.IsPositive() || e.AcademicHours.IsPositive() {
			return &InvalidAmountError{Type: e.Type, Amount: e.Amount, AcademicHours: e.AcademicHours}
		}
	}
	return nil
}
