/*
Package ledger provides the core tuition balance engine.

PURPOSE:
  This package contains the append-only ledger that is the source of
  truth for every student's currency balance and academic-hours balance.
  Payments, lesson charges, refunds, bonuses and manual adjustments are
  all recorded here as immutable entries; the balance is always the sum
  of those entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger row recording one balance change
  - EntryType: payment, lesson_charge, refund, bonus, adjustment, debit, credit
  - Balance: Derived currency + academic-hours totals for a student
  - Tenant: Explicit organization scope carried by every operation

DESIGN PRINCIPLES:
  1. Immutability: Entries are never edited or deleted, only appended.
     Corrections are new entries (adjustment/refund).
  2. Precision: Uses decimal.Decimal to avoid floating-point errors in
     money and academic-hour arithmetic.
  3. Explicit tenancy: No ambient "current organization" state. Every
     operation takes a Tenant and every row carries the OrgID.
  4. Sign discipline: An entry's signs must match its declared type
     (a payment cannot be negative, a charge cannot be positive).

USAGE:
  entry := ledger.Entry{
      StudentID:     "stu-1",
      Amount:        decimal.NewFromInt(-3000),
      AcademicHours: decimal.RequireFromString("-1.5"),
      Type:          ledger.EntryLessonCharge,
  }
  id, err := led.Post(ctx, tenant, entry)

SEE ALSO:
  - ledger.go: Posting, validation and balance computation
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TENANT - Explicit organization scope
// =============================================================================

// Tenant identifies the organization a request operates on.
// Rows belonging to a different organization are treated as missing.
type Tenant struct {
	OrgID string
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID string
type EntryID string

// =============================================================================
// ENTRY - Immutable balance transaction
// =============================================================================

type EntryType string

const (
	EntryPayment      EntryType = "payment"       // Money/hours received from the student
	EntryLessonCharge EntryType = "lesson_charge" // Tuition debit for a learning unit
	EntryRefund       EntryType = "refund"        // Offsetting credit for a cancelled charge
	EntryBonus        EntryType = "bonus"         // Promotional credit
	EntryAdjustment   EntryType = "adjustment"    // Manual admin correction, either sign
	EntryDebit        EntryType = "debit"         // Generic debit
	EntryCredit       EntryType = "credit"        // Generic credit
)

// Entry is one immutable row of the balance ledger.
//
// INVARIANTS:
//   - Never updated or deleted after Append.
//   - Amount and AcademicHours signs are consistent with Type
//     (validated on Post, see signConstraint).
type Entry struct {
	ID            EntryID
	OrgID         string
	StudentID     StudentID
	Amount        decimal.Decimal // currency, signed
	AcademicHours decimal.Decimal // academic hours, signed
	Type          EntryType
	Description   string

	// Optional references back to the originating records.
	PaymentID       string
	LessonSessionID string
	ReferenceID     string // charge ID for lesson_charge/refund pairs

	// IdempotencyKey guards against double-posting on retries.
	IdempotencyKey string

	CreatedAt time.Time
}

// =============================================================================
// BALANCE - Derived state, computed from entries
// =============================================================================

// Balance is the sum-reduction over all of a student's entries.
// It is recomputed on read; there is no denormalized counter that can
// drift from the ledger.
type Balance struct {
	StudentID     StudentID
	Amount        decimal.Decimal
	AcademicHours decimal.Decimal
	AsOf          time.Time
}

// signConstraint describes the allowed signs for an entry type.
type signConstraint int

const (
	signAny signConstraint = iota
	signNonNegative
	signNonPositive
)

// constraintFor returns the sign rule for a type. Unknown types get
// signAny and are rejected separately by Post.
func constraintFor(t EntryType) (signConstraint, bool) {
	switch t {
	case EntryPayment, EntryRefund, EntryBonus, EntryCredit:
		return signNonNegative, true
	case EntryLessonCharge, EntryDebit:
		return signNonPositive, true
	case EntryAdjustment:
		return signAny, true
	}
	return signAny, false
}
