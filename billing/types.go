/*
Package billing issues tuition charges against students and keeps the
charge <-> ledger linkage consistent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Charge: A billing event for one learning unit (group or individual)
  - Payment: Money received from a student, creditable to the ledger
  - PaymentLink: Partial allocation of one payment across charges

LIFECYCLE:
  Charges are audit-preserving: cancellation flips the status and posts
  an offsetting refund entry; the charge row itself is never deleted.

SEE ALSO:
  - charge.go: Issuer with atomic charge + link + ledger-debit writes
  - ledger: The append-only entry log charges debit into
*/
package billing

import (
	"time"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ChargeID string
type PaymentID string

// =============================================================================
// CHARGE - Tuition billing event
// =============================================================================

type LearningUnitType string

const (
	UnitGroup      LearningUnitType = "group"
	UnitIndividual LearningUnitType = "individual"
)

type ChargeStatus string

const (
	ChargeActive    ChargeStatus = "active"
	ChargeCancelled ChargeStatus = "cancelled"
	ChargeRefunded  ChargeStatus = "refunded"
)

// Charge debits a student for a specific learning unit.
//
// INVARIANT: the ledger entries referencing a charge net to -Amount
// while active and to zero once cancelled.
type Charge struct {
	ID               ChargeID
	OrgID            string
	StudentID        ledger.StudentID
	LearningUnitType LearningUnitType
	LearningUnitID   string
	Amount           decimal.Decimal // positive; the ledger debit is -Amount
	Currency         string
	AcademicHours    decimal.Decimal // positive
	ChargeDate       time.Time
	Status           ChargeStatus
	Description      string
	CreatedAt        time.Time
}

// =============================================================================
// PAYMENT - Money received from a student
// =============================================================================

type Payment struct {
	ID            PaymentID
	OrgID         string
	StudentID     ledger.StudentID
	Amount        decimal.Decimal
	AcademicHours decimal.Decimal
	Method        string
	Description   string
	CreatedAt     time.Time
}

// PaymentLink allocates part of a payment to a charge. One payment may
// be spread across several charges, and a charge may be funded by
// several payments.
type PaymentLink struct {
	ID        string
	OrgID     string
	PaymentID PaymentID
	ChargeID  ChargeID
	Amount    decimal.Decimal
	CreatedAt time.Time
}
