/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types of the tuition subsystem in one place. Domain packages
  (billing, schedule, pricing) reuse these sentinels and wrap them with
  additional context.

ERROR CATEGORIES:
  1. Not-found errors - Missing student/charge/session rows
  2. Validation errors - Sign/type mismatches, missing identifiers
  3. Write errors - Partial multi-step failures, idempotency conflicts

PROPAGATION POLICY:
  Every error is surfaced to the caller unmodified. Operations here have
  financial and academic-hour consequences, so there is no silent local
  recovery.

USAGE:
  if errors.Is(err, ledger.ErrStudentNotFound) { ... }

SEE ALSO:
  - ledger.go: Uses these errors
  - billing/charge.go, schedule/reconciler.go: Wrap these errors
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an entry's amount or academic-hours
	// sign is inconsistent with its declared type.
	ErrInvalidAmount = errors.New("invalid amount for entry type")

	// ErrStudentNotFound is returned when the referenced student does not
	// exist in the operation's organization.
	ErrStudentNotFound = errors.New("student not found")

	// ErrChargeNotFound is returned when a referenced tuition charge is missing.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrSessionNotFound is returned when a referenced lesson session is missing.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPartialWrite is returned when a multi-step operation failed
	// mid-flight. The transaction is rolled back; no writes landed.
	ErrPartialWrite = errors.New("partial write: transaction rolled back")

	// ErrInsufficientData is returned when a required identifier is missing.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError details a sign/type mismatch.
type InvalidAmountError struct {
	Type          EntryType
	Amount        decimal.Decimal
	AcademicHours decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount for %s entry: amount=%s hours=%s",
		e.Type, e.Amount, e.AcademicHours)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// NotFoundError identifies which row was missing.
type NotFoundError struct {
	Kind string // "student", "charge", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case "charge":
		return ErrChargeNotFound
	case "session":
		return ErrSessionNotFound
	}
	return ErrStudentNotFound
}

// PartialWriteError wraps the underlying cause of a rolled-back
// multi-step operation.
type PartialWriteError struct {
	Op    string
	Cause error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write in %s: %v", e.Op, e.Cause)
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
