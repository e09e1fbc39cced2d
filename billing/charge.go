/*
charge.go - Tuition charge issuance and cancellation

PURPOSE:
  The Issuer creates tuition charges and keeps them consistent with the
  ledger: every charge row has a matching lesson_charge debit, every
  cancellation has a matching refund credit, and the three writes of a
  charge (charge row, optional payment link, ledger debit) land
  atomically or not at all.

CANCEL SEMANTICS:
  Cancel is idempotent by status check: cancelling an already-cancelled
  charge does NOT post a second refund. It returns the original refund
  entry so retries see a stable result. The refund entry's description
  is "Отмена списания: <original description>" - the CRM UI renders it
  verbatim.

CONCURRENCY:
  Charge/Cancel/RecordPayment hold the per-student advisory lock for the
  read-modify-write span, so two concurrent operations on one student
  cannot interleave; different students proceed in parallel.

SEE ALSO:
  - types.go: Charge, Payment, PaymentLink
  - ledger/ledger.go: Sign validation and the append-only invariant
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/academyos/tuition-engine/ledger"
)

// =============================================================================
// STORE - Persistence interface for charges and payments
// =============================================================================

// Store extends the ledger store with charge and payment persistence so
// one transaction can span all three tables.
type Store interface {
	ledger.Store

	InsertCharge(ctx context.Context, tenant ledger.Tenant, c Charge) error
	Charge(ctx context.Context, tenant ledger.Tenant, id ChargeID) (*Charge, error)
	SetChargeStatus(ctx context.Context, tenant ledger.Tenant, id ChargeID, status ChargeStatus) error

	InsertPayment(ctx context.Context, tenant ledger.Tenant, p Payment) error
	Payment(ctx context.Context, tenant ledger.Tenant, id PaymentID) (*Payment, error)
	InsertPaymentLink(ctx context.Context, tenant ledger.Tenant, l PaymentLink) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ISSUER
// =============================================================================

// ChargeRequest carries the inputs of one charge issuance.
type ChargeRequest struct {
	StudentID        ledger.StudentID
	LearningUnitType LearningUnitType
	LearningUnitID   string
	Amount           decimal.Decimal
	Currency         string
	AcademicHours    decimal.Decimal
	ChargeDate       time.Time // zero means now
	Description      string
	PaymentID        PaymentID // optional: link this payment for Amount
	LessonSessionID  string    // optional: tag the ledger debit
}

// Issuer creates and cancels tuition charges.
type Issuer struct {
	store    TxStore
	students ledger.StudentStore
	locks    *ledger.StudentLocks
}

func NewIssuer(store TxStore, students ledger.StudentStore, locks *ledger.StudentLocks) *Issuer {
	return &Issuer{store: store, students: students, locks: locks}
}

// Charge inserts the charge row, the optional payment link and the
// ledger debit as one atomic unit. Returns the new charge's ID.
func (i *Issuer) Charge(ctx context.Context, tenant ledger.Tenant, req ChargeRequest) (ChargeID, error) {
	if req.StudentID == "" || req.LearningUnitID == "" {
		return "", ledger.ErrInsufficientData
	}
	if req.LearningUnitType != UnitGroup && req.LearningUnitType != UnitIndividual {
		return "", ledger.ErrInsufficientData
	}
	if req.Amount.IsNegative() || req.AcademicHours.IsNegative() {
		return "", &ledger.InvalidAmountError{
			Type:          ledger.EntryLessonCharge,
			Amount:        req.Amount,
			AcademicHours: req.AcademicHours,
		}
	}

	unlock := i.locks.Lock(tenant, req.StudentID)
	defer unlock()

	exists, err := i.students.StudentExists(ctx, tenant, req.StudentID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &ledger.NotFoundError{Kind: "student", ID: string(req.StudentID)}
	}

	if req.PaymentID != "" {
		p, err := i.store.Payment(ctx, tenant, req.PaymentID)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "", ledger.ErrInsufficientData
		}
	}

	chargeDate := req.ChargeDate
	if chargeDate.IsZero() {
		chargeDate = time.Now().UTC()
	}
	currency := req.Currency
	if currency == "" {
		currency = "RUB"
	}

	charge := Charge{
		ID:               ChargeID(uuid.NewString()),
		OrgID:            tenant.OrgID,
		StudentID:        req.StudentID,
		LearningUnitType: req.LearningUnitType,
		LearningUnitID:   req.LearningUnitID,
		Amount:           req.Amount,
		Currency:         currency,
		AcademicHours:    req.AcademicHours,
		ChargeDate:       chargeDate,
		Status:           ChargeActive,
		Description:      req.Description,
		CreatedAt:        time.Now().UTC(),
	}

	err = i.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertCharge(ctx, tenant, charge); err != nil {
			return err
		}
		if req.PaymentID != "" {
			link := PaymentLink{
				ID:        uuid.NewString(),
				OrgID:     tenant.OrgID,
				PaymentID: req.PaymentID,
				ChargeID:  charge.ID,
				Amount:    req.Amount,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.InsertPaymentLink(ctx, tenant, link); err != nil {
				return err
			}
		}
		debit := ledger.Entry{
			ID:              ledger.EntryID(uuid.NewString()),
			OrgID:           tenant.OrgID,
			StudentID:       req.StudentID,
			Amount:          req.Amount.Neg(),
			AcademicHours:   req.AcademicHours.Neg(),
			Type:            ledger.EntryLessonCharge,
			Description:     req.Description,
			PaymentID:       string(req.PaymentID),
			LessonSessionID: req.LessonSessionID,
			ReferenceID:     string(charge.ID),
			CreatedAt:       time.Now().UTC(),
		}
		if err := ledger.ValidateSigns(debit); err != nil {
			return err
		}
		return s.Append(ctx, tenant, debit)
	})
	if err != nil {
		if ledger.IsClientError(err) || ledger.IsNotFound(err) {
			return "", err
		}
		return "", &ledger.PartialWriteError{Op: "issueCharge", Cause: err}
	}
	return charge.ID, nil
}

// Cancel flips the charge to cancelled and posts the offsetting refund.
// Calling Cancel on an already-cancelled charge is a no-op that returns
// the existing refund entry's ID.
func (i *Issuer) Cancel(ctx context.Context, tenant ledger.Tenant, chargeID ChargeID) (ledger.EntryID, error) {
	if chargeID == "" {
		return "", ledger.ErrInsufficientData
	}

	charge, err := i.store.Charge(ctx, tenant, chargeID)
	if err != nil {
		return "", err
	}
	if charge == nil {
		return "", &ledger.NotFoundError{Kind: "charge", ID: string(chargeID)}
	}

	unlock := i.locks.Lock(tenant, charge.StudentID)
	defer unlock()

	// Re-read under the lock: a concurrent Cancel may have won the race.
	charge, err = i.store.Charge(ctx, tenant, chargeID)
	if err != nil {
		return "", err
	}
	if charge == nil {
		return "", &ledger.NotFoundError{Kind: "charge", ID: string(chargeID)}
	}

	if charge.Status == ChargeCancelled || charge.Status == ChargeRefunded {
		return i.refundEntryFor(ctx, tenant, chargeID)
	}

	refund := ledger.Entry{
		ID:            ledger.EntryID(uuid.NewString()),
		OrgID:         tenant.OrgID,
		StudentID:     charge.StudentID,
		Amount:        charge.Amount,
		AcademicHours: charge.AcademicHours,
		Type:          ledger.EntryRefund,
		Description:   "Отмена списания: " + charge.Description,
		ReferenceID:   string(chargeID),
		CreatedAt:     time.Now().UTC(),
	}

	err = i.store.WithTx(ctx, func(s Store) error {
		if err := s.SetChargeStatus(ctx, tenant, chargeID, ChargeCancelled); err != nil {
			return err
		}
		return s.Append(ctx, tenant, refund)
	})
	if err != nil {
		return "", &ledger.PartialWriteError{Op: "cancelCharge", Cause: err}
	}
	return refund.ID, nil
}

// refundEntryFor finds the refund entry already posted for a charge.
func (i *Issuer) refundEntryFor(ctx context.Context, tenant ledger.Tenant, chargeID ChargeID) (ledger.EntryID, error) {
	entries, err := i.store.EntriesByReference(ctx, tenant, string(chargeID))
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type == ledger.EntryRefund {
			return e.ID, nil
		}
	}
	// Cancelled without a refund entry should not happen (single tx),
	// but a stable empty result beats inventing one.
	return "", nil
}

// RecordPayment inserts the payment row and posts the matching payment
// credit in one transaction. Returns the new payment's ID.
func (i *Issuer) RecordPayment(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID, amount, academicHours decimal.Decimal, method, description string) (PaymentID, error) {
	if studentID == "" {
		return "", ledger.ErrInsufficientData
	}
	if amount.IsNegative() || academicHours.IsNegative() {
		return "", &ledger.InvalidAmountError{
			Type:          ledger.EntryPayment,
			Amount:        amount,
			AcademicHours: academicHours,
		}
	}

	unlock := i.locks.Lock(tenant, studentID)
	defer unlock()

	exists, err := i.students.StudentExists(ctx, tenant, studentID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &ledger.NotFoundError{Kind: "student", ID: string(studentID)}
	}

	payment := Payment{
		ID:            PaymentID(uuid.NewString()),
		OrgID:         tenant.OrgID,
		StudentID:     studentID,
		Amount:        amount,
		AcademicHours: academicHours,
		Method:        method,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}

	err = i.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertPayment(ctx, tenant, payment); err != nil {
			return err
		}
		credit := ledger.Entry{
			ID:            ledger.EntryID(uuid.NewString()),
			OrgID:         tenant.OrgID,
			StudentID:     studentID,
			Amount:        amount,
			AcademicHours: academicHours,
			Type:          ledger.EntryPayment,
			Description:   description,
			PaymentID:     string(payment.ID),
			CreatedAt:     time.Now().UTC(),
		}
		return s.Append(ctx, tenant, credit)
	})
	if err != nil {
		return "", &ledger.PartialWriteError{Op: "recordPayment", Cause: err}
	}
	return payment.ID, nil
}
