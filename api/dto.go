/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND HOURS:
  All monetary and academic-hour values travel as decimal strings
  ("3000", "-1.5"). Floats never touch balances.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup and middleware
*/
package api

import (
	"github.com/academyos/tuition-engine/billing"
	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/pricing"
	"github.com/academyos/tuition-engine/schedule"
)

// =============================================================================
// STUDENTS
// =============================================================================

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateStudentRequest is the request to enroll a student.
type CreateStudentRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// =============================================================================
// LEDGER
// =============================================================================

// BalanceDTO is the derived balance of a student.
type BalanceDTO struct {
	StudentID     string `json:"student_id"`
	Amount        string `json:"amount"`
	AcademicHours string `json:"academic_hours"`
	AsOf          string `json:"as_of"`
}

// TransactionDTO represents one ledger entry in API responses.
type TransactionDTO struct {
	ID              string `json:"id"`
	StudentID       string `json:"student_id"`
	Amount          string `json:"amount"`
	AcademicHours   string `json:"academic_hours"`
	Type            string `json:"type"`
	Description     string `json:"description,omitempty"`
	PaymentID       string `json:"payment_id,omitempty"`
	LessonSessionID string `json:"lesson_session_id,omitempty"`
	ReferenceID     string `json:"reference_id,omitempty"`
	CreatedAt       string `json:"created_at"`

	// Running balance after this entry, for the balance card UI.
	BalanceAfter string `json:"balance_after"`
	HoursAfter   string `json:"hours_after"`
}

// PostTransactionRequest creates a manual ledger entry (adjustments,
// bonuses). Charges and payments use their own endpoints.
type PostTransactionRequest struct {
	StudentID       string `json:"student_id" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	AcademicHours   string `json:"academic_hours" validate:"required"`
	Type            string `json:"type" validate:"required,oneof=payment lesson_charge refund bonus adjustment debit credit"`
	Description     string `json:"description"`
	PaymentID       string `json:"payment_id"`
	LessonSessionID string `json:"lesson_session_id"`
	ReferenceID     string `json:"reference_id"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// =============================================================================
// CHARGES AND PAYMENTS
// =============================================================================

// ChargeDTO represents a tuition charge in API responses.
type ChargeDTO struct {
	ID               string `json:"id"`
	StudentID        string `json:"student_id"`
	LearningUnitType string `json:"learning_unit_type"`
	LearningUnitID   string `json:"learning_unit_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	AcademicHours    string `json:"academic_hours"`
	ChargeDate       string `json:"charge_date"`
	Status           string `json:"status"`
	Description      string `json:"description,omitempty"`
}

// CreateChargeRequest issues a tuition charge.
type CreateChargeRequest struct {
	StudentID        string `json:"student_id" validate:"required"`
	LearningUnitType string `json:"learning_unit_type" validate:"required,oneof=group individual"`
	LearningUnitID   string `json:"learning_unit_id" validate:"required"`
	Amount           string `json:"amount" validate:"required"`
	Currency         string `json:"currency"`
	AcademicHours    string `json:"academic_hours" validate:"required"`
	ChargeDate       string `json:"charge_date"` // YYYY-MM-DD, defaults to today
	Description      string `json:"description"`
	PaymentID        string `json:"payment_id"`
	LessonSessionID  string `json:"lesson_session_id"`
}

// CancelChargeResponse reports the refund entry of a cancellation.
// Repeated cancellations return the same refund transaction ID.
type CancelChargeResponse struct {
	ChargeID            string `json:"charge_id"`
	RefundTransactionID string `json:"refund_transaction_id"`
}

// RecordPaymentRequest records money received from a student.
type RecordPaymentRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	AcademicHours string `json:"academic_hours" validate:"required"`
	Method        string `json:"method"`
	Description   string `json:"description"`
}

// =============================================================================
// LESSONS AND SESSIONS
// =============================================================================

// LessonDTO represents an individual lesson in API responses.
type LessonDTO struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Subject   string `json:"subject,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateLessonRequest creates an individual lesson.
type CreateLessonRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Subject   string `json:"subject"`
}

// SessionDTO represents a lesson session in API responses.
type SessionDTO struct {
	ID          string `json:"id"`
	LessonID    string `json:"lesson_id"`
	StudentID   string `json:"student_id"`
	LessonDate  string `json:"lesson_date"`
	Duration    int    `json:"duration"`
	PaidMinutes int    `json:"paid_minutes"`
	Status      string `json:"status"`
}

// CreateSessionRequest schedules a session of a lesson.
type CreateSessionRequest struct {
	LessonDate  string `json:"lesson_date" validate:"required"`
	Duration    int    `json:"duration" validate:"required,gt=0"`
	PaidMinutes int    `json:"paid_minutes" validate:"gte=0"`
}

// ChangeDurationRequest updates a session's duration.
type ChangeDurationRequest struct {
	NewDuration int `json:"new_duration" validate:"required,gt=0"`
}

// AllocationDTO records minutes moved onto one future session.
type AllocationDTO struct {
	SessionID      string `json:"session_id"`
	MinutesApplied int    `json:"minutes_applied"`
}

// ChangeDurationResponse reports the reallocation of freed minutes.
// UnallocatedMinutes > 0 means the operator must handle the remainder
// (manual refund or adjustment).
type ChangeDurationResponse struct {
	SessionID          string          `json:"session_id"`
	FreedMinutes       int             `json:"freed_minutes"`
	Reallocated        []AllocationDTO `json:"reallocated"`
	UnallocatedMinutes int             `json:"unallocated_minutes"`
}

// =============================================================================
// PRICING
// =============================================================================

// RuleDTO represents a discount/surcharge rule in API responses.
type RuleDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	ValueType     string `json:"value_type"`
	Value         string `json:"value"`
	ApplyPriority int    `json:"apply_priority"`
	IsActive      bool   `json:"is_active"`
}

// CreateRuleRequest creates a discount/surcharge rule.
type CreateRuleRequest struct {
	Name          string `json:"name" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=discount surcharge"`
	ValueType     string `json:"value_type" validate:"required,oneof=fixed percent"`
	Value         string `json:"value" validate:"required"`
	ApplyPriority int    `json:"apply_priority"`
}

// CreateBindingRequest assigns a rule to a student.
type CreateBindingRequest struct {
	RuleID     string `json:"rule_id" validate:"required"`
	StudentID  string `json:"student_id" validate:"required"`
	ValidFrom  string `json:"valid_from"`  // YYYY-MM-DD, optional
	ValidUntil string `json:"valid_until"` // YYYY-MM-DD, optional
	MaxUses    *int   `json:"max_uses"`
}

// CalculatePriceRequest runs the discount/surcharge fold over a base price.
type CalculatePriceRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	BasePrice string   `json:"base_price" validate:"required"`
	RuleIDs   []string `json:"rule_ids"`
}

// PriceStepDTO records one rule application against the running price.
type PriceStepDTO struct {
	RuleID     string `json:"rule_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ValueType  string `json:"value_type"`
	Value      string `json:"value"`
	Applied    string `json:"applied"`
	PriceAfter string `json:"price_after"`
}

// CalculationDTO is the full audited price derivation.
type CalculationDTO struct {
	StudentID      string         `json:"student_id"`
	BasePrice      string         `json:"base_price"`
	FinalPrice     string         `json:"final_price"`
	TotalDiscount  string         `json:"total_discount"`
	TotalSurcharge string         `json:"total_surcharge"`
	Steps          []PriceStepDTO `json:"steps"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSIONS
// =============================================================================

func toTransactionDTO(e ledger.Entry) TransactionDTO {
	return TransactionDTO{
		ID:              string(e.ID),
		StudentID:       string(e.StudentID),
		Amount:          e.Amount.String(),
		AcademicHours:   e.AcademicHours.String(),
		Type:            string(e.Type),
		Description:     e.Description,
		PaymentID:       e.PaymentID,
		LessonSessionID: e.LessonSessionID,
		ReferenceID:     e.ReferenceID,
		CreatedAt:       e.CreatedAt.Format(timeFormat),
	}
}

func toChargeDTO(c billing.Charge) ChargeDTO {
	return ChargeDTO{
		ID:               string(c.ID),
		StudentID:        string(c.StudentID),
		LearningUnitType: string(c.LearningUnitType),
		LearningUnitID:   c.LearningUnitID,
		Amount:           c.Amount.String(),
		Currency:         c.Currency,
		AcademicHours:    c.AcademicHours.String(),
		ChargeDate:       c.ChargeDate.Format(dateFormat),
		Status:           string(c.Status),
		Description:      c.Description,
	}
}

func toSessionDTO(s schedule.Session) SessionDTO {
	return SessionDTO{
		ID:          string(s.ID),
		LessonID:    string(s.LessonID),
		StudentID:   string(s.StudentID),
		LessonDate:  s.LessonDate.Format(timeFormat),
		Duration:    s.Duration,
		PaidMinutes: s.PaidMinutes,
		Status:      string(s.Status),
	}
}

func toRuleDTO(r pricing.Rule) RuleDTO {
	return RuleDTO{
		ID:            string(r.ID),
		Name:          r.Name,
		Type:          string(r.Type),
		ValueType:     string(r.ValueType),
		Value:         r.Value.String(),
		ApplyPriority: r.ApplyPriority,
		IsActive:      r.IsActive,
	}
}

func toCalculationDTO(c pricing.Calculation) CalculationDTO {
	steps := make([]PriceStepDTO, 0, len(c.Steps))
	for _, s := range c.Steps {
		steps = append(steps, PriceStepDTO{
			RuleID:     string(s.RuleID),
			Name:       s.Name,
			Type:       string(s.Type),
			ValueType:  string(s.ValueType),
			Value:      s.Value.String(),
			Applied:    s.Applied.String(),
			PriceAfter: s.PriceAfter.String(),
		})
	}
	return CalculationDTO{
		StudentID:      string(c.StudentID),
		BasePrice:      c.BasePrice.String(),
		FinalPrice:     c.FinalPrice.String(),
		TotalDiscount:  c.TotalDiscount.String(),
		TotalSurcharge: c.TotalSurcharge.String(),
		Steps:          steps,
	}
}
