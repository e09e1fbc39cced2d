/*
handlers.go - HTTP API handlers for the tuition engine

PURPOSE:
  Exposes the tuition balance engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Students:
    GET    /api/students                      List students
    POST   /api/students                      Enroll student
    GET    /api/students/{id}                 Get student details
    DELETE /api/students/{id}                 Archive student (soft)
    GET    /api/students/{id}/balance         Derived balance
    GET    /api/students/{id}/transactions    Ledger history
    GET    /api/students/{id}/charges         Charge list

  Ledger:
    POST   /api/transactions                  Manual entry (adjustment, bonus)

  Billing:
    POST   /api/charges                       Issue tuition charge
    GET    /api/charges/{id}                  Get charge
    POST   /api/charges/{id}/cancel           Cancel charge (idempotent)
    POST   /api/payments                      Record payment

  Scheduling:
    POST   /api/lessons                       Create individual lesson
    GET    /api/lessons/{id}/sessions         List sessions
    POST   /api/lessons/{id}/sessions         Schedule session
    PUT    /api/sessions/{id}/duration        Change duration, reallocate minutes

  Pricing:
    GET    /api/pricing/rules                 List rules
    POST   /api/pricing/rules                 Create rule
    PUT    /api/pricing/rules/{id}/active     Activate/deactivate rule
    POST   /api/pricing/bindings              Assign rule to student
    DELETE /api/pricing/bindings/{id}         Remove assignment
    POST   /api/pricing/bindings/{id}/use     Count one use against the cap
    POST   /api/pricing/calculate             Run the price fold

TENANCY:
  Every request must carry the X-Org-ID header. Requests without it
  are rejected with 400 before any handler logic runs.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, sign violations
  - 404: Student/charge/session not found (including cross-org access)
  - 409: Duplicate idempotency key
  - 500: Internal errors, partial-write failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/academyos/tuition-engine/billing"
	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/pricing"
	"github.com/academyos/tuition-engine/schedule"
	"github.com/academyos/tuition-engine/store/sqlite"
)

const (
	timeFormat = time.RFC3339
	dateFormat = "2006-01-02"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Ledger     *ledger.Ledger
	Issuer     *billing.Issuer
	Reconciler *schedule.Reconciler
	Calculator *pricing.Calculator

	log      *logrus.Logger
	validate *validator.Validate
}

// NewHandler creates a handler with all domain services wired to the store.
func NewHandler(store *sqlite.Store, log *logrus.Logger, lookahead int) *Handler {
	locks := ledger.NewStudentLocks()
	return &Handler{
		Store:      store,
		Ledger:     ledger.New(store, store),
		Issuer:     billing.NewIssuer(store.Billing(), store, locks),
		Reconciler: schedule.NewReconciler(store.Schedule(), locks, lookahead),
		Calculator: pricing.NewCalculator(store, store),
		log:        log,
		validate:   validator.New(),
	}
}

// tenant extracts the organization from the X-Org-ID header.
// RequireTenant middleware guarantees the header is present.
func tenant(r *http.Request) ledger.Tenant {
	return ledger.Tenant{OrgID: r.Header.Get(orgHeader)}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// =============================================================================
// STUDENT ENDPOINTS
// =============================================================================

// ListStudents returns all students of the organization.
// GET /api/students
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context(), tenant(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, 0, len(students))
	for _, s := range students {
		dtos = append(dtos, toStudentDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent enrolls a student.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	student := sqlite.Student{
		ID:    ledger.StudentID(id),
		Name:  req.Name,
		Email: req.Email,
	}
	if err := h.Store.SaveStudent(r.Context(), tenant(r), student); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}

	saved, err := h.Store.GetStudent(r.Context(), tenant(r), student.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load created student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(*saved))
}

// GetStudent returns one student.
// GET /api/students/{id}
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	student, err := h.Store.GetStudent(r.Context(), tenant(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// ArchiveStudent soft-archives a student. History stays intact.
// DELETE /api/students/{id}
func (h *Handler) ArchiveStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	if err := h.Store.ArchiveStudent(r.Context(), tenant(r), id); err != nil {
		writeDomainError(w, "Failed to archive student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance derives a student's balance from the ledger.
// GET /api/students/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), tenant(r), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		StudentID:     string(balance.StudentID),
		Amount:        balance.Amount.String(),
		AcademicHours: balance.AcademicHours.String(),
		AsOf:          balance.AsOf.Format(timeFormat),
	})
}

// GetTransactions returns a student's ledger history, newest first,
// with the running balance after each entry.
// GET /api/students/{id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	entries, err := h.Ledger.History(r.Context(), tenant(r), id)
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	// Walk oldest-first to accumulate the running balance, then reverse.
	dtos := make([]TransactionDTO, len(entries))
	amount := decimal.Zero
	hours := decimal.Zero
	for i, e := range entries {
		amount = amount.Add(e.Amount)
		hours = hours.Add(e.AcademicHours)
		dto := toTransactionDTO(e)
		dto.BalanceAfter = amount.String()
		dto.HoursAfter = hours.String()
		dtos[len(entries)-1-i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudentCharges returns a student's charges, newest first.
// GET /api/students/{id}/charges
func (h *Handler) GetStudentCharges(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	charges, err := h.Store.ListCharges(r.Context(), tenant(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}

	dtos := make([]ChargeDTO, 0, len(charges))
	for _, c := range charges {
		dtos = append(dtos, toChargeDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// PostTransaction creates a manual ledger entry.
// POST /api/transactions
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	hours, err := decimal.NewFromString(req.AcademicHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid academic_hours", err)
		return
	}

	entry := ledger.Entry{
		StudentID:       ledger.StudentID(req.StudentID),
		Amount:          amount,
		AcademicHours:   hours,
		Type:            ledger.EntryType(req.Type),
		Description:     req.Description,
		PaymentID:       req.PaymentID,
		LessonSessionID: req.LessonSessionID,
		ReferenceID:     req.ReferenceID,
		IdempotencyKey:  req.IdempotencyKey,
	}

	id, err := h.Ledger.Post(r.Context(), tenant(r), entry)
	if err != nil {
		writeDomainError(w, "Failed to post transaction", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"org_id":     tenant(r).OrgID,
		"student_id": req.StudentID,
		"type":       req.Type,
		"amount":     req.Amount,
	}).Info("Posted ledger transaction")

	writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// CreateCharge issues a tuition charge: charge row, optional payment
// link and ledger debit in one transaction.
// POST /api/charges
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	hours, err := decimal.NewFromString(req.AcademicHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid academic_hours", err)
		return
	}

	var chargeDate time.Time
	if req.ChargeDate != "" {
		chargeDate, err = time.Parse(dateFormat, req.ChargeDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid charge_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	chargeID, err := h.Issuer.Charge(r.Context(), tenant(r), billing.ChargeRequest{
		StudentID:        ledger.StudentID(req.StudentID),
		LearningUnitType: billing.LearningUnitType(req.LearningUnitType),
		LearningUnitID:   req.LearningUnitID,
		Amount:           amount,
		Currency:         req.Currency,
		AcademicHours:    hours,
		ChargeDate:       chargeDate,
		Description:      req.Description,
		PaymentID:        billing.PaymentID(req.PaymentID),
		LessonSessionID:  req.LessonSessionID,
	})
	if err != nil {
		writeDomainError(w, "Failed to issue charge", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"org_id":     tenant(r).OrgID,
		"student_id": req.StudentID,
		"charge_id":  chargeID,
		"amount":     req.Amount,
	}).Info("Issued tuition charge")

	charge, err := h.Store.Charge(r.Context(), tenant(r), chargeID)
	if err != nil || charge == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load issued charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTO(*charge))
}

// GetCharge returns one charge.
// GET /api/charges/{id}
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	id := billing.ChargeID(chi.URLParam(r, "id"))

	charge, err := h.Store.Charge(r.Context(), tenant(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get charge", err)
		return
	}
	if charge == nil {
		writeError(w, http.StatusNotFound, "Charge not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*charge))
}

// CancelCharge cancels a charge and posts the offsetting refund.
// Safe to call repeatedly: an already-cancelled charge returns the
// existing refund's transaction ID.
// POST /api/charges/{id}/cancel
func (h *Handler) CancelCharge(w http.ResponseWriter, r *http.Request) {
	id := billing.ChargeID(chi.URLParam(r, "id"))

	refundID, err := h.Issuer.Cancel(r.Context(), tenant(r), id)
	if err != nil {
		writeDomainError(w, "Failed to cancel charge", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"org_id":    tenant(r).OrgID,
		"charge_id": id,
		"refund_id": refundID,
	}).Info("Cancelled tuition charge")

	writeJSON(w, http.StatusOK, CancelChargeResponse{
		ChargeID:            string(id),
		RefundTransactionID: string(refundID),
	})
}

// RecordPayment records a payment and credits the student's ledger.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	hours, err := decimal.NewFromString(req.AcademicHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid academic_hours", err)
		return
	}

	paymentID, err := h.Issuer.RecordPayment(r.Context(), tenant(r),
		ledger.StudentID(req.StudentID), amount, hours, req.Method, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"payment_id": string(paymentID)})
}

// =============================================================================
// SCHEDULING ENDPOINTS
// =============================================================================

// CreateLesson creates an individual lesson for a student.
// POST /api/lessons
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lesson := schedule.Lesson{
		ID:        schedule.LessonID(uuid.New().String()),
		StudentID: ledger.StudentID(req.StudentID),
		Subject:   req.Subject,
	}
	if err := h.Store.SaveLesson(r.Context(), tenant(r), lesson); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create lesson", err)
		return
	}

	writeJSON(w, http.StatusCreated, LessonDTO{
		ID:        string(lesson.ID),
		StudentID: string(lesson.StudentID),
		Subject:   lesson.Subject,
	})
}

// ListSessions returns a lesson's sessions, ascending by date.
// GET /api/lessons/{id}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	lessonID := schedule.LessonID(chi.URLParam(r, "id"))

	sessions, err := h.Store.SessionsByLesson(r.Context(), tenant(r), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dtos = append(dtos, toSessionDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSession schedules a session of a lesson.
// POST /api/lessons/{id}/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	lessonID := schedule.LessonID(chi.URLParam(r, "id"))

	var req CreateSessionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lessonDate, err := time.Parse(timeFormat, req.LessonDate)
	if err != nil {
		lessonDate, err = time.Parse(dateFormat, req.LessonDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid lesson_date format", err)
			return
		}
	}
	if req.PaidMinutes > req.Duration {
		writeError(w, http.StatusBadRequest, "paid_minutes cannot exceed duration", nil)
		return
	}

	lesson, err := h.Store.GetLesson(r.Context(), tenant(r), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get lesson", err)
		return
	}
	if lesson == nil {
		writeError(w, http.StatusNotFound, "Lesson not found", nil)
		return
	}

	session := schedule.Session{
		ID:          schedule.SessionID(uuid.New().String()),
		LessonID:    lessonID,
		StudentID:   lesson.StudentID,
		LessonDate:  lessonDate,
		Duration:    req.Duration,
		PaidMinutes: req.PaidMinutes,
	}
	if err := h.Store.SaveSession(r.Context(), tenant(r), session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// ChangeDuration updates a session's duration and reallocates freed
// pre-paid minutes onto the lesson's next sessions.
// PUT /api/sessions/{id}/duration
func (h *Handler) ChangeDuration(w http.ResponseWriter, r *http.Request) {
	sessionID := schedule.SessionID(chi.URLParam(r, "id"))

	var req ChangeDurationRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Reconciler.ChangeDuration(r.Context(), tenant(r), sessionID, req.NewDuration)
	if err != nil {
		writeDomainError(w, "Failed to change duration", err)
		return
	}

	if result.UnallocatedMinutes > 0 {
		h.log.WithFields(logrus.Fields{
			"org_id":      tenant(r).OrgID,
			"session_id":  sessionID,
			"unallocated": result.UnallocatedMinutes,
		}).Warn("Freed minutes could not be fully reallocated")
	}

	allocations := make([]AllocationDTO, 0, len(result.Reallocated))
	for _, a := range result.Reallocated {
		allocations = append(allocations, AllocationDTO{
			SessionID:      string(a.SessionID),
			MinutesApplied: a.MinutesApplied,
		})
	}
	writeJSON(w, http.StatusOK, ChangeDurationResponse{
		SessionID:          string(result.SessionID),
		FreedMinutes:       result.FreedMinutes,
		Reallocated:        allocations,
		UnallocatedMinutes: result.UnallocatedMinutes,
	})
}

// =============================================================================
// PRICING ENDPOINTS
// =============================================================================

// ListRules returns all discount/surcharge rules, priority ascending.
// GET /api/pricing/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context(), tenant(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, toRuleDTO(rule))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates a discount/surcharge rule.
// POST /api/pricing/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil || value.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid value", err)
		return
	}

	priority := req.ApplyPriority
	if priority <= 0 {
		priority = 1
	}

	rule := pricing.Rule{
		ID:            pricing.RuleID(uuid.New().String()),
		Name:          req.Name,
		Type:          pricing.RuleType(req.Type),
		ValueType:     pricing.ValueType(req.ValueType),
		Value:         value,
		ApplyPriority: priority,
		IsActive:      true,
	}
	if err := h.Store.InsertRule(r.Context(), tenant(r), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(rule))
}

// SetRuleActive activates or deactivates a rule.
// PUT /api/pricing/rules/{id}/active
func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	id := pricing.RuleID(chi.URLParam(r, "id"))

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.SetRuleActive(r.Context(), tenant(r), id, req.Active); err != nil {
		writeDomainError(w, "Failed to update rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateBinding assigns a rule to a student.
// POST /api/pricing/bindings
func (h *Handler) CreateBinding(w http.ResponseWriter, r *http.Request) {
	var req CreateBindingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	binding := pricing.Binding{
		ID:        pricing.BindingID(uuid.New().String()),
		RuleID:    pricing.RuleID(req.RuleID),
		StudentID: ledger.StudentID(req.StudentID),
		MaxUses:   req.MaxUses,
	}
	if req.ValidFrom != "" {
		t, err := time.Parse(dateFormat, req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_from format (use YYYY-MM-DD)", err)
			return
		}
		binding.ValidFrom = &t
	}
	if req.ValidUntil != "" {
		t, err := time.Parse(dateFormat, req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_until format (use YYYY-MM-DD)", err)
			return
		}
		binding.ValidUntil = &t
	}

	if err := h.Store.InsertBinding(r.Context(), tenant(r), binding); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create binding", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(binding.ID)})
}

// DeleteBinding removes a rule assignment.
// DELETE /api/pricing/bindings/{id}
func (h *Handler) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	id := pricing.BindingID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteBinding(r.Context(), tenant(r), id); err != nil {
		writeDomainError(w, "Failed to delete binding", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UseBinding counts one use against a binding's cap.
// POST /api/pricing/bindings/{id}/use
func (h *Handler) UseBinding(w http.ResponseWriter, r *http.Request) {
	id := pricing.BindingID(chi.URLParam(r, "id"))

	if err := h.Store.IncrementBindingUse(r.Context(), tenant(r), id); err != nil {
		writeDomainError(w, "Failed to count binding use", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CalculatePrice runs the discount/surcharge fold over a base price.
// POST /api/pricing/calculate
func (h *Handler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var req CalculatePriceRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	basePrice, err := decimal.NewFromString(req.BasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base_price", err)
		return
	}

	ruleIDs := make([]pricing.RuleID, 0, len(req.RuleIDs))
	for _, id := range req.RuleIDs {
		ruleIDs = append(ruleIDs, pricing.RuleID(id))
	}

	calc, err := h.Calculator.Calculate(r.Context(), tenant(r), basePrice,
		ledger.StudentID(req.StudentID), ruleIDs)
	if err != nil {
		writeDomainError(w, "Failed to calculate price", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func toStudentDTO(s sqlite.Student) StudentDTO {
	return StudentDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		Email:     s.Email,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.Format(timeFormat),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
