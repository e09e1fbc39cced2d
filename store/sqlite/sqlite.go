/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces of the tuition engine.

PURPOSE:
  Implements every persistence interface (ledger.Store, ledger.StudentStore,
  billing.Store, schedule.Store, pricing.Store) over one SQLite database.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  balance_transactions has no UPDATE or DELETE path. Corrections happen
  through refund/adjustment rows only. Charges are status-flipped, never
  deleted. Discount bindings are the exception: they are configuration
  and may be hard-deleted.

KEY TABLES:
  students:                        Enrolled students (soft archive, no delete)
  balance_transactions:            Immutable ledger of balance changes
  tuition_charges:                 Billing events, audit-preserving
  payments / payment_tuition_link: Payments and partial allocations
  individual_lessons / individual_lesson_sessions: Scheduling
  discounts_surcharges / student_discounts_surcharges: Pricing rules

TENANCY:
  Every table carries org_id and every query filters by it. A row from
  another organization scans as a missing row.

CONSTRAINTS:
  - UNIQUE (org_id, idempotency_key) rejects duplicate ledger posts
  - CHECK paid_minutes BETWEEN 0 AND duration enforces the session
    funding invariant at the database level

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers,
  single writer, better crash recovery.

TRANSACTIONS:
  WithTx composition is exposed per domain via small adapters
  (Store.Billing(), Store.Schedule()) because the domain TxStore
  interfaces carry different callback types.

SEE ALSO:
  - ledger/store.go, billing/charge.go, schedule/reconciler.go,
    pricing/calculator.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/academyos/tuition-engine/billing"
	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/pricing"
	"github.com/academyos/tuition-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Students (soft archive only, never deleted)
	CREATE TABLE IF NOT EXISTS students (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	-- Balance transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS balance_transactions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		academic_hours TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		description TEXT,
		payment_id TEXT,
		lesson_session_id TEXT,
		reference_id TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_student
		ON balance_transactions(org_id, student_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON balance_transactions(org_id, reference_id) WHERE reference_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON balance_transactions(org_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Tuition charges (audit-preserving, status transitions only)
	CREATE TABLE IF NOT EXISTS tuition_charges (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		learning_unit_type TEXT NOT NULL,
		learning_unit_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		academic_hours TEXT NOT NULL,
		charge_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_student
		ON tuition_charges(org_id, student_id, charge_date);
	CREATE INDEX IF NOT EXISTS idx_charges_status
		ON tuition_charges(org_id, status);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		academic_hours TEXT NOT NULL,
		method TEXT,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(org_id, student_id, created_at);

	-- Payment-to-charge allocations (many-to-many, per-link amount)
	CREATE TABLE IF NOT EXISTS payment_tuition_link (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		charge_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_links_payment
		ON payment_tuition_link(org_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_links_charge
		ON payment_tuition_link(org_id, charge_id);

	-- Individual lessons
	CREATE TABLE IF NOT EXISTS individual_lessons (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		subject TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lessons_student
		ON individual_lessons(org_id, student_id);

	-- Lesson sessions. CHECK enforces 0 <= paid_minutes <= duration
	-- so an over-allocation bug can never persist.
	CREATE TABLE IF NOT EXISTS individual_lesson_sessions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		lesson_id TEXT NOT NULL,
		lesson_date TEXT NOT NULL,
		duration INTEGER NOT NULL,
		paid_minutes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'scheduled',
		created_at TEXT NOT NULL,
		CHECK (paid_minutes >= 0 AND paid_minutes <= duration)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_lesson_date
		ON individual_lesson_sessions(org_id, lesson_id, lesson_date);

	-- Discount/surcharge rules
	CREATE TABLE IF NOT EXISTS discounts_surcharges (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		value_type TEXT NOT NULL,
		value TEXT NOT NULL,
		apply_priority INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_active
		ON discounts_surcharges(org_id, is_active);

	-- Rule-to-student bindings (configuration: hard-deleted on unassign)
	CREATE TABLE IF NOT EXISTS student_discounts_surcharges (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		discount_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		valid_from TEXT,
		valid_until TEXT,
		max_uses INTEGER,
		use_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bindings_student
		ON student_discounts_surcharges(org_id, student_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, tenant ledger.Tenant, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, tenant, e)
}

func appendEntry(ctx context.Context, db dbtx, tenant ledger.Tenant, e ledger.Entry) error {
	query := `
		INSERT INTO balance_transactions
		(id, org_id, student_id, amount, academic_hours, tx_type, description,
		 payment_id, lesson_session_id, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		e.ID,
		tenant.OrgID,
		e.StudentID,
		e.Amount.String(),
		e.AcademicHours.String(),
		e.Type,
		e.Description,
		nullString(e.PaymentID),
		nullString(e.LessonSessionID),
		nullString(e.ReferenceID),
		nullString(e.IdempotencyKey),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

const entryColumns = `id, student_id, amount, academic_hours, tx_type, description,
	payment_id, lesson_session_id, reference_id, idempotency_key, created_at`

// Entries returns all entries for a student, oldest first.
func (s *Store) Entries(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, tenant, `
		SELECT `+entryColumns+`
		FROM balance_transactions
		WHERE org_id = ? AND student_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenant.OrgID, studentID)
}

// EntriesByReference returns entries tagged with a reference ID.
func (s *Store) EntriesByReference(ctx context.Context, tenant ledger.Tenant, referenceID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, tenant, `
		SELECT `+entryColumns+`
		FROM balance_transactions
		WHERE org_id = ? AND reference_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenant.OrgID, referenceID)
}

// KeyExists checks if an idempotency key is already used.
func (s *Store) KeyExists(ctx context.Context, tenant ledger.Tenant, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM balance_transactions WHERE org_id = ? AND idempotency_key = ?",
		tenant.OrgID, idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryEntries(ctx context.Context, db dbtx, tenant ledger.Tenant, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows, tenant.OrgID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows, orgID string) (ledger.Entry, error) {
	var (
		e               ledger.Entry
		amount          string
		hours           string
		description     sql.NullString
		paymentID       sql.NullString
		lessonSessionID sql.NullString
		referenceID     sql.NullString
		idempotencyKey  sql.NullString
		createdAt       string
	)

	err := rows.Scan(
		&e.ID, &e.StudentID, &amount, &hours, &e.Type, &description,
		&paymentID, &lessonSessionID, &referenceID, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.OrgID = orgID
	e.Amount = mustDecimal(amount)
	e.AcademicHours = mustDecimal(hours)
	e.Description = description.String
	e.PaymentID = paymentID.String
	e.LessonSessionID = lessonSessionID.String
	e.ReferenceID = referenceID.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// STUDENTS (ledger.StudentStore interface + CRUD)
// =============================================================================

type StudentStatus string

const (
	StudentActive   StudentStatus = "active"
	StudentArchived StudentStatus = "archived"
)

type Student struct {
	ID        ledger.StudentID
	OrgID     string
	Name      string
	Email     string
	Status    StudentStatus
	CreatedAt time.Time
}

// StudentExists reports whether a student exists in the organization.
// Archived students still exist: their history stays reachable for
// refunds and adjustments.
func (s *Store) StudentExists(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM students WHERE org_id = ? AND id = ?",
		tenant.OrgID, studentID,
	).Scan(&count)
	return count > 0, err
}

// SaveStudent inserts a student.
func (s *Store) SaveStudent(ctx context.Context, tenant ledger.Tenant, st Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := st.Status
	if status == "" {
		status = StudentActive
	}
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, org_id, name, email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, st.ID, tenant.OrgID, st.Name, nullString(st.Email), status, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// GetStudent returns a student or nil.
func (s *Store) GetStudent(ctx context.Context, tenant ledger.Tenant, id ledger.StudentID) (*Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, status, created_at
		FROM students WHERE org_id = ? AND id = ?
	`, tenant.OrgID, id)

	var (
		st        Student
		email     sql.NullString
		createdAt string
	)
	err := row.Scan(&st.ID, &st.Name, &email, &st.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	st.OrgID = tenant.OrgID
	st.Email = email.String
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &st, nil
}

// ListStudents returns all students of the organization.
func (s *Store) ListStudents(ctx context.Context, tenant ledger.Tenant) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, status, created_at
		FROM students WHERE org_id = ? ORDER BY created_at ASC
	`, tenant.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var (
			st        Student
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&st.ID, &st.Name, &email, &st.Status, &createdAt); err != nil {
			return nil, err
		}
		st.OrgID = tenant.OrgID
		st.Email = email.String
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		students = append(students, st)
	}
	return students, rows.Err()
}

// ArchiveStudent soft-archives a student. Students are never deleted.
func (s *Store) ArchiveStudent(ctx context.Context, tenant ledger.Tenant, id ledger.StudentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE students SET status = ? WHERE org_id = ? AND id = ?",
		StudentArchived, tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to archive student: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Kind: "student", ID: string(id)}
	}
	return nil
}

// =============================================================================
// CHARGES AND PAYMENTS (billing.Store interface)
// =============================================================================

// InsertCharge persists a tuition charge.
func (s *Store) InsertCharge(ctx context.Context, tenant ledger.Tenant, c billing.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCharge(ctx, s.db, tenant, c)
}

func insertCharge(ctx context.Context, db dbtx, tenant ledger.Tenant, c billing.Charge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tuition_charges
		(id, org_id, student_id, learning_unit_type, learning_unit_id, amount,
		 currency, academic_hours, charge_date, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, tenant.OrgID, c.StudentID, c.LearningUnitType, c.LearningUnitID,
		c.Amount.String(), c.Currency, c.AcademicHours.String(),
		c.ChargeDate.Format(time.RFC3339Nano), c.Status, c.Description,
		c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert charge: %w", err)
	}
	return nil
}

const chargeColumns = `id, student_id, learning_unit_type, learning_unit_id, amount,
	currency, academic_hours, charge_date, status, description, created_at`

// Charge returns a charge or nil.
func (s *Store) Charge(ctx context.Context, tenant ledger.Tenant, id billing.ChargeID) (*billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCharge(ctx, s.db, tenant, id)
}

func getCharge(ctx context.Context, db dbtx, tenant ledger.Tenant, id billing.ChargeID) (*billing.Charge, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+chargeColumns+`
		FROM tuition_charges WHERE org_id = ? AND id = ?
	`, tenant.OrgID, id)

	c, err := scanCharge(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get charge: %w", err)
	}
	c.OrgID = tenant.OrgID
	return c, nil
}

func scanCharge(scan func(dest ...any) error) (*billing.Charge, error) {
	var (
		c           billing.Charge
		amount      string
		hours       string
		chargeDate  string
		description sql.NullString
		createdAt   string
	)
	err := scan(&c.ID, &c.StudentID, &c.LearningUnitType, &c.LearningUnitID,
		&amount, &c.Currency, &hours, &chargeDate, &c.Status, &description, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Amount = mustDecimal(amount)
	c.AcademicHours = mustDecimal(hours)
	c.Description = description.String
	c.ChargeDate, _ = time.Parse(time.RFC3339Nano, chargeDate)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// SetChargeStatus transitions a charge's status. The row is never deleted.
func (s *Store) SetChargeStatus(ctx context.Context, tenant ledger.Tenant, id billing.ChargeID, status billing.ChargeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setChargeStatus(ctx, s.db, tenant, id, status)
}

func setChargeStatus(ctx context.Context, db dbtx, tenant ledger.Tenant, id billing.ChargeID, status billing.ChargeStatus) error {
	res, err := db.ExecContext(ctx,
		"UPDATE tuition_charges SET status = ? WHERE org_id = ? AND id = ?",
		status, tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to update charge status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Kind: "charge", ID: string(id)}
	}
	return nil
}

// ListCharges returns a student's charges, newest first.
func (s *Store) ListCharges(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chargeColumns+`
		FROM tuition_charges
		WHERE org_id = ? AND student_id = ?
		ORDER BY charge_date DESC, created_at DESC
	`, tenant.OrgID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	defer rows.Close()

	var charges []billing.Charge
	for rows.Next() {
		c, err := scanCharge(rows.Scan)
		if err != nil {
			return nil, err
		}
		c.OrgID = tenant.OrgID
		charges = append(charges, *c)
	}
	return charges, rows.Err()
}

// InsertPayment persists a payment.
func (s *Store) InsertPayment(ctx context.Context, tenant ledger.Tenant, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, tenant, p)
}

func insertPayment(ctx context.Context, db dbtx, tenant ledger.Tenant, p billing.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (id, org_id, student_id, amount, academic_hours, method, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, tenant.OrgID, p.StudentID, p.Amount.String(), p.AcademicHours.String(),
		nullString(p.Method), p.Description, p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// Payment returns a payment or nil.
func (s *Store) Payment(ctx context.Context, tenant ledger.Tenant, id billing.PaymentID) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, tenant, id)
}

func getPayment(ctx context.Context, db dbtx, tenant ledger.Tenant, id billing.PaymentID) (*billing.Payment, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, student_id, amount, academic_hours, method, description, created_at
		FROM payments WHERE org_id = ? AND id = ?
	`, tenant.OrgID, id)

	var (
		p           billing.Payment
		amount      string
		hours       string
		method      sql.NullString
		description sql.NullString
		createdAt   string
	)
	err := row.Scan(&p.ID, &p.StudentID, &amount, &hours, &method, &description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.OrgID = tenant.OrgID
	p.Amount = mustDecimal(amount)
	p.AcademicHours = mustDecimal(hours)
	p.Method = method.String
	p.Description = description.String
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &p, nil
}

// InsertPaymentLink persists a payment-to-charge allocation.
func (s *Store) InsertPaymentLink(ctx context.Context, tenant ledger.Tenant, l billing.PaymentLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPaymentLink(ctx, s.db, tenant, l)
}

func insertPaymentLink(ctx context.Context, db dbtx, tenant ledger.Tenant, l billing.PaymentLink) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payment_tuition_link (id, org_id, payment_id, charge_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, tenant.OrgID, l.PaymentID, l.ChargeID, l.Amount.String(), l.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert payment link: %w", err)
	}
	return nil
}

// PaymentLinks returns the allocations of a payment.
func (s *Store) PaymentLinks(ctx context.Context, tenant ledger.Tenant, paymentID billing.PaymentID) ([]billing.PaymentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, charge_id, amount, created_at
		FROM payment_tuition_link
		WHERE org_id = ? AND payment_id = ?
		ORDER BY created_at ASC
	`, tenant.OrgID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment links: %w", err)
	}
	defer rows.Close()

	var links []billing.PaymentLink
	for rows.Next() {
		var (
			l         billing.PaymentLink
			amount    string
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.PaymentID, &l.ChargeID, &amount, &createdAt); err != nil {
			return nil, err
		}
		l.OrgID = tenant.OrgID
		l.Amount = mustDecimal(amount)
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// =============================================================================
// LESSONS AND SESSIONS (schedule.Store interface + CRUD)
// =============================================================================

// SaveLesson inserts an individual lesson.
func (s *Store) SaveLesson(ctx context.Context, tenant ledger.Tenant, l schedule.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO individual_lessons (id, org_id, student_id, subject, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.ID, tenant.OrgID, l.StudentID, nullString(l.Subject), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save lesson: %w", err)
	}
	return nil
}

// GetLesson returns a lesson or nil.
func (s *Store) GetLesson(ctx context.Context, tenant ledger.Tenant, id schedule.LessonID) (*schedule.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, subject, created_at
		FROM individual_lessons WHERE org_id = ? AND id = ?
	`, tenant.OrgID, id)

	var (
		l         schedule.Lesson
		subject   sql.NullString
		createdAt string
	)
	err := row.Scan(&l.ID, &l.StudentID, &subject, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	l.OrgID = tenant.OrgID
	l.Subject = subject.String
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

// SaveSession inserts a lesson session.
func (s *Store) SaveSession(ctx context.Context, tenant ledger.Tenant, ses schedule.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ses.Status
	if status == "" {
		status = schedule.SessionScheduled
	}
	createdAt := ses.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO individual_lesson_sessions
		(id, org_id, lesson_id, lesson_date, duration, paid_minutes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ses.ID, tenant.OrgID, ses.LessonID, ses.LessonDate.Format(time.RFC3339Nano),
		ses.Duration, ses.PaidMinutes, status, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

const sessionSelect = `
	SELECT s.id, s.lesson_id, l.student_id, s.lesson_date, s.duration, s.paid_minutes, s.status, s.created_at
	FROM individual_lesson_sessions s
	JOIN individual_lessons l ON l.id = s.lesson_id AND l.org_id = s.org_id
`

// Session returns a session with its lesson's StudentID resolved, or nil.
func (s *Store) Session(ctx context.Context, tenant ledger.Tenant, id schedule.SessionID) (*schedule.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSession(ctx, s.db, tenant, id)
}

func getSession(ctx context.Context, db dbtx, tenant ledger.Tenant, id schedule.SessionID) (*schedule.Session, error) {
	row := db.QueryRowContext(ctx, sessionSelect+`
		WHERE s.org_id = ? AND s.id = ?
	`, tenant.OrgID, id)

	ses, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	ses.OrgID = tenant.OrgID
	return ses, nil
}

// UpdateSessionMinutes persists duration and paid_minutes.
func (s *Store) UpdateSessionMinutes(ctx context.Context, tenant ledger.Tenant, id schedule.SessionID, duration, paidMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSessionMinutes(ctx, s.db, tenant, id, duration, paidMinutes)
}

func updateSessionMinutes(ctx context.Context, db dbtx, tenant ledger.Tenant, id schedule.SessionID, duration, paidMinutes int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE individual_lesson_sessions
		SET duration = ?, paid_minutes = ?
		WHERE org_id = ? AND id = ?
	`, duration, paidMinutes, tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to update session minutes: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Kind: "session", ID: string(id)}
	}
	return nil
}

// NextSessions returns up to limit sessions dated strictly after the
// given time, ascending by date.
func (s *Store) NextSessions(ctx context.Context, tenant ledger.Tenant, lessonID schedule.LessonID, after time.Time, limit int) ([]schedule.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextSessions(ctx, s.db, tenant, lessonID, after, limit)
}

func nextSessions(ctx context.Context, db dbtx, tenant ledger.Tenant, lessonID schedule.LessonID, after time.Time, limit int) ([]schedule.Session, error) {
	rows, err := db.QueryContext(ctx, sessionSelect+`
		WHERE s.org_id = ? AND s.lesson_id = ? AND s.lesson_date > ?
		ORDER BY s.lesson_date ASC
		LIMIT ?
	`, tenant.OrgID, lessonID, after.Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query next sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows, tenant.OrgID)
}

// SessionsByLesson returns all of a lesson's sessions, ascending by date.
func (s *Store) SessionsByLesson(ctx context.Context, tenant ledger.Tenant, lessonID schedule.LessonID) ([]schedule.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, sessionSelect+`
		WHERE s.org_id = ? AND s.lesson_id = ?
		ORDER BY s.lesson_date ASC
	`, tenant.OrgID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows, tenant.OrgID)
}

func collectSessions(rows *sql.Rows, orgID string) ([]schedule.Session, error) {
	var sessions []schedule.Session
	for rows.Next() {
		ses, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		ses.OrgID = orgID
		sessions = append(sessions, *ses)
	}
	return sessions, rows.Err()
}

func scanSession(scan func(dest ...any) error) (*schedule.Session, error) {
	var (
		ses        schedule.Session
		lessonDate string
		createdAt  string
	)
	err := scan(&ses.ID, &ses.LessonID, &ses.StudentID, &lessonDate,
		&ses.Duration, &ses.PaidMinutes, &ses.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	ses.LessonDate, _ = time.Parse(time.RFC3339Nano, lessonDate)
	ses.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &ses, nil
}

// =============================================================================
// DISCOUNT RULES AND BINDINGS (pricing.Store interface)
// =============================================================================

// InsertRule persists a discount/surcharge rule.
func (s *Store) InsertRule(ctx context.Context, tenant ledger.Tenant, r pricing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts_surcharges
		(id, org_id, name, rule_type, value_type, value, apply_priority, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, tenant.OrgID, r.Name, r.Type, r.ValueType, r.Value.String(),
		r.ApplyPriority, r.IsActive, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// ListRules returns all rules of the organization, priority ascending.
func (s *Store) ListRules(ctx context.Context, tenant ledger.Tenant) ([]pricing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, rule_type, value_type, value, apply_priority, is_active, created_at
		FROM discounts_surcharges WHERE org_id = ?
		ORDER BY apply_priority ASC, id ASC
	`, tenant.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []pricing.Rule
	for rows.Next() {
		var (
			r         pricing.Rule
			value     string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.ValueType, &value,
			&r.ApplyPriority, &r.IsActive, &createdAt); err != nil {
			return nil, err
		}
		r.OrgID = tenant.OrgID
		r.Value = mustDecimal(value)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SetRuleActive toggles a rule.
func (s *Store) SetRuleActive(ctx context.Context, tenant ledger.Tenant, id pricing.RuleID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE discounts_surcharges SET is_active = ? WHERE org_id = ? AND id = ?",
		active, tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: rule %s", ledger.ErrInsufficientData, id)
	}
	return nil
}

// InsertBinding assigns a rule to a student.
func (s *Store) InsertBinding(ctx context.Context, tenant ledger.Tenant, b pricing.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO student_discounts_surcharges
		(id, org_id, discount_id, student_id, valid_from, valid_until, max_uses, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, tenant.OrgID, b.RuleID, b.StudentID,
		nullTime(b.ValidFrom), nullTime(b.ValidUntil), nullInt(b.MaxUses),
		b.UseCount, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert binding: %w", err)
	}
	return nil
}

// DeleteBinding hard-deletes a rule assignment. Bindings are
// configuration, not history - this is the one sanctioned delete.
func (s *Store) DeleteBinding(ctx context.Context, tenant ledger.Tenant, id pricing.BindingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM student_discounts_surcharges WHERE org_id = ? AND id = ?",
		tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: binding %s", ledger.ErrInsufficientData, id)
	}
	return nil
}

// IncrementBindingUse counts one use against a binding's cap.
func (s *Store) IncrementBindingUse(ctx context.Context, tenant ledger.Tenant, id pricing.BindingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE student_discounts_surcharges SET use_count = use_count + 1 WHERE org_id = ? AND id = ?",
		tenant.OrgID, id)
	if err != nil {
		return fmt.Errorf("failed to increment binding use: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: binding %s", ledger.ErrInsufficientData, id)
	}
	return nil
}

// StudentRules returns a student's bindings joined with their rules.
func (s *Store) StudentRules(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]pricing.StudentRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.discount_id, b.student_id, b.valid_from, b.valid_until,
		       b.max_uses, b.use_count, b.created_at,
		       r.id, r.name, r.rule_type, r.value_type, r.value, r.apply_priority, r.is_active, r.created_at
		FROM student_discounts_surcharges b
		JOIN discounts_surcharges r ON r.id = b.discount_id AND r.org_id = b.org_id
		WHERE b.org_id = ? AND b.student_id = ?
	`, tenant.OrgID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query student rules: %w", err)
	}
	defer rows.Close()

	var out []pricing.StudentRule
	for rows.Next() {
		var (
			sr            pricing.StudentRule
			validFrom     sql.NullString
			validUntil    sql.NullString
			maxUses       sql.NullInt64
			bCreatedAt    string
			ruleValue     string
			ruleCreatedAt string
		)
		err := rows.Scan(
			&sr.Binding.ID, &sr.Binding.RuleID, &sr.Binding.StudentID,
			&validFrom, &validUntil, &maxUses, &sr.Binding.UseCount, &bCreatedAt,
			&sr.Rule.ID, &sr.Rule.Name, &sr.Rule.Type, &sr.Rule.ValueType,
			&ruleValue, &sr.Rule.ApplyPriority, &sr.Rule.IsActive, &ruleCreatedAt,
		)
		if err != nil {
			return nil, err
		}
		sr.Binding.OrgID = tenant.OrgID
		sr.Rule.OrgID = tenant.OrgID
		if validFrom.Valid {
			t, _ := time.Parse(time.RFC3339Nano, validFrom.String)
			sr.Binding.ValidFrom = &t
		}
		if validUntil.Valid {
			t, _ := time.Parse(time.RFC3339Nano, validUntil.String)
			sr.Binding.ValidUntil = &t
		}
		if maxUses.Valid {
			n := int(maxUses.Int64)
			sr.Binding.MaxUses = &n
		}
		sr.Binding.CreatedAt, _ = time.Parse(time.RFC3339Nano, bCreatedAt)
		sr.Rule.Value = mustDecimal(ruleValue)
		sr.Rule.CreatedAt, _ = time.Parse(time.RFC3339Nano, ruleCreatedAt)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL COMPOSITION
// =============================================================================

// withTx runs fn against a transaction-scoped view of the store.
func (s *Store) withTx(ctx context.Context, fn func(v *txView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Billing returns the store as a billing.TxStore.
func (s *Store) Billing() billing.TxStore {
	return billingStore{s}
}

// Schedule returns the store as a schedule.TxStore.
func (s *Store) Schedule() schedule.TxStore {
	return scheduleStore{s}
}

type billingStore struct {
	*Store
}

func (b billingStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return b.Store.withTx(ctx, func(v *txView) error { return fn(v) })
}

type scheduleStore struct {
	*Store
}

func (sc scheduleStore) WithTx(ctx context.Context, fn func(schedule.Store) error) error {
	return sc.Store.withTx(ctx, func(v *txView) error { return fn(v) })
}

// txView implements the domain store interfaces against one *sql.Tx.
// The parent's mutex is held for the whole transaction.
type txView struct {
	tx *sql.Tx
}

func (v *txView) Append(ctx context.Context, tenant ledger.Tenant, e ledger.Entry) error {
	return appendEntry(ctx, v.tx, tenant, e)
}

func (v *txView) Entries(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]ledger.Entry, error) {
	return queryEntries(ctx, v.tx, tenant, `
		SELECT `+entryColumns+`
		FROM balance_transactions
		WHERE org_id = ? AND student_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenant.OrgID, studentID)
}

func (v *txView) EntriesByReference(ctx context.Context, tenant ledger.Tenant, referenceID string) ([]ledger.Entry, error) {
	return queryEntries(ctx, v.tx, tenant, `
		SELECT `+entryColumns+`
		FROM balance_transactions
		WHERE org_id = ? AND reference_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenant.OrgID, referenceID)
}

func (v *txView) KeyExists(ctx context.Context, tenant ledger.Tenant, idempotencyKey string) (bool, error) {
	var count int
	err := v.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM balance_transactions WHERE org_id = ? AND idempotency_key = ?",
		tenant.OrgID, idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (v *txView) InsertCharge(ctx context.Context, tenant ledger.Tenant, c billing.Charge) error {
	return insertCharge(ctx, v.tx, tenant, c)
}

func (v *txView) Charge(ctx context.Context, tenant ledger.Tenant, id billing.ChargeID) (*billing.Charge, error) {
	return getCharge(ctx, v.tx, tenant, id)
}

func (v *txView) SetChargeStatus(ctx context.Context, tenant ledger.Tenant, id billing.ChargeID, status billing.ChargeStatus) error {
	return setChargeStatus(ctx, v.tx, tenant, id, status)
}

func (v *txView) InsertPayment(ctx context.Context, tenant ledger.Tenant, p billing.Payment) error {
	return insertPayment(ctx, v.tx, tenant, p)
}

func (v *txView) Payment(ctx context.Context, tenant ledger.Tenant, id billing.PaymentID) (*billing.Payment, error) {
	return getPayment(ctx, v.tx, tenant, id)
}

func (v *txView) InsertPaymentLink(ctx context.Context, tenant ledger.Tenant, l billing.PaymentLink) error {
	return insertPaymentLink(ctx, v.tx, tenant, l)
}

func (v *txView) Session(ctx context.Context, tenant ledger.Tenant, id schedule.SessionID) (*schedule.Session, error) {
	return getSession(ctx, v.tx, tenant, id)
}

func (v *txView) UpdateSessionMinutes(ctx context.Context, tenant ledger.Tenant, id schedule.SessionID, duration, paidMinutes int) error {
	return updateSessionMinutes(ctx, v.tx, tenant, id, duration, paidMinutes)
}

func (v *txView) NextSessions(ctx context.Context, tenant ledger.Tenant, lessonID schedule.LessonID, after time.Time, limit int) ([]schedule.Session, error) {
	return nextSessions(ctx, v.tx, tenant, lessonID, after, limit)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
