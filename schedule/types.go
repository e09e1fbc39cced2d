/*
Package schedule manages individual lessons, their scheduled sessions
and the reallocation of pre-paid minutes when a session shrinks.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lesson: An individual (one-on-one) lesson a student is enrolled in
  - Session: One scheduled occurrence with a duration and paid_minutes
  - PaidMinutes invariant: 0 <= paid_minutes <= duration, always

SEE ALSO:
  - reconciler.go: Freed-minute redistribution on duration change
*/
package schedule

import (
	"time"

	"github.com/academyos/tuition-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LessonID string
type SessionID string

// =============================================================================
// LESSON - Individual lesson a student is enrolled in
// =============================================================================

type Lesson struct {
	ID        LessonID
	OrgID     string
	StudentID ledger.StudentID
	Subject   string
	CreatedAt time.Time
}

// =============================================================================
// SESSION - One scheduled occurrence of an individual lesson
// =============================================================================

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is one scheduled occurrence. PaidMinutes is the part of
// Duration already funded by prior payments; the remainder is billed
// separately.
//
// INVARIANT: 0 <= PaidMinutes <= Duration.
type Session struct {
	ID          SessionID
	OrgID       string
	LessonID    LessonID
	StudentID   ledger.StudentID // denormalized from the lesson for locking
	LessonDate  time.Time
	Duration    int // minutes
	PaidMinutes int
	Status      SessionStatus
	CreatedAt   time.Time
}

// Unpaid returns the session's unfunded minutes.
func (s Session) Unpaid() int {
	return s.Duration - s.PaidMinutes
}
