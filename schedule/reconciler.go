/*
reconciler.go - Freed paid-minute redistribution on duration change

PURPOSE:
  When a session's duration is shortened after it was partially or fully
  pre-paid, the paid minutes exceeding the new duration become "freed"
  pre-paid time. Instead of being wasted on a session too short to use
  them, they fund the NEXT unpaid sessions of the same lesson.

ALGORITHM:
  1. Load the session; persist the new duration regardless of paid state.
  2. If newDuration >= oldDuration, or oldPaid <= newDuration: done,
     freedMinutes = 0.
  3. Else freed = oldPaid - newDuration; cap this session's paid_minutes
     at the new duration.
  4. Fetch the next sessions of the same lesson (lesson_date strictly
     after this one, ascending), up to the lookahead limit.
  5. Walk in order: apply min(duration - paid_minutes, remaining) to each
     candidate, stop when remaining hits zero.
  6. Anything left after the lookahead window is reported as
     unallocatedMinutes - surfaced to the operator, never silently lost.

LOOKAHEAD:
  Capped (default 5 sessions) to bound the cost of reconciliation and
  match realistic scheduling horizons. An outstanding credit beyond the
  window requires manual intervention; that is a deliberate trade-off.

ATOMICITY:
  All session updates of one reconciliation run inside a single store
  transaction. A failure mid-walk rolls everything back and surfaces a
  PartialWriteError; persisted state never disagrees with the returned
  result.

CONSERVATION INVARIANT:
  freedMinutes == sum(minutesApplied) + unallocatedMinutes.

SEE ALSO:
  - types.go: Session and the paid_minutes invariant
  - ledger/lock.go: Per-student serialization
*/
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/academyos/tuition-engine/ledger"
)

// DefaultLookahead is how many future sessions a reconciliation may fund.
const DefaultLookahead = 5

// =============================================================================
// STORE - Persistence interface for lessons and sessions
// =============================================================================

type Store interface {
	// Session returns a session with StudentID resolved from its lesson,
	// or nil if missing from the organization.
	Session(ctx context.Context, tenant ledger.Tenant, id SessionID) (*Session, error)

	// UpdateSessionMinutes persists duration and paid_minutes for a session.
	UpdateSessionMinutes(ctx context.Context, tenant ledger.Tenant, id SessionID, duration, paidMinutes int) error

	// NextSessions returns up to limit sessions of the lesson with
	// lesson_date strictly after the given date, ascending by date.
	NextSessions(ctx context.Context, tenant ledger.Tenant, lessonID LessonID, after time.Time, limit int) ([]Session, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RECONCILER
// =============================================================================

// Allocation records minutes moved onto one future session.
type Allocation struct {
	SessionID      SessionID
	MinutesApplied int
}

// Result reports what a duration change did with pre-paid minutes.
// UnallocatedMinutes > 0 is a partial success, not an error: the caller
// must surface it to the operator.
type Result struct {
	SessionID          SessionID
	FreedMinutes       int
	Reallocated        []Allocation
	UnallocatedMinutes int
}

// Reconciler redistributes freed pre-paid minutes forward in date order.
type Reconciler struct {
	store     TxStore
	locks     *ledger.StudentLocks
	lookahead int
}

// NewReconciler creates a reconciler. lookahead <= 0 falls back to
// DefaultLookahead.
func NewReconciler(store TxStore, locks *ledger.StudentLocks, lookahead int) *Reconciler {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Reconciler{store: store, locks: locks, lookahead: lookahead}
}

// ChangeDuration sets a session's duration and reallocates any freed
// pre-paid minutes onto the next unpaid sessions of the same lesson.
func (r *Reconciler) ChangeDuration(ctx context.Context, tenant ledger.Tenant, sessionID SessionID, newDuration int) (Result, error) {
	if sessionID == "" {
		return Result{}, ledger.ErrInsufficientData
	}
	if newDuration < 0 {
		return Result{}, fmt.Errorf("%w: negative duration %d", ledger.ErrInvalidAmount, newDuration)
	}

	session, err := r.store.Session(ctx, tenant, sessionID)
	if err != nil {
		return Result{}, err
	}
	if session == nil {
		return Result{}, &ledger.NotFoundError{Kind: "session", ID: string(sessionID)}
	}

	unlock := r.locks.Lock(tenant, session.StudentID)
	defer unlock()

	// Re-read under the lock so two concurrent changes cannot allocate
	// off the same stale paid_minutes.
	session, err = r.store.Session(ctx, tenant, sessionID)
	if err != nil {
		return Result{}, err
	}
	if session == nil {
		return Result{}, &ledger.NotFoundError{Kind: "session", ID: string(sessionID)}
	}

	result := Result{SessionID: sessionID}
	oldDuration := session.Duration
	oldPaid := session.PaidMinutes

	err = r.store.WithTx(ctx, func(s Store) error {
		// The new duration is persisted regardless of paid/unpaid state.
		if newDuration >= oldDuration || oldPaid <= newDuration {
			return s.UpdateSessionMinutes(ctx, tenant, sessionID, newDuration, oldPaid)
		}

		result.FreedMinutes = oldPaid - newDuration
		if err := s.UpdateSessionMinutes(ctx, tenant, sessionID, newDuration, newDuration); err != nil {
			return err
		}

		candidates, err := s.NextSessions(ctx, tenant, session.LessonID, session.LessonDate, r.lookahead)
		if err != nil {
			return err
		}

		remaining := result.FreedMinutes
		for _, c := range candidates {
			if remaining == 0 {
				break
			}
			canPay := c.Duration - c.PaidMinutes
			if canPay <= 0 {
				continue
			}
			minutesToPay := canPay
			if remaining < minutesToPay {
				minutesToPay = remaining
			}
			if err := s.UpdateSessionMinutes(ctx, tenant, c.ID, c.Duration, c.PaidMinutes+minutesToPay); err != nil {
				return err
			}
			result.Reallocated = append(result.Reallocated, Allocation{
				SessionID:      c.ID,
				MinutesApplied: minutesToPay,
			})
			remaining -= minutesToPay
		}
		result.UnallocatedMinutes = remaining
		return nil
	})
	if err != nil {
		return Result{}, &ledger.PartialWriteError{Op: "changeDuration", Cause: err}
	}

	return result, nil
}
