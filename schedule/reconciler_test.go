package schedule_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/schedule"
	"github.com/academyos/tuition-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testOrg = ledger.Tenant{OrgID: "org-1"}

func newTestReconciler(t *testing.T) (*schedule.Reconciler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	err = store.SaveStudent(ctx, testOrg, sqlite.Student{ID: "stu-1", Name: "Anna Petrova"})
	require.NoError(t, err)
	err = store.SaveLesson(ctx, testOrg, schedule.Lesson{
		ID:        "lesson-1",
		StudentID: "stu-1",
		Subject:   "English",
	})
	require.NoError(t, err)

	rec := schedule.NewReconciler(store.Schedule(), ledger.NewStudentLocks(), 0)
	return rec, store
}

func day(n int) time.Time {
	return time.Date(2026, time.September, n, 10, 0, 0, 0, time.UTC)
}

func addSession(t *testing.T, store *sqlite.Store, id string, date time.Time, duration, paid int) {
	t.Helper()
	err := store.SaveSession(context.Background(), testOrg, schedule.Session{
		ID:          schedule.SessionID(id),
		LessonID:    "lesson-1",
		StudentID:   "stu-1",
		LessonDate:  date,
		Duration:    duration,
		PaidMinutes: paid,
	})
	require.NoError(t, err)
}

func paidMinutes(t *testing.T, store *sqlite.Store, id string) (duration, paid int) {
	t.Helper()
	s, err := store.Session(context.Background(), testOrg, schedule.SessionID(id))
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.Duration, s.PaidMinutes
}

// =============================================================================
// DURATION CHANGE TESTS
// =============================================================================

func TestChangeDuration_ShrinkPaidSession_FreesMinutes(t *testing.T) {
	// GIVEN: A fully paid 90-minute session followed by an unpaid session
	// WHEN: Shrinking the session to 60 minutes
	// THEN: 30 freed minutes move onto the next session

	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 90)
	addSession(t, store, "s2", day(2), 60, 0)

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	assert.Equal(t, 30, result.FreedMinutes)
	assert.Equal(t, 0, result.UnallocatedMinutes)
	require.Len(t, result.Reallocated, 1)
	assert.Equal(t, schedule.SessionID("s2"), result.Reallocated[0].SessionID)
	assert.Equal(t, 30, result.Reallocated[0].MinutesApplied)

	d, p := paidMinutes(t, store, "s1")
	assert.Equal(t, 60, d)
	assert.Equal(t, 60, p, "paid minutes capped at the new duration")

	_, p2 := paidMinutes(t, store, "s2")
	assert.Equal(t, 30, p2)
}

func TestChangeDuration_Grow_NoReallocation(t *testing.T) {
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 60, 60)
	addSession(t, store, "s2", day(2), 60, 0)

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 90)
	require.NoError(t, err)

	assert.Equal(t, 0, result.FreedMinutes)
	assert.Empty(t, result.Reallocated)

	d, p := paidMinutes(t, store, "s1")
	assert.Equal(t, 90, d)
	assert.Equal(t, 60, p, "paid minutes stay put when the session grows")
}

func TestChangeDuration_ShrinkUnpaidSession_NothingFreed(t *testing.T) {
	// Paid 30 of 90; shrinking to 60 keeps all paid minutes in place.
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 30)

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	assert.Equal(t, 0, result.FreedMinutes)
	d, p := paidMinutes(t, store, "s1")
	assert.Equal(t, 60, d)
	assert.Equal(t, 30, p)
}

func TestChangeDuration_SpreadsAcrossSessions_DateOrder(t *testing.T) {
	// GIVEN: A fully paid 240-minute session and five unpaid 60-minute sessions
	// WHEN: Shrinking to 90 minutes (frees 150)
	// THEN: 60 + 60 + 30 land on the next three sessions by date

	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 240, 240)
	// Insert out of date order; allocation must still walk by date
	for i, d := range []int{4, 2, 6, 3, 5} {
		addSession(t, store, fmt.Sprintf("s%d", i+2), day(d), 60, 0)
	}

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 90)
	require.NoError(t, err)

	assert.Equal(t, 150, result.FreedMinutes)
	assert.Equal(t, 0, result.UnallocatedMinutes)
	require.Len(t, result.Reallocated, 3)

	// day 2 -> s3, day 3 -> s5, day 4 -> s2
	assert.Equal(t, schedule.SessionID("s3"), result.Reallocated[0].SessionID)
	assert.Equal(t, 60, result.Reallocated[0].MinutesApplied)
	assert.Equal(t, schedule.SessionID("s5"), result.Reallocated[1].SessionID)
	assert.Equal(t, 60, result.Reallocated[1].MinutesApplied)
	assert.Equal(t, schedule.SessionID("s2"), result.Reallocated[2].SessionID)
	assert.Equal(t, 30, result.Reallocated[2].MinutesApplied)
}

func TestChangeDuration_SkipsFullyPaidSessions(t *testing.T) {
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 90)
	addSession(t, store, "s2", day(2), 60, 60) // already funded
	addSession(t, store, "s3", day(3), 60, 45) // partially funded

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	require.Len(t, result.Reallocated, 1)
	assert.Equal(t, schedule.SessionID("s3"), result.Reallocated[0].SessionID)
	assert.Equal(t, 15, result.Reallocated[0].MinutesApplied)
	assert.Equal(t, 15, result.UnallocatedMinutes)
}

func TestChangeDuration_NoFutureSessions_ReportsUnallocated(t *testing.T) {
	// GIVEN: A fully paid session with no future sessions
	// WHEN: Shrinking it
	// THEN: The freed minutes come back as unallocated, not silently lost

	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 90)

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	assert.Equal(t, 30, result.FreedMinutes)
	assert.Equal(t, 30, result.UnallocatedMinutes)
	assert.Empty(t, result.Reallocated)
}

func TestChangeDuration_LookaheadWindow(t *testing.T) {
	// Only the next five sessions are scanned; minutes that do not fit
	// inside the window stay unallocated.
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 420, 420)
	for i := 0; i < 6; i++ {
		addSession(t, store, fmt.Sprintf("n%d", i), day(2+i), 60, 0)
	}

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	assert.Equal(t, 360, result.FreedMinutes)
	assert.Len(t, result.Reallocated, 5)
	assert.Equal(t, 60, result.UnallocatedMinutes)

	// The sixth session was never touched
	_, p := paidMinutes(t, store, "n5")
	assert.Equal(t, 0, p)
}

func TestChangeDuration_EarlierSessionsUntouched(t *testing.T) {
	rec, store := newTestReconciler(t)
	addSession(t, store, "past", day(1), 60, 0)
	addSession(t, store, "s1", day(5), 90, 90)

	result, err := rec.ChangeDuration(context.Background(), testOrg, "s1", 60)
	require.NoError(t, err)

	assert.Equal(t, 30, result.UnallocatedMinutes)
	_, p := paidMinutes(t, store, "past")
	assert.Equal(t, 0, p, "sessions before the changed one never receive minutes")
}

// =============================================================================
// VALIDATION AND TENANCY TESTS
// =============================================================================

func TestChangeDuration_UnknownSession_NotFound(t *testing.T) {
	rec, _ := newTestReconciler(t)

	_, err := rec.ChangeDuration(context.Background(), testOrg, "ghost", 60)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestChangeDuration_OtherOrg_NotFound(t *testing.T) {
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 90)

	_, err := rec.ChangeDuration(context.Background(), ledger.Tenant{OrgID: "org-2"}, "s1", 60)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestChangeDuration_NegativeDuration_Rejected(t *testing.T) {
	rec, store := newTestReconciler(t)
	addSession(t, store, "s1", day(1), 90, 90)

	_, err := rec.ChangeDuration(context.Background(), testOrg, "s1", -10)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	d, p := paidMinutes(t, store, "s1")
	assert.Equal(t, 90, d)
	assert.Equal(t, 90, p)
}
