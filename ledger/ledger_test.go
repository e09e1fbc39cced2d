package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testOrg = ledger.Tenant{OrgID: "org-1"}

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.RegisterStudent(testOrg, "stu-1")
	return ledger.New(mem, mem), mem
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func entry(typ ledger.EntryType, amount, hours string) ledger.Entry {
	return ledger.Entry{
		StudentID:     "stu-1",
		Amount:        dec(amount),
		AcademicHours: dec(hours),
		Type:          typ,
	}
}

// =============================================================================
// SIGN VALIDATION TESTS
// =============================================================================

func TestPost_PaymentWithNegativeAmount_Rejected(t *testing.T) {
	// GIVEN: A payment entry with a negative amount
	// WHEN: Posting it
	// THEN: It is rejected with InvalidAmountError and nothing is persisted

	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Post(ctx, testOrg, entry(ledger.EntryPayment, "-100", "1"))

	require.Error(t, err)
	var invalid *ledger.InvalidAmountError
	assert.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	entries, err := mem.Entries(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected entry must not be persisted")
}

func TestPost_LessonChargeWithPositiveAmount_Rejected(t *testing.T) {
	// GIVEN: A lesson_charge with a positive amount
	// WHEN: Posting it
	// THEN: Rejected - charges must not increase the balance

	l, _ := newTestLedger(t)

	_, err := l.Post(context.Background(), testOrg, entry(ledger.EntryLessonCharge, "100", "-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestPost_SignRules_PerType(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		e      ledger.Entry
		wantOK bool
	}{
		{"payment positive", entry(ledger.EntryPayment, "100", "1"), true},
		{"payment zero", entry(ledger.EntryPayment, "0", "0"), true},
		{"refund positive", entry(ledger.EntryRefund, "50", "0.5"), true},
		{"refund negative", entry(ledger.EntryRefund, "-50", "0"), false},
		{"bonus negative", entry(ledger.EntryBonus, "-10", "0"), false},
		{"charge negative", entry(ledger.EntryLessonCharge, "-100", "-1"), true},
		{"charge positive hours", entry(ledger.EntryLessonCharge, "-100", "1"), false},
		{"debit negative", entry(ledger.EntryDebit, "-100", "0"), true},
		{"debit positive", entry(ledger.EntryDebit, "100", "0"), false},
		{"credit positive", entry(ledger.EntryCredit, "100", "0"), true},
		{"adjustment negative", entry(ledger.EntryAdjustment, "-5", "-0.25"), true},
		{"adjustment positive", entry(ledger.EntryAdjustment, "5", "0.25"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Post(ctx, testOrg, tc.e)
			if tc.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
			}
		})
	}
}

func TestPost_UnknownType_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Post(context.Background(), testOrg, entry("mystery", "1", "0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// STUDENT AND TENANCY TESTS
// =============================================================================

func TestPost_UnknownStudent_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)

	e := entry(ledger.EntryPayment, "100", "1")
	e.StudentID = "ghost"
	_, err := l.Post(context.Background(), testOrg, e)

	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestPost_MissingStudentID_InsufficientData(t *testing.T) {
	l, _ := newTestLedger(t)

	e := entry(ledger.EntryPayment, "100", "1")
	e.StudentID = ""
	_, err := l.Post(context.Background(), testOrg, e)
	assert.ErrorIs(t, err, ledger.ErrInsufficientData)
}

func TestPost_OtherOrgStudent_NotFound(t *testing.T) {
	// GIVEN: stu-1 exists in org-1
	// WHEN: org-2 posts an entry for stu-1
	// THEN: The student is invisible across the org boundary

	l, _ := newTestLedger(t)

	_, err := l.Post(context.Background(), ledger.Tenant{OrgID: "org-2"},
		entry(ledger.EntryPayment, "100", "1"))
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestBalance_ScopedToOrg(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	otherOrg := ledger.Tenant{OrgID: "org-2"}
	mem.RegisterStudent(otherOrg, "stu-1")

	_, err := l.Post(ctx, testOrg, entry(ledger.EntryPayment, "100", "1"))
	require.NoError(t, err)

	// Same student ID, different org: independent ledger
	balance, err := l.Balance(ctx, otherOrg, "stu-1")
	require.NoError(t, err)
	assert.True(t, balance.Amount.IsZero())
}

// =============================================================================
// BALANCE DERIVATION TESTS
// =============================================================================

func TestBalance_SumOfEntries(t *testing.T) {
	// GIVEN: A payment of 5000/2.5h and a charge of -3000/-1.5h
	// WHEN: Deriving the balance
	// THEN: Balance is 2000 money, 1 academic hour

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Post(ctx, testOrg, entry(ledger.EntryPayment, "5000", "2.5"))
	require.NoError(t, err)
	_, err = l.Post(ctx, testOrg, entry(ledger.EntryLessonCharge, "-3000", "-1.5"))
	require.NoError(t, err)

	balance, err := l.Balance(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(dec("2000")), "got %s", balance.Amount)
	assert.True(t, balance.AcademicHours.Equal(dec("1")), "got %s", balance.AcademicHours)
}

func TestBalance_EmptyLedger_Zero(t *testing.T) {
	l, _ := newTestLedger(t)

	balance, err := l.Balance(context.Background(), testOrg, "stu-1")
	require.NoError(t, err)
	assert.True(t, balance.Amount.IsZero())
	assert.True(t, balance.AcademicHours.IsZero())
}

func TestBalance_UnknownStudent_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Balance(context.Background(), testOrg, "ghost")
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestHistory_PreservesOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []string{"10", "20", "30"} {
		_, err := l.Post(ctx, testOrg, entry(ledger.EntryPayment, amount, "0"))
		require.NoError(t, err)
	}

	entries, err := l.History(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Amount.Equal(dec("10")))
	assert.True(t, entries[2].Amount.Equal(dec("30")))
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestPost_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e := entry(ledger.EntryPayment, "100", "1")
	e.IdempotencyKey = "pay-2026-01"

	_, err := l.Post(ctx, testOrg, e)
	require.NoError(t, err)

	_, err = l.Post(ctx, testOrg, e)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// The balance reflects exactly one post
	balance, err := l.Balance(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(dec("100")))
}

func TestPost_AssignsIDAndTimestamp(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Post(ctx, testOrg, entry(ledger.EntryPayment, "100", "1"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := l.History(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.Equal(t, testOrg.OrgID, entries[0].OrgID)
}
