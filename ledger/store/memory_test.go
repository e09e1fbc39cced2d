package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/ledger/store"
)

var testOrg = ledger.Tenant{OrgID: "org-1"}

func paymentEntry(id, key string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID(id),
		StudentID:      "stu-1",
		Amount:         decimal.NewFromInt(100),
		AcademicHours:  decimal.NewFromInt(1),
		Type:           ledger.EntryPayment,
		IdempotencyKey: key,
	}
}

func TestMemory_EntriesScopedToOrg(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Append(ctx, testOrg, paymentEntry("e1", "")))

	entries, err := mem.Entries(ctx, ledger.Tenant{OrgID: "org-2"}, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_IdempotencyKeyPerOrg(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Append(ctx, testOrg, paymentEntry("e1", "k1")))

	err := mem.Append(ctx, testOrg, paymentEntry("e2", "k1"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// Same key in another org is a different namespace
	err = mem.Append(ctx, ledger.Tenant{OrgID: "org-2"}, paymentEntry("e3", "k1"))
	assert.NoError(t, err)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that appends then fails
	// WHEN: WithTx returns the error
	// THEN: The appended entry and its idempotency key are rolled back

	tm := store.NewTxMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := tm.WithTx(ctx, func(s ledger.Store) error {
		if err := s.Append(ctx, testOrg, paymentEntry("e1", "k1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := tm.Entries(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rolled-back entry must not survive")

	used, err := tm.KeyExists(ctx, testOrg, "k1")
	require.NoError(t, err)
	assert.False(t, used, "idempotency key must be released on rollback")
}

func TestTxMemory_CommitKeepsWrites(t *testing.T) {
	tm := store.NewTxMemory()
	ctx := context.Background()

	err := tm.WithTx(ctx, func(s ledger.Store) error {
		return s.Append(ctx, testOrg, paymentEntry("e1", ""))
	})
	require.NoError(t, err)

	entries, err := tm.Entries(ctx, testOrg, "stu-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
