package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/academyos/tuition-engine/pricing"
	"github.com/academyos/tuition-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testOrg = ledger.Tenant{OrgID: "org-1"}

func newTestCalculator(t *testing.T) (*pricing.Calculator, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.SaveStudent(context.Background(), testOrg, sqlite.Student{ID: "stu-1", Name: "Anna Petrova"})
	require.NoError(t, err)

	return pricing.NewCalculator(store, store), store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func addRule(t *testing.T, store *sqlite.Store, id string, rt pricing.RuleType, vt pricing.ValueType, value string, priority int) {
	t.Helper()
	err := store.InsertRule(context.Background(), testOrg, pricing.Rule{
		ID:            pricing.RuleID(id),
		Name:          id,
		Type:          rt,
		ValueType:     vt,
		Value:         dec(value),
		ApplyPriority: priority,
		IsActive:      true,
	})
	require.NoError(t, err)
}

func bindRule(t *testing.T, store *sqlite.Store, ruleID string) pricing.BindingID {
	t.Helper()
	id := pricing.BindingID("bind-" + ruleID)
	err := store.InsertBinding(context.Background(), testOrg, pricing.Binding{
		ID:        id,
		RuleID:    pricing.RuleID(ruleID),
		StudentID: "stu-1",
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// COMPOUNDING AND ORDERING TESTS
// =============================================================================

func TestCalculate_PercentDiscountsCompound(t *testing.T) {
	// GIVEN: Two 10% discounts bound to a student
	// WHEN: Calculating from a base of 1000
	// THEN: The second percent applies to the running price: 810, not 800

	calc, store := newTestCalculator(t)
	addRule(t, store, "loyal", pricing.RuleDiscount, pricing.ValuePercent, "10", 1)
	addRule(t, store, "family", pricing.RuleDiscount, pricing.ValuePercent, "10", 2)
	bindRule(t, store, "loyal")
	bindRule(t, store, "family")

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("810")), "got %s", result.FinalPrice)
	assert.True(t, result.TotalDiscount.Equal(dec("190")))
	require.Len(t, result.Steps, 2)
	assert.True(t, result.Steps[0].Applied.Equal(dec("100")))
	assert.True(t, result.Steps[1].Applied.Equal(dec("90")))
	assert.True(t, result.Steps[1].PriceAfter.Equal(dec("810")))
}

func TestCalculate_PriorityOrdersApplication(t *testing.T) {
	// A fixed -100 before a 10% discount yields a different price than
	// the reverse order; priority decides.
	calc, store := newTestCalculator(t)
	addRule(t, store, "fixed", pricing.RuleDiscount, pricing.ValueFixed, "100", 1)
	addRule(t, store, "percent", pricing.RuleDiscount, pricing.ValuePercent, "10", 2)
	bindRule(t, store, "fixed")
	bindRule(t, store, "percent")

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)

	// (1000 - 100) * 0.9 = 810
	assert.True(t, result.FinalPrice.Equal(dec("810")), "got %s", result.FinalPrice)
	assert.Equal(t, pricing.RuleID("fixed"), result.Steps[0].RuleID)
}

func TestCalculate_SurchargeAdds(t *testing.T) {
	calc, store := newTestCalculator(t)
	addRule(t, store, "native-speaker", pricing.RuleSurcharge, pricing.ValuePercent, "20", 1)
	bindRule(t, store, "native-speaker")

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("1200")))
	assert.True(t, result.TotalSurcharge.Equal(dec("200")))
}

func TestCalculate_ClampsAtZero(t *testing.T) {
	// A fixed discount larger than the price never drives it negative.
	calc, store := newTestCalculator(t)
	addRule(t, store, "huge", pricing.RuleDiscount, pricing.ValueFixed, "5000", 1)
	bindRule(t, store, "huge")

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.IsZero(), "got %s", result.FinalPrice)
}

func TestCalculate_NoRules_BasePriceUnchanged(t *testing.T) {
	calc, _ := newTestCalculator(t)

	result, err := calc.Calculate(context.Background(), testOrg, dec("1500"), "stu-1", nil)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("1500")))
	assert.Empty(t, result.Steps)
}

// =============================================================================
// FILTERING TESTS
// =============================================================================

func TestCalculate_RuleIDFilter(t *testing.T) {
	calc, store := newTestCalculator(t)
	addRule(t, store, "a", pricing.RuleDiscount, pricing.ValuePercent, "10", 1)
	addRule(t, store, "b", pricing.RuleDiscount, pricing.ValuePercent, "20", 2)
	bindRule(t, store, "a")
	bindRule(t, store, "b")

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1",
		[]pricing.RuleID{"b"})
	require.NoError(t, err)

	require.Len(t, result.Steps, 1)
	assert.Equal(t, pricing.RuleID("b"), result.Steps[0].RuleID)
	assert.True(t, result.FinalPrice.Equal(dec("800")))
}

func TestCalculate_InactiveRuleSkipped(t *testing.T) {
	calc, store := newTestCalculator(t)
	ctx := context.Background()
	addRule(t, store, "a", pricing.RuleDiscount, pricing.ValuePercent, "10", 1)
	bindRule(t, store, "a")
	require.NoError(t, store.SetRuleActive(ctx, testOrg, "a", false))

	result, err := calc.Calculate(ctx, testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)
	assert.True(t, result.FinalPrice.Equal(dec("1000")))
}

func TestCalculate_ExpiredBindingSkipped(t *testing.T) {
	calc, store := newTestCalculator(t)
	addRule(t, store, "a", pricing.RuleDiscount, pricing.ValuePercent, "10", 1)

	past := time.Now().UTC().Add(-24 * time.Hour)
	err := store.InsertBinding(context.Background(), testOrg, pricing.Binding{
		ID:         "bind-a",
		RuleID:     "a",
		StudentID:  "stu-1",
		ValidUntil: &past,
	})
	require.NoError(t, err)

	result, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)
	assert.True(t, result.FinalPrice.Equal(dec("1000")))
}

func TestCalculate_ExhaustedUseCapSkipped(t *testing.T) {
	calc, store := newTestCalculator(t)
	ctx := context.Background()
	addRule(t, store, "a", pricing.RuleDiscount, pricing.ValuePercent, "10", 1)
	bindingID := bindRule(t, store, "a")

	// Cap at one use and consume it
	maxUses := 1
	require.NoError(t, store.DeleteBinding(ctx, testOrg, bindingID))
	require.NoError(t, store.InsertBinding(ctx, testOrg, pricing.Binding{
		ID:        bindingID,
		RuleID:    "a",
		StudentID: "stu-1",
		MaxUses:   &maxUses,
	}))
	require.NoError(t, store.IncrementBindingUse(ctx, testOrg, bindingID))

	result, err := calc.Calculate(ctx, testOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)
	assert.True(t, result.FinalPrice.Equal(dec("1000")))
}

func TestCalculate_UnknownStudent_NotFound(t *testing.T) {
	calc, _ := newTestCalculator(t)

	_, err := calc.Calculate(context.Background(), testOrg, dec("1000"), "ghost", nil)
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestCalculate_OtherOrgRulesInvisible(t *testing.T) {
	calc, store := newTestCalculator(t)
	ctx := context.Background()
	otherOrg := ledger.Tenant{OrgID: "org-2"}

	require.NoError(t, store.SaveStudent(ctx, otherOrg, sqlite.Student{ID: "stu-1", Name: "Other"}))
	addRule(t, store, "a", pricing.RuleDiscount, pricing.ValuePercent, "50", 1)
	bindRule(t, store, "a")

	result, err := calc.Calculate(ctx, otherOrg, dec("1000"), "stu-1", nil)
	require.NoError(t, err)
	assert.True(t, result.FinalPrice.Equal(dec("1000")), "org-2 must not see org-1 rules")
}
