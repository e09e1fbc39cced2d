/*
calculator.go - Ordered discount/surcharge application

PURPOSE:
  Folds a student's applicable rules over a base price, in priority
  order, with percent rules computed against the CURRENT running price.
  Two 10% discounts on 1000 give 810, not 800 - sequential compounding,
  not independent sums.

ORDERING:
  Rules sort by apply_priority ascending; ties break by rule ID for a
  deterministic result.

CLAMPING:
  The final price is clamped at zero. Intermediate steps are recorded as
  computed so the audit trail shows exactly what each rule did.

SEE ALSO:
  - types.go: Rule, Binding, Calculation
*/
package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Persistence interface for rules and bindings
// =============================================================================

type Store interface {
	// StudentRules returns a student's bindings joined with their ACTIVE
	// rules. Validity windows and use caps are filtered by the calculator.
	StudentRules(ctx context.Context, tenant ledger.Tenant, studentID ledger.StudentID) ([]StudentRule, error)

	// InsertRule, ListRules, SetRuleActive manage rule configuration.
	InsertRule(ctx context.Context, tenant ledger.Tenant, r Rule) error
	ListRules(ctx context.Context, tenant ledger.Tenant) ([]Rule, error)
	SetRuleActive(ctx context.Context, tenant ledger.Tenant, id RuleID, active bool) error

	// InsertBinding assigns a rule to a student; DeleteBinding removes the
	// assignment outright (bindings are configuration, not history).
	InsertBinding(ctx context.Context, tenant ledger.Tenant, b Binding) error
	DeleteBinding(ctx context.Context, tenant ledger.Tenant, id BindingID) error

	// IncrementBindingUse counts one use against a binding's cap.
	IncrementBindingUse(ctx context.Context, tenant ledger.Tenant, id BindingID) error
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	store    Store
	students ledger.StudentStore
}

func NewCalculator(store Store, students ledger.StudentStore) *Calculator {
	return &Calculator{store: store, students: students}
}

// Calculate applies the student's applicable rules to basePrice.
// ruleIDs, when non-empty, restricts which bindings participate.
// A student with no applicable rules gets FinalPrice == BasePrice and
// an empty step list.
func (c *Calculator) Calculate(ctx context.Context, tenant ledger.Tenant, basePrice decimal.Decimal, studentID ledger.StudentID, ruleIDs []RuleID) (Calculation, error) {
	if studentID == "" {
		return Calculation{}, ledger.ErrInsufficientData
	}
	exists, err := c.students.StudentExists(ctx, tenant, studentID)
	if err != nil {
		return Calculation{}, err
	}
	if !exists {
		return Calculation{}, &ledger.NotFoundError{Kind: "student", ID: string(studentID)}
	}

	rules, err := c.store.StudentRules(ctx, tenant, studentID)
	if err != nil {
		return Calculation{}, err
	}

	now := time.Now().UTC()
	applicable := filterApplicable(rules, ruleIDs, now)

	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Rule.ApplyPriority != applicable[j].Rule.ApplyPriority {
			return applicable[i].Rule.ApplyPriority < applicable[j].Rule.ApplyPriority
		}
		return applicable[i].Rule.ID < applicable[j].Rule.ID
	})

	calc := Calculation{
		StudentID:      studentID,
		BasePrice:      basePrice,
		FinalPrice:     basePrice,
		TotalDiscount:  decimal.Zero,
		TotalSurcharge: decimal.Zero,
	}

	price := basePrice
	hundred := decimal.NewFromInt(100)
	for _, sr := range applicable {
		var applied decimal.Decimal
		switch sr.Rule.ValueType {
		case ValuePercent:
			// Percent is computed against the RUNNING price, so rules compound.
			applied = price.Mul(sr.Rule.Value).Div(hundred)
		default:
			applied = sr.Rule.Value
		}

		if sr.Rule.Type == RuleDiscount {
			price = price.Sub(applied)
			calc.TotalDiscount = calc.TotalDiscount.Add(applied)
		} else {
			price = price.Add(applied)
			calc.TotalSurcharge = calc.TotalSurcharge.Add(applied)
		}

		calc.Steps = append(calc.Steps, Step{
			RuleID:     sr.Rule.ID,
			Name:       sr.Rule.Name,
			Type:       sr.Rule.Type,
			ValueType:  sr.Rule.ValueType,
			Value:      sr.Rule.Value,
			Applied:    applied,
			PriceAfter: price,
		})
	}

	if price.IsNegative() {
		price = decimal.Zero
	}
	calc.FinalPrice = price
	return calc, nil
}

func filterApplicable(rules []StudentRule, ruleIDs []RuleID, at time.Time) []StudentRule {
	var wanted map[RuleID]bool
	if len(ruleIDs) > 0 {
		wanted = make(map[RuleID]bool, len(ruleIDs))
		for _, id := range ruleIDs {
			wanted[id] = true
		}
	}

	var out []StudentRule
	for _, sr := range rules {
		if !sr.Rule.IsActive {
			continue
		}
		if wanted != nil && !wanted[sr.Rule.ID] {
			continue
		}
		if !sr.Binding.Applicable(at) {
			continue
		}
		out = append(out, sr)
	}
	return out
}
