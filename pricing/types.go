/*
Package pricing applies ordered discount/surcharge rules to a base price.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rule: A named, prioritized discount or surcharge (fixed or percent)
  - Binding: A rule applied to a student, with validity window + use cap
  - Calculation: The audited result of folding rules over a base price

RULE vs BINDING LIFECYCLE:
  Rules and bindings are configuration, not history: unlike ledger
  entries they may be edited, deactivated and hard-deleted. Unassigning
  a rule from a student deletes the binding outright.

SEE ALSO:
  - calculator.go: Sequential (compounding) application
*/
package pricing

import (
	"time"

	"github.com/academyos/tuition-engine/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RULES
// =============================================================================

type RuleID string
type BindingID string

type RuleType string

const (
	RuleDiscount  RuleType = "discount"
	RuleSurcharge RuleType = "surcharge"
)

type ValueType string

const (
	ValueFixed   ValueType = "fixed"
	ValuePercent ValueType = "percent"
)

// Rule is a named, prioritized discount or surcharge.
type Rule struct {
	ID            RuleID
	OrgID         string
	Name          string
	Type          RuleType
	ValueType     ValueType
	Value         decimal.Decimal // currency for fixed, percentage for percent
	ApplyPriority int             // lower applies first
	IsActive      bool
	CreatedAt     time.Time
}

// =============================================================================
// BINDINGS - Rule applied to a student
// =============================================================================

// Binding attaches a rule to a student. Nil ValidFrom/ValidUntil means
// unbounded on that side; nil MaxUses means unlimited.
type Binding struct {
	ID         BindingID
	OrgID      string
	RuleID     RuleID
	StudentID  ledger.StudentID
	ValidFrom  *time.Time
	ValidUntil *time.Time
	MaxUses    *int
	UseCount   int
	CreatedAt  time.Time
}

// Applicable reports whether the binding is usable at the given time.
func (b Binding) Applicable(at time.Time) bool {
	if b.ValidFrom != nil && at.Before(*b.ValidFrom) {
		return false
	}
	if b.ValidUntil != nil && at.After(*b.ValidUntil) {
		return false
	}
	if b.MaxUses != nil && b.UseCount >= *b.MaxUses {
		return false
	}
	return true
}

// StudentRule is a binding joined with its rule, as loaded by the store.
type StudentRule struct {
	Binding Binding
	Rule    Rule
}

// =============================================================================
// CALCULATION - Audited price derivation
// =============================================================================

// Step records one rule application against the running price.
type Step struct {
	RuleID     RuleID
	Name       string
	Type       RuleType
	ValueType  ValueType
	Value      decimal.Decimal
	Applied    decimal.Decimal // the delta this step contributed (non-negative)
	PriceAfter decimal.Decimal
}

// Calculation is the full result of a price calculation.
type Calculation struct {
	StudentID      ledger.StudentID
	BasePrice      decimal.Decimal
	FinalPrice     decimal.Decimal
	TotalDiscount  decimal.Decimal
	TotalSurcharge decimal.Decimal
	Steps          []Step
}
