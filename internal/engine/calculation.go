package engine

import (
	"fmt"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
)

// Calculator applies a matched rule's ordered calculation steps to a line
// item as a left fold: each step reads the item state produced by the
// previous one and writes a single result field. The item is passed and
// returned by value, so every fold step is an immutable snapshot.
type Calculator struct {
	registry *Registry
}

// NewCalculator creates a calculator over the given formula registry.
func NewCalculator(registry *Registry) *Calculator {
	return &Calculator{registry: registry}
}

// Registry exposes the underlying formula registry (used by admission-time
// validation).
func (c *Calculator) Registry() *Registry {
	return c.registry
}

// Apply folds the rule's steps over the item and returns the resulting
// snapshot. An unknown formula id resolves to 0 and leaves a warning on the
// item; it never fails the fold. Admission-time validation makes that path
// unreachable for rules admitted against the current registry, but rules
// persisted before a formula was retired can still hit it.
func (c *Calculator) Apply(item domain.LineItem, rule *domain.Rule) domain.LineItem {
	for _, step := range rule.Calculations {
		item = c.applyStep(item, rule, step)
	}
	return item
}

func (c *Calculator) applyStep(item domain.LineItem, rule *domain.Rule, step domain.CalculationStep) domain.LineItem {
	var value float64
	if f, ok := c.registry.Lookup(step.Formula); ok {
		value = f(&item, step.Params)
	} else {
		item.AddWarning(fmt.Sprintf("rule %s: unknown formula %q, computed 0", rule.ID, step.Formula))
	}
	return setResult(item, step.Target, value)
}

// setResult writes a formula result to its target field.
func setResult(item domain.LineItem, target domain.ResultField, value float64) domain.LineItem {
	switch target {
	case domain.ResultTaxBase:
		item.TaxBase = value
	case domain.ResultRate:
		item.Rate = value
	case domain.ResultTaxAmount:
		item.TaxAmount = value
	case domain.ResultCreditAmount:
		item.CreditAmount = value
	case domain.ResultSubstitutionBase:
		item.SubstitutionBase = value
	case domain.ResultSubstitutionRate:
		item.SubstitutionRate = value
	case domain.ResultSubstitutionAmount:
		item.SubstitutionAmount = value
	case domain.ResultDifferentialAmount:
		item.DifferentialAmount = value
	default:
		item.AddWarning(fmt.Sprintf("unknown result target %q, value %.4f dropped", target, value))
	}
	return item
}

// ValidResultField reports whether target is a writable result field.
func ValidResultField(target domain.ResultField) bool {
	switch target {
	case domain.ResultTaxBase, domain.ResultRate, domain.ResultTaxAmount,
		domain.ResultCreditAmount, domain.ResultSubstitutionBase,
		domain.ResultSubstitutionRate, domain.ResultSubstitutionAmount,
		domain.ResultDifferentialAmount:
		return true
	}
	return false
}
