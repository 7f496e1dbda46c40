package engine

import "github.com/fiscalhub/apuracao-engine-go/internal/domain"

// Aggregate produces run totals in a single pass over completed items.
//
// The per-rule map attributes each item's final tax amount to every rule id
// in its applied list. Equal attribution is the chosen policy: when two rules
// shaped the same item, each is credited with the item's full tax amount, so
// the map answers "how much tax flowed through this rule", not a proportional
// split.
func Aggregate(items []domain.LineItem) domain.Totals {
	totals := domain.Totals{ByRule: make(map[string]float64)}

	for i := range items {
		item := &items[i]
		totals.OperationValue += item.OperationValue
		totals.TaxBase += item.TaxBase
		totals.TaxAmount += item.TaxAmount
		totals.CreditAmount += item.CreditAmount
		totals.SubstitutionAmount += item.SubstitutionAmount
		totals.DifferentialAmount += item.DifferentialAmount

		for _, ruleID := range item.AppliedRuleIDs {
			totals.ByRule[ruleID] += item.TaxAmount
		}
	}
	return totals
}
