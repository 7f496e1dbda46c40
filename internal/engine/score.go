package engine

import "github.com/fiscalhub/apuracao-engine-go/internal/domain"

// Confidence scoring penalty/bonus table. The scorer starts at 100, applies
// the deterministic deltas below and clamps to [0,100].
const (
	// EmptyRunPenalty applies when the run has no items at all.
	EmptyRunPenalty = 50

	// ZeroTaxPenalty applies when more than ZeroTaxShare of the items ended
	// with no computed tax amount.
	ZeroTaxPenalty = 20
	ZeroTaxShare   = 0.30

	// SubstitutionPenalty applies when aggregate substitution tax exceeds the
	// aggregate principal tax.
	SubstitutionPenalty = 15

	// CoverageBonus applies when more than CoverageShare of the items had at
	// least one rule applied.
	CoverageBonus = 10
	CoverageShare = 0.50
)

// Score computes the heuristic confidence of a completed run. Pure and
// deterministic: identical inputs always yield the identical score.
func Score(items []domain.LineItem, totals domain.Totals) float64 {
	score := float64(100)

	if len(items) == 0 {
		score -= EmptyRunPenalty
		return clamp(score)
	}

	zeroTax := 0
	covered := 0
	for i := range items {
		if items[i].TaxAmount == 0 {
			zeroTax++
		}
		if len(items[i].AppliedRuleIDs) > 0 {
			covered++
		}
	}

	n := float64(len(items))
	if float64(zeroTax)/n > ZeroTaxShare {
		score -= ZeroTaxPenalty
	}
	if totals.SubstitutionAmount > totals.TaxAmount {
		score -= SubstitutionPenalty
	}
	if float64(covered)/n > CoverageShare {
		score += CoverageBonus
	}

	return clamp(score)
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
