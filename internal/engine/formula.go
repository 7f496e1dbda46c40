package engine

import "github.com/fiscalhub/apuracao-engine-go/internal/domain"

// Formula derives one numeric result from the item's current state and the
// step's named parameters. Formulas read the possibly already-mutated item,
// which is how calculation steps compound.
type Formula func(item *domain.LineItem, params map[string]float64) float64

// Margins are the pricing-variant thresholds fed to the margin formula
// family.
type Margins struct {
	Minimum float64
	Ideal   float64
	Maximum float64
}

// Registry is the static formula table. It is built once at startup and
// consulted at rule-admission time, so a rule referencing an unknown formula
// is rejected before it can ever evaluate.
type Registry struct {
	formulas map[string]Formula
}

// NewRegistry builds the registry with every built-in formula registered.
func NewRegistry(margins Margins) *Registry {
	r := &Registry{formulas: make(map[string]Formula)}

	// Tax base
	r.Register("fullBase", func(li *domain.LineItem, _ map[string]float64) float64 {
		return li.OperationValue
	})
	r.Register("halveBase", func(li *domain.LineItem, _ map[string]float64) float64 {
		return li.TaxBase / 2
	})
	r.Register("reduceBasePercent", func(li *domain.LineItem, p map[string]float64) float64 {
		return li.TaxBase * (1 - p["percent"]/100)
	})
	r.Register("zeroBase", func(_ *domain.LineItem, _ map[string]float64) float64 {
		return 0
	})

	// Rate
	r.Register("setRate", func(_ *domain.LineItem, p map[string]float64) float64 {
		return p["rate"]
	})

	// Principal tax
	r.Register("applyRate", func(li *domain.LineItem, p map[string]float64) float64 {
		rate := li.Rate
		if v, ok := p["rate"]; ok {
			rate = v
		}
		return li.TaxBase * rate / 100
	})

	// Credits
	r.Register("presumedCreditPercent", func(li *domain.LineItem, p map[string]float64) float64 {
		return li.TaxAmount * p["percent"] / 100
	})
	r.Register("fixedAssetCredit", func(li *domain.LineItem, p map[string]float64) float64 {
		// 1/48 per month is the usual fixed-asset appropriation.
		months := p["months"]
		if months == 0 {
			months = 48
		}
		return li.TaxAmount / months
	})

	// Substitution tax
	r.Register("substitutionBaseMVA", func(li *domain.LineItem, p map[string]float64) float64 {
		return li.TaxBase * (1 + p["mva"]/100)
	})
	r.Register("substitutionDue", func(li *domain.LineItem, p map[string]float64) float64 {
		rate := li.SubstitutionRate
		if v, ok := p["rate"]; ok {
			rate = v
		}
		due := li.SubstitutionBase*rate/100 - li.TaxAmount
		if due < 0 {
			return 0
		}
		return due
	})

	// Interstate differential
	r.Register("differentialRate", func(li *domain.LineItem, p map[string]float64) float64 {
		diff := p["internal_rate"] - p["interstate_rate"]
		if diff < 0 {
			return 0
		}
		return li.TaxBase * diff / 100
	})

	// Pricing variant: clamp the operation value to the configured margin
	// band over the tax base.
	r.Register("marginFloor", func(li *domain.LineItem, _ map[string]float64) float64 {
		return li.TaxBase * (1 + margins.Minimum/100)
	})
	r.Register("marginTarget", func(li *domain.LineItem, _ map[string]float64) float64 {
		return li.TaxBase * (1 + margins.Ideal/100)
	})
	r.Register("marginCeiling", func(li *domain.LineItem, _ map[string]float64) float64 {
		return li.TaxBase * (1 + margins.Maximum/100)
	})

	return r
}

// Register adds or replaces a formula.
func (r *Registry) Register(id string, f Formula) {
	r.formulas[id] = f
}

// Lookup returns the formula for id.
func (r *Registry) Lookup(id string) (Formula, bool) {
	f, ok := r.formulas[id]
	return f, ok
}

// Has reports whether id is registered (admission-time check).
func (r *Registry) Has(id string) bool {
	_, ok := r.formulas[id]
	return ok
}
