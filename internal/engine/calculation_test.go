package engine_test

import (
	"math"
	"strings"
	"testing"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
)

func newCalculator() *engine.Calculator {
	return engine.NewCalculator(engine.NewRegistry(engine.Margins{Minimum: 10, Ideal: 25, Maximum: 40}))
}

func TestApply_HalveBase(t *testing.T) {
	calc := newCalculator()

	item := domain.LineItem{CFOP: "5102", TaxBase: 1000}
	rule := &domain.Rule{
		ID: "r-1",
		Calculations: []domain.CalculationStep{
			{Kind: domain.CalcTaxBase, Formula: "halveBase", Target: domain.ResultTaxBase},
		},
	}

	out := calc.Apply(item, rule)
	if out.TaxBase != 500 {
		t.Fatalf("expected tax base 500, got %v", out.TaxBase)
	}
	if item.TaxBase != 1000 {
		t.Fatalf("expected input snapshot untouched, got %v", item.TaxBase)
	}
}

func TestApply_StepsCompoundLeftToRight(t *testing.T) {
	calc := newCalculator()

	item := domain.LineItem{OperationValue: 2000, TaxBase: 2000}
	rule := &domain.Rule{
		ID: "r-compound",
		Calculations: []domain.CalculationStep{
			{Kind: domain.CalcTaxBase, Formula: "reduceBasePercent", Params: map[string]float64{"percent": 50}, Target: domain.ResultTaxBase},
			{Kind: domain.CalcRate, Formula: "setRate", Params: map[string]float64{"rate": 18}, Target: domain.ResultRate},
			{Kind: domain.CalcRate, Formula: "applyRate", Target: domain.ResultTaxAmount},
		},
	}

	out := calc.Apply(item, rule)
	if out.TaxBase != 1000 {
		t.Fatalf("expected reduced base 1000, got %v", out.TaxBase)
	}
	// applyRate must see the base already reduced by the earlier step.
	if math.Abs(out.TaxAmount-180) > 1e-9 {
		t.Fatalf("expected tax amount 180, got %v", out.TaxAmount)
	}
}

func TestApply_SubstitutionChain(t *testing.T) {
	calc := newCalculator()

	item := domain.LineItem{TaxBase: 1000, TaxAmount: 180}
	rule := &domain.Rule{
		ID: "r-st",
		Calculations: []domain.CalculationStep{
			{Kind: domain.CalcSubstitution, Formula: "substitutionBaseMVA", Params: map[string]float64{"mva": 40}, Target: domain.ResultSubstitutionBase},
			{Kind: domain.CalcSubstitution, Formula: "substitutionDue", Params: map[string]float64{"rate": 18}, Target: domain.ResultSubstitutionAmount},
		},
	}

	out := calc.Apply(item, rule)
	if math.Abs(out.SubstitutionBase-1400) > 1e-9 {
		t.Fatalf("expected substitution base 1400, got %v", out.SubstitutionBase)
	}
	// 1400*18% - 180 = 72
	if math.Abs(out.SubstitutionAmount-72) > 1e-9 {
		t.Fatalf("expected substitution amount 72, got %v", out.SubstitutionAmount)
	}
}

func TestApply_UnknownFormulaComputesZeroAndWarns(t *testing.T) {
	calc := newCalculator()

	item := domain.LineItem{TaxBase: 1000}
	rule := &domain.Rule{
		ID: "r-ghost",
		Calculations: []domain.CalculationStep{
			{Kind: domain.CalcTaxBase, Formula: "noSuchFormula", Target: domain.ResultTaxBase},
		},
	}

	out := calc.Apply(item, rule)
	if out.TaxBase != 0 {
		t.Fatalf("expected unknown formula to compute 0, got %v", out.TaxBase)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "noSuchFormula") {
		t.Fatalf("expected a warning naming the formula, got %v", out.Warnings)
	}
}

func TestApply_MarginFormulasUseConfiguredMargins(t *testing.T) {
	calc := newCalculator()

	item := domain.LineItem{TaxBase: 100}
	rule := &domain.Rule{
		ID: "r-margin",
		Calculations: []domain.CalculationStep{
			{Kind: domain.CalcTaxBase, Formula: "marginTarget", Target: domain.ResultTaxBase},
		},
	}

	out := calc.Apply(item, rule)
	if math.Abs(out.TaxBase-125) > 1e-9 {
		t.Fatalf("expected ideal-margin base 125, got %v", out.TaxBase)
	}
}
