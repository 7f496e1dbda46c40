package engine_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
)

func sampleItem() *domain.LineItem {
	return &domain.LineItem{
		NCM:            "84713012",
		CFOP:           "5102",
		CST:            "000",
		OriginUF:       "SP",
		DestinationUF:  "MG",
		ClientType:     "reseller",
		OperationValue: 1000,
		TaxBase:        1000,
		Quantity:       3,
	}
}

func TestMatches_Equals(t *testing.T) {
	item := sampleItem()

	cond := domain.Condition{Field: domain.FieldCFOP, Operator: domain.OpEquals, Value: "5102"}
	if !engine.Matches(item, cond) {
		t.Fatal("expected cfop equals 5102 to match")
	}

	cond.Value = "6102"
	if engine.Matches(item, cond) {
		t.Fatal("expected cfop equals 6102 not to match")
	}
}

func TestMatches_EqualsCoercesNumbers(t *testing.T) {
	item := sampleItem()

	// JSON decodes rule values as float64; the item carries a string code.
	cond := domain.Condition{Field: domain.FieldCFOP, Operator: domain.OpEquals, Value: float64(5102)}
	if !engine.Matches(item, cond) {
		t.Fatal("expected numeric 5102 to equal string cfop 5102")
	}
}

func TestMatches_NotEquals(t *testing.T) {
	item := sampleItem()

	cond := domain.Condition{Field: domain.FieldOriginUF, Operator: domain.OpNotEquals, Value: "RJ"}
	if !engine.Matches(item, cond) {
		t.Fatal("expected origin_uf not_equals RJ to match")
	}
}

func TestMatches_ContainsAndStartsWith(t *testing.T) {
	item := sampleItem()

	if !engine.Matches(item, domain.Condition{Field: domain.FieldNCM, Operator: domain.OpContains, Value: "7130"}) {
		t.Error("expected ncm contains 7130 to match")
	}
	if !engine.Matches(item, domain.Condition{Field: domain.FieldNCM, Operator: domain.OpStartsWith, Value: "8471"}) {
		t.Error("expected ncm starts_with 8471 to match")
	}
	if engine.Matches(item, domain.Condition{Field: domain.FieldNCM, Operator: domain.OpStartsWith, Value: "9999"}) {
		t.Error("expected ncm starts_with 9999 not to match")
	}
}

func TestMatches_NumericComparisons(t *testing.T) {
	item := sampleItem()

	if !engine.Matches(item, domain.Condition{Field: domain.FieldOperationValue, Operator: domain.OpGreaterThan, Value: float64(500)}) {
		t.Error("expected operation_value > 500")
	}
	if !engine.Matches(item, domain.Condition{Field: domain.FieldOperationValue, Operator: domain.OpLessThan, Value: "2000"}) {
		t.Error("expected operation_value < 2000 with string bound")
	}
}

func TestMatches_NumberDecodedConditionValues(t *testing.T) {
	item := sampleItem()
	item.OperationValue = 5000

	// Extractor responses are decoded with UseNumber, so bounds arrive as
	// json.Number rather than float64.
	var conds []domain.Condition
	dec := json.NewDecoder(strings.NewReader(`[
		{"field":"operation_value","operator":"greater_than","value":1000},
		{"field":"operation_value","operator":"between","value":[100,10000]},
		{"field":"quantity","operator":"equals","value":3}
	]`))
	dec.UseNumber()
	if err := dec.Decode(&conds); err != nil {
		t.Fatalf("decode conditions: %v", err)
	}

	for _, cond := range conds {
		if !engine.Matches(item, cond) {
			t.Errorf("expected %s %s %v to match", cond.Field, cond.Operator, cond.Value)
		}
	}
}

func TestMatches_NonNumericInputIsFalseNotError(t *testing.T) {
	item := sampleItem()

	cond := domain.Condition{Field: domain.FieldClientType, Operator: domain.OpGreaterThan, Value: float64(10)}
	if engine.Matches(item, cond) {
		t.Fatal("expected greater_than on non-numeric field to evaluate false")
	}
}

func TestMatches_Between(t *testing.T) {
	item := sampleItem()

	cond := domain.Condition{
		Field:    domain.FieldOperationValue,
		Operator: domain.OpBetween,
		Value:    []any{float64(500), float64(1500)},
	}
	if !engine.Matches(item, cond) {
		t.Fatal("expected operation_value between [500,1500] to match")
	}

	// Bounds on the edge are inclusive.
	cond.Value = []any{float64(1000), float64(1000)}
	if !engine.Matches(item, cond) {
		t.Fatal("expected inclusive bounds to match")
	}
}

func TestMatches_BetweenWrongArityIsAlwaysFalse(t *testing.T) {
	item := sampleItem()

	for _, value := range []any{
		[]any{float64(500)},
		[]any{float64(1), float64(2), float64(3)},
		[]any{},
		"500,1500",
		nil,
	} {
		cond := domain.Condition{Field: domain.FieldOperationValue, Operator: domain.OpBetween, Value: value}
		if engine.Matches(item, cond) {
			t.Errorf("expected between with value %v to evaluate false", value)
		}
	}
}

func TestMatches_UnknownFieldIsFalse(t *testing.T) {
	item := sampleItem()

	cond := domain.Condition{Field: "no_such_field", Operator: domain.OpEquals, Value: "x"}
	if engine.Matches(item, cond) {
		t.Fatal("expected unknown field to evaluate false")
	}
}

func TestMatches_Deterministic(t *testing.T) {
	item := sampleItem()
	cond := domain.Condition{Field: domain.FieldCFOP, Operator: domain.OpEquals, Value: "5102"}

	first := engine.Matches(item, cond)
	for i := 0; i < 100; i++ {
		if engine.Matches(item, cond) != first {
			t.Fatal("expected identical input to yield the identical boolean")
		}
	}
}

func TestRuleMatches_EmptyConditionsMatchEverything(t *testing.T) {
	if !engine.RuleMatches(sampleItem(), nil) {
		t.Fatal("expected a rule with zero conditions to match every item")
	}
}

func TestRuleMatches_ImplicitAnd(t *testing.T) {
	item := sampleItem()

	conds := []domain.Condition{
		{Field: domain.FieldCFOP, Operator: domain.OpEquals, Value: "5102"},
		{Field: domain.FieldOriginUF, Operator: domain.OpEquals, Value: "SP"},
	}
	if !engine.RuleMatches(item, conds) {
		t.Fatal("expected both conditions to hold")
	}

	conds[1].Value = "RJ"
	if engine.RuleMatches(item, conds) {
		t.Fatal("expected AND join to fail when one condition fails")
	}
}

func TestRuleMatches_OrOpensAlternativeGroup(t *testing.T) {
	item := sampleItem()

	conds := []domain.Condition{
		{Field: domain.FieldCFOP, Operator: domain.OpEquals, Value: "6102"},
		{Field: domain.FieldOriginUF, Operator: domain.OpEquals, Value: "SP", Logic: domain.LogicOr},
	}
	if !engine.RuleMatches(item, conds) {
		t.Fatal("expected the OR group to rescue the match")
	}

	conds[1].Value = "RJ"
	if engine.RuleMatches(item, conds) {
		t.Fatal("expected no group to match")
	}
}
