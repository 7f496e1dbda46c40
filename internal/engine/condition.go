// Package engine implements the algorithmic core of the apuração system:
// condition matching, the formula registry, the ordered calculation fold,
// totals aggregation and confidence scoring. Everything in this package is
// pure — no I/O, no clocks, no randomness.
package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
)

// fieldAccessors is the fixed table resolving a condition field to its
// line-item attribute.
var fieldAccessors = map[domain.ConditionField]func(*domain.LineItem) any{
	domain.FieldNCM:            func(li *domain.LineItem) any { return li.NCM },
	domain.FieldCFOP:           func(li *domain.LineItem) any { return li.CFOP },
	domain.FieldCST:            func(li *domain.LineItem) any { return li.CST },
	domain.FieldOriginUF:       func(li *domain.LineItem) any { return li.OriginUF },
	domain.FieldDestinationUF:  func(li *domain.LineItem) any { return li.DestinationUF },
	domain.FieldClientType:     func(li *domain.LineItem) any { return li.ClientType },
	domain.FieldOperationValue: func(li *domain.LineItem) any { return li.OperationValue },
	domain.FieldTaxBase:        func(li *domain.LineItem) any { return li.TaxBase },
	domain.FieldQuantity:       func(li *domain.LineItem) any { return li.Quantity },
}

// KnownField reports whether f resolves in the accessor table.
func KnownField(f domain.ConditionField) bool {
	_, ok := fieldAccessors[f]
	return ok
}

// Matches evaluates one condition against one line item. It is a pure
// predicate: unknown fields, non-numeric input to numeric operators and
// malformed between bounds all evaluate to false, never to an error.
func Matches(item *domain.LineItem, c domain.Condition) bool {
	accessor, ok := fieldAccessors[c.Field]
	if !ok {
		return false
	}
	got := accessor(item)

	switch c.Operator {
	case domain.OpEquals:
		return equalValues(got, c.Value)
	case domain.OpNotEquals:
		return !equalValues(got, c.Value)
	case domain.OpContains:
		return strings.Contains(asString(got), asString(c.Value))
	case domain.OpStartsWith:
		return strings.HasPrefix(asString(got), asString(c.Value))
	case domain.OpGreaterThan:
		a, okA := asFloat(got)
		b, okB := asFloat(c.Value)
		return okA && okB && a > b
	case domain.OpLessThan:
		a, okA := asFloat(got)
		b, okB := asFloat(c.Value)
		return okA && okB && a < b
	case domain.OpBetween:
		lo, hi, okBounds := betweenBounds(c.Value)
		if !okBounds {
			return false
		}
		v, okV := asFloat(got)
		return okV && v >= lo && v <= hi
	}
	return false
}

// RuleMatches evaluates a rule's condition list against an item. Conditions
// join with an implicit AND; a condition declaring Logic "or" opens an
// alternative group, and the rule matches when every condition of any one
// group holds. An empty condition list matches every item.
func RuleMatches(item *domain.LineItem, conds []domain.Condition) bool {
	if len(conds) == 0 {
		return true
	}

	groupOK := true
	anyGroupOK := false
	for i, c := range conds {
		if i > 0 && c.Logic == domain.LogicOr {
			anyGroupOK = anyGroupOK || groupOK
			groupOK = true
		}
		groupOK = groupOK && Matches(item, c)
	}
	return anyGroupOK || groupOK
}

// equalValues compares raw values, falling back to numeric comparison when
// both sides coerce (so 5102 equals "5102").
func equalValues(a, b any) bool {
	if fa, okA := asFloat(a); okA {
		if fb, okB := asFloat(b); okB {
			return fa == fb
		}
	}
	return asString(a) == asString(b)
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// betweenBounds accepts exactly two numeric bounds; anything else invalidates
// the condition. Bounds are normalized so a swapped pair still works.
func betweenBounds(v any) (lo, hi float64, ok bool) {
	var raw []any
	switch list := v.(type) {
	case []any:
		raw = list
	case []float64:
		for _, f := range list {
			raw = append(raw, f)
		}
	case []int:
		for _, i := range list {
			raw = append(raw, i)
		}
	case []string:
		for _, s := range list {
			raw = append(raw, s)
		}
	default:
		return 0, 0, false
	}

	if len(raw) != 2 {
		return 0, 0, false
	}
	lo, okLo := asFloat(raw[0])
	hi, okHi := asFloat(raw[1])
	if !okLo || !okHi {
		return 0, 0, false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, true
}
