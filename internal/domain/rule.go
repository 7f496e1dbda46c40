package domain

import "time"

// RuleKind classifies the tax treatment a rule describes.
type RuleKind string

const (
	RuleBaseReduction          RuleKind = "base_reduction"
	RulePresumedCredit         RuleKind = "presumed_credit"
	RuleSurchargeBenefit       RuleKind = "surcharge_benefit"
	RuleInterstateDifferential RuleKind = "interstate_differential"
	RuleFixedAssetCredit       RuleKind = "fixed_asset_credit"
	RuleSubstitutionTax        RuleKind = "substitution_tax"
	RuleExemption              RuleKind = "exemption"
)

// ValidRuleKind reports whether k is one of the known rule kinds.
func ValidRuleKind(k RuleKind) bool {
	switch k {
	case RuleBaseReduction, RulePresumedCredit, RuleSurchargeBenefit,
		RuleInterstateDifferential, RuleFixedAssetCredit,
		RuleSubstitutionTax, RuleExemption:
		return true
	}
	return false
}

// ConditionField names a line-item attribute a condition can test.
type ConditionField string

const (
	FieldNCM            ConditionField = "ncm"  // product classification code
	FieldCFOP           ConditionField = "cfop" // operation code
	FieldCST            ConditionField = "cst"  // tax situation code
	FieldOriginUF       ConditionField = "origin_uf"
	FieldDestinationUF  ConditionField = "destination_uf"
	FieldClientType     ConditionField = "client_type"
	FieldOperationValue ConditionField = "operation_value"
	FieldTaxBase        ConditionField = "tax_base"
	FieldQuantity       ConditionField = "quantity"
)

// ConditionOperator is the comparison applied between a field and a value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpStartsWith  ConditionOperator = "starts_with"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpBetween     ConditionOperator = "between"
)

// ConditionLogic joins a condition with the one declared before it.
// The default join is AND; a condition flagged "or" opens an alternative
// group, so a rule matches when every condition of any one group holds.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// Condition is a single declarative predicate over a line item.
// Value is a scalar, or a two-element list when Operator is between.
type Condition struct {
	Field    ConditionField    `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    any               `json:"value" yaml:"value"`
	Logic    ConditionLogic    `json:"logic,omitempty" yaml:"logic,omitempty"`
}

// CalculationKind classifies what a calculation step derives.
type CalculationKind string

const (
	CalcTaxBase      CalculationKind = "tax_base"
	CalcRate         CalculationKind = "rate"
	CalcCredit       CalculationKind = "credit"
	CalcSubstitution CalculationKind = "substitution"
	CalcDifferential CalculationKind = "differential"
)

// ResultField is the computed line-item field a calculation step writes to.
type ResultField string

const (
	ResultTaxBase            ResultField = "tax_base"
	ResultRate               ResultField = "rate"
	ResultTaxAmount          ResultField = "tax_amount"
	ResultCreditAmount       ResultField = "credit_amount"
	ResultSubstitutionBase   ResultField = "substitution_base"
	ResultSubstitutionRate   ResultField = "substitution_rate"
	ResultSubstitutionAmount ResultField = "substitution_amount"
	ResultDifferentialAmount ResultField = "differential_amount"
)

// CalculationStep is one ordered transformation in a rule. Formula is a key
// into the engine's formula registry; Params are the formula's named numeric
// parameters; Target receives the formula result.
type CalculationStep struct {
	Kind    CalculationKind    `json:"kind" yaml:"kind"`
	Formula string             `json:"formula" yaml:"formula"`
	Params  map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Target  ResultField        `json:"target" yaml:"target"`
}

// RuleProvenance records how a rule entered the repository.
type RuleProvenance string

const (
	ProvenanceManual     RuleProvenance = "manual"
	ProvenanceExtraction RuleProvenance = "automatic_extraction"
)

// Rule is a declarative condition+calculation object describing a tax
// treatment. Rules are validated once at admission time and are immutable
// afterwards except for the Active flag.
type Rule struct {
	ID           string            `json:"id"`
	CompanyID    string            `json:"company_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Kind         RuleKind          `json:"kind"`
	Conditions   []Condition       `json:"conditions"`
	Calculations []CalculationStep `json:"calculations"`
	Priority     int               `json:"priority"`
	Active       bool              `json:"active"`
	Provenance   RuleProvenance    `json:"provenance"`
	Confidence   float64           `json:"confidence"` // 0-100
	ValidFrom    time.Time         `json:"valid_from"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// InForce reports whether the rule's validity window covers the given instant.
func (r *Rule) InForce(at time.Time) bool {
	if !r.ValidFrom.IsZero() && at.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && at.After(*r.ValidUntil) {
		return false
	}
	return true
}

// CandidateRule is an unvalidated rule descriptor, either produced by the
// extraction collaborator or read from a rule-pack file. It becomes a Rule
// only after passing admission validation.
type CandidateRule struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Kind         RuleKind          `json:"kind" yaml:"kind"`
	Conditions   []Condition       `json:"conditions" yaml:"conditions"`
	Calculations []CalculationStep `json:"calculations" yaml:"calculations"`
	Priority     int               `json:"priority" yaml:"priority"`
	Confidence   float64           `json:"confidence" yaml:"confidence"`
}

// RejectedCandidate pairs a discarded candidate with the reason it failed
// admission.
type RejectedCandidate struct {
	Candidate CandidateRule `json:"candidate"`
	Reason    string        `json:"reason"`
}

// ExtractionReport summarises one run of the extraction pipeline.
type ExtractionReport struct {
	CompanyID    string              `json:"company_id"`
	Admitted     []Rule              `json:"admitted"`
	Rejected     []RejectedCandidate `json:"rejected"`
	Observations []string            `json:"observations,omitempty"`
}
