package domain

import "time"

// LineItem is a normalized record of a single product/operation extracted
// from a fiscal document by the external normalization collaborator.
//
// The computed fields (TaxBase onwards) start at their normalized values and
// are rewritten by calculation steps as rules apply; AppliedRuleIDs records
// which rules touched the item, in descending-priority evaluation order.
type LineItem struct {
	DocumentID  string    `json:"document_id"`
	Date        time.Time `json:"date"`
	ProductCode string    `json:"product_code,omitempty"`
	Description string    `json:"description,omitempty"`

	// Classification codes
	NCM           string `json:"ncm"`
	CFOP          string `json:"cfop"`
	CST           string `json:"cst,omitempty"`
	OriginUF      string `json:"origin_uf,omitempty"`
	DestinationUF string `json:"destination_uf,omitempty"`
	ClientType    string `json:"client_type,omitempty"`

	Quantity       float64 `json:"quantity,omitempty"`
	OperationValue float64 `json:"operation_value"`

	// Computed fields
	TaxBase            float64 `json:"tax_base"`
	Rate               float64 `json:"rate"`
	TaxAmount          float64 `json:"tax_amount"`
	CreditAmount       float64 `json:"credit_amount,omitempty"`
	SubstitutionBase   float64 `json:"substitution_base,omitempty"`
	SubstitutionRate   float64 `json:"substitution_rate,omitempty"`
	SubstitutionAmount float64 `json:"substitution_amount,omitempty"`
	DifferentialAmount float64 `json:"differential_amount,omitempty"`

	AppliedRuleIDs []string `json:"applied_rule_ids,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// AddWarning appends a processing warning to the item.
func (li *LineItem) AddWarning(msg string) {
	li.Warnings = append(li.Warnings, msg)
}
