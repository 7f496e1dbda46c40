package domain

import "time"

// RunStatus is the lifecycle state of an apuração run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Totals are the aggregates over all line items of one run. ByRule maps a
// rule id to the summed tax amount of every item that rule applied to; an
// item's full final tax amount is attributed to each of its applied rules.
type Totals struct {
	OperationValue     float64            `json:"operation_value"`
	TaxBase            float64            `json:"tax_base"`
	TaxAmount          float64            `json:"tax_amount"`
	CreditAmount       float64            `json:"credit_amount"`
	SubstitutionAmount float64            `json:"substitution_amount"`
	DifferentialAmount float64            `json:"differential_amount"`
	ByRule             map[string]float64 `json:"by_rule,omitempty"`
}

// Add accumulates another Totals into t (used for batch roll-ups).
func (t *Totals) Add(other Totals) {
	t.OperationValue += other.OperationValue
	t.TaxBase += other.TaxBase
	t.TaxAmount += other.TaxAmount
	t.CreditAmount += other.CreditAmount
	t.SubstitutionAmount += other.SubstitutionAmount
	t.DifferentialAmount += other.DifferentialAmount
	for id, v := range other.ByRule {
		if t.ByRule == nil {
			t.ByRule = make(map[string]float64)
		}
		t.ByRule[id] += v
	}
}

// ApuracaoRun is the result of one assessment invocation for a company and
// period. Once Status is completed or failed the run is immutable; it forms
// an append-only audit trail and may be served from cache by id.
type ApuracaoRun struct {
	ID           string     `json:"id"`
	CompanyID    string     `json:"company_id"`
	Period       string     `json:"period"` // YYYY-MM
	DocumentID   string     `json:"document_id,omitempty"`
	Status       RunStatus  `json:"status"`
	Rules        []Rule     `json:"rules"` // snapshot applied
	Items        []LineItem `json:"items"`
	Totals       Totals     `json:"totals"`
	Confidence   float64    `json:"confidence"` // 0-100
	Observations []string   `json:"observations,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
}

// Observe appends an observation to the run.
func (r *ApuracaoRun) Observe(msg string) {
	r.Observations = append(r.Observations, msg)
}
