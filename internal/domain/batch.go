package domain

import "time"

// DocumentResult is the outcome of processing one document inside a batch.
// A failed document carries Error and a nil Run; failures never abort the
// batch.
type DocumentResult struct {
	DocumentID string       `json:"document_id"`
	Run        *ApuracaoRun `json:"run,omitempty"`
	Error      string       `json:"error,omitempty"`
	Cached     bool         `json:"cached,omitempty"`
}

// OK reports whether the document was processed successfully.
func (d *DocumentResult) OK() bool {
	return d.Error == "" && d.Run != nil
}

// BatchResult is the outcome of one batch invocation. Results preserves the
// input document order regardless of worker scheduling; Summary rolls up the
// totals of successful documents.
type BatchResult struct {
	ID           string           `json:"id"`
	CompanyID    string           `json:"company_id"`
	Period       string           `json:"period"`
	Total        int              `json:"total"`
	SuccessCount int              `json:"success_count"`
	ErrorCount   int              `json:"error_count"`
	Success      bool             `json:"success"`
	Results      []DocumentResult `json:"results"`
	Summary      Totals           `json:"summary"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}
