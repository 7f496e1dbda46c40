package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
	"github.com/fiscalhub/apuracao-engine-go/internal/handler"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/cache"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/client"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/resilience"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/store"
	"github.com/fiscalhub/apuracao-engine-go/internal/service"

	"go.uber.org/zap"
)

// fakeExtractor stands in for the LLM provider.
type fakeExtractor struct {
	candidates []domain.CandidateRule
}

func (f *fakeExtractor) ExtractRules(_ context.Context, _ string) ([]domain.CandidateRule, error) {
	return f.candidates, nil
}

func buildStack(t *testing.T, normalizerURL string, extractor *fakeExtractor) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("test")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	registry := engine.NewRegistry(engine.Margins{Minimum: 10, Ideal: 25, Maximum: 40})
	st := store.NewMemory()

	rules := service.NewRuleService(st, registry, 70, metrics, logger)
	extraction := service.NewExtractionPipeline(extractor, rules, cfg, 5*time.Second, metrics, logger)
	apuracao := service.NewApuracaoService(
		rules,
		client.NewNormalizerClient(httpClient, normalizerURL, cb, cfg),
		st,
		engine.NewCalculator(registry),
		cache.New[*domain.ApuracaoRun](time.Minute),
		30*time.Second,
		metrics,
		logger,
	)
	batch := service.NewBatchCoordinator(apuracao, cache.New[*domain.DocumentResult](time.Minute), 2, metrics, logger)

	return handler.NewRouter(apuracao, batch, rules, extraction, metrics, logger, "")
}

// TestIntegration_FullFlow extracts a rule from legislation text, runs an
// assessment over items served by a mock normalizer, and checks the computed
// totals end to end.
func TestIntegration_FullFlow(t *testing.T) {
	// --- Mock normalizer API ---
	normalizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := []domain.LineItem{
			{
				DocumentID:     "nfe-001",
				ProductCode:    "P-100",
				Description:    "notebook",
				NCM:            "84713012",
				CFOP:           "5102",
				CST:            "00",
				OriginUF:       "SP",
				DestinationUF:  "SP",
				Quantity:       2,
				OperationValue: 1000,
				TaxBase:        1000,
				Rate:           18,
				TaxAmount:      180,
			},
			{
				DocumentID:     "nfe-001",
				ProductCode:    "P-200",
				Description:    "cabo hdmi",
				NCM:            "85444200",
				CFOP:           "5102",
				CST:            "00",
				OriginUF:       "SP",
				DestinationUF:  "SP",
				Quantity:       10,
				OperationValue: 200,
				TaxBase:        200,
				Rate:           18,
				TaxAmount:      36,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}))
	defer normalizer.Close()

	extractor := &fakeExtractor{candidates: []domain.CandidateRule{
		{
			Name: "redução base informática",
			Kind: domain.RuleBaseReduction,
			Conditions: []domain.Condition{
				{Field: domain.FieldNCM, Operator: domain.OpStartsWith, Value: "8471"},
			},
			Calculations: []domain.CalculationStep{
				{Kind: domain.CalcTaxBase, Formula: "reduceBasePercent", Params: map[string]float64{"percent": 50}, Target: domain.ResultTaxBase},
				{Kind: domain.CalcRate, Formula: "applyRate", Target: domain.ResultTaxAmount},
			},
			Priority:   10,
			Confidence: 90,
		},
		{
			Name:         "regra incompleta",
			Kind:         domain.RuleExemption,
			Calculations: nil, // rejected at admission
			Confidence:   90,
		},
	}}

	router := buildStack(t, normalizer.URL, extractor)

	// --- Extract rules from legislation text ---
	extractBody := `{"source_text":"Art. 1º Fica reduzida em 50% a base de cálculo nas operações com produtos de informática."}`
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/rules/extract", strings.NewReader(extractBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("extract: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var report domain.ExtractionReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("extract: decode response: %v", err)
	}
	if len(report.Admitted) != 1 || len(report.Rejected) != 1 {
		t.Fatalf("extract: expected 1 admitted and 1 rejected, got %d/%d",
			len(report.Admitted), len(report.Rejected))
	}

	// --- Run the assessment ---
	runBody := bytes.NewBufferString(`{"period":"2026-01"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/companies/acme/runs", runBody)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("run: expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var run domain.ApuracaoRun
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("run: decode response: %v", err)
	}

	if run.Status != domain.RunCompleted {
		t.Fatalf("run: expected completed, got %s (%v)", run.Status, run.Observations)
	}
	if len(run.Items) != 2 {
		t.Fatalf("run: expected 2 items, got %d", len(run.Items))
	}

	// notebook matches the extracted rule: base 1000 -> 500, tax 500*18% = 90
	notebook := run.Items[0]
	if notebook.TaxBase != 500 || notebook.TaxAmount != 90 {
		t.Errorf("notebook: expected base 500 and tax 90, got %.2f/%.2f",
			notebook.TaxBase, notebook.TaxAmount)
	}
	if len(notebook.AppliedRuleIDs) != 1 {
		t.Errorf("notebook: expected 1 applied rule, got %d", len(notebook.AppliedRuleIDs))
	}

	// cable does not match, stays untouched
	cable := run.Items[1]
	if cable.TaxBase != 200 || cable.TaxAmount != 36 {
		t.Errorf("cable: expected base 200 and tax 36, got %.2f/%.2f",
			cable.TaxBase, cable.TaxAmount)
	}

	if want := 90.0 + 36.0; run.Totals.TaxAmount != want {
		t.Errorf("totals: expected tax %.2f, got %.2f", want, run.Totals.TaxAmount)
	}
	if run.Confidence <= 0 || run.Confidence > 100 {
		t.Errorf("confidence out of range: %.2f", run.Confidence)
	}
}

// TestIntegration_NormalizerDown verifies that an unreachable item source
// degrades to a failed run instead of an HTTP error.
func TestIntegration_NormalizerDown(t *testing.T) {
	normalizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer normalizer.Close()

	router := buildStack(t, normalizer.URL, &fakeExtractor{})

	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/runs", bytes.NewBufferString(`{"period":"2026-01"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var run domain.ApuracaoRun
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Errorf("expected failed run, got %s", run.Status)
	}
	if run.Confidence != 0 {
		t.Errorf("expected zero confidence, got %.2f", run.Confidence)
	}
}

// TestIntegration_BatchIdempotency submits the same batch twice and checks
// the normalizer is hit only once per document.
func TestIntegration_BatchIdempotency(t *testing.T) {
	var hits int
	normalizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		items := []domain.LineItem{{
			DocumentID:     "nfe-001",
			NCM:            "84713012",
			CFOP:           "5102",
			OperationValue: 1000,
			TaxBase:        1000,
			Rate:           18,
			TaxAmount:      180,
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}))
	defer normalizer.Close()

	router := buildStack(t, normalizer.URL, &fakeExtractor{})

	body := `{"company_id":"acme","period":"2026-01","document_ids":["nfe-001"]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("batch %d: expected 200, got %d", i, rec.Code)
		}
	}

	if hits != 1 {
		t.Errorf("expected a single normalizer call across both batches, got %d", hits)
	}
}
