package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
	"github.com/fiscalhub/apuracao-engine-go/internal/handler"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/cache"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/store"
	"github.com/fiscalhub/apuracao-engine-go/internal/service"

	"go.uber.org/zap"
)

type stubItemSource struct {
	items []domain.LineItem
}

func (s *stubItemSource) ItemsForPeriod(_ context.Context, _, _ string) ([]domain.LineItem, error) {
	return s.items, nil
}

func (s *stubItemSource) ItemsForDocument(_ context.Context, _, _ string) ([]domain.LineItem, error) {
	return s.items, nil
}

func newTestRouter(jwtSecret string) http.Handler {
	registry := engine.NewRegistry(engine.Margins{Minimum: 10, Ideal: 25, Maximum: 40})
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	st := store.NewMemory()

	rules := service.NewRuleService(st, registry, 70, metrics, logger)
	apuracao := service.NewApuracaoService(
		rules,
		&stubItemSource{items: []domain.LineItem{{
			DocumentID:     "doc-1",
			NCM:            "84713012",
			CFOP:           "5102",
			OperationValue: 1000,
			TaxBase:        1000,
			Rate:           18,
			TaxAmount:      180,
		}}},
		st,
		engine.NewCalculator(registry),
		cache.New[*domain.ApuracaoRun](time.Minute),
		30*time.Second,
		metrics,
		logger,
	)
	batch := service.NewBatchCoordinator(apuracao, cache.New[*domain.DocumentResult](time.Minute), 2, metrics, logger)

	return handler.NewRouter(apuracao, batch, rules, nil, metrics, logger, jwtSecret)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestCreateRun(t *testing.T) {
	router := newTestRouter("")

	body := bytes.NewBufferString(`{"period":"2026-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/runs", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var run domain.ApuracaoRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("expected completed run, got %s", run.Status)
	}
	if run.Totals.TaxAmount != 180 {
		t.Errorf("expected tax 180, got %.2f", run.Totals.TaxAmount)
	}

	// created run is retrievable
	getReq := httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Errorf("expected 200 fetching run, got %d", getRec.Code)
	}
}

func TestCreateRun_MissingPeriod(t *testing.T) {
	router := newTestRouter("")

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/runs", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	router := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	router := newTestRouter("")

	body := bytes.NewBufferString(`{"company_id":"acme","period":"2026-01","document_ids":["doc-1","doc-2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/batch", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if result.Total != 2 || result.SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %+v", result)
	}
}

func TestAdmitAndListRules(t *testing.T) {
	router := newTestRouter("")

	candidate := `{
		"name": "redução base eletrônicos",
		"kind": "base_reduction",
		"conditions": [{"field": "ncm", "operator": "starts_with", "value": "8471"}],
		"calculations": [{"kind": "tax_base", "formula": "reduceBasePercent", "params": {"percent": 50}, "target": "tax_base"}],
		"priority": 10,
		"confidence": 95
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/rules", bytes.NewBufferString(candidate))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/companies/acme/rules", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var list domain.ListResponse[domain.Rule]
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("expected 1 rule, got %d", list.Total)
	}
}

func TestAdmitRule_InvalidFormula(t *testing.T) {
	router := newTestRouter("")

	candidate := `{
		"name": "regra mágica",
		"kind": "exemption",
		"calculations": [{"kind": "tax_base", "formula": "magicDiscount", "target": "tax_base"}],
		"confidence": 95
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/acme/rules", bytes.NewBufferString(candidate))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBearerAuth_MissingToken(t *testing.T) {
	router := newTestRouter("test-secret")

	req := httptest.NewRequest(http.MethodGet, "/v1/companies/acme/rules", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	// operational endpoints stay open
	healthReq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	healthRec := httptest.NewRecorder()
	router.ServeHTTP(healthRec, healthReq)
	if healthRec.Code != http.StatusOK {
		t.Errorf("expected 200 on healthz, got %d", healthRec.Code)
	}
}
