package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("store")

// PostgREST persists rules and runs through a PostgREST API
// (tables: apuracao_rules, apuracao_runs). Store failures never fail an
// engine run; services log them and attach an observation instead.
type PostgREST struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewPostgREST creates a PostgREST-backed store.
func NewPostgREST(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *PostgREST {
	return &PostgREST{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// ListRules returns every rule of a company.
func (s *PostgREST) ListRules(ctx context.Context, companyID string) ([]domain.Rule, error) {
	ctx, span := tracer.Start(ctx, "PostgREST.ListRules")
	defer span.End()

	path := fmt.Sprintf("apuracao_rules?company_id=eq.%s&order=priority.desc", url.QueryEscape(companyID))
	body, err := s.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "store", Err: err}
	}
	if body == nil {
		return nil, nil
	}

	var rules []domain.Rule
	if err := json.Unmarshal(body, &rules); err != nil {
		return nil, &domain.ErrExternalService{Service: "store", Err: err}
	}
	return rules, nil
}

// SaveRule upserts a rule keyed on id.
func (s *PostgREST) SaveRule(ctx context.Context, rule *domain.Rule) error {
	ctx, span := tracer.Start(ctx, "PostgREST.SaveRule")
	defer span.End()

	if err := s.post(ctx, "apuracao_rules?on_conflict=id", rule, "resolution=merge-duplicates,return=minimal"); err != nil {
		return &domain.ErrExternalService{Service: "store", Err: err}
	}
	return nil
}

// DeactivateRule clears the Active flag.
func (s *PostgREST) DeactivateRule(ctx context.Context, companyID, ruleID string) error {
	ctx, span := tracer.Start(ctx, "PostgREST.DeactivateRule")
	defer span.End()

	path := fmt.Sprintf("apuracao_rules?id=eq.%s&company_id=eq.%s", url.QueryEscape(ruleID), url.QueryEscape(companyID))
	if err := s.patch(ctx, path, map[string]any{"active": false}); err != nil {
		return &domain.ErrExternalService{Service: "store", Err: err}
	}
	return nil
}

// SaveRun appends a completed run to the audit trail.
func (s *PostgREST) SaveRun(ctx context.Context, run *domain.ApuracaoRun) error {
	ctx, span := tracer.Start(ctx, "PostgREST.SaveRun")
	defer span.End()

	if err := s.post(ctx, "apuracao_runs", run, "return=minimal"); err != nil {
		return &domain.ErrExternalService{Service: "store", Err: err}
	}
	return nil
}

// GetRun fetches one run by id.
func (s *PostgREST) GetRun(ctx context.Context, runID string) (*domain.ApuracaoRun, error) {
	ctx, span := tracer.Start(ctx, "PostgREST.GetRun")
	defer span.End()

	path := fmt.Sprintf("apuracao_runs?id=eq.%s&limit=1", url.QueryEscape(runID))
	body, err := s.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "store", Err: err}
	}

	var runs []domain.ApuracaoRun
	if body != nil {
		if err := json.Unmarshal(body, &runs); err != nil {
			return nil, &domain.ErrExternalService{Service: "store", Err: err}
		}
	}
	if len(runs) == 0 {
		return nil, &domain.ErrNotFound{Resource: "run", ID: runID}
	}
	return &runs[0], nil
}

// get executes an authenticated GET with retry and circuit breaking.
func (s *PostgREST) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte

	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.baseURL, path), nil)
			if err != nil {
				return err
			}
			s.setHeaders(req, "")

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
				body = nil
				return nil
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				s.logger.Warn("store: non-2xx response",
					zap.String("path", path),
					zap.Int("status", resp.StatusCode),
				)
				return fmt.Errorf("store returned status %d: %s", resp.StatusCode, string(data))
			}
			body = data
			return nil
		})
	})
	return body, err
}

func (s *PostgREST) post(ctx context.Context, path string, payload any, prefer string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.write(ctx, http.MethodPost, path, data, prefer)
}

func (s *PostgREST) patch(ctx context.Context, path string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return s.write(ctx, http.MethodPatch, path, data, "return=minimal")
}

func (s *PostgREST) write(ctx context.Context, method, path string, payload []byte, prefer string) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s", s.baseURL, path), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			s.setHeaders(req, prefer)

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				data, _ := io.ReadAll(resp.Body)
				s.logger.Warn("store: write non-2xx",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("status", resp.StatusCode),
				)
				return fmt.Errorf("store %s %s returned %d: %s", method, path, resp.StatusCode, string(data))
			}
			return nil
		})
	})
	return err
}

func (s *PostgREST) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}
