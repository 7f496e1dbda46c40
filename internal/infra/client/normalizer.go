// Package client provides HTTP clients for external collaborators.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// NormalizerClient fetches normalized line items from the external
// document-normalization service. A bulkhead bounds the concurrent fetches
// issued by batch workers.
type NormalizerClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewNormalizerClient creates a new NormalizerClient.
func NewNormalizerClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *NormalizerClient {
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 10
	}
	return &NormalizerClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(maxConc),
	}
}

// ItemsForPeriod fetches every line item of a company's fiscal period with
// retry, circuit breaker, and tracing.
func (c *NormalizerClient) ItemsForPeriod(ctx context.Context, companyID, period string) ([]domain.LineItem, error) {
	ctx, span := tracer.Start(ctx, "NormalizerClient.ItemsForPeriod")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID),
		attribute.String("period", period),
	)

	path := fmt.Sprintf("/v1/companies/%s/items?period=%s", url.PathEscape(companyID), url.QueryEscape(period))
	return c.fetchItems(ctx, path)
}

// ItemsForDocument fetches the line items of one document.
func (c *NormalizerClient) ItemsForDocument(ctx context.Context, companyID, documentID string) ([]domain.LineItem, error) {
	ctx, span := tracer.Start(ctx, "NormalizerClient.ItemsForDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID),
		attribute.String("document.id", documentID),
	)

	path := fmt.Sprintf("/v1/companies/%s/documents/%s/items", url.PathEscape(companyID), url.PathEscape(documentID))
	return c.fetchItems(ctx, path)
}

func (c *NormalizerClient) fetchItems(ctx context.Context, path string) ([]domain.LineItem, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrExternalService{Service: "normalizer", Err: err}
	}
	defer c.bulkhead.Release()

	var items []domain.LineItem

	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return err
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return &domain.ErrNotFound{Resource: "items", ID: path}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("normalizer API returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&items)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return items, nil
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "normalizer", Err: err}
	}

	return result.([]domain.LineItem), nil
}
