package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var batchTracer = otel.Tracer("service/batch")

// BatchCoordinator assesses many documents of one period with bounded
// concurrency. Document results are cached by fingerprint, so resubmitting a
// batch after a partial failure recomputes only the documents that failed.
type BatchCoordinator struct {
	apuracao    *ApuracaoService
	docCache    port.Cache[*domain.DocumentResult]
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewBatchCoordinator creates the coordinator.
func NewBatchCoordinator(apuracao *ApuracaoService, docCache port.Cache[*domain.DocumentResult], concurrency int, metrics *observability.Metrics, logger *zap.Logger) *BatchCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchCoordinator{
		apuracao:    apuracao,
		docCache:    docCache,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

// Fingerprint identifies one document assessment within a batch. Two
// submissions of the same company, period and document resolve to the same
// cache entry.
func Fingerprint(companyID, period, documentID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{companyID, period, documentID}, "|")))
	return hex.EncodeToString(sum[:])
}

// Process runs a batch. Every document gets exactly one result entry, in
// input order; a failing document is recorded in its own entry and never
// aborts the batch.
func (b *BatchCoordinator) Process(ctx context.Context, companyID, period string, documentIDs []string) *domain.BatchResult {
	ctx, span := batchTracer.Start(ctx, "BatchCoordinator.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID),
		attribute.Int("documents", len(documentIDs)),
	)

	batch := &domain.BatchResult{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Period:    period,
		Total:     len(documentIDs),
		StartedAt: time.Now(),
	}
	results := make([]domain.DocumentResult, len(documentIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, docID := range documentIDs {
		i, docID := i, docID
		g.Go(func() error {
			results[i] = b.processDocument(gctx, companyID, period, docID)
			return nil
		})
	}
	g.Wait() // workers never return errors

	for i := range results {
		if results[i].OK() {
			batch.SuccessCount++
			batch.Summary.Add(results[i].Run.Totals)
		} else {
			batch.ErrorCount++
		}
	}
	batch.Results = results
	batch.Success = batch.ErrorCount == 0
	batch.FinishedAt = time.Now()

	b.logger.Info("batch finished",
		zap.String("batch_id", batch.ID),
		zap.String("company_id", companyID),
		zap.String("period", period),
		zap.Int("total", batch.Total),
		zap.Int("errors", batch.ErrorCount),
	)
	return batch
}

func (b *BatchCoordinator) processDocument(ctx context.Context, companyID, period, docID string) domain.DocumentResult {
	fp := Fingerprint(companyID, period, docID)
	if cached, found := b.docCache.Get(fp); found {
		b.metrics.IncrCacheHit("document")
		b.metrics.IncrBatchDocument("cached")
		res := *cached
		res.Cached = true
		return res
	}
	b.metrics.IncrCacheMiss("document")

	run := b.apuracao.RunDocument(ctx, companyID, period, docID)
	if run.Status == domain.RunFailed {
		b.metrics.IncrBatchDocument("error")
		return domain.DocumentResult{
			DocumentID: docID,
			Error:      strings.Join(run.Observations, "; "),
		}
	}

	res := domain.DocumentResult{DocumentID: docID, Run: run}
	// only successes are cached: a transient failure is retried on resubmit
	b.docCache.Set(fp, &res)
	b.metrics.IncrBatchDocument("success")
	return res
}
