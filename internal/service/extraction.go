package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/resilience"
	"github.com/fiscalhub/apuracao-engine-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var extractionTracer = otel.Tracer("service/extraction")

// ExtractionPipeline turns legislation text into admitted rules. It is a
// best-effort stage: a provider outage or malformed payload degrades to an
// empty report with an observation, never to a failed apuração.
type ExtractionPipeline struct {
	extractor port.Extractor
	rules     *RuleService
	retry     resilience.Config
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewExtractionPipeline creates the pipeline.
func NewExtractionPipeline(extractor port.Extractor, rules *RuleService, retry resilience.Config, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ExtractionPipeline {
	return &ExtractionPipeline{
		extractor: extractor,
		rules:     rules,
		retry:     retry,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// Extract runs the extractor over the source text and pushes every candidate
// through rule admission. Each candidate is judged independently: one bad
// candidate never blocks the rest of the batch.
func (p *ExtractionPipeline) Extract(ctx context.Context, companyID, sourceText string) *domain.ExtractionReport {
	ctx, span := extractionTracer.Start(ctx, "ExtractionPipeline.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	report := &domain.ExtractionReport{CompanyID: companyID}

	if p.extractor == nil {
		report.Observations = append(report.Observations, "rule extraction disabled: no provider configured")
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var candidates []domain.CandidateRule
	err := resilience.RetryWithBackoff(ctx, p.retry, func() error {
		var callErr error
		candidates, callErr = p.extractor.ExtractRules(ctx, sourceText)
		return callErr
	})
	if err != nil {
		p.metrics.IncrExternalError("extractor")
		p.logger.Warn("rule extraction degraded",
			zap.String("company_id", companyID),
			zap.Error(err),
		)
		report.Observations = append(report.Observations,
			fmt.Sprintf("rule extraction unavailable: %v", err))
		return report
	}

	for _, c := range candidates {
		rule, admitErr := p.rules.Admit(ctx, companyID, c, domain.ProvenanceExtraction)
		if admitErr == nil {
			report.Admitted = append(report.Admitted, *rule)
			p.metrics.IncrCandidate("admitted")
			continue
		}

		var invalid *domain.ErrValidation
		if errors.As(admitErr, &invalid) {
			report.Rejected = append(report.Rejected, domain.RejectedCandidate{
				Candidate: c,
				Reason:    invalid.Error(),
			})
			p.metrics.IncrCandidate("rejected")
			continue
		}

		// storage failure, not a verdict on the candidate
		p.logger.Error("candidate admission failed",
			zap.String("company_id", companyID),
			zap.String("candidate", c.Name),
			zap.Error(admitErr),
		)
		report.Observations = append(report.Observations,
			fmt.Sprintf("candidate %q not persisted: %v", c.Name, admitErr))
	}

	p.logger.Info("rule extraction finished",
		zap.String("company_id", companyID),
		zap.Int("admitted", len(report.Admitted)),
		zap.Int("rejected", len(report.Rejected)),
	)
	return report
}
