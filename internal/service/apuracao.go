package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var apuracaoTracer = otel.Tracer("service/apuracao")

// itemConcurrency bounds the per-run item evaluation fan-out.
const itemConcurrency = 8

// ApuracaoService orchestrates a full assessment: snapshot the company's
// rules, fetch the normalized items, evaluate every item against every rule,
// aggregate and score. A run never returns an error to the caller: failures
// produce a well-formed run with status failed, zero confidence and the cause
// recorded in the observations.
type ApuracaoService struct {
	rules    *RuleService
	items    port.ItemSource
	runs     port.RunStore
	calc     *engine.Calculator
	runCache port.Cache[*domain.ApuracaoRun]
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewApuracaoService creates the orchestrator.
func NewApuracaoService(rules *RuleService, items port.ItemSource, runs port.RunStore, calc *engine.Calculator, runCache port.Cache[*domain.ApuracaoRun], timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ApuracaoService {
	return &ApuracaoService{
		rules:    rules,
		items:    items,
		runs:     runs,
		calc:     calc,
		runCache: runCache,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run assesses every item of the company's period.
func (s *ApuracaoService) Run(ctx context.Context, companyID, period string) *domain.ApuracaoRun {
	return s.execute(ctx, companyID, period, "")
}

// RunDocument assesses a single document of the period.
func (s *ApuracaoService) RunDocument(ctx context.Context, companyID, period, documentID string) *domain.ApuracaoRun {
	return s.execute(ctx, companyID, period, documentID)
}

func (s *ApuracaoService) execute(ctx context.Context, companyID, period, documentID string) *domain.ApuracaoRun {
	ctx, span := apuracaoTracer.Start(ctx, "ApuracaoService.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID),
		attribute.String("period", period),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	run := &domain.ApuracaoRun{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		Period:     period,
		DocumentID: documentID,
		Status:     domain.RunRunning,
		StartedAt:  started,
	}

	snapshot, err := s.rules.ActiveSnapshot(ctx, companyID, started)
	if err != nil {
		return s.fail(ctx, run, started, fmt.Sprintf("rule snapshot unavailable: %v", err))
	}
	run.Rules = snapshot

	var items []domain.LineItem
	if documentID == "" {
		items, err = s.items.ItemsForPeriod(ctx, companyID, period)
	} else {
		items, err = s.items.ItemsForDocument(ctx, companyID, documentID)
	}
	if err != nil {
		return s.fail(ctx, run, started, fmt.Sprintf("items unavailable: %v", err))
	}

	evaluated := make([]domain.LineItem, len(items))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(itemConcurrency)
	for i := range items {
		i := i
		g.Go(func() error {
			evaluated[i] = s.evaluateItem(items[i], snapshot)
			return nil
		})
	}
	g.Wait() // workers are pure, no error path

	run.Items = evaluated
	run.Totals = engine.Aggregate(evaluated)
	run.Confidence = engine.Score(evaluated, run.Totals)
	run.Status = domain.RunCompleted
	finished := time.Now()
	run.FinishedAt = finished

	matched := 0
	for i := range evaluated {
		matched += len(evaluated[i].AppliedRuleIDs)
	}
	s.metrics.RecordRunDuration("completed", finished.Sub(started))
	s.metrics.AddItemsProcessed(len(evaluated))
	s.metrics.AddRulesMatched(matched)

	s.persist(ctx, run)

	s.logger.Info("apuração completed",
		zap.String("run_id", run.ID),
		zap.String("company_id", companyID),
		zap.String("period", period),
		zap.Int("items", len(evaluated)),
		zap.Int("rules", len(snapshot)),
		zap.Float64("confidence", run.Confidence),
	)
	return run
}

// evaluateItem applies every matching rule to its own copy of the item, in
// descending priority order. The input slice element is never mutated.
func (s *ApuracaoService) evaluateItem(item domain.LineItem, rules []domain.Rule) domain.LineItem {
	for i := range rules {
		if !engine.RuleMatches(&item, rules[i].Conditions) {
			continue
		}
		item = s.calc.Apply(item, &rules[i])
		item.AppliedRuleIDs = append(item.AppliedRuleIDs, rules[i].ID)
	}
	return item
}

func (s *ApuracaoService) fail(ctx context.Context, run *domain.ApuracaoRun, started time.Time, cause string) *domain.ApuracaoRun {
	run.Status = domain.RunFailed
	run.Confidence = 0
	run.Observe(cause)
	finished := time.Now()
	run.FinishedAt = finished

	s.metrics.RecordRunDuration("failed", finished.Sub(started))
	s.persist(ctx, run)

	s.logger.Error("apuração failed",
		zap.String("run_id", run.ID),
		zap.String("company_id", run.CompanyID),
		zap.String("cause", cause),
	)
	return run
}

// persist is best-effort: the caller still gets the computed run when the
// store is down, with the gap recorded as an observation.
func (s *ApuracaoService) persist(ctx context.Context, run *domain.ApuracaoRun) {
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.metrics.IncrExternalError("run_store")
		s.logger.Error("run not persisted", zap.String("run_id", run.ID), zap.Error(err))
		run.Observe(fmt.Sprintf("run not persisted: %v", err))
	}
	s.runCache.Set(run.ID, run)
}

// GetRun fetches a run by id, serving recent runs from cache.
func (s *ApuracaoService) GetRun(ctx context.Context, runID string) (*domain.ApuracaoRun, error) {
	ctx, span := apuracaoTracer.Start(ctx, "ApuracaoService.GetRun")
	defer span.End()

	if run, ok := s.runCache.Get(runID); ok {
		s.metrics.IncrCacheHit("run")
		return run, nil
	}
	s.metrics.IncrCacheMiss("run")

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.runCache.Set(runID, run)
	return run, nil
}
