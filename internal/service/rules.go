// Package service provides the business logic layer (use cases): rule
// admission, the extraction pipeline, the apuração orchestrator and the
// batch coordinator.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ruleTracer = otel.Tracer("service/rules")

// percent-like calculation parameters that must stay within [0,100].
// MVA is deliberately absent: markup margins above 100% are legitimate.
var percentParams = map[string]bool{
	"percent":         true,
	"rate":            true,
	"internal_rate":   true,
	"interstate_rate": true,
}

// RuleService owns rule admission and the per-company rule snapshot.
// Admissions are serialized per company (single-writer discipline) so two
// concurrent extractions cannot create duplicate or conflicting rules.
type RuleService struct {
	store     port.RuleStore
	registry  *engine.Registry
	threshold float64 // admission gate for auto-extracted rules
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRuleService creates the rule service.
func NewRuleService(store port.RuleStore, registry *engine.Registry, threshold float64, metrics *observability.Metrics, logger *zap.Logger) *RuleService {
	return &RuleService{
		store:     store,
		registry:  registry,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *RuleService) companyLock(companyID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[companyID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[companyID] = l
	}
	return l
}

// ValidateCandidate checks a candidate rule for admission: structural
// completeness, confidence gate (auto provenance only), and internal
// consistency including formula references — an unknown formula is rejected
// here rather than silently computing zero at evaluation time.
func (s *RuleService) ValidateCandidate(c domain.CandidateRule, provenance domain.RuleProvenance) error {
	if c.Name == "" {
		return &domain.ErrValidation{Field: "name", Message: "missing rule name"}
	}
	if !domain.ValidRuleKind(c.Kind) {
		return &domain.ErrValidation{Field: "kind", Message: fmt.Sprintf("unknown rule kind %q", c.Kind)}
	}
	if len(c.Calculations) == 0 {
		return &domain.ErrValidation{Field: "calculations", Message: "empty calculation list"}
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return &domain.ErrValidation{Field: "confidence", Message: fmt.Sprintf("confidence %.2f outside [0,100]", c.Confidence)}
	}
	if provenance == domain.ProvenanceExtraction && c.Confidence < s.threshold {
		return &domain.ErrValidation{
			Field:   "confidence",
			Message: fmt.Sprintf("confidence %.2f below threshold %.2f", c.Confidence, s.threshold),
		}
	}

	for i, cond := range c.Conditions {
		if !engine.KnownField(cond.Field) {
			return &domain.ErrValidation{
				Field:   fmt.Sprintf("conditions[%d].field", i),
				Message: fmt.Sprintf("unknown field %q", cond.Field),
			}
		}
		switch cond.Operator {
		case domain.OpEquals, domain.OpNotEquals, domain.OpContains, domain.OpStartsWith,
			domain.OpGreaterThan, domain.OpLessThan:
		case domain.OpBetween:
			// between keeps its always-false evaluation semantics, but a
			// malformed candidate is caught here instead of admitted dead.
			if list, ok := cond.Value.([]any); !ok || len(list) != 2 {
				return &domain.ErrValidation{
					Field:   fmt.Sprintf("conditions[%d].value", i),
					Message: "between requires exactly two bounds",
				}
			}
		default:
			return &domain.ErrValidation{
				Field:   fmt.Sprintf("conditions[%d].operator", i),
				Message: fmt.Sprintf("unknown operator %q", cond.Operator),
			}
		}
	}

	for i, step := range c.Calculations {
		if !s.registry.Has(step.Formula) {
			return &domain.ErrValidation{
				Field:   fmt.Sprintf("calculations[%d].formula", i),
				Message: fmt.Sprintf("unknown formula %q", step.Formula),
			}
		}
		if !engine.ValidResultField(step.Target) {
			return &domain.ErrValidation{
				Field:   fmt.Sprintf("calculations[%d].target", i),
				Message: fmt.Sprintf("unknown result target %q", step.Target),
			}
		}
		for name, value := range step.Params {
			if percentParams[name] && (value < 0 || value > 100) {
				return &domain.ErrValidation{
					Field:   fmt.Sprintf("calculations[%d].params.%s", i, name),
					Message: fmt.Sprintf("percentage %.2f outside [0,100]", value),
				}
			}
		}
	}

	return nil
}

// Admit validates a candidate and, if it passes, assigns identity and
// provenance and saves it. Admitting a rule with the name of an existing
// active rule deactivates the replaced rule; rules are never hard-deleted.
func (s *RuleService) Admit(ctx context.Context, companyID string, c domain.CandidateRule, provenance domain.RuleProvenance) (*domain.Rule, error) {
	ctx, span := ruleTracer.Start(ctx, "RuleService.Admit")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	if err := s.ValidateCandidate(c, provenance); err != nil {
		return nil, err
	}

	lock := s.companyLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.ListRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("rule admission: %w", err)
	}
	for i := range existing {
		if existing[i].Active && existing[i].Name == c.Name {
			if err := s.store.DeactivateRule(ctx, companyID, existing[i].ID); err != nil {
				return nil, fmt.Errorf("deactivate replaced rule: %w", err)
			}
			s.logger.Info("rule replaced",
				zap.String("company_id", companyID),
				zap.String("rule_name", c.Name),
				zap.String("replaced_id", existing[i].ID),
			)
		}
	}

	now := time.Now()
	rule := &domain.Rule{
		ID:           uuid.NewString(),
		CompanyID:    companyID,
		Name:         c.Name,
		Description:  c.Description,
		Kind:         c.Kind,
		Conditions:   c.Conditions,
		Calculations: c.Calculations,
		Priority:     c.Priority,
		Active:       true,
		Provenance:   provenance,
		Confidence:   c.Confidence,
		ValidFrom:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("rule admission: %w", err)
	}
	return rule, nil
}

// ActiveSnapshot returns the company's matchable rules at the given instant,
// sorted by descending priority. Only active rules inside their validity
// window are included, and auto-extracted rules must still clear the
// confidence threshold. The returned slice is a copy: it stays read-only for
// the duration of a run no matter what admissions happen concurrently.
func (s *RuleService) ActiveSnapshot(ctx context.Context, companyID string, at time.Time) ([]domain.Rule, error) {
	ctx, span := ruleTracer.Start(ctx, "RuleService.ActiveSnapshot")
	defer span.End()

	all, err := s.store.ListRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("rule snapshot: %w", err)
	}

	snapshot := make([]domain.Rule, 0, len(all))
	for _, r := range all {
		if !r.Active || !r.InForce(at) {
			continue
		}
		if r.Provenance == domain.ProvenanceExtraction && r.Confidence < s.threshold {
			continue
		}
		snapshot = append(snapshot, r)
	}

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Priority > snapshot[j].Priority
	})
	return snapshot, nil
}

// Deactivate marks a rule inactive. The rule stays in the store for audit.
func (s *RuleService) Deactivate(ctx context.Context, companyID, ruleID string) error {
	ctx, span := ruleTracer.Start(ctx, "RuleService.Deactivate")
	defer span.End()

	lock := s.companyLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeactivateRule(ctx, companyID, ruleID); err != nil {
		return err
	}
	s.logger.Info("rule deactivated",
		zap.String("company_id", companyID),
		zap.String("rule_id", ruleID),
	)
	return nil
}

// ListRules returns every rule of a company, active or not.
func (s *RuleService) ListRules(ctx context.Context, companyID string) ([]domain.Rule, error) {
	ctx, span := ruleTracer.Start(ctx, "RuleService.ListRules")
	defer span.End()

	return s.store.ListRules(ctx, companyID)
}
