// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
)

// ItemSource retrieves normalized line items from the external
// document-normalization collaborator.
type ItemSource interface {
	// ItemsForPeriod returns every line item of a company's fiscal period.
	ItemsForPeriod(ctx context.Context, companyID, period string) ([]domain.LineItem, error)

	// ItemsForDocument returns the line items of a single document.
	ItemsForDocument(ctx context.Context, companyID, documentID string) ([]domain.LineItem, error)
}

// Extractor turns raw rule-source text into candidate rule descriptors.
// Implementations call an AI completion collaborator; a typed error means
// the collaborator was unreachable or returned unparsable content.
type Extractor interface {
	ExtractRules(ctx context.Context, sourceText string) ([]domain.CandidateRule, error)
}

// RuleStore holds the active, versioned rule set per company.
// Writes are serialized per company by the service layer.
type RuleStore interface {
	ListRules(ctx context.Context, companyID string) ([]domain.Rule, error)
	SaveRule(ctx context.Context, rule *domain.Rule) error
	DeactivateRule(ctx context.Context, companyID, ruleID string) error
}

// RunStore persists completed apuração runs (append-only audit trail).
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.ApuracaoRun) error
	GetRun(ctx context.Context, runID string) (*domain.ApuracaoRun, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
