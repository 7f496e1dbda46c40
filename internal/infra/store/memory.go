// Package store provides the rule/run persistence adapters: an in-memory
// store (default, and used by tests) and a PostgREST-backed store for
// durable persistence.
package store

import (
	"context"
	"sync"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
)

// Memory is a thread-safe in-memory RuleStore and RunStore. It has an
// injected lifecycle: each orchestrator (or test) constructs its own, so no
// state leaks across runs.
type Memory struct {
	mu    sync.RWMutex
	rules map[string][]domain.Rule // companyID -> rules
	runs  map[string]*domain.ApuracaoRun
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules: make(map[string][]domain.Rule),
		runs:  make(map[string]*domain.ApuracaoRun),
	}
}

// ListRules returns every rule of a company, active or not.
func (m *Memory) ListRules(_ context.Context, companyID string) ([]domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := m.rules[companyID]
	out := make([]domain.Rule, len(rules))
	copy(out, rules)
	return out, nil
}

// SaveRule inserts or replaces a rule.
func (m *Memory) SaveRule(_ context.Context, rule *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := m.rules[rule.CompanyID]
	for i := range rules {
		if rules[i].ID == rule.ID {
			rules[i] = *rule
			return nil
		}
	}
	m.rules[rule.CompanyID] = append(rules, *rule)
	return nil
}

// DeactivateRule clears the Active flag; rules are never hard-deleted.
func (m *Memory) DeactivateRule(_ context.Context, companyID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := m.rules[companyID]
	for i := range rules {
		if rules[i].ID == ruleID {
			rules[i].Active = false
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "rule", ID: ruleID}
}

// SaveRun stores a completed run.
func (m *Memory) SaveRun(_ context.Context, run *domain.ApuracaoRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = run
	return nil
}

// GetRun returns a stored run by id.
func (m *Memory) GetRun(_ context.Context, runID string) (*domain.ApuracaoRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "run", ID: runID}
	}
	return run, nil
}
