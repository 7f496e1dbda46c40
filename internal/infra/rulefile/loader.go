// Package rulefile loads seed rule packs from YAML files. Packs go through
// the same admission validation as extracted candidates; a pack file only
// supplies candidates, never pre-validated rules.
package rulefile

import (
	"fmt"
	"os"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"

	"gopkg.in/yaml.v3"
)

// Pack is one YAML rule-pack file.
type Pack struct {
	Version     string                 `yaml:"version"`
	CompanyID   string                 `yaml:"company_id"`
	Description string                 `yaml:"description,omitempty"`
	Rules       []domain.CandidateRule `yaml:"rules"`
}

// Load reads and decodes a pack file.
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("decode rule pack %s: %w", path, err)
	}
	if pack.CompanyID == "" {
		return nil, fmt.Errorf("rule pack %s: missing company_id", path)
	}
	return &pack, nil
}
