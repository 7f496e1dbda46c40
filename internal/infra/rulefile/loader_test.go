package rulefile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/rulefile"
)

const samplePack = `
version: "1"
company_id: co-1
description: seed pack
rules:
  - name: Isenção hortifrúti
    kind: exemption
    priority: 100
    confidence: 100
    conditions:
      - field: ncm
        operator: starts_with
        value: "07"
    calculations:
      - kind: tax_base
        formula: zeroBase
        target: tax_base
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte(samplePack), 0o600); err != nil {
		t.Fatal(err)
	}

	pack, err := rulefile.Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if pack.CompanyID != "co-1" {
		t.Errorf("expected company co-1, got %s", pack.CompanyID)
	}
	if len(pack.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(pack.Rules))
	}

	r := pack.Rules[0]
	if r.Kind != domain.RuleExemption {
		t.Errorf("expected kind exemption, got %s", r.Kind)
	}
	if r.Conditions[0].Operator != domain.OpStartsWith || r.Conditions[0].Value != "07" {
		t.Errorf("unexpected condition: %+v", r.Conditions[0])
	}
}

func TestLoad_MissingCompanyID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nrules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := rulefile.Load(path); err == nil {
		t.Fatal("expected error for missing company_id")
	}
}
