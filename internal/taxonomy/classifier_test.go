package taxonomy

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func defiRules() []Rule {
	return []Rule{
		{Category: "defi_governance", Terms: []string{"governance", "vote", "proposal", "quorum"}},
		{Category: "defi_yield", Terms: []string{"apy", "yield", "liquidity", "staking"}},
		{Category: "security", Terms: []string{"exploit", "vulnerability", "audit", "hack"}},
	}
}

func TestClassifyGovernanceContent(t *testing.T) {
	c := New(defiRules())

	matches := c.Classify("Aave V4 governance vote passed with 72% approval")
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].Category != "defi_governance" {
		t.Errorf("expected defi_governance, got %s", matches[0].Category)
	}
	if matches[0].Confidence < MinConfidence {
		t.Errorf("confidence %f below floor", matches[0].Confidence)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(defiRules())
	content := "governance proposal on staking yield and liquidity"

	first := c.Classify(content)
	for i := 0; i < 5; i++ {
		if got := c.Classify(content); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestClassifyOrderedDescending(t *testing.T) {
	c := New(defiRules())

	matches := c.Classify("governance vote proposal quorum plus a single exploit mention")
	for i := 1; i < len(matches); i++ {
		if matches[i].Confidence > matches[i-1].Confidence {
			t.Errorf("matches not descending at %d: %+v", i, matches)
		}
	}
}

func TestClassifyConfidencesSumAtMostOne(t *testing.T) {
	c := New(defiRules())

	matches := c.Classify("governance vote proposal quorum apy yield liquidity staking exploit vulnerability audit hack")
	total := 0.0
	for _, m := range matches {
		total += m.Confidence
	}
	if total > 1.001 {
		t.Errorf("confidences sum to %f", total)
	}
}

func TestClassifyNoMatchBelowThreshold(t *testing.T) {
	c := New(defiRules())

	// one of four terms is 0.25, under the floor
	if matches := c.Classify("just a vote"); len(matches) != 0 {
		t.Errorf("expected empty result, got %+v", matches)
	}
	if matches := c.Classify("nothing relevant here"); len(matches) != 0 {
		t.Errorf("expected empty result, got %+v", matches)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	rules := `rules:
  - category: defi_governance
    terms: [governance, vote, proposal]
    weight: 1.0
  - category: infra
    terms: [kubernetes, deployment]
`
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("failed to write rules: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	matches := c.Classify("kubernetes deployment rolled back")
	if len(matches) != 1 || matches[0].Category != "infra" {
		t.Errorf("expected infra match, got %+v", matches)
	}
	if matches[0].Confidence != 1.0 {
		t.Errorf("expected full confidence for all terms, got %f", matches[0].Confidence)
	}
}

func TestLoadMissingFileYieldsEmptyClassifier(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing rules file should not error: %v", err)
	}
	if matches := c.Classify("governance vote"); len(matches) != 0 {
		t.Errorf("empty classifier should match nothing, got %+v", matches)
	}
}
