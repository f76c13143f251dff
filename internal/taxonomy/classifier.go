// Package taxonomy maps free text to category labels using weighted term
// sets. Rules are configuration data, not code, so the set can be extended
// without touching ranking logic.
package taxonomy

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinConfidence is the floor below which a category is not reported.
const MinConfidence = 0.3

// Rule is one category with its matching terms and weight.
type Rule struct {
	Category string   `yaml:"category"`
	Terms    []string `yaml:"terms"`
	Weight   float64  `yaml:"weight"`
}

// Match is a classification result for a single category.
type Match struct {
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Classifier scores content against a fixed rule set.
type Classifier struct {
	rules []Rule
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads rules from a YAML file. A missing file yields an empty
// classifier; every classification then returns uncategorized.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Classifier{}, nil
		}
		return nil, fmt.Errorf("taxonomy: read rules: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("taxonomy: parse rules: %w", err)
	}
	return New(rf.Rules), nil
}

// New builds a classifier from an in-memory rule set.
func New(rules []Rule) *Classifier {
	for i := range rules {
		if rules[i].Weight == 0 {
			rules[i].Weight = 1
		}
	}
	return &Classifier{rules: rules}
}

// Classify scores content against every rule and returns matches above the
// confidence floor, ordered descending. Deterministic for identical input:
// ties break on category name. Confidences are normalized to sum to at most 1.
func (c *Classifier) Classify(content string) []Match {
	lower := strings.ToLower(content)

	var matches []Match
	for _, r := range c.rules {
		if len(r.Terms) == 0 {
			continue
		}
		var found []string
		for _, term := range r.Terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				found = append(found, term)
			}
		}
		if len(found) == 0 {
			continue
		}
		raw := float64(len(found)) / float64(len(r.Terms)) * r.Weight
		matches = append(matches, Match{
			Category:     r.Category,
			Confidence:   math.Min(1, raw),
			MatchedTerms: found,
		})
	}

	// Normalize so total confidence never exceeds 1.
	total := 0.0
	for _, m := range matches {
		total += m.Confidence
	}
	if total > 1 {
		for i := range matches {
			matches[i].Confidence /= total
		}
	}

	var out []Match
	for _, m := range matches {
		m.Confidence = math.Round(m.Confidence*1000) / 1000
		if m.Confidence >= MinConfidence {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Category < out[j].Category
	})
	return out
}
