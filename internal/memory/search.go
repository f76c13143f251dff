package memory

import (
	"sort"
	"strings"
	"time"
)

// Hit is one matching snippet from a memory file.
type Hit struct {
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Snippet   string    `json:"snippet"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

const maxHitsPerFile = 5

// Search runs keyword-overlap scoring across all memory files. A file must
// contain every query token; each matching line is scored by how many tokens
// it carries. Ties between files break on recency.
func (s *Store) Search(query string) ([]Hit, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	files, err := s.List()
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, f := range files {
		content, err := s.Read(f.File)
		if err != nil {
			continue
		}
		lower := strings.ToLower(content)

		if !containsAll(lower, tokens) {
			continue
		}

		count := 0
		for i, line := range strings.Split(content, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			score := lineScore(strings.ToLower(trimmed), tokens)
			if score == 0 {
				continue
			}
			hits = append(hits, Hit{
				File:      f.File,
				Line:      i + 1,
				Snippet:   trimmed,
				Score:     score,
				Timestamp: f.Modified,
			})
			count++
			if count >= maxHitsPerFile {
				break
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	return hits, nil
}

// tokenize splits a query into lowercase terms, dropping short stopwords.
func tokenize(query string) []string {
	var tokens []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) > 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func containsAll(content string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(content, t) {
			return false
		}
	}
	return true
}

func lineScore(line string, tokens []string) int {
	score := 0
	for _, t := range tokens {
		if strings.Contains(line, t) {
			score++
		}
	}
	return score
}
