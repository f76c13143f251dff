package query

import (
	"sort"
	"strings"
	"unicode"
)

// salientTermLimit caps how many terms feed a fingerprint. Smaller values
// bucket more aggressively; tune alongside relevanceThreshold.
const salientTermLimit = 8

var fingerprintStopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "from": true,
	"have": true, "that": true, "their": true, "there": true, "these": true,
	"this": true, "were": true, "will": true, "with": true,
}

// fingerprint reduces content to a normalized salient-term key so that the
// same fact phrased slightly differently by two sources lands in one bucket.
func fingerprint(content string) string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len(f) <= 3 || fingerprintStopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}

	sort.Strings(terms)
	if len(terms) > salientTermLimit {
		terms = terms[:salientTermLimit]
	}
	return strings.Join(terms, " ")
}
