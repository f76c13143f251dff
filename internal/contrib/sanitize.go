package contrib

import (
	"regexp"
	"strings"
)

const redactedMark = "[redacted]"

// personalPatterns match content that must never leave the vault regardless
// of configuration: credentials, contact details, and local filesystem paths.
var personalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|token|secret|password|passphrase)\s*[:=]\s*\S+`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b(?:sk|pk|ghp|gho|xox[bps])[-_][A-Za-z0-9_-]{16,}\b`),
	regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`),
	regexp.MustCompile(`(?:/(?:home|Users)/[^\s"']+)`),
}

// Redactor strips personal and vault-identifying content from outbound
// contributions. Beyond the fixed patterns it knows the vault's own secret
// names and memory file paths and removes any mention of them.
type Redactor struct {
	terms []string
}

// NewRedactor builds a redactor over the vault's sensitive term list.
// Terms shorter than four characters are ignored to avoid mangling prose.
func NewRedactor(terms []string) *Redactor {
	var kept []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if len(t) >= 4 {
			kept = append(kept, t)
		}
	}
	return &Redactor{terms: kept}
}

// Sanitize returns the cleaned content and the list of redaction labels
// applied. Labels name the pattern class, not the removed value, so the
// audit trail itself leaks nothing.
func (r *Redactor) Sanitize(content string) (string, []string) {
	var stripped []string

	labels := []string{"credential", "email", "key_material", "wallet_address", "local_path"}
	for i, re := range personalPatterns {
		if re.MatchString(content) {
			content = re.ReplaceAllString(content, redactedMark)
			stripped = append(stripped, labels[i])
		}
	}

	for _, term := range r.terms {
		if containsFold(content, term) {
			content = replaceFold(content, term, redactedMark)
			stripped = append(stripped, "vault_term")
		}
	}

	return content, stripped
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// replaceFold replaces every case-insensitive occurrence of old in s.
func replaceFold(s, old, new string) string {
	lower := strings.ToLower(s)
	target := strings.ToLower(old)

	var b strings.Builder
	for {
		i := strings.Index(lower, target)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(target):]
	}
}
