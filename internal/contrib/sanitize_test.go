package contrib

import (
	"strings"
	"testing"
)

func TestSanitizeCredentialAssignments(t *testing.T) {
	r := NewRedactor(nil)

	out, stripped := r.Sanitize("config uses api_key=sk_live_abcdef and nothing else")
	if strings.Contains(out, "sk_live_abcdef") {
		t.Errorf("credential survived: %q", out)
	}
	if len(stripped) == 0 {
		t.Error("expected stripped labels")
	}
}

func TestSanitizeEmailAndWallet(t *testing.T) {
	r := NewRedactor(nil)

	out, _ := r.Sanitize("reach me at dev@corp.io or 0x1234567890abcdef1234567890abcdef12345678")
	if strings.Contains(out, "dev@corp.io") {
		t.Errorf("email survived: %q", out)
	}
	if strings.Contains(out, "0x1234567890abcdef") {
		t.Errorf("wallet address survived: %q", out)
	}
}

func TestSanitizeLocalPaths(t *testing.T) {
	r := NewRedactor(nil)

	out, _ := r.Sanitize("data lives in /home/alice/vault/secrets for now")
	if strings.Contains(out, "/home/alice") {
		t.Errorf("path survived: %q", out)
	}
}

func TestSanitizeVaultTermsCaseInsensitive(t *testing.T) {
	r := NewRedactor([]string{"MEMORY.md", "binance_key"})

	out, stripped := r.Sanitize("the vault stores Binance_Key next to memory.md")
	lower := strings.ToLower(out)
	if strings.Contains(lower, "binance_key") || strings.Contains(lower, "memory.md") {
		t.Errorf("vault term survived: %q", out)
	}

	labels := strings.Join(stripped, ",")
	if !strings.Contains(labels, "vault_term") {
		t.Errorf("expected vault_term label, got %v", stripped)
	}
}

func TestSanitizeLabelsNameClassNotValue(t *testing.T) {
	r := NewRedactor(nil)

	_, stripped := r.Sanitize("password: hunter2")
	for _, s := range stripped {
		if strings.Contains(s, "hunter2") {
			t.Errorf("stripped label leaked the value: %q", s)
		}
	}
}

func TestSanitizeShortTermsIgnored(t *testing.T) {
	r := NewRedactor([]string{"ok", "a"})

	out, _ := r.Sanitize("everything is ok here")
	if strings.Contains(out, "[redacted]") {
		t.Errorf("short term redacted prose: %q", out)
	}
}

func TestSanitizeCleanContentUntouched(t *testing.T) {
	r := NewRedactor([]string{"secret_name"})

	in := "Aave governance vote passed with 72% approval"
	out, stripped := r.Sanitize(in)
	if out != in {
		t.Errorf("clean content modified: %q", out)
	}
	if len(stripped) != 0 {
		t.Errorf("unexpected labels %v", stripped)
	}
}
