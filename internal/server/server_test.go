package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultmesh/vaultd/internal/auth"
	"github.com/vaultmesh/vaultd/internal/contrib"
	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/peers"
	"github.com/vaultmesh/vaultd/internal/query"
	"github.com/vaultmesh/vaultd/internal/secrets"
	"github.com/vaultmesh/vaultd/internal/stats"
	"github.com/vaultmesh/vaultd/internal/taxonomy"
	"github.com/vaultmesh/vaultd/internal/vaultdb"
)

type testVault struct {
	ts         *httptest.Server
	ownerToken string
	subToken   string
	mem        *memory.Store
}

func newTestVault(t *testing.T) *testVault {
	t.Helper()
	root := t.TempDir()

	mem, err := memory.Open(filepath.Join(root, "memory"))
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	secretStore, err := secrets.Open(filepath.Join(root, "secrets"), "test-passphrase")
	if err != nil {
		t.Fatalf("failed to open secret store: %v", err)
	}
	tokens, err := auth.New(secretStore, true, 100, time.Minute)
	if err != nil {
		t.Fatalf("failed to create token manager: %v", err)
	}

	db, err := vaultdb.Open(filepath.Join(root, "vault.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ledger, err := stats.NewStore(db.DB())
	if err != nil {
		t.Fatalf("failed to create stats store: %v", err)
	}

	classifier := taxonomy.New([]taxonomy.Rule{
		{Category: "defi_governance", Terms: []string{"governance", "vote", "proposal"}},
	})

	pipeline, err := contrib.New(contrib.Config{
		DB:         db.DB(),
		Classifier: classifier,
		Ledger:     ledger,
		Publisher:  contrib.MemoryPublisher(mem),
		Redactor:   contrib.NewRedactor(nil),
		StagingDir: filepath.Join(root, "staged"),
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	local := query.NewMemorySource("personal", query.PriorityPersonal, mem)
	engine := query.New([]query.Source{local}, nil, nil, ledger, time.Second)

	registry, err := peers.Load(filepath.Join(root, "absent.yaml"))
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	srv := New(Deps{
		AgentID:    "test-agent",
		VaultRoot:  root,
		Tokens:     tokens,
		Memory:     mem,
		Secrets:    secretStore,
		Classifier: classifier,
		Pipeline:   pipeline,
		Engine:     engine,
		Ledger:     ledger,
		Registry:   registry,
	})

	ownerToken, err := tokens.Issue(auth.RoleOwner, "test-agent", "test owner", nil)
	if err != nil {
		t.Fatalf("failed to issue owner token: %v", err)
	}
	subToken, err := tokens.Issue(auth.RoleSubscriber, "reader", "test subscriber", nil)
	if err != nil {
		t.Fatalf("failed to issue subscriber token: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testVault{ts: ts, ownerToken: ownerToken, subToken: subToken, mem: mem}
}

func (v *testVault) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, v.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("X-Vault-Token", token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, data
}

func TestHealthIsPublic(t *testing.T) {
	v := newTestVault(t)

	resp, body := v.do(t, "GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("unexpected health payload: %v", out)
	}
}

func TestVaultRoutesRequireToken(t *testing.T) {
	v := newTestVault(t)

	resp, _ := v.do(t, "GET", "/vault/info", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "GET", "/vault/info", "vtok_bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with bogus token, got %d", resp.StatusCode)
	}
}

func TestOwnerRoutesRejectSubscribers(t *testing.T) {
	v := newTestVault(t)

	resp, _ := v.do(t, "GET", "/vault/secrets", v.subToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for subscriber on secrets, got %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "GET", "/vault/contribute/pending", v.subToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for subscriber on pending, got %d", resp.StatusCode)
	}

	// subscriber can still query
	resp, _ = v.do(t, "POST", "/vault/query", v.subToken, map[string]any{"q": "anything"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for subscriber query, got %d", resp.StatusCode)
	}
}

func TestQueryReturnsMemoryHits(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.mem.Write(memory.FileLongTerm, "# Memory\n\nAave governance vote passed with approval", memory.ModeWrite); err != nil {
		t.Fatalf("failed to seed memory: %v", err)
	}

	resp, body := v.do(t, "POST", "/vault/query", v.subToken, map[string]any{"q": "governance vote"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Results []struct {
			Content string `json:"content"`
			Source  string `json:"source"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Results) == 0 {
		t.Fatal("expected at least one result")
	}
	if out.Results[0].Source != "personal" {
		t.Errorf("unexpected source %q", out.Results[0].Source)
	}
}

func TestQueryRequiresQ(t *testing.T) {
	v := newTestVault(t)

	resp, _ := v.do(t, "POST", "/vault/query", v.subToken, map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing q, got %d", resp.StatusCode)
	}

	// the legacy field name is not accepted as a substitute
	resp, _ = v.do(t, "POST", "/vault/query", v.subToken, map[string]any{"text": "anything"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 when q is absent, got %d", resp.StatusCode)
	}
}

func TestContributionLifecycleOverHTTP(t *testing.T) {
	v := newTestVault(t)

	resp, body := v.do(t, "POST", "/vault/contribute", v.subToken,
		map[string]any{"content": "governance vote on the new proposal"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}

	var sub struct {
		ContributionID string `json:"contribution_id"`
		Status         string `json:"status"`
		Category       string `json:"category"`
	}
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sub.Status != "pending" || sub.Category != "defi_governance" {
		t.Errorf("unexpected submission: %+v", sub)
	}

	resp, body = v.do(t, "GET", "/vault/contribute/pending", v.ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = v.do(t, "POST", "/vault/pending/"+sub.ContributionID+"/approve", v.ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed with %d", resp.StatusCode)
	}

	// second decision conflicts
	resp, _ = v.do(t, "POST", "/vault/pending/"+sub.ContributionID+"/approve", v.ownerToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on double approve, got %d", resp.StatusCode)
	}
	resp, _ = v.do(t, "DELETE", "/vault/pending/"+sub.ContributionID, v.ownerToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on reject after approve, got %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "POST", "/vault/pending/no-such-id/approve", v.ownerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", resp.StatusCode)
	}
}

func TestSecretRoutes(t *testing.T) {
	v := newTestVault(t)

	resp, _ := v.do(t, "POST", "/vault/secrets/exchange_api", v.ownerToken,
		map[string]any{"value": "sk_live_secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put failed with %d", resp.StatusCode)
	}

	resp, body := v.do(t, "GET", "/vault/secrets/exchange_api", v.ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get failed with %d", resp.StatusCode)
	}
	var got map[string]string
	json.Unmarshal(body, &got)
	if got["value"] != "sk_live_secret" {
		t.Errorf("secret round trip failed: %v", got)
	}

	resp, _ = v.do(t, "GET", "/vault/secrets/absent", v.ownerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown secret, got %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "DELETE", "/vault/secrets/exchange_api", v.ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete failed with %d", resp.StatusCode)
	}
}

func TestMemoryRoutes(t *testing.T) {
	v := newTestVault(t)

	resp, _ := v.do(t, "POST", "/vault/memory/notes.md", v.ownerToken,
		map[string]any{"content": "# Notes\n\nfresh content"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write failed with %d", resp.StatusCode)
	}

	resp, body := v.do(t, "GET", "/vault/memory/notes.md", v.subToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read failed with %d", resp.StatusCode)
	}
	var got map[string]any
	json.Unmarshal(body, &got)
	if content, _ := got["content"].(string); !bytes.Contains([]byte(content), []byte("fresh content")) {
		t.Errorf("memory read wrong: %v", got)
	}

	// subscriber cannot write
	resp, _ = v.do(t, "POST", "/vault/memory/notes.md", v.subToken,
		map[string]any{"content": "overwrite attempt"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for subscriber write, got %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "GET", "/vault/memory/missing.md", v.subToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing file, got %d", resp.StatusCode)
	}
}

func TestExportOmitsSecrets(t *testing.T) {
	v := newTestVault(t)

	v.do(t, "POST", "/vault/secrets/hidden", v.ownerToken, map[string]any{"value": "do-not-export"})

	resp, body := v.do(t, "GET", "/vault/export", v.ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export failed with %d: %s", resp.StatusCode, body)
	}

	if bytes.Contains(body, []byte("do-not-export")) {
		t.Error("secret value leaked into export")
	}

	var doc struct {
		AMPSVersion string   `json:"amps_version"`
		Secrets     []string `json:"secrets"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.AMPSVersion != "1.0" {
		t.Errorf("unexpected version %q", doc.AMPSVersion)
	}
	if len(doc.Secrets) != 0 {
		t.Errorf("secrets list must be empty: %v", doc.Secrets)
	}
}

func TestSnapshotRoutesWithoutBackupConfigured(t *testing.T) {
	v := newTestVault(t)

	resp, body := v.do(t, "GET", "/vault/snapshots", v.ownerToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without backup, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = v.do(t, "POST", "/vault/snapshots/restore", v.ownerToken,
		map[string]any{"name": "agent/2026-01-01.amps.json"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without backup, got %d", resp.StatusCode)
	}

	// owner-only either way
	resp, _ = v.do(t, "GET", "/vault/snapshots", v.subToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for subscriber, got %d", resp.StatusCode)
	}
}

func TestTokenIssueAndRevokeOverHTTP(t *testing.T) {
	v := newTestVault(t)

	resp, body := v.do(t, "POST", "/vault/tokens", v.ownerToken,
		map[string]any{"role": "subscriber", "agent_label": "ci-bot"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue failed with %d: %s", resp.StatusCode, body)
	}

	var issued map[string]string
	json.Unmarshal(body, &issued)
	token := issued["token"]
	if token == "" {
		t.Fatal("no token in response")
	}

	// the new token works
	resp, _ = v.do(t, "GET", "/vault/info", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("issued token rejected with %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "DELETE", "/vault/tokens", v.ownerToken, map[string]any{"token": token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke failed with %d", resp.StatusCode)
	}

	resp, _ = v.do(t, "GET", "/vault/info", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked token still accepted: %d", resp.StatusCode)
	}

	// bad role
	resp, _ = v.do(t, "POST", "/vault/tokens", v.ownerToken, map[string]any{"role": "admin"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
}
