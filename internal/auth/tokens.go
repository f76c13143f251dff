// Package auth issues and validates vault access tokens. Tokens are opaque
// strings hashed with SHA-256 before storage; the plaintext is returned to
// the caller exactly once at creation. Records persist through the secret
// store so they are encrypted at rest.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/secrets"
)

// Role gates what a token may do. Owners get full read/write/admin;
// subscribers get read plus contribute.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSubscriber Role = "subscriber"
)

const (
	tokenPrefix = "vtok_"
	recordsName = "_system/tokens"
)

var (
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrRateLimited  = errors.New("auth: too many validation attempts")
)

// Record is a stored token. TokenHash is the only credential material kept.
type Record struct {
	TokenHash string     `json:"token_hash"`
	Role      Role       `json:"role"`
	Agent     string     `json:"agent"`
	Label     string     `json:"label"`
	Created   time.Time  `json:"created"`
	Expires   *time.Time `json:"expires,omitempty"`
}

func (r Record) expired() bool {
	return r.Expires != nil && time.Now().After(*r.Expires)
}

// Manager validates and issues tokens for one vault.
type Manager struct {
	store      *secrets.Store
	production bool
	limiter    *rateLimiter

	mu      sync.Mutex
	records []Record
}

// New loads existing token records from the secret store.
func New(store *secrets.Store, production bool, limitMax int, limitWindow time.Duration) (*Manager, error) {
	m := &Manager{
		store:      store,
		production: production,
		limiter:    newRateLimiter(limitMax, limitWindow),
	}

	raw, err := store.Get(recordsName)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return m, nil
		}
		return nil, fmt.Errorf("auth: load token records: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &m.records); err != nil {
		return nil, fmt.Errorf("auth: decode token records: %w", err)
	}
	return m, nil
}

// HasTokens reports whether any token has been issued for this vault.
func (m *Manager) HasTokens() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records) > 0
}

// Issue creates a new token and returns its plaintext, which cannot be
// retrieved again. The server layer enforces that only an owner may issue
// additional tokens once the vault has any.
func (m *Manager) Issue(role Role, agent, label string, expires *time.Time) (string, error) {
	if role != RoleOwner && role != RoleSubscriber {
		return "", ErrInvalidRole
	}
	if agent == "" {
		agent = "default"
	}
	if label == "" {
		label = fmt.Sprintf("%s-%s", role, agent)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	token := tokenPrefix + base64.RawURLEncoding.EncodeToString(buf)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, Record{
		TokenHash: hashToken(token),
		Role:      role,
		Agent:     agent,
		Label:     label,
		Created:   time.Now().UTC(),
		Expires:   expires,
	})
	if err := m.save(); err != nil {
		m.records = m.records[:len(m.records)-1]
		return "", err
	}

	logger.Info("token issued", "role", role, "agent", agent, "label", label)
	return token, nil
}

// Authorize resolves a presented token to its record. Validation attempts
// are rate-limited per token prefix to slow brute forcing.
func (m *Manager) Authorize(token string) (*Record, error) {
	key := token
	if len(key) > 8 {
		key = key[:8]
	}
	if !m.limiter.allow(key) {
		return nil, ErrRateLimited
	}

	// Dev bypass: only honored outside production.
	if !m.production {
		if env := os.Getenv("VAULT_TOKEN"); env != "" && hmac.Equal([]byte(token), []byte(env)) {
			return &Record{Role: RoleOwner, Agent: "env", Label: "env-token", Created: time.Now().UTC()}, nil
		}
	}

	h := hashToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if hmac.Equal([]byte(m.records[i].TokenHash), []byte(h)) {
			if m.records[i].expired() {
				return nil, ErrInvalidToken
			}
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, ErrInvalidToken
}

// Revoke deletes the record matching the presented token.
func (m *Manager) Revoke(token string) error {
	h := hashToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	found := false
	for _, r := range m.records {
		if hmac.Equal([]byte(r.TokenHash), []byte(h)) {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return ErrInvalidToken
	}
	m.records = kept
	return m.save()
}

// List returns token metadata without hashes.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	for i := range out {
		out[i].TokenHash = ""
	}
	return out
}

// save persists records through the secret store; callers hold m.mu.
func (m *Manager) save() error {
	data, err := json.Marshal(m.records)
	if err != nil {
		return fmt.Errorf("auth: encode token records: %w", err)
	}
	if err := m.store.Put(recordsName, string(data)); err != nil {
		return fmt.Errorf("auth: persist token records: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
