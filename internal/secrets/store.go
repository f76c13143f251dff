// Package secrets provides encrypted at-rest credential storage for a vault.
// Every secret is sealed with AES-256-GCM under a key derived from the vault
// master passphrase. Decryption fails closed: a bad auth tag returns
// ErrDecryptionFailed and never partial plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vaultmesh/vaultd/internal/logger"
)

const (
	// DefaultPassphrase is the fallback master passphrase. Operation with it
	// is allowed but warned about at startup.
	DefaultPassphrase = "changeme"

	saltFile   = ".salt"
	saltLength = 32
	keyLength  = 32
	nonceSize  = 12
	iterations = 600_000

	fileMode = 0o600
	dirMode  = 0o700

	// reservedPrefix marks names used by other subsystems that persist
	// through the secret store (token records). They are hidden from List.
	reservedPrefix = "_system/"
)

var (
	ErrNotFound         = errors.New("secrets: secret not found")
	ErrDecryptionFailed = errors.New("secrets: decryption failed")
	ErrInvalidName      = errors.New("secrets: invalid secret name")
)

// Store encrypts and persists secrets under a single directory.
type Store struct {
	dir string
	key []byte
	mu  sync.RWMutex
}

type envelope struct {
	Name       string `json:"name"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Open derives the encryption key and prepares the secrets directory.
// The PBKDF2 salt is generated once and persisted beside the secrets.
func Open(dir, passphrase string) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("secrets: create dir: %w", err)
	}

	if passphrase == "" {
		passphrase = DefaultPassphrase
	}
	if passphrase == DefaultPassphrase {
		logger.Warn("master passphrase is the default; set VAULT_MASTER_PASSWORD before storing real secrets")
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLength, sha256.New)

	return &Store{dir: dir, key: key}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLength {
			return nil, fmt.Errorf("secrets: salt file corrupted (%d bytes)", len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secrets: read salt: %w", err)
	}

	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secrets: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, fileMode); err != nil {
		return nil, fmt.Errorf("secrets: write salt: %w", err)
	}
	return salt, nil
}

// Put encrypts value and stores it under name. The secret name doubles as
// the AAD, so an envelope renamed on disk will not decrypt.
func (s *Store) Put(name, value string) error {
	path, err := s.secretPath(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return fmt.Errorf("secrets: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("secrets: gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: nonce: %w", err)
	}

	ct := gcm.Seal(nil, nonce, []byte(value), []byte(name))

	env := envelope{
		Name:       name,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("secrets: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("secrets: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("secrets: write: %w", err)
	}

	logger.Debug("secret stored", "name", name)
	return nil
}

// Get decrypts and returns the secret value. Tampered ciphertext or a wrong
// key yields ErrDecryptionFailed; the error never carries key or ciphertext
// material.
func (s *Store) Get(name string) (string, error) {
	path, err := s.secretPath(name)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("secrets: read: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", ErrDecryptionFailed
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return "", ErrDecryptionFailed
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("secrets: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: gcm: %w", err)
	}

	pt, err := gcm.Open(nil, nonce, ct, []byte(name))
	if err != nil {
		logger.Warn("secret decryption failed", "name", name)
		return "", ErrDecryptionFailed
	}

	return string(pt), nil
}

// Delete removes a secret.
func (s *Store) Delete(name string) error {
	path, err := s.secretPath(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("secrets: delete: %w", err)
	}
	return nil
}

// List returns secret names only, never values. Reserved system entries are
// excluded.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".enc") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".enc"))
	}
	sort.Strings(names)
	return names, nil
}

// secretPath maps a secret name to a safe on-disk filename. Reserved names
// live in a subdirectory so List never sees them.
func (s *Store) secretPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}

	sub := ""
	base := name
	if strings.HasPrefix(name, reservedPrefix) {
		sub = "system"
		base = strings.TrimPrefix(name, reservedPrefix)
	}

	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidName
	}

	if sub != "" {
		return filepath.Join(s.dir, sub, b.String()+".enc"), nil
	}
	return filepath.Join(s.dir, b.String()+".enc"), nil
}
