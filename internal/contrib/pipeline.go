// Package contrib runs the contribution pipeline: classify an incoming
// finding, sanitize it, stage it for review, and on approval publish it to
// the destination knowledge vault while crediting the ratio ledger.
// Decisions are terminal; approving or rejecting twice fails with
// ErrAlreadyDecided.
package contrib

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/stats"
	"github.com/vaultmesh/vaultd/internal/taxonomy"
)

// Credit is the fixed network earning per approved contribution.
const Credit = 0.5

// Status of a contribution. Pending records await a decision; approved and
// rejected are immutable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	ErrNotFound       = errors.New("contrib: contribution not found")
	ErrAlreadyDecided = errors.New("contrib: contribution already decided")
)

const schema = `
CREATE TABLE IF NOT EXISTS contributions (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	stripped_terms TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	decided_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_contributions_status ON contributions(status);
`

// Contribution is a candidate knowledge item. Content is the sanitized
// text; the original is never persisted.
type Contribution struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	Source        string     `json:"source,omitempty"`
	Category      string     `json:"category"`
	Confidence    float64    `json:"confidence"`
	StrippedTerms []string   `json:"stripped_terms,omitempty"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// Publisher receives approved content. The query-facing knowledge vault's
// memory store satisfies this.
type Publisher interface {
	Publish(category, content, source string) error
}

// Announcer offers approved content to an external marketplace. Announcing
// is best effort; a failure never affects the local decision.
type Announcer interface {
	Publish(ctx context.Context, category, content string) (string, error)
}

// Pipeline stages and decides contributions for one vault.
type Pipeline struct {
	db          *sql.DB
	classifier  *taxonomy.Classifier
	ledger      *stats.Store
	publisher   Publisher
	announcer   Announcer // nil when no marketplace is configured
	redactor    *Redactor
	stagingPath string
	autoApprove bool

	mu sync.Mutex // serializes state transitions within the vault
}

// Config wires a pipeline.
type Config struct {
	DB          *sql.DB
	Classifier  *taxonomy.Classifier
	Ledger      *stats.Store
	Publisher   Publisher
	Announcer   Announcer
	Redactor    *Redactor
	StagingDir  string
	AutoApprove bool
}

// New migrates the contributions table and returns a ready pipeline.
func New(cfg Config) (*Pipeline, error) {
	if _, err := cfg.DB.Exec(schema); err != nil {
		return nil, fmt.Errorf("contrib: migrate: %w", err)
	}
	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("contrib: staging dir: %w", err)
	}

	return &Pipeline{
		db:          cfg.DB,
		classifier:  cfg.Classifier,
		ledger:      cfg.Ledger,
		publisher:   cfg.Publisher,
		announcer:   cfg.Announcer,
		redactor:    cfg.Redactor,
		stagingPath: filepath.Join(cfg.StagingDir, "pending.jsonl"),
		autoApprove: cfg.AutoApprove,
	}, nil
}

// Submit takes a raw finding through classify and sanitize, then stages it.
// An empty classification is staged as uncategorized, not rejected. When the
// vault is configured for auto-approval the contribution is approved
// immediately and the returned record reflects that.
func (p *Pipeline) Submit(content, source string) (*Contribution, error) {
	sanitized, stripped := p.redactor.Sanitize(content)

	category := ""
	confidence := 0.0
	if matches := p.classifier.Classify(sanitized); len(matches) > 0 {
		category = matches[0].Category
		confidence = matches[0].Confidence
	}

	c := &Contribution{
		ID:            uuid.New().String(),
		Content:       sanitized,
		Source:        source,
		Category:      category,
		Confidence:    confidence,
		StrippedTerms: stripped,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	strippedJSON, err := json.Marshal(c.StrippedTerms)
	if err != nil {
		return nil, fmt.Errorf("contrib: encode stripped terms: %w", err)
	}

	p.mu.Lock()
	_, err = p.db.Exec(`
		INSERT INTO contributions (id, content, source, category, confidence, stripped_terms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Content, c.Source, c.Category, c.Confidence, string(strippedJSON), c.Status, c.CreatedAt)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("contrib: stage: %w", err)
	}

	if err := p.appendStagingLog(c); err != nil {
		return nil, err
	}
	if err := p.ledger.RecordStaged(); err != nil {
		return nil, err
	}

	logger.Info("contribution staged", "id", c.ID, "category", c.Category, "stripped", len(stripped))

	if p.autoApprove {
		if err := p.Approve(c.ID); err != nil {
			return nil, err
		}
		return p.Get(c.ID)
	}
	return c, nil
}

// appendStagingLog writes one record per line to the append-only pending
// log. The log is an audit trail; the database row is authoritative.
func (p *Pipeline) appendStagingLog(c *Contribution) error {
	f, err := os.OpenFile(p.stagingPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("contrib: open staging log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("contrib: encode staging record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("contrib: append staging log: %w", err)
	}
	return nil
}

// Approve publishes a pending contribution to the knowledge vault and
// credits the ledger. The decision is applied once; repeat calls return
// ErrAlreadyDecided. Publication happens before the terminal transition:
// a failed publish leaves the record pending so the approval can be
// retried instead of stranding content in an approved-but-unpublished state.
func (p *Pipeline) Approve(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.get(id)
	if err != nil {
		return err
	}
	if c.Status != StatusPending {
		return ErrAlreadyDecided
	}

	if err := p.publisher.Publish(c.Category, c.Content, c.Source); err != nil {
		return fmt.Errorf("contrib: publish: %w", err)
	}

	now := time.Now().UTC()
	if _, err := p.db.Exec(
		`UPDATE contributions SET status = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		StatusApproved, now, id,
	); err != nil {
		return fmt.Errorf("contrib: decide: %w", err)
	}
	if err := p.ledger.RecordApproved(Credit); err != nil {
		return err
	}

	logger.Info("contribution approved", "id", id, "category", c.Category, "credit", Credit)
	p.announce(c)
	return nil
}

// announce offers the approved contribution to the marketplace, if one is
// configured. Failures are logged and swallowed.
func (p *Pipeline) announce(c *Contribution) {
	if p.announcer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dataset, err := p.announcer.Publish(ctx, c.Category, c.Content)
	if err != nil {
		logger.Warn("marketplace announcement failed", "id", c.ID, "error", err)
		return
	}
	logger.Info("contribution offered to marketplace", "id", c.ID, "dataset", dataset)
}

// Reject marks a pending contribution rejected. No publication, no credit.
func (p *Pipeline) Reject(id string) error {
	if _, err := p.decide(id, StatusRejected); err != nil {
		return err
	}
	logger.Info("contribution rejected", "id", id)
	return nil
}

// decide applies the terminal transition under the vault lock.
func (p *Pipeline) decide(id string, to Status) (*Contribution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	_, err = p.db.Exec(
		`UPDATE contributions SET status = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		to, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("contrib: decide: %w", err)
	}

	c.Status = to
	c.DecidedAt = &now
	return c, nil
}

// Get returns a single contribution by id.
func (p *Pipeline) Get(id string) (*Contribution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(id)
}

func (p *Pipeline) get(id string) (*Contribution, error) {
	row := p.db.QueryRow(`
		SELECT id, content, source, category, confidence, stripped_terms, status, created_at, decided_at
		FROM contributions WHERE id = ?
	`, id)

	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Pending lists undecided contributions, oldest first.
func (p *Pipeline) Pending() ([]*Contribution, error) {
	rows, err := p.db.Query(`
		SELECT id, content, source, category, confidence, stripped_terms, status, created_at, decided_at
		FROM contributions WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("contrib: list pending: %w", err)
	}
	defer rows.Close()

	var out []*Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApprovedCategories returns the distinct categories of approved
// contributions, sorted, for export summaries.
func (p *Pipeline) ApprovedCategories() ([]string, error) {
	rows, err := p.db.Query(`
		SELECT DISTINCT category FROM contributions
		WHERE status = 'approved' AND category != '' ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("contrib: list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContribution(row scanner) (*Contribution, error) {
	var c Contribution
	var strippedJSON string
	var decidedAt sql.NullTime

	err := row.Scan(&c.ID, &c.Content, &c.Source, &c.Category, &c.Confidence,
		&strippedJSON, &c.Status, &c.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(strippedJSON), &c.StrippedTerms); err != nil {
		return nil, fmt.Errorf("contrib: decode stripped terms: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}
	return &c, nil
}
