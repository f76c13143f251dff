// Package stats keeps the per-vault running counters that feed the network
// access gate: queries made, contributions staged and approved, and earned
// network credit. The contribution ratio is always derived from these
// counters, never stored, so it cannot drift.
package stats

import (
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_queries INTEGER NOT NULL DEFAULT 0,
	staged_contributions INTEGER NOT NULL DEFAULT 0,
	approved_contributions INTEGER NOT NULL DEFAULT 0,
	network_earnings REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

// Stats is a snapshot of the counters.
type Stats struct {
	TotalQueries          int       `json:"total_queries"`
	StagedContributions   int       `json:"staged_contributions"`
	ApprovedContributions int       `json:"approved_contributions"`
	NetworkEarnings       float64   `json:"network_earnings"`
	CreatedAt             time.Time `json:"created_at"`
}

// Ratio is approved contributions over queries, the input to the gate.
func (s Stats) Ratio() float64 {
	q := s.TotalQueries
	if q < 1 {
		q = 1
	}
	return float64(s.ApprovedContributions) / float64(q)
}

// Store persists the counters in the vault's operational database.
type Store struct {
	db *sql.DB
}

// NewStore ensures the schema and the single stats row exist. created_at is
// written exactly once, at vault creation, and anchors the grace period.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("stats: migrate: %w", err)
	}

	_, err := db.Exec(
		`INSERT INTO stats (id, created_at) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("stats: init row: %w", err)
	}

	return &Store{db: db}, nil
}

// Load reads the current counters. A missing or unreadable row is an
// operational error for the vault, never silently reset.
func (s *Store) Load() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT total_queries, staged_contributions, approved_contributions,
		       network_earnings, created_at
		FROM stats WHERE id = 1
	`).Scan(&st.TotalQueries, &st.StagedContributions, &st.ApprovedContributions,
		&st.NetworkEarnings, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("stats: record unreadable: %w", err)
	}
	return &st, nil
}

// RecordQuery atomically increments the query counter.
func (s *Store) RecordQuery() error {
	_, err := s.db.Exec(`UPDATE stats SET total_queries = total_queries + 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("stats: record query: %w", err)
	}
	return nil
}

// RecordStaged atomically increments the staged counter.
func (s *Store) RecordStaged() error {
	_, err := s.db.Exec(`UPDATE stats SET staged_contributions = staged_contributions + 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("stats: record staged: %w", err)
	}
	return nil
}

// RecordApproved increments the approved counter and credits earnings in
// one statement so concurrent approvals never lose an update.
func (s *Store) RecordApproved(credit float64) error {
	_, err := s.db.Exec(`
		UPDATE stats
		SET approved_contributions = approved_contributions + 1,
		    network_earnings = network_earnings + ?
		WHERE id = 1
	`, credit)
	if err != nil {
		return fmt.Errorf("stats: record approved: %w", err)
	}
	return nil
}

// SetCreatedAt overrides the creation anchor. Test hook only.
func (s *Store) SetCreatedAt(t time.Time) error {
	_, err := s.db.Exec(`UPDATE stats SET created_at = ? WHERE id = 1`, t.UTC())
	return err
}
