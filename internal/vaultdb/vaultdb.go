// Package vaultdb opens the per-vault operational database holding stats
// and contribution records. Memory files and secrets live on the filesystem;
// everything that needs transactional read-modify-write lives here.
package vaultdb

import (
	"database/sql"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store provides a shared database for a vault's operational data.
type Store struct {
	db *sql.DB
}

// Open creates or opens the operational database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB returns the underlying database connection for sub-stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
