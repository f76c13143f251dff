// Package memory implements the file-backed markdown memory of a vault:
// long-term notes, identity, the active plan, and daily logs. Writes are
// versioned — overwriting a file snapshots the previous content — and
// serialized per file so concurrent writers never interleave.
package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// Core files seeded on first open.
	FileLongTerm   = "MEMORY.md"
	FileIdentity   = "SOUL.md"
	FileActivePlan = "task_plan.md"
	FileNotes      = "notes.md"

	versionsDir = ".versions"
	logsDir     = "logs"

	fileMode = 0o644
	dirMode  = 0o755
)

var ErrNotFound = errors.New("memory: file not found")

// CoreFiles returns the names of the seeded memory files.
func CoreFiles() []string {
	return []string{FileLongTerm, FileIdentity, FileActivePlan, FileNotes}
}

// WriteMode selects between overwrite and append semantics.
type WriteMode string

const (
	ModeWrite  WriteMode = "write"
	ModeAppend WriteMode = "append"
)

var defaults = map[string]string{
	FileLongTerm:   "# Agent Memory\n\n_No memories yet. This file grows as your agent works._\n",
	FileIdentity:   "# Agent Identity\n\n## Principles\n- Check the vault before searching the web\n- Contribute structured intelligence back to the network\n",
	FileActivePlan: "# Active Task Plan\n\n_No active task._\n",
	FileNotes:      "# Working Notes\n\n_Notes from the current research session._\n",
}

// FileInfo describes one memory file.
type FileInfo struct {
	File     string    `json:"file"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// WriteResult reports the outcome of a write or append.
type WriteResult struct {
	File    string `json:"file"`
	Size    int64  `json:"size"`
	Version int    `json:"version"`
}

// Store is the memory tree of a single vault.
type Store struct {
	root string

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex
}

// Open prepares the memory tree, seeding core files on first use.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, logsDir), filepath.Join(root, versionsDir)} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("memory: create %s: %w", dir, err)
		}
	}

	for name, content := range defaults {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), fileMode); err != nil {
				return nil, fmt.Errorf("memory: seed %s: %w", name, err)
			}
		}
	}

	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// fileLock returns the mutex serializing writes to one file.
func (s *Store) fileLock(file string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[file]
	if !ok {
		l = &sync.Mutex{}
		s.locks[file] = l
	}
	return l
}

func (s *Store) resolve(file string) (string, error) {
	clean := filepath.Clean(file)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("memory: invalid file name %q", file)
	}
	if strings.HasPrefix(clean, versionsDir) {
		return "", fmt.Errorf("memory: %q is reserved", file)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the current content of a memory file.
func (s *Store) Read(file string) (string, error) {
	path, err := s.resolve(file)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("memory: read %s: %w", file, err)
	}
	return string(data), nil
}

// Write stores content into a memory file. ModeWrite replaces the current
// content but first snapshots it into the version history; ModeAppend adds
// to the end. The returned version is the count of retained snapshots.
func (s *Store) Write(file, content string, mode WriteMode) (*WriteResult, error) {
	path, err := s.resolve(file)
	if err != nil {
		return nil, err
	}

	lock := s.fileLock(file)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}

	version := 0
	existing, readErr := os.ReadFile(path)
	if readErr == nil {
		v, err := s.snapshot(file, existing)
		if err != nil {
			return nil, err
		}
		version = v
	}

	var data []byte
	switch mode {
	case ModeAppend:
		data = append(existing, []byte("\n"+content+"\n")...)
	default:
		data = []byte(content)
	}

	if err := os.WriteFile(path, data, fileMode); err != nil {
		return nil, fmt.Errorf("memory: write %s: %w", file, err)
	}

	return &WriteResult{File: file, Size: int64(len(data)), Version: version}, nil
}

// snapshot copies the current content into the version history and returns
// the new version number. History is append-only; nothing is ever deleted.
func (s *Store) snapshot(file string, content []byte) (int, error) {
	dir := filepath.Join(s.root, versionsDir, filepath.FromSlash(file))
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return 0, fmt.Errorf("memory: version dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("memory: version list: %w", err)
	}
	next := len(entries) + 1

	name := filepath.Join(dir, fmt.Sprintf("v%06d.md", next))
	if err := os.WriteFile(name, content, fileMode); err != nil {
		return 0, fmt.Errorf("memory: snapshot: %w", err)
	}
	return next, nil
}

// Version returns a prior snapshot of a file, 1 being the oldest.
func (s *Store) Version(file string, version int) (string, error) {
	if _, err := s.resolve(file); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, versionsDir, filepath.FromSlash(file), fmt.Sprintf("v%06d.md", version))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("memory: read version: %w", err)
	}
	return string(data), nil
}

// TodayLog returns the daily log filename for the current UTC day.
func (s *Store) TodayLog() string {
	return fmt.Sprintf("%s/%s.md", logsDir, time.Now().UTC().Format("2006-01-02"))
}

// SessionContext returns the files auto-loaded at session start: core files
// plus today's and yesterday's daily logs, where present.
func (s *Store) SessionContext() map[string]string {
	ctx := make(map[string]string)
	for _, f := range []string{FileLongTerm, FileIdentity, FileActivePlan} {
		if content, err := s.Read(f); err == nil {
			ctx[f] = content
		}
	}
	for delta := 0; delta <= 1; delta++ {
		day := time.Now().UTC().AddDate(0, 0, -delta).Format("2006-01-02")
		log := fmt.Sprintf("%s/%s.md", logsDir, day)
		if content, err := s.Read(log); err == nil {
			ctx[log] = content
		}
	}
	return ctx
}

// List returns all memory files sorted by name, excluding version history.
func (s *Store) List() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			File:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
	return files, nil
}
