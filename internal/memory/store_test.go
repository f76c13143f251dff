package memory

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func TestCoreFilesSeeded(t *testing.T) {
	store := newTestStore(t)

	for _, f := range CoreFiles() {
		content, err := store.Read(f)
		if err != nil {
			t.Fatalf("failed to read %s: %v", f, err)
		}
		if content == "" {
			t.Errorf("%s seeded empty", f)
		}
	}
}

func TestWritePreservesVersionHistory(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Write("notes.md", "first draft", ModeWrite); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	res, err := store.Write("notes.md", "second draft", ModeWrite)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if res.Version != 2 {
		t.Errorf("expected version 2, got %d", res.Version)
	}

	current, _ := store.Read("notes.md")
	if current != "second draft" {
		t.Errorf("expected 'second draft', got '%s'", current)
	}

	// the overwritten content must still be recoverable
	prev, err := store.Version("notes.md", 2)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if prev != "first draft" {
		t.Errorf("expected 'first draft', got '%s'", prev)
	}
}

func TestAppendMode(t *testing.T) {
	store := newTestStore(t)

	store.Write("notes.md", "line one", ModeWrite)
	store.Write("notes.md", "line two", ModeAppend)

	content, _ := store.Read("notes.md")
	if !strings.Contains(content, "line one") || !strings.Contains(content, "line two") {
		t.Errorf("append lost content: %q", content)
	}
	if strings.Index(content, "line one") > strings.Index(content, "line two") {
		t.Error("append reordered content")
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Write("notes.md", "chunk-aaaa chunk-bbbb", ModeAppend); err != nil {
				t.Errorf("concurrent write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	content, _ := store.Read("notes.md")
	if got := strings.Count(content, "chunk-aaaa chunk-bbbb"); got != 20 {
		t.Errorf("expected 20 intact lines, got %d", got)
	}
}

func TestReadRejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)

	for _, f := range []string{"../outside.md", "/etc/passwd", ".versions/notes.md/v000001.md"} {
		if _, err := store.Read(f); err == nil {
			t.Errorf("Read(%q) should fail", f)
		}
	}
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Read("missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTodayLogWriteAndSessionContext(t *testing.T) {
	store := newTestStore(t)

	log := store.TodayLog()
	if !strings.HasPrefix(log, "logs/") || !strings.HasSuffix(log, ".md") {
		t.Fatalf("unexpected log name %q", log)
	}

	if _, err := store.Write(log, "- did a thing", ModeAppend); err != nil {
		t.Fatalf("failed to append log: %v", err)
	}

	ctx := store.SessionContext()
	if _, ok := ctx[FileLongTerm]; !ok {
		t.Error("session context missing long-term memory")
	}
	if _, ok := ctx[log]; !ok {
		t.Error("session context missing today's log")
	}
}

func TestListSkipsVersionHistory(t *testing.T) {
	store := newTestStore(t)

	store.Write("notes.md", "v1", ModeWrite)
	store.Write("notes.md", "v2", ModeWrite)

	files, err := store.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	for _, f := range files {
		if strings.Contains(f.File, ".versions") {
			t.Errorf("version history leaked into listing: %s", f.File)
		}
	}
}

func TestSearchScoresByTokenOverlap(t *testing.T) {
	store := newTestStore(t)

	store.Write("notes.md", "aave governance process\nthe aave governance vote passed today\nunrelated line", ModeWrite)
	store.Write("MEMORY.md", "something about aave only", ModeWrite)

	hits, err := store.Search("aave governance vote")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}

	// MEMORY.md lacks 'governance' and 'vote' so it must not appear
	for _, h := range hits {
		if h.File == FileLongTerm {
			t.Errorf("file without all tokens returned: %+v", h)
		}
	}

	// the line carrying all three tokens outranks the two-token line
	if hits[0].Score != 3 {
		t.Errorf("expected top score 3, got %d", hits[0].Score)
	}
	if !strings.Contains(hits[0].Snippet, "vote passed") {
		t.Errorf("unexpected top snippet %q", hits[0].Snippet)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)

	hits, err := store.Search("a an")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits != nil {
		t.Errorf("expected no hits for stopword-only query, got %d", len(hits))
	}
}
