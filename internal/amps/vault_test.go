package amps

import (
	"strings"
	"testing"

	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/stats"
)

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	return mem
}

func TestExportCarriesMemoryAndContributions(t *testing.T) {
	mem := newTestMemory(t)
	if _, err := mem.Write(memory.FileLongTerm, "# Memory\n\nAave vote passed", memory.ModeWrite); err != nil {
		t.Fatalf("failed to seed memory: %v", err)
	}
	if _, err := mem.Write(memory.FileIdentity, "# Identity\n\nResearch agent", memory.ModeWrite); err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}

	st := &stats.Stats{
		StagedContributions:   10,
		ApprovedContributions: 7,
		NetworkEarnings:       3.5,
	}

	doc, err := Export(mem, st, []string{"defi_yield", "defi_governance"}, []string{"defi-research"}, "agent-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if doc.AMPSVersion != Version || doc.SourceFramework != FrameworkNative {
		t.Errorf("envelope wrong: %+v", doc)
	}
	if doc.AgentID != "agent-1" {
		t.Errorf("expected agent-1, got %s", doc.AgentID)
	}
	if !strings.Contains(doc.Memory.LongTerm, "Aave vote passed") {
		t.Errorf("long_term missing content: %q", doc.Memory.LongTerm)
	}
	if len(doc.Secrets) != 0 {
		t.Errorf("secrets must never be exported: %v", doc.Secrets)
	}
	if len(doc.MigrationNotes) != 0 {
		t.Errorf("native export should be lossless: %v", doc.MigrationNotes)
	}

	c := doc.Contributions
	if c.TotalItems != 7 || c.NetworkEarnings != 3.5 {
		t.Errorf("contribution summary wrong: %+v", c)
	}
	if c.QualityScore != 0.7 {
		t.Errorf("expected quality 0.7, got %f", c.QualityScore)
	}
	// categories come out sorted
	if len(c.Categories) != 2 || c.Categories[0] != "defi_governance" {
		t.Errorf("categories not sorted: %v", c.Categories)
	}
	if len(doc.KnowledgeSubscriptions) != 1 || doc.KnowledgeSubscriptions[0] != "defi-research" {
		t.Errorf("subscriptions missing: %v", doc.KnowledgeSubscriptions)
	}
}

func TestImportAppendsUnderSourceHeading(t *testing.T) {
	mem := newTestMemory(t)
	if _, err := mem.Write(memory.FileLongTerm, "# Memory\n\nexisting entry", memory.ModeWrite); err != nil {
		t.Fatalf("failed to seed memory: %v", err)
	}

	doc := newDocument("agent-2", "autogpt")
	doc.Memory.LongTerm = "imported facts about restaking"

	res, err := Import(mem, doc, false)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !res.OK || len(res.Applied) == 0 {
		t.Errorf("import reported nothing applied: %+v", res)
	}

	got, _ := mem.Read(memory.FileLongTerm)
	if !strings.Contains(got, "existing entry") {
		t.Errorf("existing content lost: %q", got)
	}
	if !strings.Contains(got, "## Imported from autogpt (AMPS "+Version+")") {
		t.Errorf("missing source heading: %q", got)
	}
	if !strings.Contains(got, "imported facts about restaking") {
		t.Errorf("imported content missing: %q", got)
	}
	// existing content stays first
	if strings.Index(got, "existing entry") > strings.Index(got, "imported facts") {
		t.Error("imported content placed before existing content")
	}
}

func TestImportOverwriteReplacesContent(t *testing.T) {
	mem := newTestMemory(t)
	mem.Write(memory.FileLongTerm, "old content to be replaced", memory.ModeWrite)

	doc := newDocument("agent-2", "crewai")
	doc.Memory.LongTerm = "fresh snapshot"

	if _, err := Import(mem, doc, true); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, _ := mem.Read(memory.FileLongTerm)
	if strings.Contains(got, "old content") {
		t.Errorf("overwrite kept old content: %q", got)
	}
	if !strings.Contains(got, "fresh snapshot") {
		t.Errorf("overwrite lost new content: %q", got)
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	mem := newTestMemory(t)

	doc := newDocument("", "autogpt") // missing agent_id, empty memory
	if _, err := Import(mem, doc, false); err == nil {
		t.Error("expected validation error")
	}

	doc2 := newDocument("agent-3", "autogpt")
	doc2.Memory.LongTerm = "content"
	doc2.Secrets = []string{"leaked_key"}
	if _, err := Import(mem, doc2, false); err == nil {
		t.Error("expected error for non-empty secrets")
	}
}

func TestImportSurfacesVersionMismatchAndNotes(t *testing.T) {
	mem := newTestMemory(t)

	doc := newDocument("agent-4", "langgraph")
	doc.AMPSVersion = "0.9"
	doc.Memory.LongTerm = "checkpoint summary"
	doc.MigrationNotes = []string{"tool state not portable, dropped"}

	res, err := Import(mem, doc, false)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	var sawVersion, sawNote bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "version mismatch") {
			sawVersion = true
		}
		if strings.Contains(w, "tool state not portable") {
			sawNote = true
		}
	}
	if !sawVersion {
		t.Errorf("version mismatch not surfaced: %v", res.Warnings)
	}
	if !sawNote {
		t.Errorf("migration note not surfaced: %v", res.Warnings)
	}
}

func TestImportNeverAutoAppliesSubscriptions(t *testing.T) {
	mem := newTestMemory(t)

	doc := newDocument("agent-5", FrameworkNative)
	doc.Memory.LongTerm = "content"
	doc.KnowledgeSubscriptions = []string{"defi-research", "security-feed"}

	res, err := Import(mem, doc, false)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "defi-research") && strings.Contains(w, "restore manually") {
			found = true
		}
	}
	if !found {
		t.Errorf("subscriptions not surfaced as operator warning: %v", res.Warnings)
	}
	for _, a := range res.Applied {
		if strings.Contains(a, "subscription") {
			t.Errorf("subscriptions auto-applied: %v", res.Applied)
		}
	}
}

func TestValidate(t *testing.T) {
	doc := newDocument("agent", FrameworkNative)
	doc.Memory.Identity = "something"
	if errs := Validate(doc); len(errs) != 0 {
		t.Errorf("valid document rejected: %v", errs)
	}

	bad := &Document{}
	errs := Validate(bad)
	if len(errs) < 3 {
		t.Errorf("empty document should fail several checks, got %v", errs)
	}
}

func TestExportThenImportRoundTrip(t *testing.T) {
	src := newTestMemory(t)
	src.Write(memory.FileLongTerm, "# Memory\n\nround trip fact", memory.ModeWrite)
	src.Write(memory.FileIdentity, "# Identity\n\nvault agent", memory.ModeWrite)

	doc, err := Export(src, &stats.Stats{}, nil, nil, "agent-rt")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	dst := newTestMemory(t)
	if _, err := Import(dst, doc, true); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, _ := dst.Read(memory.FileLongTerm)
	if !strings.Contains(got, "round trip fact") {
		t.Errorf("round trip lost memory content: %q", got)
	}
	ident, _ := dst.Read(memory.FileIdentity)
	if !strings.Contains(ident, "vault agent") {
		t.Errorf("round trip lost identity: %q", ident)
	}
}
