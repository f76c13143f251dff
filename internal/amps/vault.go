package amps

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/stats"
)

// Export snapshots a vault into a document. The native layout maps one to
// one onto the document's memory fields, so the export is lossless and the
// migration-notes list stays empty.
func Export(mem *memory.Store, st *stats.Stats, categories, subscriptions []string, agentID string) (*Document, error) {
	doc := newDocument(agentID, FrameworkNative)

	fields := []struct {
		file string
		dst  *string
	}{
		{memory.FileLongTerm, &doc.Memory.LongTerm},
		{memory.FileIdentity, &doc.Memory.Identity},
		{memory.FileActivePlan, &doc.Memory.ActivePlan},
	}
	for _, f := range fields {
		content, err := mem.Read(f.file)
		if err != nil {
			return nil, fmt.Errorf("amps: export %s: %w", f.file, err)
		}
		*f.dst = strings.TrimSpace(content)
	}

	staged := st.StagedContributions
	if staged < 1 {
		staged = 1
	}
	doc.Contributions = ContributionSummary{
		TotalItems:      st.ApprovedContributions,
		Categories:      sortedCopy(categories),
		QualityScore:    math.Min(1, round3(float64(st.ApprovedContributions)/float64(staged))),
		NetworkEarnings: st.NetworkEarnings,
	}

	doc.KnowledgeSubscriptions = sortedCopy(subscriptions)

	logger.Info("vault exported", "agent_id", agentID,
		"long_term_bytes", len(doc.Memory.LongTerm), "contributions", doc.Contributions.TotalItems)
	return doc, nil
}

// Import applies a document to a vault's memory store. Existing content
// takes priority: imported fields are appended under a heading naming the
// source, unless overwrite is set. Knowledge subscriptions are surfaced to
// the operator, never auto-applied.
func Import(mem *memory.Store, doc *Document, overwrite bool) (*ImportResult, error) {
	res := &ImportResult{
		OK:              true,
		SourceFramework: doc.SourceFramework,
		AMPSVersion:     doc.AMPSVersion,
		Applied:         []string{},
		MigrationNotes:  doc.MigrationNotes,
		Warnings:        []string{},
	}

	if errs := Validate(doc); len(errs) > 0 {
		return nil, fmt.Errorf("amps: invalid document: %s", strings.Join(errs, "; "))
	}
	if doc.AMPSVersion != Version {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"version mismatch: got %s, expected %s, proceeding best-effort", doc.AMPSVersion, Version))
	}
	for _, n := range doc.MigrationNotes {
		res.Warnings = append(res.Warnings, "[migration] "+n)
	}

	heading := fmt.Sprintf("%s (AMPS %s)", doc.SourceFramework, doc.AMPSVersion)
	fields := []struct {
		file    string
		content string
	}{
		{memory.FileLongTerm, doc.Memory.LongTerm},
		{memory.FileIdentity, doc.Memory.Identity},
		{memory.FileActivePlan, doc.Memory.ActivePlan},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.content) == "" {
			continue
		}
		if overwrite {
			if _, err := mem.Write(f.file, strings.TrimSpace(f.content)+"\n", memory.ModeWrite); err != nil {
				return nil, fmt.Errorf("amps: import %s: %w", f.file, err)
			}
			res.Applied = append(res.Applied, "overwrote "+f.file)
			continue
		}

		block := fmt.Sprintf("\n\n---\n## Imported from %s\n\n%s\n", heading, strings.TrimSpace(f.content))
		if _, err := mem.Write(f.file, block, memory.ModeAppend); err != nil {
			return nil, fmt.Errorf("amps: import %s: %w", f.file, err)
		}
		res.Applied = append(res.Applied, "appended to "+f.file)
	}

	if c := doc.Contributions; c.TotalItems > 0 {
		res.Applied = append(res.Applied, fmt.Sprintf(
			"noted contribution history (%d items from %s)", c.TotalItems, doc.SourceFramework))
	}
	if len(doc.KnowledgeSubscriptions) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"knowledge_subscriptions from export: %s, restore manually via the peer registry",
			strings.Join(doc.KnowledgeSubscriptions, ", ")))
	}

	logger.Info("vault import applied", "source", doc.SourceFramework, "applied", len(res.Applied))
	return res, nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
