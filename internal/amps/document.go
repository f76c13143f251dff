// Package amps implements the portable agent-memory snapshot format used
// for export and import. A document carries the full memory state of one
// agent plus an explicit migration-notes list; any transform that loses
// information must append a note, so nothing is silently dropped. Secrets
// are never part of a document.
package amps

import (
	"fmt"
	"time"
)

// Version of the document format this build reads and writes.
const Version = "1.0"

// FrameworkNative identifies documents produced by this vault.
const FrameworkNative = "vaultmesh"

// Memory holds the three portable memory fields. Empty strings mean the
// source had nothing for that field.
type Memory struct {
	LongTerm   string `json:"long_term"`
	Identity   string `json:"identity"`
	ActivePlan string `json:"active_plan,omitempty"`
}

// ContributionSummary condenses the exporting vault's contribution history.
type ContributionSummary struct {
	TotalItems      int      `json:"total_items"`
	Categories      []string `json:"categories"`
	QualityScore    float64  `json:"quality_score"`
	NetworkEarnings float64  `json:"network_earnings"`
}

// Document is one complete snapshot. Secrets is always empty; it exists in
// the schema so validation can prove no exporter ever populated it.
type Document struct {
	AMPSVersion            string              `json:"amps_version"`
	ExportedAt             time.Time           `json:"exported_at"`
	AgentID                string              `json:"agent_id"`
	SourceFramework        string              `json:"source_framework"`
	MigrationNotes         []string            `json:"migration_notes"`
	Memory                 Memory              `json:"memory"`
	Secrets                []string            `json:"secrets"`
	KnowledgeSubscriptions []string            `json:"knowledge_subscriptions"`
	Contributions          ContributionSummary `json:"contributions"`
}

// ImportResult reports what an import applied and what it could not.
type ImportResult struct {
	OK              bool     `json:"ok"`
	SourceFramework string   `json:"source_framework"`
	AMPSVersion     string   `json:"amps_version"`
	Applied         []string `json:"applied"`
	MigrationNotes  []string `json:"migration_notes"`
	Warnings        []string `json:"warnings"`
}

// newDocument returns a blank skeleton with the invariant fields set.
func newDocument(agentID, framework string) *Document {
	return &Document{
		AMPSVersion:            Version,
		ExportedAt:             time.Now().UTC(),
		AgentID:                agentID,
		SourceFramework:        framework,
		MigrationNotes:         []string{},
		Secrets:                []string{},
		KnowledgeSubscriptions: []string{},
		Contributions:          ContributionSummary{Categories: []string{}},
	}
}

// Validate checks document structure. An empty slice means valid.
func Validate(doc *Document) []string {
	var errs []string
	if doc.AMPSVersion == "" {
		errs = append(errs, "missing amps_version")
	}
	if doc.AgentID == "" {
		errs = append(errs, "missing agent_id")
	}
	if doc.SourceFramework == "" {
		errs = append(errs, "missing source_framework")
	}
	if doc.Memory.LongTerm == "" && doc.Memory.Identity == "" && doc.Memory.ActivePlan == "" {
		errs = append(errs, "memory carries no fields")
	}
	if len(doc.Secrets) != 0 {
		errs = append(errs, fmt.Sprintf("secrets must be empty, found %d entries", len(doc.Secrets)))
	}
	return errs
}
