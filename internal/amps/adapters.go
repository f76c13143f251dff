package amps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SourceKind tags the framework a foreign workspace belongs to.
type SourceKind string

const (
	KindAgentZero  SourceKind = "agent_zero"
	KindAutoGPT    SourceKind = "autogpt"
	KindCrewAI     SourceKind = "crewai"
	KindLangGraph  SourceKind = "langgraph"
	KindLlamaIndex SourceKind = "llamaindex"
)

// Adapter converts between a foreign framework's on-disk workspace and a
// document. The native adapter is lossless; the rest are best-effort and
// record every dropped or truncated piece in migration notes.
type Adapter interface {
	Kind() SourceKind
	Export(dir, agentID string) (*Document, error)
	Import(doc *Document, dir string, overwrite bool) (*ImportResult, error)
}

// ForKind selects the adapter for a framework. Unknown kinds get a generic
// adapter that always records a migration note instead of failing.
func ForKind(kind SourceKind) Adapter {
	switch kind {
	case KindAgentZero:
		return agentZeroAdapter{}
	case KindAutoGPT:
		return autoGPTAdapter{}
	case KindCrewAI:
		return crewAIAdapter{}
	case KindLangGraph:
		return langGraphAdapter{}
	case KindLlamaIndex:
		return llamaIndexAdapter{}
	default:
		return genericAdapter{kind: kind}
	}
}

const importTruncateLimit = 4000

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeWorkspaceFile(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func baseImportResult(doc *Document) *ImportResult {
	res := &ImportResult{
		OK:              true,
		SourceFramework: doc.SourceFramework,
		AMPSVersion:     doc.AMPSVersion,
		Applied:         []string{},
		MigrationNotes:  doc.MigrationNotes,
		Warnings:        []string{},
	}
	for _, n := range doc.MigrationNotes {
		res.Warnings = append(res.Warnings, "[migration] "+n)
	}
	return res
}

// agentZeroAdapter handles the native markdown layout. Export and import
// are lossless; fields map one to one.
type agentZeroAdapter struct{}

func (agentZeroAdapter) Kind() SourceKind { return KindAgentZero }

func (agentZeroAdapter) Export(dir, agentID string) (*Document, error) {
	doc := newDocument(agentID, string(KindAgentZero))
	doc.Memory.LongTerm = readTrimmed(filepath.Join(dir, "MEMORY.md"))
	doc.Memory.Identity = readTrimmed(filepath.Join(dir, "SOUL.md"))
	doc.Memory.ActivePlan = readTrimmed(filepath.Join(dir, "task_plan.md"))

	if doc.Memory.LongTerm == "" {
		doc.Memory.LongTerm = "# Agent Memory\n\n(empty)"
	}
	if doc.Memory.Identity == "" {
		doc.Memory.Identity = "# Agent Identity\n\n(not set)"
	}
	return doc, nil
}

func (agentZeroAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)
	heading := fmt.Sprintf("%s (AMPS %s)", doc.SourceFramework, doc.AMPSVersion)

	fields := []struct {
		name    string
		content string
	}{
		{"MEMORY.md", doc.Memory.LongTerm},
		{"SOUL.md", doc.Memory.Identity},
		{"task_plan.md", doc.Memory.ActivePlan},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.content) == "" {
			continue
		}
		path := filepath.Join(dir, f.name)
		existing := readTrimmed(path)
		switch {
		case overwrite || existing == "":
			if err := writeWorkspaceFile(dir, f.name, strings.TrimSpace(f.content)+"\n"); err != nil {
				return nil, fmt.Errorf("amps: import %s: %w", f.name, err)
			}
			res.Applied = append(res.Applied, "wrote "+f.name)
		default:
			merged := existing + "\n\n---\n## Imported from " + heading + "\n\n" + strings.TrimSpace(f.content) + "\n"
			if err := writeWorkspaceFile(dir, f.name, merged); err != nil {
				return nil, fmt.Errorf("amps: import %s: %w", f.name, err)
			}
			res.Applied = append(res.Applied, "appended to "+f.name)
		}
	}
	return res, nil
}

// autoGPTAdapter reads memory_summary.json plus whichever agent config file
// exists. Tool and plugin configs are not portable and become notes.
type autoGPTAdapter struct{}

func (autoGPTAdapter) Kind() SourceKind { return KindAutoGPT }

func (autoGPTAdapter) Export(dir, agentID string) (*Document, error) {
	if agentID == "" {
		agentID = "autogpt_" + filepath.Base(dir)
	}
	doc := newDocument(agentID, string(KindAutoGPT))

	var longTerm, identity []string

	if raw := readTrimmed(filepath.Join(dir, "memory_summary.json")); raw != "" {
		var entries []map[string]any
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			doc.MigrationNotes = append(doc.MigrationNotes, "memory_summary.json unreadable: "+err.Error())
		} else {
			for _, e := range entries {
				if txt, ok := e["content"].(string); ok && txt != "" {
					longTerm = append(longTerm, strings.TrimSpace(txt))
				} else if txt, ok := e["text"].(string); ok && txt != "" {
					longTerm = append(longTerm, strings.TrimSpace(txt))
				}
			}
			doc.MigrationNotes = append(doc.MigrationNotes,
				fmt.Sprintf("memory_summary.json: %d entries exported", len(entries)))
		}
	}

	for _, name := range []string{"agent_config.json", "auto-gpt.json", "config.json"} {
		raw := readTrimmed(filepath.Join(dir, name))
		if raw == "" {
			continue
		}
		var cfg map[string]any
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			doc.MigrationNotes = append(doc.MigrationNotes, name+" unreadable: "+err.Error())
			continue
		}

		role := firstString(cfg, "role", "ai_role", "name")
		if role == "" {
			role = "AutoGPT Agent"
		}
		identity = append(identity, "# Agent Identity", "Role: "+role)
		if goals := stringSlice(cfg, "goals", "ai_goals"); len(goals) > 0 {
			identity = append(identity, "Goals:")
			for _, g := range goals {
				identity = append(identity, "- "+g)
			}
		}
		if tools := anySlice(cfg, "plugins", "tools"); len(tools) > 0 {
			doc.MigrationNotes = append(doc.MigrationNotes,
				fmt.Sprintf("%d plugin/tool configs not portable", len(tools)))
		}
		break
	}

	for _, h := range []string{"command_history.json", "history.json"} {
		if _, err := os.Stat(filepath.Join(dir, h)); err == nil {
			doc.MigrationNotes = append(doc.MigrationNotes, "command history not exported: "+h)
			break
		}
	}

	doc.Memory.LongTerm = joinOrEmpty("# Agent Memory", longTerm)
	doc.Memory.Identity = joinOrNotSet(identity)
	return doc, nil
}

func (autoGPTAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)

	if lt := strings.TrimSpace(doc.Memory.LongTerm); lt != "" {
		path := filepath.Join(dir, "memory_summary.json")
		var existing []map[string]any
		if raw := readTrimmed(path); raw != "" && !overwrite {
			_ = json.Unmarshal([]byte(raw), &existing)
		}
		entry := map[string]any{
			"source":       "amps_from_" + doc.SourceFramework,
			"imported_at":  time.Now().UTC().Format(time.RFC3339),
			"amps_version": doc.AMPSVersion,
			"content":      lt,
		}
		out, err := json.MarshalIndent(append([]map[string]any{entry}, existing...), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("amps: encode memory_summary: %w", err)
		}
		if err := writeWorkspaceFile(dir, "memory_summary.json", string(out)); err != nil {
			return nil, fmt.Errorf("amps: import long_term: %w", err)
		}
		res.Applied = append(res.Applied, "long_term -> memory_summary.json")
	}

	if id := strings.TrimSpace(doc.Memory.Identity); id != "" {
		path := filepath.Join(dir, "agent_config.json")
		cfg := map[string]any{}
		if raw := readTrimmed(path); raw != "" && !overwrite {
			_ = json.Unmarshal([]byte(raw), &cfg)
		}
		cfg["amps_imported_identity"] = id
		cfg["amps_source"] = doc.SourceFramework
		if _, ok := cfg["role"]; !ok {
			cfg["role"] = "Agent (imported from " + doc.SourceFramework + ")"
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("amps: encode agent_config: %w", err)
		}
		if err := writeWorkspaceFile(dir, "agent_config.json", string(out)); err != nil {
			return nil, fmt.Errorf("amps: import identity: %w", err)
		}
		res.Applied = append(res.Applied, "identity -> agent_config.json")
	}

	if len(doc.KnowledgeSubscriptions) > 0 {
		res.Warnings = append(res.Warnings, "knowledge_subscriptions not applicable in autogpt")
	}
	return res, nil
}

// crewAIAdapter reads agents.json and recent saved task outputs. Crew
// topology and tool bindings never survive the trip.
type crewAIAdapter struct{}

func (crewAIAdapter) Kind() SourceKind { return KindCrewAI }

func (crewAIAdapter) Export(dir, agentID string) (*Document, error) {
	if agentID == "" {
		agentID = "crewai_" + filepath.Base(dir)
	}
	doc := newDocument(agentID, string(KindCrewAI))

	var identity, longTerm []string

	if raw := readTrimmed(filepath.Join(dir, "agents.json")); raw != "" {
		var agents []map[string]any
		if err := json.Unmarshal([]byte(raw), &agents); err != nil {
			doc.MigrationNotes = append(doc.MigrationNotes, "agents.json unreadable: "+err.Error())
		} else {
			for i, ag := range agents {
				role := firstString(ag, "role")
				identity = append(identity, fmt.Sprintf("## Agent %d: %s", i+1, role))
				if goal := firstString(ag, "goal"); goal != "" {
					identity = append(identity, "Goal: "+goal)
				}
				if bs := firstString(ag, "backstory"); bs != "" {
					identity = append(identity, "Backstory: "+bs)
				}
				if tools := anySlice(ag, "tools"); len(tools) > 0 {
					doc.MigrationNotes = append(doc.MigrationNotes,
						fmt.Sprintf("agent %d (%s) had %d tool(s), not portable", i+1, role, len(tools)))
				}
			}
			doc.MigrationNotes = append(doc.MigrationNotes, "crew topology not portable")
		}
	}

	outputs, _ := filepath.Glob(filepath.Join(dir, "outputs", "*.json"))
	sort.Strings(outputs)
	if len(outputs) > 10 {
		outputs = outputs[len(outputs)-10:]
	}
	for _, f := range outputs {
		raw := readTrimmed(f)
		if raw == "" {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(f), ".json")
		longTerm = append(longTerm, "## Saved Output ("+stem+")\n"+truncate(raw, 1000))
	}

	doc.Memory.Identity = joinOrNotSet(identity)
	doc.Memory.LongTerm = joinOrEmpty("# Task Knowledge", longTerm)
	return doc, nil
}

func (crewAIAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)

	var blocks []string
	if id := strings.TrimSpace(doc.Memory.Identity); id != "" {
		blocks = append(blocks, "[Imported identity from "+doc.SourceFramework+"]\n"+id)
	}
	if lt := strings.TrimSpace(doc.Memory.LongTerm); lt != "" {
		blocks = append(blocks, "[Imported knowledge from "+doc.SourceFramework+"]\n"+truncate(lt, importTruncateLimit))
		if len(lt) > importTruncateLimit {
			res.Warnings = append(res.Warnings, "long_term truncated for backstory extension")
		}
	}
	if plan := strings.TrimSpace(doc.Memory.ActivePlan); plan != "" {
		blocks = append(blocks, "[Imported plan from "+doc.SourceFramework+"]\n"+plan)
	}

	if len(blocks) > 0 {
		content := strings.Join(blocks, "\n\n")
		if err := writeWorkspaceFile(dir, "backstory_extension.md", content+"\n"); err != nil {
			return nil, fmt.Errorf("amps: import backstory: %w", err)
		}
		res.Applied = append(res.Applied, "backstory_extension.md written")
	}
	return res, nil
}

// langGraphAdapter reads a checkpoint directory of JSON state dumps. Graph
// topology is never portable; the import shape is an initial message.
type langGraphAdapter struct{}

func (langGraphAdapter) Kind() SourceKind { return KindLangGraph }

func (langGraphAdapter) Export(dir, agentID string) (*Document, error) {
	if agentID == "" {
		agentID = "langgraph_" + filepath.Base(dir)
	}
	doc := newDocument(agentID, string(KindLangGraph))

	var longTerm []string
	checkpoints, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	sort.Strings(checkpoints)
	if len(checkpoints) > 20 {
		checkpoints = checkpoints[len(checkpoints)-20:]
	}
	for _, f := range checkpoints {
		raw := readTrimmed(f)
		if raw == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			continue
		}
		if c := firstString(data, "content", "output", "text"); c != "" {
			stem := strings.TrimSuffix(filepath.Base(f), ".json")
			longTerm = append(longTerm, "## "+stem+"\n"+truncate(c, 500))
		}
	}

	if len(longTerm) > 0 {
		doc.MigrationNotes = append(doc.MigrationNotes,
			fmt.Sprintf("checkpoint dir: %d files exported", len(longTerm)))
	}
	doc.MigrationNotes = append(doc.MigrationNotes, "graph topology not portable")

	doc.Memory.LongTerm = joinOrEmpty("# Agent Memory (LangGraph)", longTerm)
	doc.Memory.Identity = readTrimmedOr(filepath.Join(dir, "system_prompt.md"), "# Agent Identity\n\n(not set)")
	return doc, nil
}

func (langGraphAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)

	var parts []string
	if id := strings.TrimSpace(doc.Memory.Identity); id != "" {
		parts = append(parts, "=== Imported Identity ("+doc.SourceFramework+") ===\n"+id)
	}
	if lt := strings.TrimSpace(doc.Memory.LongTerm); lt != "" {
		parts = append(parts, "=== Imported Knowledge ("+doc.SourceFramework+") ===\n"+truncate(lt, importTruncateLimit))
	}
	if plan := strings.TrimSpace(doc.Memory.ActivePlan); plan != "" {
		parts = append(parts, "=== Imported Plan ("+doc.SourceFramework+") ===\n"+plan)
	}
	if len(parts) == 0 {
		return res, nil
	}

	msg := map[string]any{
		"type": "human",
		"content": fmt.Sprintf("[AMPS Import from %s at %s]\n\n%s",
			doc.SourceFramework, time.Now().UTC().Format(time.RFC3339), strings.Join(parts, "\n\n")),
	}
	out, err := json.MarshalIndent([]map[string]any{msg}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("amps: encode initial messages: %w", err)
	}
	if err := writeWorkspaceFile(dir, "initial_messages.json", string(out)); err != nil {
		return nil, fmt.Errorf("amps: import messages: %w", err)
	}
	res.Applied = append(res.Applied, "initial_messages.json written (1 msg)")
	return res, nil
}

// llamaIndexAdapter reads a persist dir's docstore. Embeddings are dropped
// and must be recomputed on the far side.
type llamaIndexAdapter struct{}

func (llamaIndexAdapter) Kind() SourceKind { return KindLlamaIndex }

func (llamaIndexAdapter) Export(dir, agentID string) (*Document, error) {
	if agentID == "" {
		agentID = "llamaindex_" + filepath.Base(dir)
	}
	doc := newDocument(agentID, string(KindLlamaIndex))

	var longTerm []string
	raw := readTrimmed(filepath.Join(dir, "docstore.json"))
	if raw != "" {
		var store struct {
			Docstore struct {
				Docs map[string]map[string]any `json:"docs"`
			} `json:"docstore"`
		}
		if err := json.Unmarshal([]byte(raw), &store); err != nil {
			doc.MigrationNotes = append(doc.MigrationNotes, "docstore.json unreadable: "+err.Error())
		} else {
			ids := make([]string, 0, len(store.Docstore.Docs))
			for id := range store.Docstore.Docs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if len(ids) > 30 {
				ids = ids[:30]
			}
			for _, id := range ids {
				if text, ok := store.Docstore.Docs[id]["text"].(string); ok && strings.TrimSpace(text) != "" {
					longTerm = append(longTerm, "## node:"+truncate(id, 12)+"\n"+truncate(strings.TrimSpace(text), 800))
				}
			}
			doc.MigrationNotes = append(doc.MigrationNotes,
				fmt.Sprintf("docstore.json: %d nodes", len(store.Docstore.Docs)),
				"embeddings not portable, recomputed on import")
		}
	}

	doc.Memory.LongTerm = joinOrEmpty("# Agent Memory (LlamaIndex)", longTerm)
	doc.Memory.Identity = "# Agent Identity\n\n(not set)"
	return doc, nil
}

func (llamaIndexAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)

	if lt := strings.TrimSpace(doc.Memory.LongTerm); lt != "" {
		node := map[string]any{
			"text": lt,
			"metadata": map[string]any{
				"source":       "amps_from_" + doc.SourceFramework,
				"amps_version": doc.AMPSVersion,
				"imported_at":  time.Now().UTC().Format(time.RFC3339),
			},
		}
		out, err := json.MarshalIndent([]map[string]any{node}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("amps: encode import nodes: %w", err)
		}
		if err := writeWorkspaceFile(dir, "amps_import_nodes.json", string(out)); err != nil {
			return nil, fmt.Errorf("amps: import nodes: %w", err)
		}
		res.Applied = append(res.Applied, "long_term -> amps_import_nodes.json (index on load)")
	}
	return res, nil
}

// genericAdapter covers frameworks with no dedicated mapping. It dumps and
// reads a plain JSON copy of the document and always records that the
// framework was untranslated.
type genericAdapter struct {
	kind SourceKind
}

func (g genericAdapter) Kind() SourceKind { return g.kind }

func (g genericAdapter) Export(dir, agentID string) (*Document, error) {
	if agentID == "" {
		agentID = string(g.kind) + "_" + filepath.Base(dir)
	}
	doc := newDocument(agentID, string(g.kind))

	doc.Memory.LongTerm = readTrimmedOr(filepath.Join(dir, "amps_export.md"), "# Agent Memory\n\n(empty)")
	doc.Memory.Identity = "# Agent Identity\n\n(not set)"
	doc.MigrationNotes = append(doc.MigrationNotes,
		fmt.Sprintf("no adapter for framework %q, generic passthrough used", g.kind))
	return doc, nil
}

func (g genericAdapter) Import(doc *Document, dir string, overwrite bool) (*ImportResult, error) {
	res := baseImportResult(doc)
	res.Warnings = append(res.Warnings,
		fmt.Sprintf("no adapter for framework %q, document saved untranslated", g.kind))

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("amps: encode document: %w", err)
	}
	if err := writeWorkspaceFile(dir, "amps_import.json", string(out)); err != nil {
		return nil, fmt.Errorf("amps: save document: %w", err)
	}
	res.Applied = append(res.Applied, "document saved to amps_import.json")
	return res, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringSlice(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		raw, ok := m[k].([]any)
		if !ok {
			continue
		}
		var out []string
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func anySlice(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func joinOrEmpty(heading string, parts []string) string {
	if len(parts) == 0 {
		return heading + "\n\n(empty)"
	}
	return heading + "\n\n" + strings.Join(parts, "\n\n")
}

func joinOrNotSet(parts []string) string {
	if len(parts) == 0 {
		return "# Agent Identity\n\n(not set)"
	}
	return strings.Join(parts, "\n")
}

func readTrimmedOr(path, fallback string) string {
	if s := readTrimmed(path); s != "" {
		return s
	}
	return fallback
}
