package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vaultmesh/vaultd/internal/amps"
	"github.com/vaultmesh/vaultd/internal/auth"
	"github.com/vaultmesh/vaultd/internal/backup"
	"github.com/vaultmesh/vaultd/internal/contrib"
	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/secrets"
	"github.com/vaultmesh/vaultd/internal/stats"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"agent_id":       s.agentID,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}

	if usage, err := disk.Usage(s.vaultRoot); err == nil {
		resp["disk"] = map[string]any{
			"path":         s.vaultRoot,
			"used_bytes":   usage.Used,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		}
	}

	resp["peers"] = map[string]any{
		"local":  len(s.registry.Local()),
		"remote": len(s.registry.AllRemotes()),
	}
	if s.backup != nil {
		resp["backup_reachable"] = s.backup.Healthy(r.Context())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	files, err := s.mem.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d, err := s.gateDecision()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":       s.agentID,
		"role":           rec.Role,
		"memory_files":   files,
		"network_access": d,
	})
}

type queryRequest struct {
	Text           string `json:"q"`
	IncludeNetwork bool   `json:"include_network"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	includeNetwork := req.IncludeNetwork
	var gateNote string
	if includeNetwork {
		d, err := s.gateDecision()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		switch d.Access {
		case stats.AccessThrottled:
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "network queries throttled, contribute to restore access",
				"gate":  d,
			})
			return
		case stats.AccessDenied:
			includeNetwork = false
			gateNote = "network access denied, local sources only"
		}
	}

	resp, err := s.engine.Run(r.Context(), req.Text, includeNetwork)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := map[string]any{
		"results":         resp.Results,
		"also_found":      resp.AlsoFound,
		"sources_checked": resp.SourcesChecked,
	}
	if gateNote != "" {
		out["note"] = gateNote
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	matches := s.classifier.Classify(req.Content)
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Content string `json:"content"`
		Source  string `json:"source"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = rec.Agent
	}

	c, err := s.pipeline.Submit(req.Content, req.Source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":          c.Status,
		"contribution_id": c.ID,
		"category":        c.Category,
		"confidence":      c.Confidence,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	pending, err := s.pipeline.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []*contrib.Contribution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	id := r.PathValue("id")
	if err := s.pipeline.Approve(id); err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "contribution_id": id})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	id := r.PathValue("id")
	if err := s.pipeline.Reject(id); err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "contribution_id": id})
}

func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contrib.ErrNotFound):
		writeError(w, http.StatusNotFound, "contribution not found")
	case errors.Is(err, contrib.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, "contribution already decided")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	files, err := s.mem.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleMemoryRead(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	file := r.PathValue("path")
	content, err := s.mem.Read(file)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": file, "content": content})
}

func (s *Server) handleMemoryWrite(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	file := r.PathValue("path")

	var req struct {
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	mode := memory.ModeWrite
	if req.Mode == string(memory.ModeAppend) {
		mode = memory.ModeAppend
	}

	res, err := s.mem.Write(file, req.Content, mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTodayLogRead(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	file := s.mem.TodayLog()
	content, err := s.mem.Read(file)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": file, "content": content})
}

func (s *Server) handleTodayLogAppend(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	res, err := s.mem.Write(s.mem.TodayLog(), strings.TrimRight(req.Content, "\n")+"\n", memory.ModeAppend)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSecretList(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	names, err := s.secrets.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": names})
}

func (s *Server) handleSecretGet(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	name := r.PathValue("name")
	value, err := s.secrets.Get(name)
	if err != nil {
		writeSecretError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": value})
}

func (s *Server) handleSecretPut(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	name := r.PathValue("name")

	var req struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.secrets.Put(name, req.Value); err != nil {
		writeSecretError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "name": name})
}

func (s *Server) handleSecretDelete(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	name := r.PathValue("name")
	if err := s.secrets.Delete(name); err != nil {
		writeSecretError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func writeSecretError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, secrets.ErrNotFound):
		writeError(w, http.StatusNotFound, "secret not found")
	case errors.Is(err, secrets.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid secret name")
	case errors.Is(err, secrets.ErrDecryptionFailed):
		writeError(w, http.StatusInternalServerError, "decryption failed")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	writeJSON(w, http.StatusOK, map[string]any{"tokens": s.tokens.List()})
}

func (s *Server) handleTokenIssue(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Role       string `json:"role"`
		AgentLabel string `json:"agent_label"`
		ExpiresIn  string `json:"expires_in"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var expires *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		expires = &t
	}

	token, err := s.tokens.Issue(auth.Role(req.Role), req.AgentLabel, req.AgentLabel, expires)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRole) {
			writeError(w, http.StatusBadRequest, "role must be owner or subscriber")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// plaintext is shown exactly once
	writeJSON(w, http.StatusCreated, map[string]string{"token": token, "role": req.Role})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.tokens.Revoke(req.Token); err != nil {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	st, err := s.ledger.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d := stats.Evaluate(st, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          st,
		"ratio":          st.Ratio(),
		"network_access": d,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	doc, err := s.exportDocument()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("backup") == "true" {
		if s.backup == nil {
			writeError(w, http.StatusBadRequest, "offsite backup not configured")
			return
		}
		name, err := s.backup.Snapshot(r.Context(), doc)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": doc, "snapshot": name})
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) exportDocument() (*amps.Document, error) {
	st, err := s.ledger.Load()
	if err != nil {
		return nil, err
	}
	categories, err := s.pipeline.ApprovedCategories()
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, p := range s.registry.Local() {
		subs = append(subs, p.Name)
	}
	for _, p := range s.registry.AllRemotes() {
		subs = append(subs, p.Name)
	}

	return amps.Export(s.mem, st, categories, subs, s.agentID)
}

func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	if s.backup == nil {
		writeError(w, http.StatusBadRequest, "offsite backup not configured")
		return
	}

	snaps, err := s.backup.List(r.Context(), s.agentID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if snaps == nil {
		snaps = []backup.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) handleSnapshotRestore(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	if s.backup == nil {
		writeError(w, http.StatusBadRequest, "offsite backup not configured")
		return
	}

	var req struct {
		Name      string `json:"name"`
		Overwrite bool   `json:"overwrite"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	doc, err := s.backup.Fetch(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	res, err := amps.Import(s.mem, doc, req.Overwrite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Info("snapshot restored", "snapshot", req.Name, "applied", len(res.Applied))
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":        req.Name,
		"applied":         res.Applied,
		"migration_notes": res.MigrationNotes,
		"warnings":        res.Warnings,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, rec *auth.Record) {
	var req struct {
		Document  *amps.Document `json:"document"`
		Overwrite bool           `json:"overwrite"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Document == nil {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}

	res, err := amps.Import(s.mem, req.Document, req.Overwrite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Info("import complete", "source", res.SourceFramework, "applied", len(res.Applied))
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":         res.Applied,
		"migration_notes": res.MigrationNotes,
		"warnings":        res.Warnings,
	})
}
