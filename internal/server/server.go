// Package server exposes the vault over HTTP. Every route under /vault
// requires a token in the X-Vault-Token header; /health is public.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultmesh/vaultd/internal/auth"
	"github.com/vaultmesh/vaultd/internal/backup"
	"github.com/vaultmesh/vaultd/internal/contrib"
	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/peers"
	"github.com/vaultmesh/vaultd/internal/query"
	"github.com/vaultmesh/vaultd/internal/secrets"
	"github.com/vaultmesh/vaultd/internal/stats"
	"github.com/vaultmesh/vaultd/internal/taxonomy"
)

const tokenHeader = "X-Vault-Token"

// Server wires the vault's components behind HTTP handlers.
type Server struct {
	agentID    string
	vaultRoot  string
	tokens     *auth.Manager
	mem        *memory.Store
	secrets    *secrets.Store
	classifier *taxonomy.Classifier
	pipeline   *contrib.Pipeline
	engine     *query.Engine
	ledger     *stats.Store
	registry   *peers.Registry
	backup     *backup.Client // nil when offsite backup is disabled
	started    time.Time
}

// Deps collects everything a server needs.
type Deps struct {
	AgentID    string
	VaultRoot  string
	Tokens     *auth.Manager
	Memory     *memory.Store
	Secrets    *secrets.Store
	Classifier *taxonomy.Classifier
	Pipeline   *contrib.Pipeline
	Engine     *query.Engine
	Ledger     *stats.Store
	Registry   *peers.Registry
	Backup     *backup.Client
}

// New builds the server.
func New(d Deps) *Server {
	return &Server{
		agentID:    d.AgentID,
		vaultRoot:  d.VaultRoot,
		tokens:     d.Tokens,
		mem:        d.Memory,
		secrets:    d.Secrets,
		classifier: d.Classifier,
		pipeline:   d.Pipeline,
		engine:     d.Engine,
		ledger:     d.Ledger,
		registry:   d.Registry,
		backup:     d.Backup,
		started:    time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /vault/info", s.authed(s.handleInfo))
	mux.HandleFunc("POST /vault/query", s.authed(s.handleQuery))
	mux.HandleFunc("POST /vault/classify", s.authed(s.handleClassify))
	mux.HandleFunc("POST /vault/contribute", s.authed(s.handleContribute))

	mux.HandleFunc("GET /vault/contribute/pending", s.owner(s.handlePending))
	mux.HandleFunc("POST /vault/pending/{id}/approve", s.owner(s.handleApprove))
	mux.HandleFunc("DELETE /vault/pending/{id}", s.owner(s.handleReject))

	mux.HandleFunc("GET /vault/memory", s.authed(s.handleMemoryList))
	mux.HandleFunc("GET /vault/memory/log/today", s.authed(s.handleTodayLogRead))
	mux.HandleFunc("POST /vault/memory/log/today", s.owner(s.handleTodayLogAppend))
	mux.HandleFunc("GET /vault/memory/{path...}", s.authed(s.handleMemoryRead))
	mux.HandleFunc("POST /vault/memory/{path...}", s.owner(s.handleMemoryWrite))

	mux.HandleFunc("GET /vault/secrets", s.owner(s.handleSecretList))
	mux.HandleFunc("GET /vault/secrets/{name}", s.owner(s.handleSecretGet))
	mux.HandleFunc("POST /vault/secrets/{name}", s.owner(s.handleSecretPut))
	mux.HandleFunc("DELETE /vault/secrets/{name}", s.owner(s.handleSecretDelete))

	mux.HandleFunc("GET /vault/tokens", s.owner(s.handleTokenList))
	mux.HandleFunc("POST /vault/tokens", s.owner(s.handleTokenIssue))
	mux.HandleFunc("DELETE /vault/tokens", s.owner(s.handleTokenRevoke))

	mux.HandleFunc("GET /vault/stats", s.owner(s.handleStats))
	mux.HandleFunc("GET /vault/export", s.owner(s.handleExport))
	mux.HandleFunc("POST /vault/import", s.owner(s.handleImport))
	mux.HandleFunc("GET /vault/snapshots", s.owner(s.handleSnapshotList))
	mux.HandleFunc("POST /vault/snapshots/restore", s.owner(s.handleSnapshotRestore))

	return mux
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vault server starting", "port", port, "agent_id", s.agentID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, rec *auth.Record)

// authed validates the token for any role.
func (s *Server) authed(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := s.authorize(w, r)
		if !ok {
			return
		}
		h(w, r, rec)
	}
}

// owner validates the token and requires the owner role.
func (s *Server) owner(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := s.authorize(w, r)
		if !ok {
			return
		}
		if rec.Role != auth.RoleOwner {
			writeError(w, http.StatusForbidden, "owner token required")
			return
		}
		h(w, r, rec)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (*auth.Record, bool) {
	rec, err := s.tokens.Authorize(r.Header.Get(tokenHeader))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many validation attempts")
		default:
			writeError(w, http.StatusUnauthorized, "invalid token")
		}
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// gateDecision evaluates the network gate against current counters.
func (s *Server) gateDecision() (*stats.Decision, error) {
	st, err := s.ledger.Load()
	if err != nil {
		return nil, err
	}
	d := stats.Evaluate(st, time.Now())
	return &d, nil
}
