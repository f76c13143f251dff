package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vaultmesh/vaultd/internal/auth"
	"github.com/vaultmesh/vaultd/internal/backup"
	"github.com/vaultmesh/vaultd/internal/config"
	"github.com/vaultmesh/vaultd/internal/contrib"
	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/market"
	"github.com/vaultmesh/vaultd/internal/memory"
	"github.com/vaultmesh/vaultd/internal/peers"
	"github.com/vaultmesh/vaultd/internal/query"
	"github.com/vaultmesh/vaultd/internal/secrets"
	"github.com/vaultmesh/vaultd/internal/server"
	"github.com/vaultmesh/vaultd/internal/stats"
	"github.com/vaultmesh/vaultd/internal/taxonomy"
	"github.com/vaultmesh/vaultd/internal/vaultdb"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	if err := os.MkdirAll(cfg.VaultRoot, 0o755); err != nil {
		logger.Fatal("failed to create vault root", "error", err)
	}

	mem, err := memory.Open(filepath.Join(cfg.VaultRoot, "memory"))
	if err != nil {
		logger.Fatal("failed to open memory store", "error", err)
	}

	secretStore, err := secrets.Open(filepath.Join(cfg.VaultRoot, "secrets"), cfg.MasterPassword)
	if err != nil {
		logger.Fatal("failed to open secret store", "error", err)
	}

	tokens, err := auth.New(secretStore, cfg.Production, cfg.RateLimit.Max, cfg.RateLimit.Window)
	if err != nil {
		logger.Fatal("failed to load token manager", "error", err)
	}

	db, err := vaultdb.Open(filepath.Join(cfg.VaultRoot, "vault.db"))
	if err != nil {
		logger.Fatal("failed to open vault database", "error", err)
	}
	defer db.Close()

	ledger, err := stats.NewStore(db.DB())
	if err != nil {
		logger.Fatal("failed to init stats", "error", err)
	}

	classifier, err := taxonomy.Load(cfg.TaxonomyFile)
	if err != nil {
		logger.Fatal("failed to load taxonomy", "error", err)
	}

	registry, err := peers.Load(cfg.PeersFile)
	if err != nil {
		logger.Fatal("failed to load peer registry", "error", err)
	}

	// local knowledge vaults mount as read-only query sources
	localSources := []query.Source{
		query.NewMemorySource("personal", query.PriorityPersonal, mem),
	}
	knowledgeStores := map[string]*memory.Store{}
	for _, p := range registry.Local() {
		ks, err := memory.Open(p.Path)
		if err != nil {
			logger.Error("failed to open knowledge vault", "name", p.Name, "error", err)
			continue
		}
		knowledgeStores[p.Name] = ks
		localSources = append(localSources, query.NewMemorySource("vault:"+p.Name, query.PriorityKnowledge, ks))
	}

	var peerSources []query.Source
	for _, p := range registry.AllRemotes() {
		peerSources = append(peerSources, peers.NewClient(p))
	}

	marketplace := market.New(cfg.Marketplace.Endpoint, cfg.Marketplace.APIKey)

	var marketSource query.Source
	var announcer contrib.Announcer
	if marketplace != nil {
		marketSource = marketplace
		announcer = marketplace
		logger.Info("marketplace fallback enabled", "endpoint", cfg.Marketplace.Endpoint)
	}

	engine := query.New(localSources, peerSources, marketSource, ledger, cfg.Query.PeerTimeout)

	// approved contributions publish into the first local knowledge vault,
	// or back into personal memory when none is subscribed
	publishTarget := mem
	for _, p := range registry.Local() {
		if ks, ok := knowledgeStores[p.Name]; ok {
			publishTarget = ks
			break
		}
	}

	secretNames, err := secretStore.List()
	if err != nil {
		logger.Fatal("failed to list secrets", "error", err)
	}
	redactor := contrib.NewRedactor(append(secretNames, memory.CoreFiles()...))

	pipeline, err := contrib.New(contrib.Config{
		DB:          db.DB(),
		Classifier:  classifier,
		Ledger:      ledger,
		Publisher:   contrib.MemoryPublisher(publishTarget),
		Announcer:   announcer,
		Redactor:    redactor,
		StagingDir:  filepath.Join(cfg.VaultRoot, "staged"),
		AutoApprove: cfg.AutoApprove,
	})
	if err != nil {
		logger.Fatal("failed to init contribution pipeline", "error", err)
	}

	var backupClient *backup.Client
	if cfg.Storage.Enabled {
		backupClient, err = backup.NewClient(backup.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Error("failed to create backup client", "error", err)
		} else if backupClient != nil {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := backupClient.Init(initCtx); err != nil {
				logger.Error("failed to init snapshot bucket", "error", err)
				backupClient = nil
			} else {
				logger.Info("offsite backup enabled", "endpoint", cfg.Storage.Endpoint)
			}
			cancel()
		}
	}

	// first boot: mint the owner token and print it exactly once
	if !tokens.HasTokens() {
		token, err := tokens.Issue(auth.RoleOwner, cfg.AgentID, "bootstrap owner", nil)
		if err != nil {
			logger.Fatal("failed to issue bootstrap token", "error", err)
		}
		fmt.Printf("\nOwner token (shown once, store it safely):\n\n  %s\n\n", token)
	}

	refresher, err := peers.NewRefresher(registry, cfg.Query.RefreshSchedule)
	if err != nil {
		logger.Fatal("failed to schedule peer refresh", "error", err)
	}
	if len(registry.AllRemotes()) > 0 {
		refresher.Start()
		defer refresher.Stop()
	}

	srv := server.New(server.Deps{
		AgentID:    cfg.AgentID,
		VaultRoot:  cfg.VaultRoot,
		Tokens:     tokens,
		Memory:     mem,
		Secrets:    secretStore,
		Classifier: classifier,
		Pipeline:   pipeline,
		Engine:     engine,
		Ledger:     ledger,
		Registry:   registry,
		Backup:     backupClient,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("vault ready",
		"agent_id", cfg.AgentID,
		"root", cfg.VaultRoot,
		"production", cfg.Production,
		"local_vaults", len(registry.Local()),
		"remote_peers", len(registry.AllRemotes()),
	)

	if err := srv.Run(ctx, cfg.Port); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
