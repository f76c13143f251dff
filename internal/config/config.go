package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func Load() (*Config, error) {
	vaultRoot := os.Getenv("VAULT_ROOT")
	if vaultRoot == "" {
		vaultRoot = "vault"
	}

	agentID := os.Getenv("VAULT_AGENT_ID")
	if agentID == "" {
		agentID = "vault-local"
	}

	port := 8100
	if p, err := strconv.Atoi(os.Getenv("VAULT_PORT")); err == nil && p > 0 {
		port = p
	}

	// production is the default; a deployment must opt out of it
	env := os.Getenv("VAULT_ENV")
	production := env != "development" && env != "dev"

	masterPassword := os.Getenv("VAULT_MASTER_PASSWORD")

	peersFile := os.Getenv("VAULTS_CONFIG")
	if peersFile == "" {
		peersFile = "vaults.yaml"
	}

	taxonomyFile := os.Getenv("VAULT_TAXONOMY")
	if taxonomyFile == "" {
		taxonomyFile = "taxonomy.yaml"
	}

	marketplace, err := loadMarketplaceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		VaultRoot:      vaultRoot,
		AgentID:        agentID,
		Port:           port,
		Production:     production,
		MasterPassword: masterPassword,
		PeersFile:      peersFile,
		TaxonomyFile:   taxonomyFile,
		AutoApprove:    os.Getenv("VAULT_AUTO_APPROVE") == "true",
		RateLimit:      loadRateLimitConfig(),
		Query:          loadQueryConfig(),
		Storage:        loadStorageConfig(),
		Marketplace:    marketplace,
	}, nil
}

func loadRateLimitConfig() RateLimitConfig {
	max := 10
	if m, err := strconv.Atoi(os.Getenv("VAULT_RATE_LIMIT_MAX")); err == nil && m > 0 {
		max = m
	}

	window := time.Minute
	if w, err := time.ParseDuration(os.Getenv("VAULT_RATE_LIMIT_WINDOW")); err == nil && w > 0 {
		window = w
	}

	return RateLimitConfig{
		Max:    max,
		Window: window,
	}
}

func loadQueryConfig() QueryConfig {
	peerTimeout := 8 * time.Second
	if t, err := time.ParseDuration(os.Getenv("VAULT_PEER_TIMEOUT")); err == nil && t > 0 {
		peerTimeout = t
	}

	schedule := os.Getenv("VAULT_PEER_REFRESH")
	if schedule == "" {
		schedule = "*/10 * * * *"
	}

	return QueryConfig{
		PeerTimeout:     peerTimeout,
		RefreshSchedule: schedule,
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "vault-snapshots"
	}

	return StorageConfig{
		Enabled:   endpoint != "" && accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
}

func loadMarketplaceConfig() (MarketplaceConfig, error) {
	endpoint := os.Getenv("MARKETPLACE_URL")
	if endpoint == "" {
		return MarketplaceConfig{}, nil
	}

	apiKey := os.Getenv("MARKETPLACE_API_KEY")
	if apiKey == "" {
		return MarketplaceConfig{}, fmt.Errorf("MARKETPLACE_URL set but MARKETPLACE_API_KEY missing")
	}

	return MarketplaceConfig{
		Enabled:  true,
		Endpoint: endpoint,
		APIKey:   apiKey,
	}, nil
}
