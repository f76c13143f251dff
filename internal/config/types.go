package config

import "time"

type Config struct {
	// VaultRoot is the directory tree holding memory files, the secret
	// store, staged contributions, and the operational database.
	VaultRoot  string
	AgentID    string
	Port       int
	Production bool

	MasterPassword string

	PeersFile    string
	TaxonomyFile string

	AutoApprove bool

	RateLimit   RateLimitConfig
	Query       QueryConfig
	Storage     StorageConfig
	Marketplace MarketplaceConfig
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type QueryConfig struct {
	PeerTimeout     time.Duration
	RefreshSchedule string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MarketplaceConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
}
