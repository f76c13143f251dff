// Package peers maintains the vault's view of other vaults: local knowledge
// vaults mounted from disk and remote peers reachable over HTTP. The
// registry is loaded from a YAML file and remote peer health is refreshed
// on a schedule.
package peers

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vaultmesh/vaultd/internal/logger"
)

// Peer describes one entry from the registry file. Exactly one of Path or
// URL is set: Path mounts a local knowledge vault, URL points at a remote
// peer's query endpoint.
type Peer struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"path,omitempty"`
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// Remote reports whether this peer is queried over the network.
func (p Peer) Remote() bool {
	return p.URL != ""
}

type registryFile struct {
	Vaults []Peer `yaml:"vaults"`
}

// Registry holds the parsed peer list plus last-known health for remotes.
type Registry struct {
	mu      sync.RWMutex
	peers   []Peer
	healthy map[string]bool
}

// Load reads the registry file. A missing file yields an empty registry,
// not an error; a vault with no peers is a normal standalone deployment.
func Load(path string) (*Registry, error) {
	r := &Registry{healthy: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peers: read registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("peers: parse registry: %w", err)
	}

	for _, p := range f.Vaults {
		if p.Name == "" {
			return nil, fmt.Errorf("peers: registry entry missing name")
		}
		if (p.Path == "") == (p.URL == "") {
			return nil, fmt.Errorf("peers: %s must set exactly one of path or url", p.Name)
		}
	}

	r.peers = f.Vaults
	for _, p := range f.Vaults {
		if p.Remote() {
			// assume reachable until the first health pass says otherwise
			r.healthy[p.Name] = true
		}
	}

	logger.Info("peer registry loaded", "path", path, "peers", len(f.Vaults))
	return r, nil
}

// Local returns the peers backed by local paths.
func (r *Registry) Local() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Peer
	for _, p := range r.peers {
		if !p.Remote() {
			out = append(out, p)
		}
	}
	return out
}

// Remotes returns the remote peers currently believed healthy.
func (r *Registry) Remotes() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Peer
	for _, p := range r.peers {
		if p.Remote() && r.healthy[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// AllRemotes returns every remote peer regardless of health.
func (r *Registry) AllRemotes() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Peer
	for _, p := range r.peers {
		if p.Remote() {
			out = append(out, p)
		}
	}
	return out
}

// SetHealth records the outcome of a health probe.
func (r *Registry) SetHealth(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy[name] = ok
}
