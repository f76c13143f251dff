package query

import (
	"context"

	"github.com/vaultmesh/vaultd/internal/memory"
)

// MemorySource adapts a memory store into a query source. The personal
// vault registers at priority 0; subscribed knowledge vaults at priority 1.
type MemorySource struct {
	id       string
	priority int
	store    *memory.Store
}

// NewMemorySource wraps a memory store under the given source id.
func NewMemorySource(id string, priority int, store *memory.Store) *MemorySource {
	return &MemorySource{id: id, priority: priority, store: store}
}

func (m *MemorySource) ID() string    { return m.id }
func (m *MemorySource) Priority() int { return m.priority }

// Search runs keyword search over the vault's files. Context is checked
// between hits so a canceled query returns promptly.
func (m *MemorySource) Search(ctx context.Context, text string) ([]Candidate, error) {
	hits, err := m.store.Search(text)
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if ctx.Err() != nil {
			return cands, nil
		}
		cands = append(cands, Candidate{
			Content:   h.Snippet,
			Relevance: float64(h.Score),
			Timestamp: h.Timestamp,
			Detail:    h.File,
		})
	}
	return cands, nil
}
