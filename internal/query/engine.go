// Package query fans a question out across a vault's sources in priority
// order: personal memory, subscribed knowledge vaults, remote peers, and a
// marketplace fallback. Overlapping answers are merged by content
// fingerprint so the caller sees the freshest version of a fact once, with
// older or conflicting versions surfaced rather than dropped.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vaultmesh/vaultd/internal/logger"
	"github.com/vaultmesh/vaultd/internal/stats"
)

// Source priorities. Lower wins ordering ties.
const (
	PriorityPersonal    = 0
	PriorityKnowledge   = 1
	PriorityPeer        = 2
	PriorityMarketplace = 3
)

// DefaultPeerTimeout bounds each remote peer lookup independently.
const DefaultPeerTimeout = 8 * time.Second

// relevanceThreshold is the score below which local results do not satisfy
// a query, letting the marketplace fallback run.
const relevanceThreshold = 1.0

// Candidate is one scored answer from a single source.
type Candidate struct {
	Content   string    `json:"content"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Source is anything the engine can search. Remote implementations must
// honor the context deadline.
type Source interface {
	ID() string
	Priority() int
	Search(ctx context.Context, text string) ([]Candidate, error)
}

// Result is a merged answer attributed to the source that produced it.
type Result struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Priority  int       `json:"priority"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Response is the full query outcome. AlsoFound holds candidates that lost
// their fingerprint group to a fresher entry; they are reported, never
// discarded, so conflicting sources stay visible.
type Response struct {
	Results        []Result `json:"results"`
	AlsoFound      []Result `json:"also_found"`
	SourcesChecked []string `json:"sources_checked"`
}

// Engine runs queries for one vault.
type Engine struct {
	local       []Source // priorities 0 and 1, searched in order
	peers       []Source // priority 2, searched concurrently
	marketplace Source   // priority 3 fallback, may be nil
	ledger      *stats.Store
	peerTimeout time.Duration
}

// New assembles an engine. Sources in local are searched sequentially in
// the order given; peers fan out concurrently.
func New(local, peers []Source, marketplace Source, ledger *stats.Store, peerTimeout time.Duration) *Engine {
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}
	return &Engine{
		local:       local,
		peers:       peers,
		marketplace: marketplace,
		ledger:      ledger,
		peerTimeout: peerTimeout,
	}
}

type scored struct {
	Candidate
	source   string
	priority int
}

// Run executes a query. includeNetwork enables the peer and marketplace
// tiers; local tiers always run. Every invocation counts against the
// vault's query total. A canceled or expired ctx returns whatever the
// faster sources produced; partial results are valid.
func (e *Engine) Run(ctx context.Context, text string, includeNetwork bool) (*Response, error) {
	if err := e.ledger.RecordQuery(); err != nil {
		return nil, err
	}

	var all []scored
	var checked []string

	for _, src := range e.local {
		checked = append(checked, src.ID())
		cands, err := src.Search(ctx, text)
		if err != nil {
			logger.Warn("local source failed", "source", src.ID(), "error", err)
			continue
		}
		all = append(all, attribute(cands, src)...)
		if ctx.Err() != nil {
			break
		}
	}

	if includeNetwork && ctx.Err() == nil {
		peerResults, peerIDs := e.searchPeers(ctx, text)
		all = append(all, peerResults...)
		checked = append(checked, peerIDs...)
	}

	if includeNetwork && e.marketplace != nil && ctx.Err() == nil && !anyRelevant(all) {
		checked = append(checked, e.marketplace.ID())
		cands, err := e.marketplace.Search(ctx, text)
		if err != nil {
			logger.Warn("marketplace lookup failed", "error", err)
		} else {
			all = append(all, attribute(cands, e.marketplace)...)
		}
	}

	resp := merge(all)
	resp.SourcesChecked = checked
	return resp, nil
}

func attribute(cands []Candidate, src Source) []scored {
	out := make([]scored, 0, len(cands))
	for _, c := range cands {
		out = append(out, scored{Candidate: c, source: src.ID(), priority: src.Priority()})
	}
	return out
}

// searchPeers queries every peer concurrently, each under its own timeout.
// A failed or slow peer contributes nothing and is not fatal.
func (e *Engine) searchPeers(ctx context.Context, text string) ([]scored, []string) {
	type peerOut struct {
		id    string
		cands []scored
	}

	var wg sync.WaitGroup
	outs := make(chan peerOut, len(e.peers))

	for _, src := range e.peers {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, e.peerTimeout)
			defer cancel()

			cands, err := src.Search(pctx, text)
			if err != nil {
				logger.Warn("peer query failed", "peer", src.ID(), "error", err)
				outs <- peerOut{id: src.ID()}
				return
			}
			outs <- peerOut{id: src.ID(), cands: attribute(cands, src)}
		}(src)
	}

	wg.Wait()
	close(outs)

	var all []scored
	var ids []string
	for o := range outs {
		ids = append(ids, o.id)
		all = append(all, o.cands...)
	}
	sort.Strings(ids)
	return all, ids
}

func anyRelevant(all []scored) bool {
	for _, s := range all {
		if s.Relevance >= relevanceThreshold {
			return true
		}
	}
	return false
}

// merge groups candidates by content fingerprint. The freshest candidate in
// each group becomes the primary result; the rest go to AlsoFound with a
// note naming what superseded them.
func merge(all []scored) *Response {
	groups := make(map[string][]scored)
	var order []string
	for _, s := range all {
		fp := fingerprint(s.Content)
		if _, seen := groups[fp]; !seen {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], s)
	}

	resp := &Response{Results: []Result{}, AlsoFound: []Result{}}
	for _, fp := range order {
		group := groups[fp]

		primary := 0
		for i, s := range group {
			if s.Timestamp.After(group[primary].Timestamp) {
				primary = i
			}
		}

		p := group[primary]
		resp.Results = append(resp.Results, Result{
			Content:   p.Content,
			Source:    p.source,
			Priority:  p.priority,
			Relevance: p.Relevance,
			Timestamp: p.Timestamp,
		})

		for i, s := range group {
			if i == primary {
				continue
			}
			resp.AlsoFound = append(resp.AlsoFound, Result{
				Content:   s.Content,
				Source:    s.source,
				Priority:  s.priority,
				Relevance: s.Relevance,
				Timestamp: s.Timestamp,
				Note:      fmt.Sprintf("superseded by more recent entry from %s", p.source),
			})
		}
	}

	sort.SliceStable(resp.Results, func(i, j int) bool {
		a, b := resp.Results[i], resp.Results[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		return a.Timestamp.After(b.Timestamp)
	})

	return resp
}
