package peers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vaultmesh/vaultd/internal/query"
)

// Client queries one remote peer vault over HTTP. It implements
// query.Source at the remote-peer priority tier.
type Client struct {
	peer   Peer
	client *http.Client
}

// NewClient builds a peer client. The HTTP timeout is a backstop; the
// query engine applies its own per-peer context deadline.
func NewClient(peer Peer) *Client {
	return &Client{
		peer: peer,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ID() string    { return "peer:" + c.peer.Name }
func (c *Client) Priority() int { return query.PriorityPeer }

type peerQueryRequest struct {
	Text           string `json:"q"`
	IncludeNetwork bool   `json:"include_network"`
}

type peerQueryResponse struct {
	Results []struct {
		Content   string    `json:"content"`
		Relevance float64   `json:"relevance"`
		Timestamp time.Time `json:"timestamp"`
		Source    string    `json:"source"`
	} `json:"results"`
}

// Search posts the query to the peer's query endpoint. Network queries are
// never forwarded onward, so one hop cannot fan out into the whole mesh.
func (c *Client) Search(ctx context.Context, text string) ([]query.Candidate, error) {
	body, err := json.Marshal(peerQueryRequest{Text: text, IncludeNetwork: false})
	if err != nil {
		return nil, fmt.Errorf("peers: encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.peer.URL+"/vault/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("peers: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.peer.Token != "" {
		req.Header.Set("X-Vault-Token", c.peer.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peers: %s unreachable: %w", c.peer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("peers: %s returned %d: %s", c.peer.Name, resp.StatusCode, msg)
	}

	var out peerQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("peers: decode response: %w", err)
	}

	cands := make([]query.Candidate, 0, len(out.Results))
	for _, r := range out.Results {
		cands = append(cands, query.Candidate{
			Content:   r.Content,
			Relevance: r.Relevance,
			Timestamp: r.Timestamp,
			Detail:    r.Source,
		})
	}
	return cands, nil
}

// CheckHealth probes the peer's public health endpoint.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.peer.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("peers: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("peers: %s unreachable: %w", c.peer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peers: %s health returned %d", c.peer.Name, resp.StatusCode)
	}
	return nil
}
