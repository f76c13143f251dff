// Package market is the last-resort query tier: an external dataset
// marketplace consulted only when nothing local or peer-side answered. The
// contract is narrow, a candidate search plus a publish acknowledgement;
// everything else about the marketplace stays outside the vault.
package market

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

// Client talks to one marketplace endpoint. It implements query.Source at
// the fallback priority.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New builds a marketplace client. Returns nil when no endpoint is
// configured; the query engine treats a nil marketplace as absent.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ID() string    { return "marketplace" }
func (c *Client) Priority() int { return query.PriorityMarketplace }

type searchResponse struct {
	Candidates []struct {
		Content   string    `json:"content"`
		Relevance float64   `json:"relevance"`
		Timestamp time.Time `json:"timestamp"`
		DatasetID string    `json:"dataset_id"`
	} `json:"candidates"`
}

// Search asks the marketplace for candidate text sources.
func (c *Client) Search(ctx context.Context, text string) ([]query.Candidate, error) {
	body, err := json.Marshal(map[string]string{"query": text})
	if err != nil {
		return nil, fmt.Errorf("market: encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/datasets/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("market: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("market: search returned %d: %s", resp.StatusCode, msg)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("market: decode response: %w", err)
	}

	cands := make([]query.Candidate, 0, len(out.Candidates))
	for _, r := range out.Candidates {
		cands = append(cands, query.Candidate{
			Content:   r.Content,
			Relevance: r.Relevance,
			Timestamp: r.Timestamp,
			Detail:    r.DatasetID,
		})
	}
	return cands, nil
}

// Publish offers approved content to the marketplace and returns the
// acknowledged dataset id.
func (c *Client) Publish(ctx context.Context, category, content string) (string, error) {
	body, err := json.Marshal(map[string]string{"category": category, "content": content})
	if err != nil {
		return "", fmt.Errorf("market: encode publish: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/datasets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("market: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("market: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("market: publish returned %d: %s", resp.StatusCode, msg)
	}

	var ack struct {
		DatasetID string `json:"dataset_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("market: decode ack: %w", err)
	}
	return ack.DatasetID, nil
}
