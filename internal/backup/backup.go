// Package backup ships memory snapshots to S3-compatible object storage so
// a vault survives losing its host. Only exported snapshot documents go
// offsite; secret ciphertext and key material stay local.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vaultmesh/vaultd/internal/amps"
	"github.com/vaultmesh/vaultd/internal/logger"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client wraps the object storage connection for one vault.
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient connects to object storage. Returns nil when no endpoint is
// configured; backup is optional and the server treats nil as disabled.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "vault-snapshots"
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// Init creates the snapshot bucket if it does not exist.
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("backup: check bucket %s: %w", c.bucket, err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("backup: create bucket %s: %w", c.bucket, err)
		}
		logger.Info("snapshot bucket created", "bucket", c.bucket)
	}
	return nil
}

// Snapshot uploads an exported document keyed by agent id and timestamp.
func (c *Client) Snapshot(ctx context.Context, doc *amps.Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: encode snapshot: %w", err)
	}

	name := fmt.Sprintf("%s/%s.amps.json", doc.AgentID, doc.ExportedAt.UTC().Format("2006-01-02T15-04-05Z"))
	_, err = c.mc.PutObject(ctx, c.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("backup: upload %s: %w", name, err)
	}

	logger.Info("snapshot uploaded", "object", name, "size", len(data))
	return name, nil
}

// Fetch downloads a previously uploaded snapshot.
func (c *Client) Fetch(ctx context.Context, name string) (*amps.Document, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("backup: get %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", name, err)
	}

	var doc amps.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backup: decode %s: %w", name, err)
	}
	return &doc, nil
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// List returns the snapshots for an agent, newest first.
func (c *Client) List(ctx context.Context, agentID string) ([]SnapshotInfo, error) {
	var out []SnapshotInfo

	opts := minio.ListObjectsOptions{Prefix: agentID + "/", Recursive: true}
	for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("backup: list %s: %w", agentID, obj.Err)
		}
		out = append(out, SnapshotInfo{Name: obj.Key, Size: obj.Size, Uploaded: obj.LastModified})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Uploaded.After(out[j].Uploaded) })
	return out, nil
}

// Healthy reports whether object storage is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
