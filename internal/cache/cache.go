// Package cache provides Redis-based caching of the last successfully
// reconciled authorization snapshots, used to serve stale-labeled reads
// when the ledger is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snbhowmik/care-x/pkg/models"
)

// DefaultSnapshotTTL bounds how long a stale snapshot may be served.
const DefaultSnapshotTTL = 5 * time.Minute

// Snapshot is a reconciled authorization state with its reconciliation time.
type Snapshot struct {
	State        models.AuthorizationState `json:"state"`
	ReconciledAt time.Time                 `json:"reconciled_at"`
}

// Cache provides Redis-based snapshot caching. A disabled cache misses on
// every read and drops every write.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	enabled   bool
}

// Config holds cache configuration
type Config struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
	Enabled   bool
}

// New creates a new Cache instance
func New(cfg *Config) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{enabled: false}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "carex"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	return &Cache{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
		enabled:   true,
	}, nil
}

// ErrMiss is returned when no snapshot is cached for the key.
var ErrMiss = redis.Nil

// GetAuthorization returns the cached snapshot for a subject.
func (c *Cache) GetAuthorization(ctx context.Context, subjectWallet string) (*Snapshot, error) {
	if !c.enabled {
		return nil, ErrMiss
	}

	data, err := c.client.Get(ctx, c.authKey(subjectWallet)).Bytes()
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

// SetAuthorization caches a snapshot for a subject.
func (c *Cache) SetAuthorization(ctx context.Context, subjectWallet string, snap *Snapshot) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.client.Set(ctx, c.authKey(subjectWallet), data, c.ttl).Err()
}

// InvalidateAuthorization drops the cached snapshot for a subject.
func (c *Cache) InvalidateAuthorization(ctx context.Context, subjectWallet string) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, c.authKey(subjectWallet)).Err()
}

func (c *Cache) authKey(subjectWallet string) string {
	return c.keyPrefix + ":auth:" + models.NormalizeWallet(subjectWallet)
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
