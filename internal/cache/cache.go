// Package cache is the persistent snapshot store for aggregated view-model
// fragments. It is a best-effort optimization: writes that fail are logged
// and dropped, reads that hit corrupt or expired entries clear them and
// report a miss. Expiry is decided by the envelope timestamp on every read,
// never by the backing store.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Keys for the tracked view-model fragments.
const (
	KeyThreatIntel      = "defi-guard-threat-intel"
	KeyStablecoins      = "defi-guard-stablecoins"
	KeyStablecoinAlerts = "defi-guard-stablecoin-alerts"
	KeyLastUpdated      = "defi-guard-last-updated"
)

// TrackedKeys lists every key Clear removes.
var TrackedKeys = []string{KeyThreatIntel, KeyStablecoins, KeyStablecoinAlerts, KeyLastUpdated}

// DefaultTTL bounds how old a cached snapshot may be before it is discarded.
const DefaultTTL = 2 * time.Hour

// Store is the raw key-value backend under the envelope layer.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Envelope wraps cached data with its write time in epoch milliseconds.
type Envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Cache layers TTL envelopes over a Store.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache over store. A zero ttl falls back to DefaultTTL.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Write stores data under key wrapped in a fresh envelope. Failures are
// swallowed: caching is never a correctness requirement.
func (c *Cache) Write(ctx context.Context, key string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("cache write skipped, value not serializable", "key", key, "error", err)
		return
	}
	env, err := json.Marshal(Envelope{Data: raw, Timestamp: c.now().UnixMilli()})
	if err != nil {
		c.logger.Warn("cache write skipped, envelope not serializable", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, env); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Read loads key into out and reports whether a usable entry existed.
// Corrupt and expired entries are cleared and treated as a miss.
func (c *Cache) Read(ctx context.Context, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		c.logger.Warn("cache entry corrupt, clearing", "key", key)
		c.drop(ctx, key)
		return false
	}

	age := c.now().UnixMilli() - env.Timestamp
	if age > c.ttl.Milliseconds() {
		c.logger.Debug("cache entry expired, clearing", "key", key, "age_ms", age)
		c.drop(ctx, key)
		return false
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		c.logger.Warn("cache payload corrupt, clearing", "key", key, "error", err)
		c.drop(ctx, key)
		return false
	}
	return true
}

// Clear removes every tracked key.
func (c *Cache) Clear(ctx context.Context) {
	for _, key := range TrackedKeys {
		c.drop(ctx, key)
	}
	c.logger.Info("cache cleared", "keys", len(TrackedKeys))
}

func (c *Cache) drop(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
