// Package resilient composes a local CacheManager, an optional remote
// go-redis-backed overflow cache, and a CircuitBreaker guarding the remote
// hop, behind the same get/store/generate_hash shape CacheManager exposes.
// It is the only path by which the Driver touches the cache.
package resilient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dgraft/factengine/pkg/cache"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
	"github.com/dgraft/factengine/pkg/shared/logging"
)

// Config controls the optional remote overflow cache and health probe.
type Config struct {
	// RemoteKeyPrefix namespaces keys in the shared Redis keyspace.
	RemoteKeyPrefix string
	// RemoteTTL is the TTL applied to entries written to the remote cache;
	// zero writes them without expiry. Remote writes happen whenever a
	// remote client is configured.
	RemoteTTL time.Duration
	// HealthProbeInterval drives the background sentinel probe; zero
	// disables it.
	HealthProbeInterval time.Duration
}

// remoteEntry is the wire shape stored in Redis: enough of CacheEntry to
// reconstruct token_count/byte_size on promotion back into the local tier.
type remoteEntry struct {
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	ByteSize   int64  `json:"byte_size"`
}

// Cache is a thin composition of CacheManager and CircuitBreaker.
type Cache struct {
	manager *cache.Manager
	breaker *circuitbreaker.Breaker
	remote  *redis.Client
	cfg     Config
	logger  *logging.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Cache. remote may be nil for local-only operation.
func New(manager *cache.Manager, breaker *circuitbreaker.Breaker, remote *redis.Client, cfg Config, logger *logging.Logger) *Cache {
	c := &Cache{
		manager:    manager,
		breaker:    breaker,
		remote:     remote,
		cfg:        cfg,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
	if cfg.HealthProbeInterval > 0 {
		go c.runHealthProbe()
	}
	return c
}

// GenerateHash delegates to the underlying CacheManager.
func (c *Cache) GenerateHash(query string) string {
	return c.manager.GenerateHash(query)
}

// Get returns the entry for hash if present, locally or in the remote
// overflow tier. Circuit-open and underlying remote errors are both
// treated as a plain miss — cache errors never surface to the caller
// (spec: "never surface cache errors to the user").
func (c *Cache) Get(ctx context.Context, hash string) (*cache.Entry, bool) {
	result, err := c.breaker.Call(func() (interface{}, error) {
		return c.get(ctx, hash)
	})
	if err != nil || result == nil {
		return nil, false
	}
	entry, ok := result.(*cache.Entry)
	return entry, ok
}

func (c *Cache) get(ctx context.Context, hash string) (interface{}, error) {
	if entry, ok := c.manager.Get(hash); ok {
		return entry, nil
	}
	if c.remote == nil {
		return nil, nil
	}

	raw, err := c.remote.Get(ctx, c.remoteKey(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var re remoteEntry
	if err := json.Unmarshal([]byte(raw), &re); err != nil {
		return nil, err
	}

	// Promote into the local tier so subsequent hits skip the remote hop.
	entry, storeErr := c.manager.Store(hash, re.Content)
	if storeErr != nil {
		// Token-floor/oversize rejections on promotion are not cache
		// failures; serve the remote copy directly without caching it
		// locally.
		return &cache.Entry{Hash: hash, Content: re.Content, TokenCount: re.TokenCount, ByteSize: re.ByteSize}, nil
	}
	return entry, nil
}

// Store admits content locally, and — if a remote backend is configured —
// best-effort mirrors it to the remote tier through the breaker. A remote
// failure does not fail the local store.
func (c *Cache) Store(ctx context.Context, hash, content string) (*cache.Entry, error) {
	entry, err := c.manager.Store(hash, content)
	if err != nil {
		return nil, err
	}
	if c.remote != nil {
		_, _ = c.breaker.Call(func() (interface{}, error) {
			return nil, c.storeRemote(ctx, hash, entry)
		})
	}
	return entry, nil
}

func (c *Cache) storeRemote(ctx context.Context, hash string, entry *cache.Entry) error {
	payload, err := json.Marshal(remoteEntry{Content: entry.Content, TokenCount: entry.TokenCount, ByteSize: entry.ByteSize})
	if err != nil {
		return err
	}
	return c.remote.Set(ctx, c.remoteKey(hash), payload, c.cfg.RemoteTTL).Err()
}

func (c *Cache) remoteKey(hash string) string {
	if c.cfg.RemoteKeyPrefix == "" {
		return "fact:cache:" + hash
	}
	return c.cfg.RemoteKeyPrefix + ":" + hash
}

// GetMetrics reports the local CacheManager's metrics plus the breaker's
// current state, for admin/health surfaces.
func (c *Cache) GetMetrics() (cache.Metrics, circuitbreaker.State) {
	return c.manager.GetMetrics(), c.breaker.State()
}

// CircuitBreakerState reports just the breaker's current state, satisfying
// internal/httpserver.HealthChecker.
func (c *Cache) CircuitBreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// runHealthProbe periodically calls Get on a sentinel hash so a
// permanently-broken remote tier doesn't re-close the breaker purely for
// lack of real traffic.
func (c *Cache) runHealthProbe() {
	sentinel := c.manager.GenerateHash("__fact_health_probe__")
	ticker := time.NewTicker(c.cfg.HealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Get(ctx, sentinel)
			cancel()
		case <-c.shutdownCh:
			return
		}
	}
}

// Shutdown stops the background health probe. Safe to call more than once.
func (c *Cache) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}
