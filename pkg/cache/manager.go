// Package cache implements the content-addressed response cache:
// CacheManager stores small LLM responses keyed by a canonical hash of the
// normalized query, enforcing a token-count floor, a total byte-size cap,
// and combined LRU+TTL eviction.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
)

// structuralCapacity bounds the underlying LRU structure's entry count.
// Real capacity enforcement is governed by Config.MaxSizeBytes, not entry
// count, so this is simply a large ceiling against unbounded map growth.
const structuralCapacity = 1 << 20

// Config controls a Manager's admission and eviction policy.
type Config struct {
	MinTokens    int
	MaxSizeBytes int64
	TTLSeconds   int
}

// Manager is the cache's hash→entry store. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	store   *lru.Cache[string, *Entry]
	tokens  *tokenCounter
	metrics Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// New constructs a Manager from cfg.
func New(cfg Config, logger *logging.Logger) (*Manager, error) {
	store, err := lru.New[string, *Entry](structuralCapacity)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindConfiguration, "create cache store", err)
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		tokens: newTokenCounter(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// GenerateHash computes the canonical content fingerprint: SHA-256 of the
// UTF-8 bytes of lower(trim(query)). Identical for repeated calls on the
// same input within one process lifetime (testable property 1).
func (m *Manager) GenerateHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for hash, if present and unexpired. On a hit,
// access_count is incremented and last_access_at advanced atomically with
// respect to the returned snapshot (testable property 2). An expired entry
// is treated as a miss and removed.
func (m *Manager) Get(hash string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.store.Get(hash)
	if !ok {
		m.metrics.Misses++
		return nil, false
	}

	if m.expired(entry) {
		m.removeLocked(hash, entry)
		m.metrics.Misses++
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessAt = m.now()
	m.metrics.Hits++

	snapshot := *entry
	return &snapshot, true
}

func (m *Manager) expired(entry *Entry) bool {
	if m.cfg.TTLSeconds <= 0 {
		return false
	}
	return m.now().Sub(entry.CreatedAt) > time.Duration(m.cfg.TTLSeconds)*time.Second
}

// Store admits content under hash, computing token_count and byte_size.
// Rejects with ErrCacheInsufficientTokens or ErrCacheOversize before ever
// touching the LRU store or evicting a resident entry.
func (m *Manager) Store(hash, content string) (*Entry, error) {
	tokenCount := m.tokens.Count(content)
	byteSize := int64(len(content))

	if tokenCount < m.cfg.MinTokens {
		return nil, facterrors.ErrCacheInsufficientTokens
	}
	if m.cfg.MaxSizeBytes > 0 && byteSize > m.cfg.MaxSizeBytes {
		return nil, facterrors.ErrCacheOversize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.store.Peek(hash); ok {
		m.store.Remove(hash)
		m.subtractResident(old)
	}

	if err := m.makeRoomLocked(byteSize); err != nil {
		return nil, err
	}

	now := m.now()
	entry := &Entry{
		Hash:         hash,
		Content:      content,
		TokenCount:   tokenCount,
		ByteSize:     byteSize,
		CreatedAt:    now,
		LastAccessAt: now,
		AccessCount:  0,
	}
	m.store.Add(hash, entry)
	m.addResident(entry)
	m.metrics.Stores++

	snapshot := *entry
	return &snapshot, nil
}

// makeRoomLocked evicts least-recently-used entries until incoming fits
// within MaxSizeBytes (testable property 3). Eviction follows the
// underlying LRU structure's recency order only; entries are not compared
// by access_count or created_at.
func (m *Manager) makeRoomLocked(incoming int64) error {
	if m.cfg.MaxSizeBytes <= 0 {
		return nil
	}
	for m.metrics.BytesResident+incoming > m.cfg.MaxSizeBytes {
		key, entry, ok := m.store.GetOldest()
		if !ok {
			return facterrors.ErrCacheFull
		}
		m.store.Remove(key)
		m.subtractResident(entry)
		m.metrics.Evictions++
	}
	return nil
}

func (m *Manager) removeLocked(hash string, entry *Entry) {
	m.store.Remove(hash)
	m.subtractResident(entry)
}

func (m *Manager) addResident(e *Entry) {
	m.metrics.BytesResident += e.ByteSize
	m.metrics.sumTokensResident += int64(e.TokenCount)
	m.metrics.EntriesResident = m.store.Len()
}

func (m *Manager) subtractResident(e *Entry) {
	m.metrics.BytesResident -= e.ByteSize
	m.metrics.sumTokensResident -= int64(e.TokenCount)
	m.metrics.EntriesResident = m.store.Len()
}

// GetMetrics returns a point-in-time snapshot of the cache's cumulative and
// resident counters.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}
