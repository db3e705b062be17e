package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-cert-verifier/internal/logger"
	"go-cert-verifier/pkg/models"

	"github.com/sirupsen/logrus"
)

// Entry is one cached set of render parameters, written only after a
// passing verification.
type Entry struct {
	Key       string              `json:"key"`
	Params    models.RenderParams `json:"params"`
	CreatedAt time.Time           `json:"created_at"`
	TTL       time.Duration       `json:"ttl"`
}

// Stats reports cache usage counters.
type Stats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// PositionCache stores previously successful render parameters keyed by the
// canonicalized field text. Entries are advisory: callers must re-verify a
// hit before trusting it. Safe for concurrent use.
type PositionCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	hits    uint64
	misses  uint64

	// now is swappable in tests
	now func() time.Time
}

// New creates a position cache whose entries expire after ttl.
func New(ttl time.Duration) *PositionCache {
	return &PositionCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives a stable hash from the canonicalized (trimmed, lowercased)
// field text. Equal text yields the same key regardless of map order.
// Components are length-prefixed so a value containing separator bytes can
// never collide with a different field map.
func Key(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		value := strings.ToLower(strings.TrimSpace(fields[name]))
		fmt.Fprintf(h, "%d:%s=%d:%s;", len(name), name, len(value), value)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached render parameters for the given fields. An expired
// entry is removed lazily and reported as a miss.
func (c *PositionCache) Get(fields map[string]string) (models.RenderParams, bool) {
	key := Key(fields)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return models.RenderParams{}, false
	}
	if c.now().Sub(entry.CreatedAt) > entry.TTL {
		delete(c.entries, key)
		c.misses++
		logger.WithField("key", shortKey(key)).Debug("Position cache entry expired")
		return models.RenderParams{}, false
	}

	c.hits++
	return entry.Params.Clone(), true
}

// Set stores render parameters for the given fields.
func (c *PositionCache) Set(fields map[string]string, params models.RenderParams) {
	key := Key(fields)

	c.mu.Lock()
	c.entries[key] = Entry{
		Key:       key,
		Params:    params.Clone(),
		CreatedAt: c.now(),
		TTL:       c.ttl,
	}
	c.mu.Unlock()

	logger.WithField("key", shortKey(key)).Debug("Cached render parameters")
}

// Invalidate removes the entry for the given fields, if present.
func (c *PositionCache) Invalidate(fields map[string]string) {
	key := Key(fields)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// ClearExpired removes every expired entry and returns the count removed.
func (c *PositionCache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > entry.TTL {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		logger.WithFields(logrus.Fields{"removed": removed}).Info("Cleared expired cache entries")
	}
	return removed
}

// ClearAll removes every entry.
func (c *PositionCache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	logger.Info("Cleared all position cache entries")
}

// Stats returns current size and hit/miss counters.
func (c *PositionCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
