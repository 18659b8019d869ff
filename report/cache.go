package report

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// Cache stores rendered reports. Implementations must be safe for
// concurrent use. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, p ledger.Period, key string, value []byte, ttl time.Duration) error

	// Generation is the current cache generation of p. Keys embed it, so
	// an entry computed before an invalidation is never read after it.
	Generation(ctx context.Context, p ledger.Period) (int64, error)

	// InvalidatePeriod bumps the generation of p and drops every key
	// stored for it.
	InvalidatePeriod(ctx context.Context, p ledger.Period) error
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

// MemoryCache is a process-local Cache with per-entry expiry.
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	generations map[ledger.Period]int64
	now         func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memoryEntry),
		generations: make(map[ledger.Period]int64),
		now:         time.Now,
	}
}

func (c *MemoryCache) Generation(_ context.Context, p ledger.Period) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[p], nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, _ ledger.Period, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) InvalidatePeriod(_ context.Context, p ledger.Period) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[p]++
	for key := range c.entries {
		if periodOfKey(key) == p.String() {
			delete(c.entries, key)
		}
	}
	return nil
}

// periodOfKey extracts yyyy-mm from report:<kind>:<yyyy-mm>:g<n>[:cursor].
func periodOfKey(key string) string {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NopCache) Set(context.Context, ledger.Period, string, []byte, time.Duration) error {
	return nil
}

func (NopCache) Generation(context.Context, ledger.Period) (int64, error) { return 0, nil }

func (NopCache) InvalidatePeriod(context.Context, ledger.Period) error { return nil }
