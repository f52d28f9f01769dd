// Package preview implements C11: a short-TTL, token-keyed store for a
// prepared enrollment payload (the raw image bytes, embedding and primary
// detection box; no crop is stored, C8 crops from the raw bytes at
// enrollment time), so a client can preview a detected face before
// committing to C8's enrollment. Grounded on original_source's preview-token handling
// in register_db.py (a dict keyed by a uuid4 hex token, pruned on
// insert), reshaped into a locked Go struct the way internal/index and
// internal/attendance hold their own in-memory state.
package preview

import (
	"sync"
	"time"

	"github.com/your-org/fd-attendance/internal/engine"
)

// Entry is one prepared enrollment payload.
type Entry struct {
	ImageBytes []byte
	PrimaryBox engine.Box
	Embedding  []float32
	Label      string
}

type stored struct {
	entry   Entry
	storedAt time.Time
}

// Cache is C11. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	entries map[string]stored
}

// New constructs a cache with the given TTL and capacity. Per spec
// §4.11, defaults are a 600s TTL and a 256-entry cap.
func New(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{ttl: ttl, cap: capacity, entries: make(map[string]stored)}
}

// Store records entry under token with the current wall-clock timestamp,
// pruning expired entries first and then, if still over capacity,
// evicting the oldest entries until back under the cap.
func (c *Cache) Store(token string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.pruneLocked(now)

	c.entries[token] = stored{entry: entry, storedAt: now}

	for len(c.entries) > c.cap {
		oldestToken := ""
		var oldestAt time.Time
		for tok, s := range c.entries {
			if oldestToken == "" || s.storedAt.Before(oldestAt) {
				oldestToken = tok
				oldestAt = s.storedAt
			}
		}
		if oldestToken == "" {
			break
		}
		delete(c.entries, oldestToken)
	}
}

// Get returns the entry for token iff it exists and has not expired.
func (c *Cache) Get(token string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[token]
	if !ok || time.Since(s.storedAt) > c.ttl {
		return Entry{}, false
	}
	return s.entry, true
}

// Consume atomically gets and removes token's entry.
func (c *Cache) Consume(token string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[token]
	delete(c.entries, token)
	if !ok || time.Since(s.storedAt) > c.ttl {
		return Entry{}, false
	}
	return s.entry, true
}

func (c *Cache) pruneLocked(now time.Time) {
	for tok, s := range c.entries {
		if now.Sub(s.storedAt) > c.ttl {
			delete(c.entries, tok)
		}
	}
}
