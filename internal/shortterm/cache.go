// Package shortterm implements the bounded in-memory cache tier: fast,
// ephemeral storage for recent interaction data awaiting consolidation
// triage. One mutex guards the whole cache so read-modify-write sequences
// (access bookkeeping, evict-then-insert, scan-then-remove) stay atomic;
// scans are bounded by capacity, so lock hold time is bounded too.
package shortterm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

// DefaultCapacity bounds the cache when the config does not.
const DefaultCapacity = 100

// DefaultTTL is applied to entries stored without their own deadline.
const DefaultTTL = time.Hour

// Config tunes a Cache.
type Config struct {
	// Capacity is the maximum number of entries (default: 100).
	Capacity int

	// TTL is the default time-to-live applied to entries that arrive
	// without an ExpiresAt. Zero keeps the package default; negative
	// disables default expiry.
	TTL time.Duration

	// Clock supplies timestamps; defaults to the system clock.
	Clock storage.Clock
}

// entry wraps a cached record with its recency position. seq increases on
// every insert and successful read, so larger means more recently used.
type entry struct {
	data *types.Entry
	seq  uint64
}

// Cache is the bounded short-term tier.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64

	capacity int
	ttl      time.Duration
	clock    storage.Clock
}

// New creates a cache from the config.
func New(cfg Config) *Cache {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = storage.SystemClock{}
	}
	ttl := cfg.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	return &Cache{
		entries:  make(map[string]*entry, cfg.Capacity),
		capacity: cfg.Capacity,
		ttl:      ttl,
		clock:    cfg.Clock,
	}
}

// Put validates and inserts the entry, evicting exactly one entry first if
// the cache is full. It never fails for capacity reasons. Returns the
// entry id.
func (c *Cache) Put(e *types.Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("%w: nil entry", types.ErrInvalidEntry)
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	stored := e.Clone()
	if stored.ExpiresAt == nil && c.ttl > 0 {
		deadline := c.clock.Now().Add(c.ttl)
		stored.ExpiresAt = &deadline
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[stored.ID]; !exists && len(c.entries) >= c.capacity {
		c.evictOne()
	}
	c.nextSeq++
	c.entries[stored.ID] = &entry{data: stored, seq: c.nextSeq}
	return stored.ID, nil
}

// Get returns a copy of the entry if present and not expired, bumping its
// access count, last-accessed time, and recency position. Expired entries
// are deleted in place and reported as absent.
func (c *Cache) Get(id string) (*types.Entry, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if ent.data.Expired(now) {
		delete(c.entries, id)
		return nil, storage.ErrNotFound
	}

	ent.data.AccessCount++
	ent.data.LastAccessedAt = now
	c.nextSeq++
	ent.seq = c.nextSeq
	return ent.data.Clone(), nil
}

// Find scans the cache and returns up to limit non-expired entries matching
// the predicate, most recently used first. The scan holds the cache lock
// but is bounded by capacity.
func (c *Cache) Find(match func(*types.Entry) bool, limit int) []*types.Entry {
	if limit < 1 {
		return nil
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	live := make([]*entry, 0, len(c.entries))
	for id, ent := range c.entries {
		if ent.data.Expired(now) {
			delete(c.entries, id)
			continue
		}
		live = append(live, ent)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq > live[j].seq })

	var out []*types.Entry
	for _, ent := range live {
		if match != nil && !match(ent.data) {
			continue
		}
		out = append(out, ent.data.Clone())
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Delete removes the entry if present and reports whether it was.
func (c *Cache) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}

// Update mutates an existing entry's content, metadata, and importance in
// place. Returns ErrNotFound for unknown or expired ids.
func (c *Cache) Update(id string, content *string, metadata map[string]interface{}, importance *float64) error {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[id]
	if !ok || ent.data.Expired(now) {
		if ok {
			delete(c.entries, id)
		}
		return storage.ErrNotFound
	}

	updated := ent.data.Clone()
	if content != nil {
		updated.Content = *content
	}
	if importance != nil {
		updated.Importance = *importance
	}
	if metadata != nil {
		if updated.Metadata == nil {
			updated.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			updated.Metadata[k] = v
		}
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	updated.UpdatedAt = now
	ent.data = updated
	c.nextSeq++
	ent.seq = c.nextSeq
	return nil
}

// SweepExpired purges all TTL-expired entries and reports how many. Called
// on a timer; Get/Find stay correct without it.
func (c *Cache) SweepExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for id, ent := range c.entries {
		if ent.data.Expired(now) {
			delete(c.entries, id)
			purged++
		}
	}
	return purged
}

// Snapshot returns copies of all non-expired entries without touching their
// access bookkeeping. The consolidation cycle iterates this snapshot so
// concurrent writes are neither skipped nor double-processed.
func (c *Cache) Snapshot() []*types.Entry {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Entry, 0, len(c.entries))
	for _, ent := range c.entries {
		if ent.data.Expired(now) {
			continue
		}
		out = append(out, ent.data.Clone())
	}
	return out
}

// Size returns the current number of entries, expired ones included until
// they are swept or touched.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured bound.
func (c *Cache) Capacity() int { return c.capacity }

// evictOne removes the entry maximizing (1-importance)*age_seconds: the
// least important AND oldest record scores highest and goes first. Ties are
// broken by smallest access count, then oldest creation time. Caller must
// hold the lock.
func (c *Cache) evictOne() *types.Entry {
	if len(c.entries) == 0 {
		return nil
	}
	now := c.clock.Now()

	var (
		worstID    string
		worst      *types.Entry
		worstScore float64
	)
	for id, ent := range c.entries {
		e := ent.data
		score := (1 - e.Importance) * e.AgeSeconds(now)
		replace := worst == nil || score > worstScore
		if !replace && score == worstScore {
			if e.AccessCount != worst.AccessCount {
				replace = e.AccessCount < worst.AccessCount
			} else {
				replace = e.CreatedAt.Before(worst.CreatedAt)
			}
		}
		if replace {
			worstID, worst, worstScore = id, e, score
		}
	}
	delete(c.entries, worstID)
	return worst
}

// Stats summarises the cache for the coordinator's aggregate stats.
type Stats struct {
	Entries        int           `json:"entries"`
	Capacity       int           `json:"capacity"`
	UsagePercent   float64       `json:"usage_percent"`
	AvgImportance  float64       `json:"avg_importance"`
	AvgAccessCount float64       `json:"avg_access_count"`
	ExpiredEntries int           `json:"expired_entries"`
	TTL            time.Duration `json:"ttl"`
}

// Stats returns usage statistics including entries that have expired but
// not yet been swept.
func (c *Cache) Stats() Stats {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:  len(c.entries),
		Capacity: c.capacity,
		TTL:      c.ttl,
	}
	if len(c.entries) == 0 {
		return s
	}

	var totalImportance float64
	var totalAccess int
	for _, ent := range c.entries {
		totalImportance += ent.data.Importance
		totalAccess += ent.data.AccessCount
		if ent.data.Expired(now) {
			s.ExpiredEntries++
		}
	}
	s.UsagePercent = float64(len(c.entries)) / float64(c.capacity) * 100
	s.AvgImportance = totalImportance / float64(len(c.entries))
	s.AvgAccessCount = float64(totalAccess) / float64(len(c.entries))
	return s
}
