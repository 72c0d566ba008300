// Package engine orchestrates the memory tiers: it routes writes and reads
// to the right tier, fans searches out across all three, and runs the
// background consolidation and cleanup cycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/shortterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/window"
	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

const (
	// DefaultConsolidationInterval is how often the promotion cycle runs.
	DefaultConsolidationInterval = time.Minute

	// DefaultCleanupInterval is how often expired and stale entries are
	// purged.
	DefaultCleanupInterval = 10 * time.Minute

	// DefaultRetentionAge is how long long-term entries are kept before
	// retention cleanup removes them.
	DefaultRetentionAge = 90 * 24 * time.Hour

	// DefaultSearchTimeout bounds each tier's part of a fan-out search.
	DefaultSearchTimeout = 5 * time.Second

	// exactMatchScore ranks substring hits from the ephemeral tiers.
	exactMatchScore = 1.0
)

// Metadata keys the coordinator interprets on Remember.
const (
	MetaCategory   = "category"
	MetaImportance = "importance"
	MetaResponse   = "response"
	MetaExpiresIn  = "expires_in"
)

// Config controls coordinator behavior.
type Config struct {
	ConsolidationInterval time.Duration
	CleanupInterval       time.Duration
	RetentionAge          time.Duration

	// RetentionImportanceFloor additionally drops never-accessed long-term
	// entries scoring below it during cleanup. Zero disables the criterion.
	RetentionImportanceFloor float64

	SearchTimeout time.Duration

	Policy PolicyConfig
	Clock  storage.Clock
}

func (c Config) withDefaults() Config {
	if c.ConsolidationInterval == 0 {
		c.ConsolidationInterval = DefaultConsolidationInterval
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.RetentionAge == 0 {
		c.RetentionAge = DefaultRetentionAge
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.Clock == nil {
		c.Clock = storage.SystemClock{}
	}
	return c
}

// SearchHit is one merged search result with its rank score and the tier it
// came from.
type SearchHit struct {
	Entry  *types.Entry `json:"entry"`
	Score  float64      `json:"score"`
	Source types.Kind   `json:"source"`
}

// SearchResult is the merged outcome of a cross-tier search. Partial is set
// when at least one tier failed; the surviving tiers' results are still
// returned.
type SearchResult struct {
	Hits    []SearchHit `json:"hits"`
	Partial bool        `json:"partial"`
}

// ConsolidationReport summarises one promotion cycle.
type ConsolidationReport struct {
	Examined     int `json:"examined"`
	Consolidated int `json:"consolidated"`
	Deduplicated int `json:"deduplicated"`
	Errors       int `json:"errors"`
}

// CleanupReport summarises one cleanup cycle.
type CleanupReport struct {
	ExpiredShortTerm int `json:"expired_short_term"`
	RemovedLongTerm  int `json:"removed_long_term"`
}

// Stats aggregates tier statistics and cycle bookkeeping.
type Stats struct {
	ShortTerm shortterm.Stats `json:"short_term"`
	Window    window.Stats    `json:"window"`
	LongTerm  longterm.Stats  `json:"long_term"`

	LastConsolidation time.Time `json:"last_consolidation,omitempty"`
	LastCleanup       time.Time `json:"last_cleanup,omitempty"`
	ConsolidatedTotal int       `json:"consolidated_total"`
	CycleErrors       int       `json:"cycle_errors"`
}

// Coordinator is the single entry point to the memory subsystem. It owns
// the background cycles; the tiers own their internal locking, and the
// coordinator never read-modify-writes across two tier calls.
type Coordinator struct {
	cache  *shortterm.Cache
	window *window.Window
	store  *longterm.Store
	policy *Policy

	cfg   Config
	clock storage.Clock

	mu                sync.Mutex
	lastConsolidation time.Time
	lastCleanup       time.Time
	consolidatedTotal int
	cycleErrors       int

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
	started    bool
}

// New wires the coordinator over its three tiers.
func New(cache *shortterm.Cache, win *window.Window, store *longterm.Store, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cache:  cache,
		window: win,
		store:  store,
		policy: NewPolicy(cfg.Policy),
		cfg:    cfg,
		clock:  cfg.Clock,
	}
}

// Remember writes content into the tier selected by kind and returns the
// new entry's id. This is the only externally exposed write path; the
// consolidation migration is internal.
func (c *Coordinator) Remember(ctx context.Context, kind types.Kind, content string, metadata map[string]interface{}) (string, error) {
	switch kind {
	case types.KindShortTerm:
		e, err := c.entryFromInput(content, metadata)
		if err != nil {
			return "", err
		}
		return c.cache.Put(e)

	case types.KindLongTerm:
		category, importance := categoryOf(metadata), importanceOf(metadata)
		return c.store.Store(ctx, content, category, metadata, importance)

	case types.KindContext:
		turn := types.NewTurn(content, responseOf(metadata), c.clock.Now())
		turn.Metadata = metadata
		c.window.Append(*turn)
		return turn.TurnID, nil

	default:
		return "", fmt.Errorf("%w: unknown memory kind %q", types.ErrInvalidEntry, kind)
	}
}

// Recall performs a tier-scoped read, mirroring the target tier's own
// contract: substring match for the ephemeral tiers, similarity search for
// long-term.
func (c *Coordinator) Recall(ctx context.Context, kind types.Kind, query string, limit int) ([]*types.Entry, error) {
	switch kind {
	case types.KindShortTerm:
		return c.cache.Find(substringPredicate(query), limit), nil

	case types.KindLongTerm:
		matches, err := c.store.Search(ctx, query, "", storage.SearchOptions{Limit: limit})
		if err != nil {
			return nil, err
		}
		entries := make([]*types.Entry, 0, len(matches))
		for _, m := range matches {
			entries = append(entries, m.Entry)
		}
		return entries, nil

	case types.KindContext:
		turns := c.window.Find(query, limit)
		entries := make([]*types.Entry, 0, len(turns))
		for i := range turns {
			entries = append(entries, turnToEntry(&turns[i]))
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("%w: unknown memory kind %q", types.ErrInvalidEntry, kind)
	}
}

// SearchAll queries all three tiers concurrently and merges the results:
// long-term hits rank by similarity, ephemeral substring hits rank at the
// exact-match score with short-term preferred over context, and duplicates
// collapse by content hash. A failed tier degrades the result to partial
// instead of failing the call.
func (c *Coordinator) SearchAll(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit < 1 {
		limit = 10
	}

	type tierOut struct {
		hits []SearchHit
		err  error
	}
	out := make(chan tierOut, 3)

	searchCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	go func() {
		entries := c.cache.Find(substringPredicate(query), limit)
		hits := make([]SearchHit, 0, len(entries))
		for _, e := range entries {
			hits = append(hits, SearchHit{Entry: e, Score: exactMatchScore, Source: types.KindShortTerm})
		}
		out <- tierOut{hits: hits}
	}()

	go func() {
		turns := c.window.Find(query, limit)
		hits := make([]SearchHit, 0, len(turns))
		for i := range turns {
			hits = append(hits, SearchHit{Entry: turnToEntry(&turns[i]), Score: exactMatchScore, Source: types.KindContext})
		}
		out <- tierOut{hits: hits}
	}()

	go func() {
		matches, err := c.store.Search(searchCtx, query, "", storage.SearchOptions{Limit: limit})
		if err != nil {
			out <- tierOut{err: fmt.Errorf("long-term search: %w", err)}
			return
		}
		hits := make([]SearchHit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, SearchHit{Entry: m.Entry, Score: m.Similarity, Source: types.KindLongTerm})
		}
		out <- tierOut{hits: hits}
	}()

	result := &SearchResult{}
	var all []SearchHit
	for i := 0; i < 3; i++ {
		t := <-out
		if t.err != nil {
			log.Printf("[coordinator] search tier failed: %v", t.err)
			c.countCycleError()
			result.Partial = true
			continue
		}
		all = append(all, t.hits...)
	}

	result.Hits = mergeHits(all, limit)
	return result, nil
}

// tierRank orders sources for dedup and tie-breaks: short-term wins over
// context, context over long-term.
func tierRank(k types.Kind) int {
	switch k {
	case types.KindShortTerm:
		return 0
	case types.KindContext:
		return 1
	default:
		return 2
	}
}

func mergeHits(all []SearchHit, limit int) []SearchHit {
	best := make(map[string]SearchHit, len(all))
	for _, h := range all {
		key := h.Entry.ContentHash()
		cur, seen := best[key]
		if !seen || h.Score > cur.Score ||
			(h.Score == cur.Score && tierRank(h.Source) < tierRank(cur.Source)) {
			best[key] = h
		}
	}

	merged := make([]SearchHit, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if ri, rj := tierRank(merged[i].Source), tierRank(merged[j].Source); ri != rj {
			return ri < rj
		}
		return merged[i].Entry.CreatedAt.After(merged[j].Entry.CreatedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// Forget deletes an entry. With a kind it targets that tier directly;
// without one it probes short-term first, then long-term.
func (c *Coordinator) Forget(ctx context.Context, id string, kind types.Kind) error {
	switch kind {
	case types.KindShortTerm:
		if !c.cache.Delete(id) {
			return storage.ErrNotFound
		}
		return nil

	case types.KindLongTerm:
		category, _, err := c.store.Locate(ctx, id)
		if err != nil {
			return err
		}
		return c.store.Delete(ctx, category, id)

	case types.KindContext:
		return fmt.Errorf("%w: context turns cannot be forgotten individually", types.ErrInvalidEntry)

	case "":
		if c.cache.Delete(id) {
			return nil
		}
		category, _, err := c.store.Locate(ctx, id)
		if err != nil {
			return err
		}
		return c.store.Delete(ctx, category, id)

	default:
		return fmt.Errorf("%w: unknown memory kind %q", types.ErrInvalidEntry, kind)
	}
}

// RunConsolidationCycle promotes qualifying short-term entries into the
// long-term store. It works over a snapshot of the cache, checks for
// cancellation between entries, and leaves failed entries in place for the
// next cycle. Safe to call on demand, including right before shutdown.
func (c *Coordinator) RunConsolidationCycle(ctx context.Context) (ConsolidationReport, error) {
	now := c.clock.Now()
	snapshot := c.cache.Snapshot()

	var report ConsolidationReport
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++
		if !c.policy.ShouldConsolidate(e, now) {
			continue
		}

		existing, err := c.store.FindByContentHash(ctx, e.Category, e.ContentHash())
		if err == nil && existing != nil {
			// already persisted, just drop the short-term copy
			c.cache.Delete(e.ID)
			report.Deduplicated++
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[coordinator] dedup check for %s: %v", e.ID, err)
			report.Errors++
			c.countCycleError()
			continue
		}

		if _, err := c.store.StoreEntry(ctx, e); err != nil {
			log.Printf("[coordinator] consolidate %s: %v", e.ID, err)
			report.Errors++
			c.countCycleError()
			continue
		}
		c.cache.Delete(e.ID)
		report.Consolidated++
	}

	c.mu.Lock()
	c.lastConsolidation = now
	c.consolidatedTotal += report.Consolidated
	c.mu.Unlock()

	if report.Consolidated > 0 || report.Errors > 0 {
		log.Printf("[coordinator] consolidation: examined=%d promoted=%d deduplicated=%d errors=%d",
			report.Examined, report.Consolidated, report.Deduplicated, report.Errors)
	}
	return report, nil
}

// RunCleanupCycle sweeps expired short-term entries and applies long-term
// retention.
func (c *Coordinator) RunCleanupCycle(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	report.ExpiredShortTerm = c.cache.SweepExpired()

	removed, err := c.store.DeleteWhere(ctx, "", storage.RetentionFilter{
		OlderThan:        c.clock.Now().Add(-c.cfg.RetentionAge),
		UnimportantFloor: c.cfg.RetentionImportanceFloor,
	})
	report.RemovedLongTerm = removed

	c.mu.Lock()
	c.lastCleanup = c.clock.Now()
	c.mu.Unlock()

	if err != nil {
		c.countCycleError()
		return report, err
	}
	if report.ExpiredShortTerm > 0 || report.RemovedLongTerm > 0 {
		log.Printf("[coordinator] cleanup: expired=%d retention_removed=%d",
			report.ExpiredShortTerm, report.RemovedLongTerm)
	}
	return report, nil
}

// Start launches the background consolidation and cleanup loops. Idempotent
// until Stop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel

	c.loopWG.Add(2)
	go c.runLoop(loopCtx, c.cfg.ConsolidationInterval, func(ctx context.Context) {
		if _, err := c.RunConsolidationCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[coordinator] consolidation cycle aborted: %v", err)
		}
	})
	go c.runLoop(loopCtx, c.cfg.CleanupInterval, func(ctx context.Context) {
		if _, err := c.RunCleanupCycle(ctx); err != nil {
			log.Printf("[coordinator] cleanup cycle failed: %v", err)
		}
	})

	log.Printf("[coordinator] background cycles started (consolidation=%s cleanup=%s)",
		c.cfg.ConsolidationInterval, c.cfg.CleanupInterval)
}

func (c *Coordinator) runLoop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	defer c.loopWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// Stop halts the background loops and waits for any in-flight cycle to
// observe cancellation.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.loopCancel
	c.mu.Unlock()

	cancel()
	c.loopWG.Wait()
}

// Close stops the loops, runs a final consolidation pass so important
// short-term data is not lost, and releases the long-term backend.
func (c *Coordinator) Close(ctx context.Context) error {
	c.Stop()
	if _, err := c.RunConsolidationCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[coordinator] final consolidation: %v", err)
	}
	return c.store.Close()
}

// Stats aggregates per-tier statistics with cycle bookkeeping. Every error
// counted by a cycle or a degraded search shows up in CycleErrors.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	lt, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ShortTerm:         c.cache.Stats(),
		Window:            c.window.Stats(),
		LongTerm:          lt,
		LastConsolidation: c.lastConsolidation,
		LastCleanup:       c.lastCleanup,
		ConsolidatedTotal: c.consolidatedTotal,
		CycleErrors:       c.cycleErrors,
	}, nil
}

func (c *Coordinator) countCycleError() {
	c.mu.Lock()
	c.cycleErrors++
	c.mu.Unlock()
}

// entryFromInput builds a validated short-term entry from caller content
// and the interpreted metadata keys.
func (c *Coordinator) entryFromInput(content string, metadata map[string]interface{}) (*types.Entry, error) {
	e, err := types.NewEntry(content, categoryOf(metadata), importanceOf(metadata), c.clock.Now())
	if err != nil {
		return nil, err
	}
	e.Metadata = metadata
	if d, ok := expiresInOf(metadata); ok {
		deadline := c.clock.Now().Add(d)
		e.ExpiresAt = &deadline
	}
	return e, nil
}

func categoryOf(metadata map[string]interface{}) types.Category {
	if v, ok := metadata[MetaCategory].(string); ok && types.IsValidCategory(types.Category(v)) {
		return types.Category(v)
	}
	return types.CategoryMemory
}

func importanceOf(metadata map[string]interface{}) float64 {
	if v, ok := metadata[MetaImportance].(float64); ok {
		return v
	}
	return types.DefaultImportance
}

func responseOf(metadata map[string]interface{}) string {
	if v, ok := metadata[MetaResponse].(string); ok {
		return v
	}
	return ""
}

func expiresInOf(metadata map[string]interface{}) (time.Duration, bool) {
	switch v := metadata[MetaExpiresIn].(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		if err == nil {
			return d, true
		}
	}
	return 0, false
}

func substringPredicate(query string) func(*types.Entry) bool {
	needle := strings.ToLower(query)
	return func(e *types.Entry) bool {
		return strings.Contains(strings.ToLower(e.Content), needle)
	}
}

// turnToEntry adapts a context turn to the entry shape search results use.
func turnToEntry(t *types.Turn) *types.Entry {
	content := t.UserText
	if t.AgentText != "" {
		content = t.UserText + "\n" + t.AgentText
	}
	return &types.Entry{
		ID:        t.TurnID,
		Content:   content,
		Category:  types.CategoryMemory,
		Metadata:  t.Metadata,
		CreatedAt: t.Timestamp,
		UpdatedAt: t.Timestamp,
	}
}
