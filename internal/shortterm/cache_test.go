package shortterm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

// fakeClock is a manually advanced clock for deterministic TTL/age tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time              { return f.now }
func (f *fakeClock) Advance(d time.Duration)     { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// mustEntry builds a valid entry created at the given time.
func mustEntry(t *testing.T, content string, importance float64, createdAt time.Time) *types.Entry {
	t.Helper()
	e, err := types.NewEntry(content, types.CategoryMemory, importance, createdAt)
	if err != nil {
		t.Fatalf("NewEntry(%q) failed: %v", content, err)
	}
	return e
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, Clock: clock})

	e := mustEntry(t, "recent observation", 0.6, clock.Now())
	id, err := c.Put(e)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != "recent observation" {
		t.Errorf("Content = %q, want %q", got.Content, "recent observation")
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d after one Get, want 1", got.AccessCount)
	}
}

func TestCache_PutRejectsInvalidEntry(t *testing.T) {
	c := New(Config{Clock: newFakeClock()})

	bad := &types.Entry{ID: "x", Content: "", Category: types.CategoryMemory}
	if _, err := c.Put(bad); !errors.Is(err, types.ErrInvalidEntry) {
		t.Errorf("Put(invalid) error = %v, want ErrInvalidEntry", err)
	}
	if _, err := c.Put(nil); !errors.Is(err, types.ErrInvalidEntry) {
		t.Errorf("Put(nil) error = %v, want ErrInvalidEntry", err)
	}
}

func TestCache_GetUnknownID(t *testing.T) {
	c := New(Config{Clock: newFakeClock()})

	if _, err := c.Get("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if c.Delete("missing") {
		t.Error("Delete(missing) = true, want false")
	}
}

// TestCache_CapacityBound verifies size never exceeds capacity.
func TestCache_CapacityBound(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 5, Clock: clock})

	for i := 0; i < 20; i++ {
		e := mustEntry(t, fmt.Sprintf("entry %d", i), 0.5, clock.Now())
		if _, err := c.Put(e); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
		if c.Size() > c.Capacity() {
			t.Fatalf("after put %d: size %d exceeds capacity %d", i, c.Size(), c.Capacity())
		}
		clock.Advance(time.Second)
	}
}

// TestCache_EvictionScenario: capacity=2,
// A(importance=0.1, age=100s) and B(importance=0.9, age=1s) are cached;
// putting C evicts A, the entry maximizing (1-importance)*age.
func TestCache_EvictionScenario(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 2, Clock: clock})

	a := mustEntry(t, "A", 0.1, clock.Now().Add(-100*time.Second))
	b := mustEntry(t, "B", 0.9, clock.Now().Add(-time.Second))
	cEntry := mustEntry(t, "C", 0.5, clock.Now())

	for _, e := range []*types.Entry{a, b} {
		if _, err := c.Put(e); err != nil {
			t.Fatalf("Put(%s) failed: %v", e.Content, err)
		}
	}
	if _, err := c.Put(cEntry); err != nil {
		t.Fatalf("Put(C) failed: %v", err)
	}

	if _, err := c.Get(a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("A should have been evicted, Get error = %v", err)
	}
	for _, e := range []*types.Entry{b, cEntry} {
		if _, err := c.Get(e.ID); err != nil {
			t.Errorf("%s missing after eviction: %v", e.Content, err)
		}
	}
}

func TestCache_EvictionTieBreaks(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 2, Clock: clock})

	// Same importance and age → same score. "touched" gains an access, so
	// "untouched" loses the tie on smaller access count.
	createdAt := clock.Now().Add(-time.Minute)
	touched := mustEntry(t, "touched", 0.5, createdAt)
	untouched := mustEntry(t, "untouched", 0.5, createdAt)

	for _, e := range []*types.Entry{touched, untouched} {
		if _, err := c.Put(e); err != nil {
			t.Fatalf("Put(%s) failed: %v", e.Content, err)
		}
	}
	if _, err := c.Get(touched.ID); err != nil {
		t.Fatalf("Get(touched) failed: %v", err)
	}

	trigger := mustEntry(t, "trigger", 0.5, clock.Now())
	if _, err := c.Put(trigger); err != nil {
		t.Fatalf("Put(trigger) failed: %v", err)
	}

	if _, err := c.Get(untouched.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("untouched should lose the tie-break, Get error = %v", err)
	}
	if _, err := c.Get(touched.ID); err != nil {
		t.Errorf("touched should survive the tie-break: %v", err)
	}
}

// TestCache_TTLInvisibility verifies an expired entry is never returned by
// Get or Find even when never swept.
func TestCache_TTLInvisibility(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, TTL: time.Minute, Clock: clock})

	e := mustEntry(t, "short lived", 0.9, clock.Now())
	id, err := c.Put(e)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := c.Get(id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrNotFound", err)
	}
	if found := c.Find(nil, 10); len(found) != 0 {
		t.Errorf("Find() returned %d expired entries", len(found))
	}
}

func TestCache_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, TTL: time.Minute, Clock: clock})

	for i := 0; i < 3; i++ {
		if _, err := c.Put(mustEntry(t, fmt.Sprintf("doomed %d", i), 0.5, clock.Now())); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	clock.Advance(30 * time.Second)
	survivorID, err := c.Put(mustEntry(t, "survivor", 0.5, clock.Now()))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	clock.Advance(45 * time.Second) // first three are past TTL, survivor is not

	if purged := c.SweepExpired(); purged != 3 {
		t.Errorf("SweepExpired() = %d, want 3", purged)
	}
	if _, err := c.Get(survivorID); err != nil {
		t.Errorf("survivor swept too early: %v", err)
	}
}

func TestCache_FindMostRecentFirst(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, Clock: clock})

	first := mustEntry(t, "alpha report", 0.5, clock.Now())
	if _, err := c.Put(first); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	clock.Advance(time.Second)
	second := mustEntry(t, "beta report", 0.5, clock.Now())
	if _, err := c.Put(second); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	found := c.Find(func(e *types.Entry) bool {
		return strings.Contains(e.Content, "report")
	}, 10)
	if len(found) != 2 {
		t.Fatalf("Find() returned %d entries, want 2", len(found))
	}
	if found[0].Content != "beta report" {
		t.Errorf("Find()[0] = %q, want the most recent entry", found[0].Content)
	}

	// Reading "alpha report" bumps its recency above "beta report".
	if _, err := c.Get(first.ID); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	found = c.Find(nil, 10)
	if found[0].Content != "alpha report" {
		t.Errorf("Find()[0] after Get = %q, want %q", found[0].Content, "alpha report")
	}
}

func TestCache_FindLimit(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, Clock: clock})

	for i := 0; i < 5; i++ {
		if _, err := c.Put(mustEntry(t, fmt.Sprintf("entry %d", i), 0.5, clock.Now())); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	if found := c.Find(nil, 2); len(found) != 2 {
		t.Errorf("Find(limit=2) returned %d entries", len(found))
	}
}

func TestCache_Update(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, Clock: clock})

	e := mustEntry(t, "draft", 0.4, clock.Now())
	id, err := c.Put(e)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	clock.Advance(time.Minute)
	content := "final"
	importance := 0.8
	if err := c.Update(id, &content, map[string]interface{}{"revised": true}, &importance); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != "final" || got.Importance != 0.8 {
		t.Errorf("updated entry = (%q, %f), want (final, 0.8)", got.Content, got.Importance)
	}
	if got.Metadata["revised"] != true {
		t.Errorf("Metadata[revised] = %v, want true", got.Metadata["revised"])
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("UpdatedAt not refreshed by Update")
	}

	badImportance := 3.0
	if err := c.Update(id, nil, nil, &badImportance); !errors.Is(err, types.ErrInvalidEntry) {
		t.Errorf("Update(bad importance) error = %v, want ErrInvalidEntry", err)
	}
	if err := c.Update("missing", &content, nil, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCache_SnapshotDoesNotBumpAccess(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 10, Clock: clock})

	e := mustEntry(t, "observed", 0.5, clock.Now())
	id, err := c.Put(e)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if snap := c.Snapshot(); len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d entries, want 1", len(snap))
	}

	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 (Snapshot must not count as access)", got.AccessCount)
	}
}

func TestCache_Stats(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Capacity: 4, TTL: time.Minute, Clock: clock})

	if _, err := c.Put(mustEntry(t, "a", 0.2, clock.Now())); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if _, err := c.Put(mustEntry(t, "b", 0.8, clock.Now())); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	s := c.Stats()
	if s.Entries != 2 || s.Capacity != 4 {
		t.Errorf("Stats entries/capacity = %d/%d, want 2/4", s.Entries, s.Capacity)
	}
	if s.UsagePercent != 50 {
		t.Errorf("UsagePercent = %f, want 50", s.UsagePercent)
	}
	if s.AvgImportance != 0.5 {
		t.Errorf("AvgImportance = %f, want 0.5", s.AvgImportance)
	}

	clock.Advance(2 * time.Minute)
	if s := c.Stats(); s.ExpiredEntries != 2 {
		t.Errorf("ExpiredEntries = %d, want 2", s.ExpiredEntries)
	}
}
