// Package window holds the rolling conversational context: a short FIFO
// window of the most recent turns layered over a larger bounded history.
// The window is what prompt assembly reads; the history survives window
// clears and serves substring search over past turns.
package window

import (
	"strings"
	"sync"

	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

const (
	// DefaultCapacity bounds the rolling window.
	DefaultCapacity = 20

	// DefaultHistoryCapacity bounds the retained history.
	DefaultHistoryCapacity = 100
)

// Config controls window sizing.
type Config struct {
	// Capacity is the rolling window length. Zero keeps the default.
	Capacity int

	// HistoryCapacity is the retained history length. Zero keeps the
	// default. Values below Capacity are raised to Capacity.
	HistoryCapacity int
}

// Window is the fixed-length rolling buffer of recent turns. All methods
// are safe for concurrent use.
type Window struct {
	mu sync.Mutex

	turns   []types.Turn
	history []types.Turn

	capacity        int
	historyCapacity int
}

// New creates a window from the config.
func New(cfg Config) *Window {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.HistoryCapacity < 1 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.HistoryCapacity < cfg.Capacity {
		cfg.HistoryCapacity = cfg.Capacity
	}
	return &Window{
		turns:           make([]types.Turn, 0, cfg.Capacity),
		history:         make([]types.Turn, 0, cfg.HistoryCapacity),
		capacity:        cfg.Capacity,
		historyCapacity: cfg.HistoryCapacity,
	}
}

// Append pushes a turn onto the window and the history, dropping the
// oldest turn from either once it exceeds its capacity.
func (w *Window) Append(t types.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.turns = append(w.turns, t)
	if len(w.turns) > w.capacity {
		w.turns = w.turns[1:]
	}
	w.history = append(w.history, t)
	if len(w.history) > w.historyCapacity {
		w.history = w.history[1:]
	}
}

// Recent returns the last n turns from the window, oldest first. n < 1 or
// n larger than the window returns everything held.
func (w *Window) Recent(n int) []types.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n < 1 || n > len(w.turns) {
		n = len(w.turns)
	}
	out := make([]types.Turn, n)
	copy(out, w.turns[len(w.turns)-n:])
	return out
}

// Find scans the history newest-first for turns whose user or agent text
// contains the query, case-insensitively. Returns at most limit turns.
func (w *Window) Find(query string, limit int) []types.Turn {
	if limit < 1 {
		limit = 5
	}
	needle := strings.ToLower(query)

	w.mu.Lock()
	defer w.mu.Unlock()

	var out []types.Turn
	for i := len(w.history) - 1; i >= 0; i-- {
		t := w.history[i]
		haystack := strings.ToLower(t.UserText + " " + t.AgentText)
		if strings.Contains(haystack, needle) {
			out = append(out, t)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// History returns the last n history turns, oldest first. n < 1 returns
// the full retained history.
func (w *Window) History(n int) []types.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n < 1 || n > len(w.history) {
		n = len(w.history)
	}
	out := make([]types.Turn, n)
	copy(out, w.history[len(w.history)-n:])
	return out
}

// Clear drops the rolling window. The history is kept so past turns stay
// searchable until the history's own capacity drops them.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = w.turns[:0]
}

// Len reports the current window length.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Stats summarises the window for the coordinator's aggregate stats.
type Stats struct {
	WindowSize      int `json:"window_size"`
	HistorySize     int `json:"history_size"`
	Capacity        int `json:"capacity"`
	HistoryCapacity int `json:"history_capacity"`
}

// Stats returns current sizes and limits.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		WindowSize:      len(w.turns),
		HistorySize:     len(w.history),
		Capacity:        w.capacity,
		HistoryCapacity: w.historyCapacity,
	}
}
