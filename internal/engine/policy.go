package engine

import (
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

// Default consolidation thresholds. Carried as configurable defaults rather
// than fixed constants.
const (
	DefaultImportanceThreshold  = 0.7
	DefaultAccessCountThreshold = 5
	DefaultMaxAge               = 24 * time.Hour
	DefaultAgedImportanceFloor  = 0.3
)

// PolicyConfig tunes the consolidation decision.
type PolicyConfig struct {
	// ImportanceThreshold promotes entries scoring strictly above it.
	ImportanceThreshold float64

	// AccessCountThreshold promotes entries read strictly more often.
	AccessCountThreshold int

	// MaxAge and AgedImportanceFloor together promote entries older than
	// MaxAge whose importance is strictly above the floor.
	MaxAge              time.Duration
	AgedImportanceFloor float64
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	if c.ImportanceThreshold == 0 {
		c.ImportanceThreshold = DefaultImportanceThreshold
	}
	if c.AccessCountThreshold == 0 {
		c.AccessCountThreshold = DefaultAccessCountThreshold
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.AgedImportanceFloor == 0 {
		c.AgedImportanceFloor = DefaultAgedImportanceFloor
	}
	return c
}

// Policy decides whether a short-term entry should be promoted into the
// long-term store. Pure: no side effects, no clock of its own.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy creates a policy, filling unset thresholds with the defaults.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg.withDefaults()}
}

// ShouldConsolidate reports whether the entry qualifies for promotion:
// important enough, accessed often enough, or old but not trivial.
func (p *Policy) ShouldConsolidate(e *types.Entry, now time.Time) bool {
	if e.Importance > p.cfg.ImportanceThreshold {
		return true
	}
	if e.AccessCount > p.cfg.AccessCountThreshold {
		return true
	}
	age := now.Sub(e.CreatedAt)
	return age > p.cfg.MaxAge && e.Importance > p.cfg.AgedImportanceFloor
}
