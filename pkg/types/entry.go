package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultImportance is assigned when the caller does not provide an
// importance score.
const DefaultImportance = 0.5

// Entry is the unit stored in any memory tier.
//
// ID and CreatedAt are immutable once assigned; every other field is mutable
// in place by the tier that owns the entry. Metadata values must be
// JSON-serializable: tiers persist the map as a serialized blob, never as an
// untyped column per key.
type Entry struct {
	// Core identification
	ID       string   `json:"id"`       // Opaque unique id within a tier
	Content  string   `json:"content"`  // Textual payload
	Category Category `json:"category"` // Long-term collection tag

	// Open metadata, used for filtering and display
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Embedding is present only once an embedding function has processed
	// the content. Always produced by a single embedder per deployment;
	// the long-term store rejects mismatched dimensions.
	Embedding []float32 `json:"embedding,omitempty"`

	// Importance drives eviction and consolidation. Range [0,1].
	Importance float64 `json:"importance"`

	// Timestamps
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"` // nil = no TTL

	// AccessCount is incremented on every successful retrieval.
	AccessCount int `json:"access_count"`
}

// NewEntry constructs a validated entry with a fresh id. The entry fails
// with ErrInvalidEntry if content is empty, importance is out of range, or
// the category is not in the configured set.
func NewEntry(content string, category Category, importance float64, now time.Time) (*Entry, error) {
	e := &Entry{
		ID:             uuid.NewString(),
		Content:        content,
		Category:       category,
		Importance:     importance,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the entry invariants. It has no side effects.
func (e *Entry) Validate() error {
	if e.Content == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidEntry)
	}
	if e.Importance < 0 || e.Importance > 1 {
		return fmt.Errorf("%w: importance %.3f outside [0,1]", ErrInvalidEntry, e.Importance)
	}
	if !IsValidCategory(e.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEntry, e.Category)
	}
	if e.AccessCount < 0 {
		return fmt.Errorf("%w: negative access count", ErrInvalidEntry)
	}
	return nil
}

// Expired reports whether the entry's TTL has passed at the given instant.
// Entries without an ExpiresAt never expire.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// AgeSeconds returns the entry age relative to CreatedAt.
func (e *Entry) AgeSeconds(now time.Time) float64 {
	return now.Sub(e.CreatedAt).Seconds()
}

// ContentHash returns the SHA-256 hex digest of the content. Used for
// opportunistic deduplication across tiers.
func (e *Entry) ContentHash() string {
	return HashContent(e.Content)
}

// Clone returns a deep copy of the entry so callers can hand out snapshots
// without exposing tier-internal state to mutation.
func (e *Entry) Clone() *Entry {
	out := *e
	if e.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.Embedding != nil {
		out.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// HashContent returns the SHA-256 hex digest of arbitrary content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Turn is the lighter record held by the context window: a single
// user/agent exchange.
type Turn struct {
	TurnID    string                 `json:"turn_id"`
	UserText  string                 `json:"user_text"`
	AgentText string                 `json:"agent_text"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewTurn constructs a turn with a fresh id.
func NewTurn(userText, agentText string, now time.Time) *Turn {
	return &Turn{
		TurnID:    uuid.NewString(),
		UserText:  userText,
		AgentText: agentText,
		Timestamp: now,
	}
}
