// Package types defines the core data structures shared by every memory
// tier: entries, conversation turns, categories, and tier kinds. Types here
// are pure data plus validation; all behavior lives in the tier packages.
package types

import "errors"

// ErrInvalidEntry indicates that an entry failed validation (empty content,
// importance out of range, or unknown category). It is a caller error and is
// never retried automatically.
var ErrInvalidEntry = errors.New("invalid entry")

// Category partitions the long-term store into named collections. Searches
// and retention policies can be scoped to a single category.
type Category string

// Long-term collection categories. These mirror the collections the agent
// persists: general memories, curated knowledge, interaction experience, and
// self-reflection notes.
const (
	CategoryMemory     Category = "memory"
	CategoryKnowledge  Category = "knowledge"
	CategoryExperience Category = "experience"
	CategoryReflection Category = "reflection"
)

// ValidCategories is the fixed category set used for validation.
var ValidCategories = []Category{
	CategoryMemory,
	CategoryKnowledge,
	CategoryExperience,
	CategoryReflection,
}

// IsValidCategory checks if the given category is in the configured set.
func IsValidCategory(c Category) bool {
	for _, valid := range ValidCategories {
		if valid == c {
			return true
		}
	}
	return false
}

// Kind selects a memory tier on coordinator calls.
type Kind string

// Memory tier kinds.
const (
	KindShortTerm Kind = "short_term"
	KindLongTerm  Kind = "long_term"
	KindContext   Kind = "context"
)

// IsValidKind checks if the given kind names a known tier.
func IsValidKind(k Kind) bool {
	return k == KindShortTerm || k == KindLongTerm || k == KindContext
}
