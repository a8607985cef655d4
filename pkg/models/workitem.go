// Package models defines the core data types shared across Tandem:
// work items, sessions, status, reviews, and fixes.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a work item.
type Kind string

const (
	// KindFeature is new functionality from the project brief.
	KindFeature Kind = "feature"
	// KindBug is a defect report, including regressions.
	KindBug Kind = "bug"
	// KindDebt is technical debt, typically carried forward from reviews.
	KindDebt Kind = "debt"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindFeature, KindBug, KindDebt:
		return true
	default:
		return false
	}
}

// IDPrefix returns the ID prefix used for this kind (e.g. "FEAT" for features).
func (k Kind) IDPrefix() string {
	switch k {
	case KindFeature:
		return "FEAT"
	case KindBug:
		return "BUG"
	case KindDebt:
		return "DEBT"
	default:
		return "ITEM"
	}
}

// FormatID builds a work item ID from a kind and a counter value,
// e.g. FormatID(KindFeature, 1) == "FEAT-001".
func FormatID(kind Kind, n int64) string {
	return fmt.Sprintf("%s-%03d", kind.IDPrefix(), n)
}

// KindForID returns the kind implied by an item ID's prefix.
func KindForID(id string) (Kind, bool) {
	switch {
	case strings.HasPrefix(id, "FEAT-"):
		return KindFeature, true
	case strings.HasPrefix(id, "BUG-"):
		return KindBug, true
	case strings.HasPrefix(id, "DEBT-"):
		return KindDebt, true
	default:
		return "", false
	}
}

// WorkItem is a unit of backlog work tracked by the work ledger.
// IDs are allocated once and never reused; Passes flips false->true only
// through the ledger's mark-passing operation.
type WorkItem struct {
	// ID is the unique, kind-prefixed identifier (e.g. FEAT-001, BUG-003).
	ID string `json:"id"`
	// Kind classifies the item (feature, bug, debt).
	Kind Kind `json:"kind"`
	// Priority orders items within a kind; lower runs earlier.
	Priority int `json:"priority"`
	// Category groups related items for batch selection.
	Category string `json:"category,omitempty"`
	// Name is the short human-readable title.
	Name string `json:"name"`
	// Description provides detail beyond the name.
	Description string `json:"description,omitempty"`
	// Steps are the ordered verification or reproduction instructions.
	Steps []string `json:"steps,omitempty"`
	// Passes reports whether the item has passed review.
	Passes bool `json:"passes"`
	// Source records the provenance of the item (spec file, review, brownfield input).
	Source string `json:"source,omitempty"`
	// CreatedAt is when the item was appended to the ledger.
	CreatedAt time.Time `json:"created_at"`
	// PassedAt is when the item was last marked passing, if ever.
	PassedAt *time.Time `json:"passed_at,omitempty"`
	// FailedAt is when the item was last marked failing, if ever.
	FailedAt *time.Time `json:"failed_at,omitempty"`
	// History accumulates regression reasons; entries are appended, never replaced.
	History []string `json:"history,omitempty"`
}

// Validate checks the structural invariants of a work item.
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("work item missing id")
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("work item %s: invalid kind %q", w.ID, w.Kind)
	}
	if w.Name == "" {
		return fmt.Errorf("work item %s: missing name", w.ID)
	}
	return nil
}
