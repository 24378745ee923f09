// Package model holds the shared domain types of the form BFF: catalog
// items, screen definitions, session descriptors, error envelopes, and the
// per-request identity context.
package model

// Item is a single node in a catalog hierarchy (a region, state, city,
// category, item, type, or description). Items are immutable once fetched
// from the catalog backend.
type Item struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	ParentID string `json:"parent_id,omitempty"`
}

// ItemRef identifies a catalog item in a persisted record. Records written
// by older backends carry only the label, so hydration matches by ID when
// present and falls back to the label.
type ItemRef struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
}

// Matches reports whether the given item satisfies this reference.
func (r ItemRef) Matches(item Item) bool {
	if r.ID != "" {
		return r.ID == item.ID
	}
	return r.Label != "" && r.Label == item.Label
}

// IsZero reports whether the reference carries no identifying information.
func (r ItemRef) IsZero() bool {
	return r.ID == "" && r.Label == ""
}
