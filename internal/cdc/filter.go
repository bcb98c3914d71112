package cdc

import (
	"fmt"
	"path"
)

// TableFilter selects the tables included in a capture set. Entries are
// fully qualified "schema.table" names and may use glob patterns, for
// example "INVENTORY.*". An empty include list admits every table; exclude
// entries are applied after includes and win on overlap.
type TableFilter struct {
	// Include lists the tables to capture. Empty means all tables.
	Include []string

	// Exclude lists tables to drop from the capture set.
	Exclude []string
}

// Validate checks that every pattern is well formed.
func (f TableFilter) Validate() error {
	for _, p := range append(append([]string(nil), f.Include...), f.Exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("table filter: invalid pattern %q", p)
		}
	}
	return nil
}

// Matches reports whether the table belongs to the capture set.
func (f TableFilter) Matches(id TableID) bool {
	name := id.String()

	for _, p := range f.Exclude {
		if ok, _ := path.Match(p, name); ok {
			return false
		}
	}

	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Apply returns the tables admitted by the filter, preserving input order.
func (f TableFilter) Apply(ids []TableID) []TableID {
	matched := make([]TableID, 0, len(ids))
	for _, id := range ids {
		if f.Matches(id) {
			matched = append(matched, id)
		}
	}
	return matched
}
