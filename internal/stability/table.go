package stability

import "sort"

// Table maps absolute paths to their observation records. The watcher creates
// one per process and passes it into every poll.
type Table map[string]*TrackedFile

// NewTable returns an empty table.
func NewTable() Table {
	return make(Table)
}

// Settle marks path as handed off so later polls skip it until its metadata changes.
func (t Table) Settle(path string) {
	if f, ok := t[path]; ok {
		f.Settled = true
	}
}

// Settled reports whether path was already handed off.
func (t Table) Settled(path string) bool {
	f, ok := t[path]
	return ok && f.Settled
}

// Prune drops every path not present in seen and returns the removed paths in
// sorted order.
func (t Table) Prune(seen map[string]struct{}) []string {
	var removed []string
	for path := range t {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		delete(t, path)
	}
	return removed
}
