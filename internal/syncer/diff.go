package syncer

import (
	"sort"
	"strings"

	"github.com/kubev2v/vmtag-sync/internal/snapshot"
)

// DesiredRow is one record of the desired-state source. An empty value means
// no opinion: the category is left as it is, never cleared.
type DesiredRow struct {
	Entity string
	Values map[string]string
}

// Change is a category whose desired value differs from the snapshot.
type Change struct {
	Category string
	Desired  string
	// Current is empty when the snapshot has no value for the category.
	Current  string
	Conflict bool
}

// Diff returns the categories of row that need a write, sorted by name. A
// category missing from the snapshot is a difference, and so is one that
// carries more than one value.
func Diff(row DesiredRow, snap *snapshot.Snapshot) []Change {
	var changes []Change
	for category, desired := range row.Values {
		desired = strings.TrimSpace(desired)
		if desired == "" {
			continue
		}
		current, ok := snap.Get(row.Entity, category)
		conflict := snap.Conflicting(row.Entity, category)
		if ok && current == desired && !conflict {
			continue
		}
		changes = append(changes, Change{
			Category: category,
			Desired:  desired,
			Current:  current,
			Conflict: conflict,
		})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Category < changes[j].Category })
	return changes
}
