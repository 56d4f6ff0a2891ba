// Package export turns the current tag state back into a table that can be
// edited and fed to a later sync.
package export

import (
	"context"
	"errors"
	"sort"

	"github.com/kubev2v/vmtag-sync/internal/hierarchy"
	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/snapshot"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type Row struct {
	Entity string
	// Cells is aligned with Table.Columns, an empty cell means no assignment.
	Cells []string
}

type Table struct {
	Columns []string
	Rows    []Row
}

// ColumnValues maps a category to the sorted distinct values observed for it.
type ColumnValues map[string][]string

// Project builds one row per entity, in the order given, with one column per
// category observed anywhere in the snapshot.
func Project(entities []inventory.Entity, snap *snapshot.Snapshot) (Table, ColumnValues) {
	columns := snap.CategoryNames()
	table := Table{Columns: columns, Rows: make([]Row, 0, len(entities))}
	for _, e := range entities {
		row := Row{Entity: e.Name, Cells: make([]string, len(columns))}
		for i, category := range columns {
			if value, ok := snap.Get(e.Name, category); ok {
				row.Cells[i] = value
			}
		}
		table.Rows = append(table.Rows, row)
	}

	// entities missing from the list still contribute to the choice lists
	observed := make(map[string][]string, len(columns))
	for _, name := range snap.Entities() {
		for category, value := range snap.Categories(name) {
			observed[category] = append(observed[category], value)
			observed[category] = append(observed[category], snap.Conflicts(name, category)...)
		}
	}

	values := make(ColumnValues, len(columns))
	for _, category := range columns {
		distinct := funk.UniqString(observed[category])
		sort.Strings(distinct)
		values[category] = distinct
	}
	return table, values
}

type Locator interface {
	Locate(ctx context.Context, entity inventory.Entity) (hierarchy.Location, error)
}

// Locations resolves the datacenter and cluster of every entity. Entities
// with a broken containment chain keep whatever part could be resolved; only
// remote failures are returned.
func Locations(ctx context.Context, locator Locator, entities []inventory.Entity) (map[string]hierarchy.Location, error) {
	log := zap.S().Named("export")
	result := make(map[string]hierarchy.Location, len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		loc, err := locator.Locate(ctx, e)
		if err != nil {
			var exhausted *inventory.ErrHierarchyExhausted
			var missing *inventory.ErrGroupingNotFound
			switch {
			case errors.As(err, &exhausted), errors.As(err, &missing):
				log.Warnw("cannot resolve location", "entity", e.Name, "error", err)
				result[e.Name] = loc
				continue
			default:
				return result, err
			}
		}
		result[e.Name] = loc
	}
	return result, nil
}
