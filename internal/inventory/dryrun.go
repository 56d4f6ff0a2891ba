package inventory

import (
	"context"
	"sync"

	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"
)

type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationRemove MutationKind = "remove"
)

// Mutation is a write a dry-run inventory would have issued.
type Mutation struct {
	Kind   MutationKind
	Entity string
	Tag    Tag
}

type assignmentKey struct {
	ref   types.ManagedObjectReference
	tagID string
}

// DryRun forwards reads to the wrapped inventory and records writes instead of
// issuing them. Recorded writes are applied to an overlay so that later reads
// observe the simulated state.
type DryRun struct {
	Inventory
	lock      sync.Mutex
	removed   map[assignmentKey]struct{}
	added     []*Assignment
	mutations []Mutation
}

// Make sure we conform to Inventory interface
var _ Inventory = (*DryRun)(nil)

func NewDryRun(inv Inventory) *DryRun {
	return &DryRun{
		Inventory: inv,
		removed:   make(map[assignmentKey]struct{}),
	}
}

func (d *DryRun) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]*Assignment, error) {
	base, err := d.Inventory.ListAssignments(ctx, filter)
	if err != nil {
		return nil, err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	result := make([]*Assignment, 0, len(base)+len(d.added))
	for _, a := range base {
		if a.Valid() {
			if _, gone := d.removed[assignmentKey{a.Entity.Ref, a.Tag.ID}]; gone {
				continue
			}
		}
		result = append(result, a)
	}
	for _, a := range d.added {
		if filter.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (d *DryRun) CreateAssignment(_ context.Context, entity Entity, tag Tag) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	// a placeholder borrows the handle of another tag, restoring that tag would be wrong
	key := assignmentKey{entity.Ref, tag.ID}
	if _, ok := d.removed[key]; ok && !tag.Placeholder {
		delete(d.removed, key)
	} else {
		e, t := entity, tag
		d.added = append(d.added, &Assignment{Entity: &e, Tag: &t})
	}
	d.mutations = append(d.mutations, Mutation{Kind: MutationCreate, Entity: entity.Name, Tag: tag})
	zap.S().Named("dry_run").Infow("would create tag assignment", "entity", entity.Name, "category", tag.CategoryName, "value", tag.Name)
	return nil
}

func (d *DryRun) RemoveAssignment(_ context.Context, assignment Assignment) error {
	if !assignment.Valid() {
		return nil
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	key := assignmentKey{assignment.Entity.Ref, assignment.Tag.ID}
	kept := d.added[:0]
	for _, a := range d.added {
		if a.Entity.Ref == key.ref && a.Tag.ID == key.tagID {
			continue
		}
		kept = append(kept, a)
	}
	d.added = kept
	d.removed[key] = struct{}{}
	d.mutations = append(d.mutations, Mutation{Kind: MutationRemove, Entity: assignment.Entity.Name, Tag: *assignment.Tag})
	zap.S().Named("dry_run").Infow("would remove tag assignment", "entity", assignment.Entity.Name, "category", assignment.Tag.CategoryName, "value", assignment.Tag.Name)
	return nil
}

func (d *DryRun) CreateTag(_ context.Context, category Category, name string) (*Tag, error) {
	return nil, ErrDryRunMutation
}

// Mutations returns the writes recorded so far, in call order.
func (d *DryRun) Mutations() []Mutation {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]Mutation(nil), d.mutations...)
}
