// Package fake is an in-memory inventory used by tests. It counts every call,
// can inject failures per method and can emulate the remote store's habit of
// acknowledging removals that did not happen.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/vmware/govmomi/vim25/types"
)

const (
	MethodListAssignments  = "ListAssignments"
	MethodCreateAssignment = "CreateAssignment"
	MethodRemoveAssignment = "RemoveAssignment"
	MethodGetCategory      = "GetCategory"
	MethodGetTag           = "GetTag"
	MethodListTags         = "ListTags"
	MethodCreateTag        = "CreateTag"
	MethodListEntities     = "ListEntities"
	MethodParentOf         = "ParentOf"
	MethodGroupingsOf      = "GroupingsOf"
)

type Inventory struct {
	lock        sync.Mutex
	entities    []inventory.Entity
	categories  []inventory.Category
	tags        []inventory.Tag
	assignments []inventory.Assignment
	nodes       map[types.ManagedObjectReference]inventory.Node
	parents     map[types.ManagedObjectReference]inventory.Node
	calls       map[string]int
	failures    map[string]error
	sticky      map[string]int
	nextID      int

	// NullRecords is the number of unresolved records appended to full scans.
	NullRecords int
}

// Make sure we conform to Inventory interface
var _ inventory.Inventory = (*Inventory)(nil)

func New() *Inventory {
	return &Inventory{
		nodes:    make(map[types.ManagedObjectReference]inventory.Node),
		parents:  make(map[types.ManagedObjectReference]inventory.Node),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		sticky:   make(map[string]int),
	}
}

func (f *Inventory) ref(kind inventory.NodeKind) types.ManagedObjectReference {
	f.nextID++
	return types.ManagedObjectReference{Type: string(kind), Value: fmt.Sprintf("%s-%d", kind, f.nextID)}
}

// AddEntity registers a virtual machine and returns it.
func (f *Inventory) AddEntity(name string) inventory.Entity {
	f.lock.Lock()
	defer f.lock.Unlock()
	e := inventory.Entity{Name: name, Ref: f.ref(inventory.KindVirtualMachine)}
	f.entities = append(f.entities, e)
	return e
}

// AddNode creates a container node without placing it in the tree.
func (f *Inventory) AddNode(name string, kind inventory.NodeKind) inventory.Node {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := inventory.Node{Name: name, Kind: kind, Ref: f.ref(kind)}
	f.nodes[n.Ref] = n
	return n
}

// SetParent places child under parent.
func (f *Inventory) SetParent(child types.ManagedObjectReference, parent inventory.Node) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.parents[child] = parent
}

func (f *Inventory) AddCategory(name string) inventory.Category {
	f.lock.Lock()
	defer f.lock.Unlock()
	c := inventory.Category{ID: fmt.Sprintf("urn:category:%s", name), Name: name}
	f.categories = append(f.categories, c)
	return c
}

func (f *Inventory) AddTag(category inventory.Category, name string) inventory.Tag {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.addTag(category, name)
}

func (f *Inventory) addTag(category inventory.Category, name string) inventory.Tag {
	t := inventory.Tag{
		ID:           fmt.Sprintf("urn:tag:%s:%s", category.Name, name),
		Name:         name,
		CategoryID:   category.ID,
		CategoryName: category.Name,
	}
	f.tags = append(f.tags, t)
	return t
}

// Attach records an assignment without going through the counted API, so
// duplicates violating the one-value-per-category rule can be seeded.
func (f *Inventory) Attach(entity inventory.Entity, tag inventory.Tag) {
	f.lock.Lock()
	defer f.lock.Unlock()
	e, t := entity, tag
	f.assignments = append(f.assignments, inventory.Assignment{Entity: &e, Tag: &t})
}

// Fail makes every later call of method return err. A nil err clears it.
func (f *Inventory) Fail(method string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// StickRemoval makes the next n removals of tag from entity report success
// while leaving the assignment in place.
func (f *Inventory) StickRemoval(entity inventory.Entity, tag inventory.Tag, n int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sticky[entity.Ref.Value+"/"+tag.ID] = n
}

// Calls returns how many times method was invoked.
func (f *Inventory) Calls(method string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[method]
}

// Mutations returns the number of create and remove calls issued.
func (f *Inventory) Mutations() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[MethodCreateAssignment] + f.calls[MethodRemoveAssignment] + f.calls[MethodCreateTag]
}

// ResetCalls clears the call counters.
func (f *Inventory) ResetCalls() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = make(map[string]int)
}

// Values returns the values of category currently assigned to the entity named name.
func (f *Inventory) Values(name, category string) []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	var values []string
	for _, a := range f.assignments {
		if a.Entity.Name == name && a.Tag.CategoryName == category {
			values = append(values, a.Tag.Name)
		}
	}
	return values
}

func (f *Inventory) enter(method string) error {
	f.calls[method]++
	return f.failures[method]
}

func (f *Inventory) ListAssignments(_ context.Context, filter inventory.AssignmentFilter) ([]*inventory.Assignment, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodListAssignments); err != nil {
		return nil, err
	}

	var result []*inventory.Assignment
	for i := range f.assignments {
		a := f.assignments[i]
		if filter.Matches(&a) {
			result = append(result, &a)
		}
	}
	if filter.Entity == nil && filter.CategoryID == "" {
		for i := 0; i < f.NullRecords; i++ {
			if i%2 == 0 {
				result = append(result, nil)
			} else {
				result = append(result, &inventory.Assignment{Tag: &inventory.Tag{ID: "urn:tag:orphan"}})
			}
		}
	}
	return result, nil
}

func (f *Inventory) CreateAssignment(_ context.Context, entity inventory.Entity, tag inventory.Tag) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodCreateAssignment); err != nil {
		return err
	}
	for _, a := range f.assignments {
		if a.Entity.Ref == entity.Ref && a.Tag.ID == tag.ID {
			return nil
		}
	}
	e, t := entity, tag
	f.assignments = append(f.assignments, inventory.Assignment{Entity: &e, Tag: &t})
	return nil
}

func (f *Inventory) RemoveAssignment(_ context.Context, assignment inventory.Assignment) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodRemoveAssignment); err != nil {
		return err
	}
	if !assignment.Valid() {
		return nil
	}
	key := assignment.Entity.Ref.Value + "/" + assignment.Tag.ID
	if f.sticky[key] > 0 {
		f.sticky[key]--
		return nil
	}
	kept := f.assignments[:0]
	for _, a := range f.assignments {
		if a.Entity.Ref == assignment.Entity.Ref && a.Tag.ID == assignment.Tag.ID {
			continue
		}
		kept = append(kept, a)
	}
	f.assignments = kept
	return nil
}

func (f *Inventory) GetCategory(_ context.Context, name string) (*inventory.Category, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodGetCategory); err != nil {
		return nil, err
	}
	for _, c := range f.categories {
		if c.Name == name {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (f *Inventory) GetTag(_ context.Context, category inventory.Category, name string) (*inventory.Tag, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodGetTag); err != nil {
		return nil, err
	}
	for _, t := range f.tags {
		if t.CategoryID == category.ID && t.Name == name {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (f *Inventory) ListTags(_ context.Context, category inventory.Category) ([]inventory.Tag, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodListTags); err != nil {
		return nil, err
	}
	var result []inventory.Tag
	for _, t := range f.tags {
		if t.CategoryID == category.ID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (f *Inventory) CreateTag(_ context.Context, category inventory.Category, name string) (*inventory.Tag, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodCreateTag); err != nil {
		return nil, err
	}
	t := f.addTag(category, name)
	return &t, nil
}

func (f *Inventory) ListEntities(_ context.Context) ([]inventory.Entity, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodListEntities); err != nil {
		return nil, err
	}
	return append([]inventory.Entity(nil), f.entities...), nil
}

func (f *Inventory) ParentOf(_ context.Context, node inventory.Node) (*inventory.Node, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodParentOf); err != nil {
		return nil, err
	}
	parent, ok := f.parents[node.Ref]
	if !ok {
		return nil, nil
	}
	return &parent, nil
}

func (f *Inventory) GroupingsOf(_ context.Context, partition inventory.Node) ([]inventory.Node, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.enter(MethodGroupingsOf); err != nil {
		return nil, err
	}
	// clusters whose ancestor chain reaches partition
	var result []inventory.Node
	seen := make(map[types.ManagedObjectReference]struct{})
	for child := range f.parents {
		if inventory.KindOf(child) != inventory.KindCluster {
			continue
		}
		for cur, ok := f.parents[child]; ok; cur, ok = f.parents[cur.Ref] {
			if cur.Ref == partition.Ref {
				if _, dup := seen[child]; !dup {
					seen[child] = struct{}{}
					result = append(result, f.nodes[child])
				}
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ref.Value < result[j].Ref.Value })
	return result, nil
}
