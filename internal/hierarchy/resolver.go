package hierarchy

import (
	"context"
	"sync"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"
)

// maxDepth bounds the upward walk; vSphere trees are far shallower.
const maxDepth = 64

// Resolver finds the datacenter and cluster an entity belongs to. Cluster
// names are only unique inside a datacenter, so clusters are always looked up
// scoped to the entity's datacenter. Cluster listings are cached per
// datacenter for the lifetime of the resolver, create one per run.
type Resolver struct {
	hierarchy inventory.Hierarchy

	lock      sync.Mutex
	groupings map[types.ManagedObjectReference][]inventory.Node
}

// Location is where an entity sits in the inventory. Cluster is empty for
// entities running on standalone hosts.
type Location struct {
	Datacenter string
	Cluster    string
}

func NewResolver(h inventory.Hierarchy) *Resolver {
	return &Resolver{
		hierarchy: h,
		groupings: make(map[types.ManagedObjectReference][]inventory.Node),
	}
}

// PartitionOf returns the name of the datacenter enclosing the entity.
func (r *Resolver) PartitionOf(ctx context.Context, entity inventory.Entity) (string, error) {
	chain, err := r.ancestors(ctx, entity)
	if err != nil {
		return "", err
	}
	return chain[len(chain)-1].Name, nil
}

// GroupingOf returns the cluster of the entity as resolved inside its
// datacenter, or nil when the entity is not in a cluster.
func (r *Resolver) GroupingOf(ctx context.Context, entity inventory.Entity) (*inventory.Node, error) {
	chain, err := r.ancestors(ctx, entity)
	if err != nil {
		return nil, err
	}
	return r.groupingIn(ctx, chain)
}

// Locate resolves both the datacenter and the cluster of the entity with a
// single walk up the tree.
func (r *Resolver) Locate(ctx context.Context, entity inventory.Entity) (Location, error) {
	chain, err := r.ancestors(ctx, entity)
	if err != nil {
		return Location{}, err
	}
	loc := Location{Datacenter: chain[len(chain)-1].Name}

	grouping, err := r.groupingIn(ctx, chain)
	if err != nil {
		return loc, err
	}
	if grouping != nil {
		loc.Cluster = grouping.Name
	}
	return loc, nil
}

// groupingIn resolves the nearest cluster of chain among the clusters of the
// datacenter that ends it.
func (r *Resolver) groupingIn(ctx context.Context, chain []inventory.Node) (*inventory.Node, error) {
	partition := chain[len(chain)-1]

	name := ""
	for _, n := range chain {
		if n.Kind == inventory.KindCluster {
			name = n.Name
			break
		}
	}
	if name == "" {
		return nil, nil
	}

	groupings, err := r.groupingsOf(ctx, partition)
	if err != nil {
		return nil, err
	}
	for i := range groupings {
		if groupings[i].Name == name {
			found := groupings[i]
			return &found, nil
		}
	}
	return nil, inventory.NewErrGroupingNotFound(name, partition.Name)
}

func (r *Resolver) groupingsOf(ctx context.Context, partition inventory.Node) ([]inventory.Node, error) {
	r.lock.Lock()
	cached, ok := r.groupings[partition.Ref]
	r.lock.Unlock()
	if ok {
		return cached, nil
	}

	groupings, err := r.hierarchy.GroupingsOf(ctx, partition)
	if err != nil {
		return nil, remote("cluster listing", err)
	}

	r.lock.Lock()
	r.groupings[partition.Ref] = groupings
	r.lock.Unlock()
	return groupings, nil
}

// ancestors walks up from the entity and returns every ancestor up to and
// including the first datacenter, nearest first.
func (r *Resolver) ancestors(ctx context.Context, entity inventory.Entity) ([]inventory.Node, error) {
	var chain []inventory.Node
	visited := map[types.ManagedObjectReference]struct{}{entity.Ref: {}}

	node := entity.Node()
	for depth := 0; depth < maxDepth; depth++ {
		parent, err := r.hierarchy.ParentOf(ctx, node)
		if err != nil {
			return nil, remote("parent lookup", err)
		}
		if parent == nil {
			break
		}
		if _, loop := visited[parent.Ref]; loop {
			zap.S().Named("hierarchy").Warnw("containment loop detected", "entity", entity.Name, "node", parent.Ref.Value)
			break
		}
		visited[parent.Ref] = struct{}{}

		chain = append(chain, *parent)
		if parent.Kind == inventory.KindDatacenter {
			return chain, nil
		}
		node = *parent
	}
	return nil, inventory.NewErrHierarchyExhausted(entity.Name)
}

func remote(op string, err error) error {
	if inventory.IsRemoteUnavailable(err) {
		return err
	}
	return inventory.NewErrRemoteUnavailable(op, err)
}
