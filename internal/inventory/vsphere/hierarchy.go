package vsphere

import (
	"context"
	"sort"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// ListEntities returns every virtual machine of the vCenter, templates
// excluded, sorted by name.
func (c *Client) ListEntities(ctx context.Context) ([]inventory.Entity, error) {
	m := view.NewManager(c.vim)
	v, err := m.CreateContainerView(ctx, c.vim.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("vm view creation", err)
	}
	defer func() {
		_ = v.Destroy(context.Background())
	}()

	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, []string{"name", "config.template"}, &vms); err != nil {
		return nil, inventory.NewErrRemoteUnavailable("vm listing", err)
	}

	entities := make([]inventory.Entity, 0, len(vms))
	for _, vm := range vms {
		if vm.Config != nil && vm.Config.Template {
			continue
		}
		entities = append(entities, inventory.Entity{Name: vm.Name, Ref: vm.Reference()})
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, nil
}

// ParentOf follows runtime.host for virtual machines, so that a VM placed in a
// VM folder still resolves through its host and cluster, and parent otherwise.
func (c *Client) ParentOf(ctx context.Context, node inventory.Node) (*inventory.Node, error) {
	pc := property.DefaultCollector(c.vim)

	var parent *types.ManagedObjectReference
	if node.Kind == inventory.KindVirtualMachine {
		var vm mo.VirtualMachine
		if err := pc.RetrieveOne(ctx, node.Ref, []string{"runtime.host"}, &vm); err != nil {
			return nil, inventory.NewErrRemoteUnavailable("vm host lookup", err)
		}
		parent = vm.Runtime.Host
	} else {
		var me mo.ManagedEntity
		if err := pc.RetrieveOne(ctx, node.Ref, []string{"parent"}, &me); err != nil {
			return nil, inventory.NewErrRemoteUnavailable("parent lookup", err)
		}
		parent = me.Parent
	}
	if parent == nil {
		return nil, nil
	}

	name, err := object.NewCommon(c.vim, *parent).ObjectName(ctx)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("name lookup", err)
	}
	return &inventory.Node{Name: name, Kind: inventory.KindOf(*parent), Ref: *parent}, nil
}

// GroupingsOf lists every cluster below the datacenter, nested folders included.
func (c *Client) GroupingsOf(ctx context.Context, partition inventory.Node) ([]inventory.Node, error) {
	m := view.NewManager(c.vim)
	v, err := m.CreateContainerView(ctx, partition.Ref, []string{"ClusterComputeResource"}, true)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("cluster view creation", err)
	}
	defer func() {
		_ = v.Destroy(context.Background())
	}()

	var clusters []mo.ClusterComputeResource
	if err := v.Retrieve(ctx, []string{"ClusterComputeResource"}, []string{"name"}, &clusters); err != nil {
		return nil, inventory.NewErrRemoteUnavailable("cluster listing", err)
	}

	nodes := make([]inventory.Node, 0, len(clusters))
	for _, cl := range clusters {
		nodes = append(nodes, inventory.Node{Name: cl.Name, Kind: inventory.KindCluster, Ref: cl.Reference()})
	}
	return nodes, nil
}
