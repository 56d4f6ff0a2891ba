package inventory

import (
	"fmt"

	"github.com/vmware/govmomi/vim25/types"
)

type NodeKind string

const (
	KindVirtualMachine  NodeKind = "VirtualMachine"
	KindHost            NodeKind = "HostSystem"
	KindCluster         NodeKind = "ClusterComputeResource"
	KindComputeResource NodeKind = "ComputeResource"
	KindDatacenter      NodeKind = "Datacenter"
	KindFolder          NodeKind = "Folder"
	KindOther           NodeKind = "Other"
)

// KindOf maps a managed object type onto the node kinds the resolver cares about.
func KindOf(ref types.ManagedObjectReference) NodeKind {
	switch NodeKind(ref.Type) {
	case KindVirtualMachine, KindHost, KindCluster, KindComputeResource, KindDatacenter, KindFolder:
		return NodeKind(ref.Type)
	}
	return KindOther
}

// Entity is a virtual machine record. Name is assumed unique in the managed scope.
type Entity struct {
	Name string
	Ref  types.ManagedObjectReference
}

func (e Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.Ref.Value)
}

// Node returns the entity as the leaf of the containment tree.
func (e Entity) Node() Node {
	return Node{Name: e.Name, Kind: KindVirtualMachine, Ref: e.Ref}
}

type Category struct {
	ID   string
	Name string
}

type Tag struct {
	ID           string
	Name         string
	CategoryID   string
	CategoryName string
	// Placeholder is set on tags handed out by a catalog that was not allowed
	// to create the requested tag. Placeholders are never written.
	Placeholder bool
}

func (t Tag) String() string {
	return fmt.Sprintf("%s=%s", t.CategoryName, t.Name)
}

// Assignment is a live association of one Tag with one Entity. Backends may
// return records where either side could not be resolved; those are nil.
type Assignment struct {
	Entity *Entity
	Tag    *Tag
}

// Valid reports whether both sides of the assignment were resolved.
func (a *Assignment) Valid() bool {
	return a != nil && a.Entity != nil && a.Tag != nil && a.Entity.Name != ""
}

// AssignmentFilter restricts ListAssignments. The zero value is a full scan.
type AssignmentFilter struct {
	Entity     *Entity
	CategoryID string
}

func (f AssignmentFilter) Matches(a *Assignment) bool {
	if !a.Valid() {
		return false
	}
	if f.Entity != nil && a.Entity.Ref != f.Entity.Ref {
		return false
	}
	if f.CategoryID != "" && a.Tag.CategoryID != f.CategoryID {
		return false
	}
	return true
}

// Node is an inventory container or leaf in the containment tree.
type Node struct {
	Name string
	Kind NodeKind
	Ref  types.ManagedObjectReference
}
