package inventory

import "context"

// Tagging is the tag side of the remote inventory API.
type Tagging interface {
	// ListAssignments returns the assignments matching filter. Entries may be
	// nil or carry a nil Entity/Tag when the backend could not resolve them.
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]*Assignment, error)
	CreateAssignment(ctx context.Context, entity Entity, tag Tag) error
	RemoveAssignment(ctx context.Context, assignment Assignment) error
	// GetCategory returns nil without error when no category has that name.
	GetCategory(ctx context.Context, name string) (*Category, error)
	// GetTag returns nil without error when the category has no tag with that name.
	GetTag(ctx context.Context, category Category, name string) (*Tag, error)
	ListTags(ctx context.Context, category Category) ([]Tag, error)
	CreateTag(ctx context.Context, category Category, name string) (*Tag, error)
}

type Entities interface {
	ListEntities(ctx context.Context) ([]Entity, error)
}

// Hierarchy exposes the containment tree walk primitives.
type Hierarchy interface {
	// ParentOf returns nil without error for the root of the tree.
	ParentOf(ctx context.Context, node Node) (*Node, error)
	GroupingsOf(ctx context.Context, partition Node) ([]Node, error)
}

type Inventory interface {
	Tagging
	Entities
	Hierarchy
}
