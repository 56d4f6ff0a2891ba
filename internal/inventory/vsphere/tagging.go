package vsphere

import (
	"context"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25/types"
)

// ListAssignments lists the tag assignments matching filter. An entity filter
// asks the entity for its tags; otherwise every tag is resolved to its objects
// with a single bulk call. Objects that are not known virtual machines come
// back with a nil Entity.
func (c *Client) ListAssignments(ctx context.Context, filter inventory.AssignmentFilter) ([]*inventory.Assignment, error) {
	names, err := c.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	if filter.Entity != nil {
		attached, err := c.tags.GetAttachedTags(ctx, filter.Entity.Ref)
		if err != nil {
			return nil, inventory.NewErrRemoteUnavailable("attached tag listing", err)
		}
		var result []*inventory.Assignment
		for _, t := range attached {
			if filter.CategoryID != "" && t.CategoryID != filter.CategoryID {
				continue
			}
			entity := *filter.Entity
			result = append(result, &inventory.Assignment{Entity: &entity, Tag: toTag(t, names)})
		}
		return result, nil
	}

	all, err := c.tags.GetTags(ctx)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("tag listing", err)
	}
	byID := make(map[string]tags.Tag, len(all))
	ids := make([]string, 0, len(all))
	for _, t := range all {
		if filter.CategoryID != "" && t.CategoryID != filter.CategoryID {
			continue
		}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	attached, err := c.tags.GetAttachedObjectsOnTags(ctx, ids)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("attached object listing", err)
	}

	entities, err := c.entityIndex(ctx)
	if err != nil {
		return nil, err
	}

	var result []*inventory.Assignment
	for _, a := range attached {
		t, ok := byID[a.TagID]
		if !ok {
			result = append(result, nil)
			continue
		}
		for _, obj := range a.ObjectIDs {
			assignment := &inventory.Assignment{Tag: toTag(t, names)}
			if e, ok := entities[obj.Reference()]; ok {
				e := e
				assignment.Entity = &e
			}
			result = append(result, assignment)
		}
	}
	return result, nil
}

func (c *Client) CreateAssignment(ctx context.Context, entity inventory.Entity, tag inventory.Tag) error {
	if err := c.tags.AttachTag(ctx, tag.ID, entity.Ref); err != nil {
		return inventory.NewErrRemoteUnavailable("tag attach", err)
	}
	return nil
}

func (c *Client) RemoveAssignment(ctx context.Context, assignment inventory.Assignment) error {
	if !assignment.Valid() {
		return nil
	}
	if err := c.tags.DetachTag(ctx, assignment.Tag.ID, assignment.Entity.Ref); err != nil {
		return inventory.NewErrRemoteUnavailable("tag detach", err)
	}
	return nil
}

func (c *Client) GetCategory(ctx context.Context, name string) (*inventory.Category, error) {
	categories, err := c.tags.GetCategories(ctx)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("category listing", err)
	}
	for _, cat := range categories {
		if cat.Name == name {
			return &inventory.Category{ID: cat.ID, Name: cat.Name}, nil
		}
	}
	return nil, nil
}

func (c *Client) GetTag(ctx context.Context, category inventory.Category, name string) (*inventory.Tag, error) {
	all, err := c.ListTags(ctx, category)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, nil
}

func (c *Client) ListTags(ctx context.Context, category inventory.Category) ([]inventory.Tag, error) {
	found, err := c.tags.GetTagsForCategory(ctx, category.ID)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("tag listing", err)
	}
	result := make([]inventory.Tag, 0, len(found))
	for _, t := range found {
		result = append(result, *toTag(t, map[string]string{category.ID: category.Name}))
	}
	return result, nil
}

func (c *Client) CreateTag(ctx context.Context, category inventory.Category, name string) (*inventory.Tag, error) {
	id, err := c.tags.CreateTag(ctx, &tags.Tag{Name: name, CategoryID: category.ID})
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("tag creation", err)
	}
	return &inventory.Tag{ID: id, Name: name, CategoryID: category.ID, CategoryName: category.Name}, nil
}

func (c *Client) categoryNames(ctx context.Context) (map[string]string, error) {
	categories, err := c.tags.GetCategories(ctx)
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("category listing", err)
	}
	names := make(map[string]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names, nil
}

func (c *Client) entityIndex(ctx context.Context) (map[types.ManagedObjectReference]inventory.Entity, error) {
	entities, err := c.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[types.ManagedObjectReference]inventory.Entity, len(entities))
	for _, e := range entities {
		index[e.Ref] = e
	}
	return index, nil
}

func toTag(t tags.Tag, categories map[string]string) *inventory.Tag {
	return &inventory.Tag{
		ID:           t.ID,
		Name:         t.Name,
		CategoryID:   t.CategoryID,
		CategoryName: categories[t.CategoryID],
	}
}
