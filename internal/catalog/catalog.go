package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds every single remote call issued by the catalog.
const DefaultCallTimeout = 30 * time.Second

// Confirmer approves the creation of a tag that does not exist yet.
type Confirmer interface {
	ConfirmCreate(category, value string) bool
}

type ConfirmFunc func(category, value string) bool

func (f ConfirmFunc) ConfirmCreate(category, value string) bool {
	return f(category, value)
}

// Catalog resolves (category, value) pairs to remote tags, creating missing
// tags when allowed to. Categories are never created.
type Catalog struct {
	tagging     inventory.Tagging
	confirmer   Confirmer
	dryRun      bool
	callTimeout time.Duration

	lock       sync.Mutex
	categories map[string]inventory.Category
}

type Option func(c *Catalog)

// WithConfirmer guards every tag creation with c.
func WithConfirmer(c Confirmer) Option {
	return func(cat *Catalog) {
		cat.confirmer = c
	}
}

// WithDryRun makes the catalog hand out placeholders instead of creating tags.
func WithDryRun(dryRun bool) Option {
	return func(c *Catalog) {
		c.dryRun = dryRun
	}
}

// WithCallTimeout bounds each lookup or creation, 0 disables the limit.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Catalog) {
		c.callTimeout = d
	}
}

func New(tagging inventory.Tagging, opts ...Option) *Catalog {
	c := &Catalog{
		tagging:     tagging,
		callTimeout: DefaultCallTimeout,
		categories:  make(map[string]inventory.Category),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveOrCreate returns the tag named value in category. A missing tag is
// created unless the catalog runs dry or the confirmer refuses; in dry-run an
// existing tag of the same category is returned marked as a placeholder.
func (c *Catalog) ResolveOrCreate(ctx context.Context, category, value string) (*inventory.Tag, error) {
	cat, err := c.category(ctx, category)
	if err != nil {
		return nil, err
	}

	var tag *inventory.Tag
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		tag, err = c.tagging.GetTag(ctx, cat, value)
		return err
	}); err != nil {
		return nil, remote("tag lookup", err)
	}
	if tag != nil {
		tag.CategoryName = cat.Name
		return tag, nil
	}

	if c.dryRun {
		return c.placeholder(ctx, cat, value)
	}

	if c.confirmer != nil && !c.confirmer.ConfirmCreate(cat.Name, value) {
		return nil, inventory.NewErrTagCreationDeclined(cat.Name, value)
	}

	zap.S().Named("catalog").Infow("creating tag", "category", cat.Name, "value", value)
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		tag, err = c.tagging.CreateTag(ctx, cat, value)
		return err
	}); err != nil {
		return nil, remote("tag creation", err)
	}
	tag.CategoryName = cat.Name
	return tag, nil
}

func (c *Catalog) category(ctx context.Context, name string) (inventory.Category, error) {
	c.lock.Lock()
	cat, ok := c.categories[name]
	c.lock.Unlock()
	if ok {
		return cat, nil
	}

	var found *inventory.Category
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		found, err = c.tagging.GetCategory(ctx, name)
		return err
	}); err != nil {
		return inventory.Category{}, remote("category lookup", err)
	}
	if found == nil {
		return inventory.Category{}, inventory.NewErrInvalidCategory(name)
	}

	c.lock.Lock()
	c.categories[name] = *found
	c.lock.Unlock()
	return *found, nil
}

func (c *Catalog) placeholder(ctx context.Context, cat inventory.Category, value string) (*inventory.Tag, error) {
	var existing []inventory.Tag
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		existing, err = c.tagging.ListTags(ctx, cat)
		return err
	}); err != nil {
		return nil, remote("tag listing", err)
	}
	if len(existing) == 0 {
		return nil, inventory.NewErrTagCreationDeclined(cat.Name, value)
	}

	zap.S().Named("catalog").Infow("would create tag", "category", cat.Name, "value", value, "placeholder_of", existing[0].Name)
	// the handle is borrowed from an existing tag, the name is the one requested
	tag := existing[0]
	tag.Name = value
	tag.CategoryName = cat.Name
	tag.Placeholder = true
	return &tag, nil
}

func (c *Catalog) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.callTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return fn(callCtx)
}

func remote(op string, err error) error {
	if inventory.IsRemoteUnavailable(err) {
		return err
	}
	return inventory.NewErrRemoteUnavailable(op, err)
}
