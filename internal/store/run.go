package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kubev2v/vmtag-sync/internal/store/model"
	"gorm.io/gorm"
)

type Run interface {
	Create(ctx context.Context, run model.Run) (*model.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RunStore struct {
	db *gorm.DB
}

// Make sure we conform to Run interface
var _ Run = (*RunStore)(nil)

func NewRunStore(db *gorm.DB) Run {
	return &RunStore{db: db}
}

// Create stores the run and its entries. A zero ID is replaced by a new one.
func (r *RunStore) Create(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	for i := range run.Entries {
		run.Entries[i].RunID = run.ID
	}

	if err := r.getDB(ctx).WithContext(ctx).Create(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &run, nil
}

func (r *RunStore) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run := model.Run{ID: id}
	result := r.getDB(ctx).WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// List returns runs without their entries, most recent first.
func (r *RunStore) List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error) {
	var runs model.RunList
	tx := r.getDB(ctx).WithContext(ctx).Model(&model.Run{}).Order("started_at desc")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *RunStore) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.getDB(ctx).WithContext(ctx)
	if err := db.Where("run_id = ?", id).Delete(&model.RunEntry{}).Error; err != nil {
		return err
	}
	result := db.Delete(&model.Run{ID: id})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *RunStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return r.db
}
