package store

import (
	"context"

	"github.com/kubev2v/vmtag-sync/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Runs() Run
	Migrate(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db   *gorm.DB
	runs Run
	log  logrus.FieldLogger
}

func NewStore(db *gorm.DB) Store {
	log := logrus.New().WithField("component", "store")
	return &DataStore{
		db:   db,
		runs: NewRunStore(db),
		log:  log,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db, s.log)
}

func (s *DataStore) Runs() Run {
	return s.runs
}

// Migrate creates or updates the history tables.
func (s *DataStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.Run{}, &model.RunEntry{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
