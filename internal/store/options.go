package store

import (
	"time"

	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type RunQueryFilter BaseQuerier

func NewRunQueryFilter() *RunQueryFilter {
	return &RunQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *RunQueryFilter) ByDryRun(dryRun bool) *RunQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("dry_run = ?", dryRun)
	})
	return qf
}

func (qf *RunQueryFilter) BySource(source string) *RunQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("source = ?", source)
	})
	return qf
}

func (qf *RunQueryFilter) StartedAfter(t time.Time) *RunQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("started_at > ?", t)
	})
	return qf
}

type RunQueryOptions BaseQuerier

func NewRunQueryOptions() *RunQueryOptions {
	return &RunQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

// WithLimit keeps the n most recent runs, n <= 0 keeps all of them.
func (o *RunQueryOptions) WithLimit(n int) *RunQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if n <= 0 {
			return tx
		}
		return tx.Limit(n)
	})
	return o
}
