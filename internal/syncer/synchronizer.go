package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/reconcile"
	"github.com/kubev2v/vmtag-sync/internal/snapshot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConsecutiveFailures is how many entities in a row may fail on the
// remote before the run is considered disconnected.
const DefaultMaxConsecutiveFailures = 5

type TagResolver interface {
	ResolveOrCreate(ctx context.Context, category, value string) (*inventory.Tag, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, entity inventory.Entity, tag inventory.Tag) (reconcile.Outcome, error)
}

// Synchronizer drives the reconciler over the desired-state rows. Entities
// whose rows match the snapshot are skipped without any remote call.
type Synchronizer struct {
	entities               map[string]inventory.Entity
	catalog                TagResolver
	reconciler             Reconciler
	sink                   Sink
	workers                int
	maxConsecutiveFailures int
	dryRun                 bool
}

type Option func(s *Synchronizer)

func WithSink(sink Sink) Option {
	return func(s *Synchronizer) {
		s.sink = sink
	}
}

// WithWorkers sets how many entities are reconciled concurrently. Rows naming
// the same entity are always processed in order by a single worker.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		s.workers = n
	}
}

// WithMaxConsecutiveFailures sets the connectivity-loss threshold, 0 disables it.
// Only a changed entity that reached the inventory resets the count; unchanged
// and unknown entities issue no remote call and leave it as it is.
func WithMaxConsecutiveFailures(n int) Option {
	return func(s *Synchronizer) {
		s.maxConsecutiveFailures = n
	}
}

// WithDryRun only flags the report, the inventory passed in does the simulation.
func WithDryRun(dryRun bool) Option {
	return func(s *Synchronizer) {
		s.dryRun = dryRun
	}
}

func New(entities []inventory.Entity, catalog TagResolver, reconciler Reconciler, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		entities:               make(map[string]inventory.Entity, len(entities)),
		catalog:                catalog,
		reconciler:             reconciler,
		sink:                   NopSink{},
		workers:                1,
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
	for _, e := range entities {
		if prev, dup := s.entities[e.Name]; dup {
			zap.S().Named("syncer").Warnw("duplicate entity name, keeping the first one", "entity", e.Name, "kept", prev.Ref.Value, "ignored", e.Ref.Value)
			continue
		}
		s.entities[e.Name] = e
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncAll applies rows against the snapshot. Per-entity failures end up in
// the report; the returned error is only set when the run was cut short by
// cancellation or by losing connectivity, and the partial report is returned
// with it.
func (s *Synchronizer) SyncAll(ctx context.Context, rows []DesiredRow, snap *snapshot.Snapshot) (*Report, error) {
	report := newReport(len(rows), s.dryRun)
	var consecutive atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if s.workers > 1 {
		g.SetLimit(s.workers)
	} else {
		g.SetLimit(1)
	}

	for _, group := range s.group(rows) {
		g.Go(func() error {
			for _, i := range group {
				if err := gctx.Err(); err != nil {
					return err
				}

				res := s.syncRow(gctx, rows[i], snap)
				res.Index = i
				done := report.add(res)
				s.sink.Progress(ProgressEvent{Index: done, Total: len(rows), Entity: res.Entity, Status: res.Status})

				switch res.Status {
				case StatusFailed:
					n := consecutive.Add(1)
					if s.maxConsecutiveFailures > 0 && n >= int64(s.maxConsecutiveFailures) {
						return fmt.Errorf("%d consecutive entities failed: %w", n, inventory.ErrConnectivityLost)
					}
				case StatusChanged:
					consecutive.Store(0)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	report.finish()
	s.sink.Done(report)

	if err != nil {
		zap.S().Named("syncer").Errorw("sync aborted", "error", err, "processed", len(report.Entries), "rows", len(rows))
		return report, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	return report, nil
}

// group splits the row indexes into units of work. With a single worker every
// row is its own unit, which keeps the input order; otherwise rows are grouped
// by entity so one entity is never reconciled concurrently.
func (s *Synchronizer) group(rows []DesiredRow) [][]int {
	if s.workers <= 1 {
		groups := make([][]int, len(rows))
		for i := range rows {
			groups[i] = []int{i}
		}
		return groups
	}

	var groups [][]int
	byEntity := make(map[string]int)
	for i, row := range rows {
		pos, ok := byEntity[row.Entity]
		if !ok {
			pos = len(groups)
			byEntity[row.Entity] = pos
			groups = append(groups, nil)
		}
		groups[pos] = append(groups[pos], i)
	}
	return groups
}

func (s *Synchronizer) syncRow(ctx context.Context, row DesiredRow, snap *snapshot.Snapshot) EntityResult {
	log := zap.S().Named("syncer").With("entity", row.Entity)
	res := EntityResult{Entity: row.Entity}

	entity, ok := s.entities[row.Entity]
	if !ok {
		log.Warn("entity not found in inventory")
		res.Status = StatusNotFound
		res.Error = inventory.NewErrEntityNotFound(row.Entity).Error()
		return res
	}

	changes := Diff(row, snap)
	if len(changes) == 0 {
		res.Status = StatusUnchanged
		return res
	}

	res.Status = StatusChanged
	for _, change := range changes {
		cr := CategoryResult{Category: change.Category, Desired: change.Desired, Previous: change.Current}

		tag, err := s.catalog.ResolveOrCreate(ctx, change.Category, change.Desired)
		if err != nil {
			cr.Error = err.Error()
			var invalid *inventory.ErrInvalidCategory
			var declined *inventory.ErrTagCreationDeclined
			switch {
			case errors.As(err, &invalid):
				log.Warnw("unknown category, skipping", "category", change.Category)
				cr.Outcome = InvalidCategory
			case errors.As(err, &declined):
				log.Infow("tag creation declined, skipping", "category", change.Category, "value", change.Desired)
				cr.Outcome = CreationDeclined
			default:
				log.Errorw("tag resolution failed", "category", change.Category, "error", err)
				cr.Outcome = reconcile.RemoteUnavailable
				res.Categories = append(res.Categories, cr)
				res.Status = StatusFailed
				res.Error = err.Error()
				return res
			}
			res.Categories = append(res.Categories, cr)
			continue
		}

		outcome, err := s.reconciler.Reconcile(ctx, entity, *tag)
		cr.Outcome = outcome
		if err != nil {
			cr.Error = err.Error()
		}
		res.Categories = append(res.Categories, cr)

		if outcome == reconcile.RemoteUnavailable {
			log.Errorw("reconciliation aborted for entity", "category", change.Category, "error", err)
			res.Status = StatusFailed
			res.Error = cr.Error
			return res
		}
	}
	return res
}
