package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"go.uber.org/zap"
)

type Outcome string

const (
	AlreadyCorrect      Outcome = "already-correct"
	Applied             Outcome = "applied"
	RemovalNotConfirmed Outcome = "removal-not-confirmed"
	RemoteUnavailable   Outcome = "remote-unavailable"
)

// DefaultCallTimeout bounds every single remote call issued by the reconciler.
const DefaultCallTimeout = 30 * time.Second

var ErrPlaceholderWrite = errors.New("placeholder tags can only be written in dry-run mode")

// Reconciler enforces one tag per category on one entity at a time. The
// remove-then-create sequence is not atomic; removals are verified by reading
// the assignments back instead of trusting the write.
type Reconciler struct {
	tagging     inventory.Tagging
	callTimeout time.Duration
	dryRun      bool
}

type Option func(r *Reconciler)

func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.callTimeout = d
	}
}

// WithDryRun allows placeholder tags, which only a dry-run inventory accepts.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

func New(tagging inventory.Tagging, opts ...Option) *Reconciler {
	r := &Reconciler{
		tagging:     tagging,
		callTimeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile makes tag the only assignment of its category on entity.
// RemovalNotConfirmed comes with an *inventory.ErrRemovalNotConfirmed and
// RemoteUnavailable with an *inventory.ErrRemoteUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, entity inventory.Entity, tag inventory.Tag) (Outcome, error) {
	if tag.Placeholder && !r.dryRun {
		return RemoteUnavailable, fmt.Errorf("%s on %s: %w", tag, entity.Name, ErrPlaceholderWrite)
	}

	log := zap.S().Named("reconcile").With("entity", entity.Name, "category", tag.CategoryName)
	filter := inventory.AssignmentFilter{Entity: &entity, CategoryID: tag.CategoryID}

	current, err := r.list(ctx, filter)
	if err != nil {
		return RemoteUnavailable, err
	}

	found := false
	var unconfirmed []error
	for _, a := range current {
		if !a.Valid() {
			continue
		}
		// a placeholder stands for a tag that does not exist yet, nothing can match it
		if a.Tag.ID == tag.ID && !tag.Placeholder {
			found = true
			continue
		}

		log.Debugw("removing stale assignment", "value", a.Tag.Name)
		confirmed, err := r.removeVerified(ctx, filter, *a)
		if err != nil {
			return RemoteUnavailable, err
		}
		if !confirmed {
			nc := inventory.NewErrRemovalNotConfirmed(entity.Name, tag.CategoryName, a.Tag.Name)
			log.Warnw("stale assignment still present after retry", "value", a.Tag.Name)
			unconfirmed = append(unconfirmed, nc)
		}
	}

	outcome := AlreadyCorrect
	if !found {
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.tagging.CreateAssignment(ctx, entity, tag)
		}); err != nil {
			return RemoteUnavailable, remote("assignment creation", err)
		}
		log.Infow("tag applied", "value", tag.Name)
		outcome = Applied
	}

	if len(unconfirmed) > 0 {
		return RemovalNotConfirmed, errors.Join(unconfirmed...)
	}
	return outcome, nil
}

// removeVerified removes the assignment and reads the category back to check
// that this exact assignment is gone. It retries the removal once.
func (r *Reconciler) removeVerified(ctx context.Context, filter inventory.AssignmentFilter, stale inventory.Assignment) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.tagging.RemoveAssignment(ctx, stale)
		}); err != nil {
			return false, remote("assignment removal", err)
		}

		after, err := r.list(ctx, filter)
		if err != nil {
			return false, err
		}
		if !contains(after, stale.Tag.ID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reconciler) list(ctx context.Context, filter inventory.AssignmentFilter) ([]*inventory.Assignment, error) {
	var result []*inventory.Assignment
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.tagging.ListAssignments(ctx, filter)
		return err
	})
	if err != nil {
		return nil, remote("assignment listing", err)
	}
	return result, nil
}

func (r *Reconciler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.callTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return fn(callCtx)
}

func contains(assignments []*inventory.Assignment, tagID string) bool {
	for _, a := range assignments {
		if a.Valid() && a.Tag.ID == tagID {
			return true
		}
	}
	return false
}

func remote(op string, err error) error {
	if inventory.IsRemoteUnavailable(err) {
		return err
	}
	return inventory.NewErrRemoteUnavailable(op, err)
}
