package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrConnectivityLost = errors.New("connectivity to the inventory lost")
	ErrDryRunMutation   = errors.New("mutation refused in dry-run mode")
)

// ErrRemoteUnavailable is returned for transport, auth and timeout failures.
type ErrRemoteUnavailable struct {
	error
	cause error
}

func NewErrRemoteUnavailable(op string, cause error) *ErrRemoteUnavailable {
	return &ErrRemoteUnavailable{error: fmt.Errorf("inventory unavailable during %s: %w", op, cause), cause: cause}
}

func (e *ErrRemoteUnavailable) Unwrap() error {
	return e.cause
}

type ErrInvalidCategory struct {
	error
	Category string
}

func NewErrInvalidCategory(category string) *ErrInvalidCategory {
	return &ErrInvalidCategory{error: fmt.Errorf("category %q does not exist", category), Category: category}
}

type ErrEntityNotFound struct {
	error
	Entity string
}

func NewErrEntityNotFound(name string) *ErrEntityNotFound {
	return &ErrEntityNotFound{error: fmt.Errorf("entity %q not found", name), Entity: name}
}

type ErrRemovalNotConfirmed struct {
	error
	Entity   string
	Category string
	Value    string
}

func NewErrRemovalNotConfirmed(entity, category, value string) *ErrRemovalNotConfirmed {
	return &ErrRemovalNotConfirmed{
		error:    fmt.Errorf("removal of %s=%s from %s not confirmed", category, value, entity),
		Entity:   entity,
		Category: category,
		Value:    value,
	}
}

type ErrHierarchyExhausted struct {
	error
	Entity string
}

func NewErrHierarchyExhausted(entity string) *ErrHierarchyExhausted {
	return &ErrHierarchyExhausted{error: fmt.Errorf("no datacenter ancestor found for %s", entity), Entity: entity}
}

type ErrGroupingNotFound struct {
	error
}

func NewErrGroupingNotFound(grouping, partition string) *ErrGroupingNotFound {
	return &ErrGroupingNotFound{fmt.Errorf("cluster %q not found in datacenter %q", grouping, partition)}
}

type ErrTagCreationDeclined struct {
	error
}

func NewErrTagCreationDeclined(category, value string) *ErrTagCreationDeclined {
	return &ErrTagCreationDeclined{fmt.Errorf("creation of tag %s=%s declined", category, value)}
}

// IsRemoteUnavailable reports whether err, or anything it wraps, is a remote failure.
func IsRemoteUnavailable(err error) bool {
	var e *ErrRemoteUnavailable
	return errors.As(err, &e)
}
