package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrTransactionClosed is returned when a history transaction is ended twice.
	ErrTransactionClosed = errors.New("history transaction already closed")
)
