package store

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type contextKey int

const historyTxKey contextKey = iota

// txSeq numbers history transactions so their log lines can be correlated.
var txSeq atomic.Uint64

// historyTx is a run history transaction carried in a context. All run store
// calls made with that context join it until it is committed or rolled back.
type historyTx struct {
	seq     uint64
	backend int64
	db      *gorm.DB
	log     logrus.FieldLogger
}

// Commit ends the transaction carried by ctx, if any, and returns a context
// without it.
func Commit(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(historyTxKey).(*historyTx)
	if !ok || tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, historyTxKey, nil), tx.finish("commit", func(db *gorm.DB) *gorm.DB { return db.Commit() })
}

// Rollback discards the transaction carried by ctx, if any, and returns a
// context without it.
func Rollback(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(historyTxKey).(*historyTx)
	if !ok || tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, historyTxKey, nil), tx.finish("rollback", func(db *gorm.DB) *gorm.DB { return db.Rollback() })
}

// FromContext returns the open transaction of ctx, nil when there is none.
func FromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(historyTxKey).(*historyTx); ok && tx != nil {
		return tx.db
	}
	return nil
}

// newTransactionContext opens a transaction unless ctx already carries one,
// in which case ctx is returned as is and the caller joins it.
func newTransactionContext(ctx context.Context, db *gorm.DB, log logrus.FieldLogger) (context.Context, error) {
	if FromContext(ctx) != nil {
		return ctx, nil
	}

	begun := db.Session(&gorm.Session{Context: ctx}).Begin()
	if begun.Error != nil {
		return ctx, begun.Error
	}

	tx := &historyTx{seq: txSeq.Add(1), db: begun}
	// the backend pid tells which postgres connection ran the run history writes
	if db.Dialector.Name() == "postgres" {
		var backend struct{ PID int64 }
		begun.Raw("select pg_backend_pid() as pid").Scan(&backend)
		tx.backend = backend.PID
	}
	tx.log = log.WithFields(logrus.Fields{"history_tx": tx.seq, "backend_pid": tx.backend})
	tx.log.Debug("history transaction opened")

	return context.WithValue(ctx, historyTxKey, tx), nil
}

func (t *historyTx) finish(op string, end func(db *gorm.DB) *gorm.DB) error {
	if t.db == nil {
		return ErrTransactionClosed
	}
	if err := end(t.db).Error; err != nil {
		t.log.Errorf("history transaction %s failed: %v", op, err)
		return err
	}
	t.db = nil
	t.log.Debugf("history transaction %s done", op)
	return nil
}
