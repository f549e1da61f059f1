package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"

	contactservice "idlink/internal/contact/service"
	contactstore "idlink/internal/contact/store"
	dErrors "idlink/pkg/domain-errors"
)

const (
	defaultContactTxTimeout = 5 * time.Second

	// maxTxAttempts bounds serialization-conflict retries. Each retry re-runs
	// the full decide sequence from fresh reads, so retrying is transparent
	// to callers.
	maxTxAttempts = 3
)

// contactPostgresTx runs each reconciliation as one serializable transaction.
// Serializable isolation is what prevents two concurrent requests from both
// concluding "no match" for the same identifier and creating competing
// primaries; conflicts surface as SQLSTATE 40001 and are retried here.
type contactPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

func newContactPostgresTx(db *sql.DB, timeout time.Duration, logger *slog.Logger) *contactPostgresTx {
	return &contactPostgresTx{db: db, timeout: timeout, logger: logger}
}

func (t *contactPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store contactservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultContactTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := t.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryableTxError(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		t.logger.WarnContext(ctx, "reconcile transaction conflict, retrying",
			"attempt", attempt,
			"error", err.Error(),
		)
	}
	return dErrors.Wrap(lastErr, dErrors.CodeConflict, "transaction conflict persisted across retries")
}

func (t *contactPostgresTx) attempt(ctx context.Context, fn func(ctx context.Context, store contactservice.Store) error) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, contactstore.NewPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// retryableTxError matches serialization failures (40001) and deadlocks
// (40P01); anything else aborts for good.
func retryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
