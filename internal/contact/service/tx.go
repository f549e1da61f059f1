package service

import (
	"context"
	"sync"
	"time"

	dErrors "idlink/pkg/domain-errors"
)

// StoreTx provides the transactional boundary for one reconciliation request.
// Implementations wrap a database transaction or, in-memory, a coarse lock.
// The callback may be re-invoked after a serialization conflict; it must
// derive every decision from reads made inside the current invocation.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// defaultTxTimeout bounds a reconciliation transaction.
const defaultTxTimeout = 5 * time.Second

// inMemoryStoreTx serializes reconciliations with a single mutex. An
// identifier pair can bridge two arbitrary clusters, so lock sharding by
// identifier cannot give the read-decide-write sequence a stable view.
// Postgres deployments use the SQL transaction runner in cmd/server instead.
type inMemoryStoreTx struct {
	mu      sync.Mutex
	store   Store
	timeout time.Duration
}

// NewInMemoryStoreTx wraps a store in a mutex-guarded transaction boundary.
func NewInMemoryStoreTx(store Store) StoreTx {
	return &inMemoryStoreTx{store: store}
}

func (t *inMemoryStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	snap, canRollback := t.store.(snapshotter)
	var before any
	if canRollback {
		before = snap.Snapshot()
	}
	err := fn(ctx, t.store)
	if err != nil && canRollback {
		snap.Restore(before)
	}
	return err
}

// snapshotter is implemented by stores that can capture and restore their full
// state, giving this boundary the same no-partial-mutation guarantee a SQL
// rollback provides.
type snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}
