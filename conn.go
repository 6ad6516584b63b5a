package pgscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rollbackTimeout = 5 * time.Second

// acquireSlot waits for a semaphore slot, at most acquireTimeout.
func (e *Explorer) acquireSlot(ctx context.Context) (func(), error) {
	timer := time.NewTimer(e.acquireTimeout)
	defer timer.Stop()

	select {
	case e.semaphore <- struct{}{}:
		return func() { <-e.semaphore }, nil
	case <-timer.C:
		return nil, newError(KindConnectionUnavailable,
			"all %d connection slots are in use, gave up after %s", cap(e.semaphore), e.acquireTimeout)
	case <-ctx.Done():
		return nil, &Error{
			Kind:    KindConnectionUnavailable,
			Message: fmt.Sprintf("context ended while waiting for one of %d connection slots", cap(e.semaphore)),
			Err:     ctx.Err(),
		}
	}
}

// acquireConn takes a slot and a pooled connection. release must be called
// with the operation's final error so broken sessions are destroyed.
func (e *Explorer) acquireConn(ctx context.Context) (*pgxpool.Conn, func(opErr error), error) {
	releaseSlot, err := e.acquireSlot(ctx)
	if err != nil {
		return nil, nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	conn, err := e.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		releaseSlot()
		return nil, nil, &Error{Kind: KindConnectionUnavailable, Message: connUnavailableMessage, Err: err}
	}

	release := func(opErr error) {
		if isConnError(opErr) {
			// Closing first makes Release destroy the connection.
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = conn.Conn().Close(closeCtx)
			cancel()
			e.logger.Warn().Err(opErr).Msg("evicted broken connection from pool")
		}
		conn.Release()
		releaseSlot()
	}
	return conn, release, nil
}

// withReadOnlyTx runs fn inside a REPEATABLE READ, READ ONLY transaction on
// one pooled connection, bounded by budget. Every statement in fn sees one
// snapshot. The transaction is always rolled back.
func (e *Explorer) withReadOnlyTx(ctx context.Context, budget time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	conn, release, err := e.acquireConn(ctx)
	if err != nil {
		return err
	}
	defer func() { release(err) }()

	queryCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return e.deadlineAware(queryCtx, err)
	}
	defer func() {
		// queryCtx may already be cancelled; roll back on a fresh deadline.
		rbCtx, rbCancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer rbCancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
	}()

	if _, err = tx.Exec(queryCtx, "SELECT set_config('statement_timeout', $1, true)",
		fmt.Sprintf("%dms", budget.Milliseconds())); err != nil {
		return e.deadlineAware(queryCtx, err)
	}
	if e.config.Role != "" {
		if _, err = tx.Exec(queryCtx, "SELECT set_config('role', $1, true)", e.config.Role); err != nil {
			return e.deadlineAware(queryCtx, err)
		}
	}

	if err = fn(queryCtx, tx); err != nil {
		return e.deadlineAware(queryCtx, err)
	}
	return nil
}

// deadlineAware attaches context.DeadlineExceeded when the budget ran out,
// since the driver may surface the server's cancel error or an I/O error.
func (e *Explorer) deadlineAware(queryCtx context.Context, err error) error {
	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
