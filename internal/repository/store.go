// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apierrors "github.com/tenderhq/core/internal/pkg/errors"
)

// DBTX is the subset of pgx behavior repositories depend on. It is satisfied
// by both *pgxpool.Pool and pgx.Tx, so the same repository code runs inside
// and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner runs a function inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

const (
	// defaultTxTimeout bounds interactive transactions.
	defaultTxTimeout = 5 * time.Second
	// maxTransientRetries bounds internal retries of transient failures.
	// Only fully rolled-back transactions are retried, so the retry is safe.
	maxTransientRetries = 3
)

// Store owns the connection pool and the transactional scope primitive.
// It is the only place SQL-shaped transaction concerns live.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewStore creates a store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, timeout: defaultTxTimeout}
}

// Pool returns the underlying connection pool for non-transactional reads.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a transaction with a bounded deadline. All writes
// commit atomically; any error rolls everything back. Transient store
// failures are retried a bounded number of times with jitter; every other
// error is surfaced to the caller unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTransientRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
			select {
			case <-time.After(25*time.Millisecond<<attempt + jitter):
			case <-ctx.Done():
				return apierrors.ErrStoreTimeout
			}
		}

		lastErr = s.runTx(ctx, fn)
		if lastErr == nil || !apierrors.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (s *Store) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{})
	if err != nil {
		return mapStoreError(err)
	}
	defer tx.Rollback(txCtx)

	if err := fn(tx); err != nil {
		return mapStoreError(err)
	}
	if err := tx.Commit(txCtx); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// mapStoreError translates driver-level failures into the transient error
// kinds of the service API. Logical errors pass through untouched.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsAPIError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.ErrStoreTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions; class 57: operator intervention
		// (shutdown, crash). Both are worth a retry.
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57") {
			return apierrors.ErrStoreUnavailable
		}
	}
	return err
}

// uniqueViolationCode is the SQLSTATE for unique-constraint violations.
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// insertWithSavepoint executes an insert inside a nested transaction
// (savepoint) so a unique-constraint conflict does not abort the enclosing
// transaction. Returns (true, nil) on insert, (false, nil) on conflict with
// the named constraint, and the raw error otherwise. When the repository is
// bound to the pool rather than a transaction, the insert runs directly; a
// conflict there cannot poison any enclosing scope.
func insertWithSavepoint(ctx context.Context, db DBTX, constraint, sql string, args ...any) (bool, error) {
	tx, isTx := db.(pgx.Tx)
	if !isTx {
		_, err := db.Exec(ctx, sql, args...)
		if IsUniqueViolation(err, constraint) {
			return false, nil
		}
		return err == nil, err
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, err
	}
	if _, err := sp.Exec(ctx, sql, args...); err != nil {
		_ = sp.Rollback(ctx)
		if IsUniqueViolation(err, constraint) {
			return false, nil
		}
		return false, err
	}
	return true, sp.Commit(ctx)
}

// Compile-time check to ensure Store implements TxRunner.
var _ TxRunner = (*Store)(nil)
