package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// maxSerializationRetries bounds the retry-on-conflict loop described
// in spec.md §4.1: each composite operation gets up to 3 attempts
// before surfacing a soft error.
const maxSerializationRetries = 3

// pgSerializationFailure is the SQLSTATE Postgres returns for a
// SERIALIZABLE isolation conflict.
const pgSerializationFailure = "40001"

// txFunc runs the statements of one composite operation inside an
// already-open SERIALIZABLE transaction. Returning an error aborts and
// rolls back the transaction; isSerializationFailure(err) decides
// whether the whole operation is retried.
type txFunc func(ctx context.Context, tx *sql.Tx) error

// RetryObserver receives one call per retried SERIALIZABLE attempt and
// one per exhausted retry budget. Package storage never imports a
// metrics package itself (it would cycle back through GCResult); a
// process wires its own metrics.Metrics into these hooks at startup.
type RetryObserver struct {
	OnRetry  func()
	OnGiveup func()
}

// retryObserver is process-global because runSerializable is called
// from many repositories that don't each carry a handle to it.
var retryObserver RetryObserver

// SetRetryObserver installs the process-wide retry observer. Passing
// the zero value disables observation.
func SetRetryObserver(o RetryObserver) { retryObserver = o }

// runSerializable opens a SERIALIZABLE transaction, runs fn, and
// commits. On a serialization conflict the entire body is rerun, for
// at most maxSerializationRetries attempts in total; if conflicts
// persist, the last error
// is returned wrapped so the caller can map it to StoreSoftError/
// CodeSoftError/etc.
func runSerializable(ctx context.Context, db *sql.DB, fn txFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}

		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				if retryObserver.OnRetry != nil {
					retryObserver.OnRetry()
				}
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				if retryObserver.OnRetry != nil {
					retryObserver.OnRetry()
				}
				continue
			}
			return err
		}
		return nil
	}
	if retryObserver.OnGiveup != nil {
		retryObserver.OnGiveup()
	}
	return lastErr
}

// isSerializationFailure reports whether err represents a Postgres
// SERIALIZABLE conflict (SQLSTATE 40001).
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgSerializationFailure
	}
	return false
}
