package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GCRepository implements gc (spec.md §4.1): expire accounts (cascading
// to their recovery documents and pending payments), expired truths,
// unpaid payment records, and expired challenge codes.
type GCRepository struct {
	db *sql.DB
}

// NewGCRepository creates a new garbage-collection repository.
func NewGCRepository(db *sql.DB) *GCRepository {
	return &GCRepository{db: db}
}

// GCResult reports how many rows each sweep removed, for metrics and
// for the `dbinit -g` / cron-driven admin path.
type GCResult struct {
	AccountsExpired         int64
	TruthsExpired           int64
	RecdocPaymentsExpired   int64
	ChallengePaymentsExpired int64
	ChallengeCodesExpired   int64
}

// GC deletes accounts with expiration_date < expireBackupsBefore
// (cascading via foreign keys to their recovery documents and pending
// recdoc payments), unpaid recdoc payments and unpaid/refunded
// challenge payments older than expirePaymentsBefore, expired truths,
// and expired challenge codes.
func (r *GCRepository) GC(ctx context.Context, expireBackupsBefore, expirePaymentsBefore time.Time) (GCResult, error) {
	var result GCResult

	err := runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE expiration_date < $1`, expireBackupsBefore)
		if err != nil {
			return err
		}
		result.AccountsExpired, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			`DELETE FROM recdoc_payments WHERE paid = false AND creation_date < $1`, expirePaymentsBefore)
		if err != nil {
			return err
		}
		result.RecdocPaymentsExpired, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			`DELETE FROM challenge_payments WHERE (paid = false OR refunded = true) AND creation_date < $1`, expirePaymentsBefore)
		if err != nil {
			return err
		}
		result.ChallengePaymentsExpired, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM challenge_codes WHERE expiration_date < now()`)
		if err != nil {
			return err
		}
		result.ChallengeCodesExpired, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM truths WHERE expiration < now()`)
		if err != nil {
			return err
		}
		result.TruthsExpired, _ = res.RowsAffected()

		return nil
	})
	if err != nil {
		return GCResult{}, fmt.Errorf("storage: gc: %w", err)
	}
	return result, nil
}
