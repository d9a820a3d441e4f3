package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccountRepository implements the Account operations of spec.md §4.1:
// lookup_account, increment_lifetime, update_lifetime, and the
// transient-account-creation behavior implied by store_recovery_document
// and record_*_payment.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// AccountLookup is the successful result of LookupAccount.
type AccountLookup struct {
	PaidUntil        time.Time
	RecoveryDataHash [64]byte
	Version          uint32
}

// LookupAccount reports whether account_pub is known and, if so, its
// expiration and the latest recovery document's hash/version. Used by
// HTTP GET to decide between 402 and 200 (spec.md §4.1, §6).
func (r *AccountRepository) LookupAccount(ctx context.Context, pub AccountPub) (AccountLookup, AccountStatus) {
	var paidUntil time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT expiration_date FROM accounts WHERE account_pub = $1`, pub[:],
	).Scan(&paidUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountLookup{}, AccountPaymentRequired
	}
	if err != nil {
		return AccountLookup{}, AccountHardError
	}

	var hash []byte
	var version uint32
	err = r.db.QueryRowContext(ctx,
		`SELECT recovery_data_hash, version FROM recovery_documents
		 WHERE account_pub = $1 ORDER BY version DESC LIMIT 1`, pub[:],
	).Scan(&hash, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return AccountLookup{PaidUntil: paidUntil}, AccountNoResults
	case err != nil:
		return AccountLookup{}, AccountHardError
	}

	var out AccountLookup
	out.PaidUntil = paidUntil
	out.Version = version
	copy(out.RecoveryDataHash[:], hash)
	return out, AccountValidHashReturned
}

// ensureAccount creates a transient account (one-week default
// lifetime) if absent, inside the caller's transaction. Returns the
// current expiration date.
func ensureAccountTx(ctx context.Context, tx *sql.Tx, pub AccountPub, transientLifetime time.Duration) (time.Time, error) {
	var expiration time.Time
	err := tx.QueryRowContext(ctx,
		`SELECT expiration_date FROM accounts WHERE account_pub = $1 FOR UPDATE`, pub[:],
	).Scan(&expiration)
	if err == nil {
		return expiration, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, err
	}

	expiration = time.Now().Add(transientLifetime)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (account_pub, expiration_date) VALUES ($1, $2)`,
		pub[:], expiration,
	)
	if err != nil {
		return time.Time{}, err
	}
	return expiration, nil
}

// IncrementLifetime extends an account's expiration by lifetime,
// idempotently keyed on paymentIdentifier: a second call with the same
// identifier is a no-op that returns the already-extended expiration
// (spec.md §4.1, §8 round-trip law).
func (r *AccountRepository) IncrementLifetime(ctx context.Context, pub AccountPub, paymentIdentifier PaymentIdentifier, lifetime time.Duration) (time.Time, error) {
	var result time.Time
	err := runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var alreadyPaid bool
		err := tx.QueryRowContext(ctx,
			`SELECT paid FROM recdoc_payments WHERE payment_identifier = $1 FOR UPDATE`,
			paymentIdentifier[:],
		).Scan(&alreadyPaid)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err == nil && alreadyPaid {
			expiration, err := ensureAccountTx(ctx, tx, pub, lifetime)
			if err != nil {
				return err
			}
			result = expiration
			return nil
		}

		current, err := ensureAccountTx(ctx, tx, pub, lifetime)
		if err != nil {
			return err
		}
		newExpiration := current.Add(lifetime)
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET expiration_date = $2 WHERE account_pub = $1`,
			pub[:], newExpiration,
		); err != nil {
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE recdoc_payments SET paid = true WHERE payment_identifier = $1`,
				paymentIdentifier[:],
			); err != nil {
				return err
			}
		}
		result = newExpiration
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: increment_lifetime: %w", err)
	}
	return result, nil
}

// UpdateLifetime sets an account's expiration to max(current, eol),
// idempotently keyed the same way as IncrementLifetime.
func (r *AccountRepository) UpdateLifetime(ctx context.Context, pub AccountPub, paymentIdentifier PaymentIdentifier, eol time.Time) error {
	return runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var alreadyPaid bool
		err := tx.QueryRowContext(ctx,
			`SELECT paid FROM recdoc_payments WHERE payment_identifier = $1`, paymentIdentifier[:],
		).Scan(&alreadyPaid)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && alreadyPaid {
			return nil
		}

		current, err := ensureAccountTx(ctx, tx, pub, time.Until(eol))
		if err != nil {
			return err
		}
		newExpiration := current
		if eol.After(newExpiration) {
			newExpiration = eol
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET expiration_date = $2 WHERE account_pub = $1`,
			pub[:], newExpiration,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE recdoc_payments SET paid = true WHERE payment_identifier = $1`, paymentIdentifier[:],
		)
		return err
	})
}
