package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
)

// TruthUploadPaymentRepository implements record_truth_upload_payment.
type TruthUploadPaymentRepository struct {
	db *sql.DB
}

// NewTruthUploadPaymentRepository creates a new truth-upload payment repository.
func NewTruthUploadPaymentRepository(db *sql.DB) *TruthUploadPaymentRepository {
	return &TruthUploadPaymentRepository{db: db}
}

// RecordTruthUploadPayment records evidence that storage of truthUUID
// is paid for until expiration.
func (r *TruthUploadPaymentRepository) RecordTruthUploadPayment(ctx context.Context, truthUUID TruthUUID, amt amount.Amount, expiration time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO truth_upload_payments (truth_uuid, amount_currency, amount_value, amount_fraction, expiration)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (truth_uuid) DO UPDATE SET expiration = EXCLUDED.expiration`,
		truthUUID[:], amt.Currency, amt.Value, amt.Fraction, expiration,
	)
	if err != nil {
		return fmt.Errorf("storage: record_truth_upload_payment: %w", err)
	}
	return nil
}

// RecdocPaymentRepository implements record_recdoc_payment and the
// payment-gate lookups the HTTP surface needs (spec.md §4.1, §4.4).
type RecdocPaymentRepository struct {
	db                *sql.DB
	transientLifetime time.Duration
}

// NewRecdocPaymentRepository creates a new recovery-document payment repository.
func NewRecdocPaymentRepository(db *sql.DB, transientLifetime time.Duration) *RecdocPaymentRepository {
	return &RecdocPaymentRepository{db: db, transientLifetime: transientLifetime}
}

// RecordRecdocPayment inserts a pending (unpaid) order for pub, keyed
// by paymentIdentifier, creating a transient account if absent.
// Reusing an identifier already bound to a different account is
// treated as "already paid, no lifetime change" per spec.md §3.
func (r *RecdocPaymentRepository) RecordRecdocPayment(ctx context.Context, pub AccountPub, paymentIdentifier PaymentIdentifier, amt amount.Amount, postCounter uint32) error {
	return runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := ensureAccountTx(ctx, tx, pub, r.transientLifetime); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recdoc_payments (account_pub, payment_identifier, amount_currency, amount_value, amount_fraction, post_counter, creation_date, paid)
			 VALUES ($1, $2, $3, $4, $5, $6, now(), false)
			 ON CONFLICT (payment_identifier) DO NOTHING`,
			pub[:], paymentIdentifier[:], amt.Currency, amt.Value, amt.Fraction, postCounter,
		)
		return err
	})
}

// RecdocPaymentStatus is the result of a CheckRecdocPaymentIdentifier
// lookup for the payment gate (spec.md §4.4).
type RecdocPaymentStatus struct {
	Found       bool
	Paid        bool
	PostCounter uint32
}

// CheckRecdocPaymentIdentifier looks up paymentIdentifier for the
// payment gate.
func (r *RecdocPaymentRepository) CheckRecdocPaymentIdentifier(ctx context.Context, paymentIdentifier PaymentIdentifier) (RecdocPaymentStatus, error) {
	var st RecdocPaymentStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT paid, post_counter FROM recdoc_payments WHERE payment_identifier = $1`,
		paymentIdentifier[:],
	).Scan(&st.Paid, &st.PostCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return RecdocPaymentStatus{}, nil
	}
	if err != nil {
		return RecdocPaymentStatus{}, fmt.Errorf("storage: check_recdoc_payment_identifier: %w", err)
	}
	st.Found = true
	return st, nil
}

// ChallengePaymentRepository implements record_challenge_payment and
// the challenge-payment-gate lookups (spec.md §4.1, §4.4). Kept
// distinct from RecdocPaymentRepository because the original C
// implementation keys the two tables differently — per spec.md §9
// open question 1, this rewrite treats the two identifier spaces as
// independent (never globally unique, only unique per table).
type ChallengePaymentRepository struct {
	db *sql.DB
}

// NewChallengePaymentRepository creates a new challenge payment repository.
func NewChallengePaymentRepository(db *sql.DB) *ChallengePaymentRepository {
	return &ChallengePaymentRepository{db: db}
}

// RecordChallengePayment inserts a pending order for one truth,
// keyed by paymentIdentifier.
func (r *ChallengePaymentRepository) RecordChallengePayment(ctx context.Context, truthUUID TruthUUID, paymentIdentifier PaymentIdentifier, amt amount.Amount, counter uint32) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO challenge_payments (truth_uuid, payment_identifier, amount_currency, amount_value, amount_fraction, counter, creation_date, paid, refunded)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), false, false)
		 ON CONFLICT (payment_identifier) DO NOTHING`,
		truthUUID[:], paymentIdentifier[:], amt.Currency, amt.Value, amt.Fraction, counter,
	)
	if err != nil {
		return fmt.Errorf("storage: record_challenge_payment: %w", err)
	}
	return nil
}

// MarkChallengePaid flips a challenge payment to paid, e.g. once the
// underlying payment backend confirms settlement.
func (r *ChallengePaymentRepository) MarkChallengePaid(ctx context.Context, paymentIdentifier PaymentIdentifier) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE challenge_payments SET paid = true WHERE payment_identifier = $1`, paymentIdentifier[:])
	return err
}

// ChallengePaymentStatus is the result of a challenge-payment-gate lookup.
type ChallengePaymentStatus struct {
	Found    bool
	Paid     bool
	Counter  uint32
	Refunded bool
}

// CheckChallengePaymentIdentifier looks up (truthUUID, paymentIdentifier)
// for the payment gate.
func (r *ChallengePaymentRepository) CheckChallengePaymentIdentifier(ctx context.Context, truthUUID TruthUUID, paymentIdentifier PaymentIdentifier) (ChallengePaymentStatus, error) {
	var st ChallengePaymentStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT paid, counter, refunded FROM challenge_payments WHERE truth_uuid = $1 AND payment_identifier = $2`,
		truthUUID[:], paymentIdentifier[:],
	).Scan(&st.Paid, &st.Counter, &st.Refunded)
	if errors.Is(err, sql.ErrNoRows) {
		return ChallengePaymentStatus{}, nil
	}
	if err != nil {
		return ChallengePaymentStatus{}, fmt.Errorf("storage: check_challenge_payment_identifier: %w", err)
	}
	st.Found = true
	return st, nil
}

// DecrementCounter charges one retransmission/issuance against a
// paid challenge payment. It is a no-op (not an error) when no row
// exists for (truthUUID, paymentIdentifier) — the spec.md §9 design
// note calls out that the original conflates "free method" with "paid
// method, nothing left to decrement"; this rewrite keeps that
// distinction at the call site (free methods simply never call this).
func (r *ChallengePaymentRepository) DecrementCounter(ctx context.Context, truthUUID TruthUUID, paymentIdentifier PaymentIdentifier) (QueryStatus, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE challenge_payments SET counter = counter - 1
		 WHERE truth_uuid = $1 AND payment_identifier = $2 AND counter > 0`,
		truthUUID[:], paymentIdentifier[:],
	)
	if err != nil {
		return QueryHardError, fmt.Errorf("storage: decrement_counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return QueryHardError, err
	}
	if n == 0 {
		return QueryNoResults, nil
	}
	return QueryOneResult, nil
}
