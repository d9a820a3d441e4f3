package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
)

// WireRepository implements record_auth_iban_payment,
// test_auth_iban_payment and get_last_auth_iban_payment_row (spec.md
// §4.1, §4.3).
type WireRepository struct {
	db *sql.DB
}

// NewWireRepository creates a new wire-transfer repository.
func NewWireRepository(db *sql.DB) *WireRepository {
	return &WireRepository{db: db}
}

// RecordAuthIBANPayment writes one inbound-wire record, unique on
// wireReference. A duplicate wireReference implies an ingester bug and
// is surfaced as ErrAlreadyExists so the caller can treat it as fatal
// (spec.md §4.3).
func (r *WireRepository) RecordAuthIBANPayment(ctx context.Context, rec InboundWireRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inbound_wire_transfers
		   (wire_reference, wire_subject, amount_currency, amount_value, amount_fraction, debit_account, credit_account, execution_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		int64(rec.WireReference), rec.WireSubject, rec.Amount.Currency, rec.Amount.Value, rec.Amount.Fraction,
		rec.DebitAccount, rec.CreditAccount, rec.ExecutionDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: record_auth_iban_payment: %w", err)
	}
	return nil
}

// RecordAuthIBANPaymentAndNotify writes rec and publishes spec/extra in
// the same transaction, so the notification only becomes visible to
// listeners once the insert is durable (spec.md §4.3).
func (r *WireRepository) RecordAuthIBANPaymentAndNotify(ctx context.Context, rec InboundWireRecord, spec EventSpec, extra string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: record_auth_iban_payment: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO inbound_wire_transfers
		   (wire_reference, wire_subject, amount_currency, amount_value, amount_fraction, debit_account, credit_account, execution_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		int64(rec.WireReference), rec.WireSubject, rec.Amount.Currency, rec.Amount.Value, rec.Amount.Fraction,
		rec.DebitAccount, rec.CreditAccount, rec.ExecutionDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: record_auth_iban_payment: %w", err)
	}

	if err := Notify(ctx, tx, spec, extra); err != nil {
		return err
	}

	return tx.Commit()
}

// WireTransferCheck is invoked by TestAuthIBANPayment for every
// matching row; it returns true to accept the transfer as satisfying
// the authentication requirement.
type WireTransferCheck func(credit amount.Amount, subject string) bool

// TestAuthIBANPayment iterates inbound-wire rows credited to
// creditAccount and debited from debitAccount with execution_date >=
// earliest, calling cb for each until cb accepts one. Returns
// QueryOneResult iff cb accepted a row.
func (r *WireRepository) TestAuthIBANPayment(ctx context.Context, debitAccount, creditAccount string, earliest time.Time, cb WireTransferCheck) (QueryStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT amount_currency, amount_value, amount_fraction, wire_subject
		 FROM inbound_wire_transfers
		 WHERE debit_account = $1 AND credit_account = $2 AND execution_date >= $3
		 ORDER BY wire_reference ASC`,
		debitAccount, creditAccount, earliest,
	)
	if err != nil {
		return QueryHardError, fmt.Errorf("storage: test_auth_iban_payment: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var amt amount.Amount
		var subject string
		if err := rows.Scan(&amt.Currency, &amt.Value, &amt.Fraction, &subject); err != nil {
			return QueryHardError, err
		}
		if cb(amt, subject) {
			return QueryOneResult, nil
		}
	}
	if err := rows.Err(); err != nil {
		return QueryHardError, err
	}
	return QueryNoResults, nil
}

// GetLastAuthIBANPaymentRow returns the highest wire_reference credited
// to creditAccount, the resumable cursor for the ingester. Returns 0 if
// none exist yet.
func (r *WireRepository) GetLastAuthIBANPaymentRow(ctx context.Context, creditAccount string) (uint64, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(wire_reference) FROM inbound_wire_transfers WHERE credit_account = $1`, creditAccount,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) || !last.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get_last_auth_iban_payment_row: %w", err)
	}
	return uint64(last.Int64), nil
}
