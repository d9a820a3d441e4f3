package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecoveryDocumentRepository implements store_recovery_document and
// get_recovery_document (spec.md §3, §4.1).
type RecoveryDocumentRepository struct {
	db *sql.DB
}

// NewRecoveryDocumentRepository creates a new recovery-document repository.
func NewRecoveryDocumentRepository(db *sql.DB) *RecoveryDocumentRepository {
	return &RecoveryDocumentRepository{db: db}
}

// StoreRecoveryDocument implements the algorithm of spec.md §4.1:
// open SERIALIZABLE, compare against the latest hash (no-op if equal),
// require a payment record with post_counter > 0, decrement it, and
// insert the new version — all or nothing, attempted up to 3 times in
// total on a serialization conflict.
func (r *RecoveryDocumentRepository) StoreRecoveryDocument(
	ctx context.Context,
	pub AccountPub,
	accountSig []byte,
	recoveryDataHash [64]byte,
	recoveryData []byte,
	paymentIdentifier PaymentIdentifier,
) (StoreStatus, uint32, error) {
	var status StoreStatus
	var version uint32

	err := runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var latestHash []byte
		var latestVersion uint32
		err := tx.QueryRowContext(ctx,
			`SELECT recovery_data_hash, version FROM recovery_documents
			 WHERE account_pub = $1 ORDER BY version DESC LIMIT 1`, pub[:],
		).Scan(&latestHash, &latestVersion)
		switch {
		case err == nil:
			if string(latestHash) == string(recoveryDataHash[:]) {
				status = StoreNoResults
				version = latestVersion
				return nil
			}
		case errors.Is(err, sql.ErrNoRows):
			latestVersion = 0
		default:
			return err
		}

		var postCounter uint32
		err = tx.QueryRowContext(ctx,
			`SELECT post_counter FROM recdoc_payments
			 WHERE payment_identifier = $1 AND paid = true FOR UPDATE`,
			paymentIdentifier[:],
		).Scan(&postCounter)
		if errors.Is(err, sql.ErrNoRows) {
			status = StorePaymentRequired
			return nil
		}
		if err != nil {
			return err
		}
		if postCounter == 0 {
			status = StoreLimitExceeded
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE recdoc_payments SET post_counter = post_counter - 1 WHERE payment_identifier = $1`,
			paymentIdentifier[:],
		); err != nil {
			return err
		}

		version = latestVersion + 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recovery_documents (account_pub, version, account_sig, recovery_data_hash, recovery_data, created_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			pub[:], version, accountSig, recoveryDataHash[:], recoveryData,
		)
		if err != nil {
			return err
		}
		status = StoreSuccess
		return nil
	})
	if err != nil {
		return StoreSoftError, 0, fmt.Errorf("storage: store_recovery_document: %w", err)
	}
	return status, version, nil
}

// GetRecoveryDocument returns the recovery document at version, or the
// latest if version is nil.
func (r *RecoveryDocumentRepository) GetRecoveryDocument(ctx context.Context, pub AccountPub, version *uint32) (*RecoveryDocument, error) {
	var row *sql.Row
	if version == nil {
		row = r.db.QueryRowContext(ctx,
			`SELECT account_pub, version, account_sig, recovery_data_hash, recovery_data, created_at
			 FROM recovery_documents WHERE account_pub = $1 ORDER BY version DESC LIMIT 1`, pub[:])
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT account_pub, version, account_sig, recovery_data_hash, recovery_data, created_at
			 FROM recovery_documents WHERE account_pub = $1 AND version = $2`, pub[:], *version)
	}

	var doc RecoveryDocument
	var accountPub, hash []byte
	err := row.Scan(&accountPub, &doc.Version, &doc.AccountSig, &hash, &doc.RecoveryData, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get_recovery_document: %w", err)
	}
	copy(doc.AccountPub[:], accountPub)
	copy(doc.RecoveryDataHash[:], hash)
	return &doc, nil
}
