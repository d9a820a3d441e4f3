package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TruthRepository implements store_truth, get_escrow_challenge and
// get_key_share (spec.md §3, §4.1). Truths are immutable once stored.
type TruthRepository struct {
	db *sql.DB
}

// NewTruthRepository creates a new truth repository.
func NewTruthRepository(db *sql.DB) *TruthRepository {
	return &TruthRepository{db: db}
}

// StoreTruth inserts a new, immutable Truth row. Uniqueness is
// enforced on truth_uuid.
func (r *TruthRepository) StoreTruth(ctx context.Context, t Truth) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO truths (truth_uuid, key_share, method_name, mime_type, encrypted_truth, expiration)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TruthUUID[:], t.KeyShare, t.MethodName, t.MimeType, t.EncryptedTruth, t.Expiration,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: store_truth: %w", err)
	}
	return nil
}

// EscrowChallenge is the method-relevant half of a Truth: what the
// plugin needs to run a challenge, without the key share.
type EscrowChallenge struct {
	EncryptedTruth []byte
	MimeType       string
	MethodName     string
	Expiration     time.Time
}

// GetEscrowChallenge returns the method-relevant half of a Truth.
func (r *TruthRepository) GetEscrowChallenge(ctx context.Context, uuid TruthUUID) (*EscrowChallenge, error) {
	var ec EscrowChallenge
	err := r.db.QueryRowContext(ctx,
		`SELECT encrypted_truth, mime_type, method_name, expiration FROM truths WHERE truth_uuid = $1`,
		uuid[:],
	).Scan(&ec.EncryptedTruth, &ec.MimeType, &ec.MethodName, &ec.Expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get_escrow_challenge: %w", err)
	}
	return &ec, nil
}

// GetKeyShare releases the encrypted key share, the client's reward
// for satisfying the challenge.
func (r *TruthRepository) GetKeyShare(ctx context.Context, uuid TruthUUID) ([]byte, error) {
	var keyShare []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT key_share FROM truths WHERE truth_uuid = $1`, uuid[:],
	).Scan(&keyShare)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get_key_share: %w", err)
	}
	return keyShare, nil
}
