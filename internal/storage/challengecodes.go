package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ChallengeCodeRepository implements create_challenge_code,
// verify_challenge_code, mark_challenge_code_satisfied,
// test_challenge_code_satisfied and mark_challenge_sent (spec.md §4.1,
// §4.2, §8).
type ChallengeCodeRepository struct {
	db                 *sql.DB
	challengePayments  *ChallengePaymentRepository
}

// NewChallengeCodeRepository creates a new challenge-code repository.
func NewChallengeCodeRepository(db *sql.DB, challengePayments *ChallengePaymentRepository) *ChallengeCodeRepository {
	return &ChallengeCodeRepository{db: db, challengePayments: challengePayments}
}

// maxChallengeCode is 2^52 - 1: the spec bounds challenge codes to 52
// bits so they round-trip cleanly through the client's reducer.
const maxChallengeCode = (uint64(1) << 52) - 1

func randomChallengeCode() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]) & maxChallengeCode, nil
}

// CreateChallengeCode implements the idempotent minting algorithm of
// spec.md §4.1 and §8's "rotation idempotency" boundary behavior:
// within rotationPeriod, the existing unexpired code is returned
// unchanged (with the SAME retransmission date); a code whose
// retry_counter has been exhausted forces the caller to wait rather
// than minting a fresh one; otherwise a new 52-bit code is generated.
func (r *ChallengeCodeRepository) CreateChallengeCode(
	ctx context.Context,
	truthUUID TruthUUID,
	rotationPeriod, validityPeriod time.Duration,
	retryCounter uint32,
) (CreateCodeStatus, ChallengeCode, error) {
	var status CreateCodeStatus
	var out ChallengeCode

	err := runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now()
		var code uint64
		var creation, expiration, retransmission time.Time
		var retries uint32
		err := tx.QueryRowContext(ctx,
			`SELECT code, creation_date, expiration_date, retry_counter, retransmission_date
			 FROM challenge_codes
			 WHERE truth_uuid = $1 AND creation_date > $2 AND expiration_date > $3
			 ORDER BY creation_date DESC LIMIT 1`,
			truthUUID[:], now.Add(-rotationPeriod), now,
		).Scan(&code, &creation, &expiration, &retries, &retransmission)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			newCode, rerr := randomChallengeCode()
			if rerr != nil {
				return rerr
			}
			out = ChallengeCode{
				TruthUUID:          truthUUID,
				Code:               newCode,
				CreationDate:       now,
				ExpirationDate:     now.Add(validityPeriod),
				RetryCounter:       retryCounter,
				RetransmissionDate: time.Unix(0, 0).UTC(),
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO challenge_codes (truth_uuid, code, creation_date, expiration_date, retry_counter, retransmission_date, satisfied)
				 VALUES ($1, $2, $3, $4, $5, $6, false)`,
				truthUUID[:], int64(out.Code), out.CreationDate, out.ExpirationDate, out.RetryCounter, out.RetransmissionDate,
			)
			if err != nil {
				return err
			}
			status = CreateCodeOneResult
			return nil
		case err != nil:
			return err
		}

		if retries == 0 {
			status = CreateCodeNoResults
			return nil
		}

		out = ChallengeCode{
			TruthUUID:          truthUUID,
			Code:               code,
			CreationDate:       creation,
			ExpirationDate:     expiration,
			RetryCounter:       retries,
			RetransmissionDate: retransmission,
		}
		status = CreateCodeOneResult
		return nil
	})
	if err != nil {
		return CreateCodeSoftError, ChallengeCode{}, fmt.Errorf("storage: create_challenge_code: %w", err)
	}
	return status, out, nil
}

// VerifyChallengeCode implements spec.md §4.1/§4.2/§8: it iterates
// unexpired codes with retry_counter > 0, comparing hashedCode against
// hash(code) for each; on a match it returns (code, satisfied) without
// touching retry_counter; on no match across at least one candidate it
// decrements the LATEST candidate's retry_counter by exactly 1 before
// returning CHALLENGE_CODE_MISMATCH — the decrement happens before the
// response is composed so a disconnecting client cannot dodge the
// penalty (spec.md §4.2 tie-break policy).
func (r *ChallengeCodeRepository) VerifyChallengeCode(ctx context.Context, truthUUID TruthUUID, hashedCode func(code uint64) [32]byte, targetHash [32]byte) (CodeStatus, uint64, bool, error) {
	var status CodeStatus
	var outCode uint64
	var outSatisfied bool

	err := runSerializable(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT code, satisfied FROM challenge_codes
			 WHERE truth_uuid = $1 AND retry_counter > 0 AND expiration_date > now()
			 ORDER BY creation_date DESC`,
			truthUUID[:],
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		type candidate struct {
			code      uint64
			satisfied bool
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			var rawCode int64
			if err := rows.Scan(&rawCode, &c.satisfied); err != nil {
				return err
			}
			c.code = uint64(rawCode)
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(candidates) == 0 {
			status = CodeNoResults
			return nil
		}

		for _, c := range candidates {
			if hashedCode(c.code) == targetHash {
				status = CodeValidStored
				outCode = c.code
				outSatisfied = c.satisfied
				return nil
			}
		}

		// No match: penalize the latest (first) candidate.
		latest := candidates[0]
		if _, err := tx.ExecContext(ctx,
			`UPDATE challenge_codes SET retry_counter = retry_counter - 1
			 WHERE truth_uuid = $1 AND code = $2`,
			truthUUID[:], int64(latest.code),
		); err != nil {
			return err
		}
		status = CodeMismatch
		return nil
	})
	if err != nil {
		return CodeSoftError, 0, false, fmt.Errorf("storage: verify_challenge_code: %w", err)
	}
	return status, outCode, outSatisfied, nil
}

// MarkChallengeCodeSatisfied sets satisfied=true on the most recent
// row matching (truthUUID, code). Idempotent: calling it twice has the
// same effect as once (spec.md §8).
func (r *ChallengeCodeRepository) MarkChallengeCodeSatisfied(ctx context.Context, truthUUID TruthUUID, code uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE challenge_codes SET satisfied = true
		 WHERE truth_uuid = $1 AND code = $2 AND creation_date = (
		   SELECT creation_date FROM challenge_codes WHERE truth_uuid = $1 AND code = $2 ORDER BY creation_date DESC LIMIT 1
		 )`,
		truthUUID[:], int64(code),
	)
	if err != nil {
		return fmt.Errorf("storage: mark_challenge_code_satisfied: %w", err)
	}
	return nil
}

// TestChallengeCodeSatisfied returns QueryOneResult iff a satisfied
// row for (truthUUID, code) exists with creation_date > after.
func (r *ChallengeCodeRepository) TestChallengeCodeSatisfied(ctx context.Context, truthUUID TruthUUID, code uint64, after time.Time) (QueryStatus, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM challenge_codes WHERE truth_uuid = $1 AND code = $2 AND satisfied = true AND creation_date > $3)`,
		truthUUID[:], int64(code), after,
	).Scan(&exists)
	if err != nil {
		return QueryHardError, fmt.Errorf("storage: test_challenge_code_satisfied: %w", err)
	}
	if exists {
		return QueryOneResult, nil
	}
	return QueryNoResults, nil
}

// MarkChallengeSent sets retransmission_date = now on the latest
// matching code, then, if paymentIdentifier is non-nil, decrements the
// challenge-payment counter for (truthUUID, *paymentIdentifier)
// (spec.md §4.1, §4.2). The HTTP surface passes a non-nil
// paymentIdentifier only for methods with a non-zero cost that are
// charged through the generic payment gate; payment-plugin-managed
// methods pass nil.
func (r *ChallengeCodeRepository) MarkChallengeSent(ctx context.Context, truthUUID TruthUUID, code uint64, now time.Time, paymentIdentifier *PaymentIdentifier) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE challenge_codes SET retransmission_date = $3
		 WHERE truth_uuid = $1 AND code = $2 AND creation_date = (
		   SELECT creation_date FROM challenge_codes WHERE truth_uuid = $1 AND code = $2 ORDER BY creation_date DESC LIMIT 1
		 )`,
		truthUUID[:], int64(code), now,
	)
	if err != nil {
		return fmt.Errorf("storage: mark_challenge_sent: %w", err)
	}

	if paymentIdentifier != nil && r.challengePayments != nil {
		if _, err := r.challengePayments.DecrementCounter(ctx, truthUUID, *paymentIdentifier); err != nil {
			return err
		}
	}
	return nil
}
