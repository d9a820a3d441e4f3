// Package gate composes the storage engine and the authorization
// plugin framework so that upload and challenge endpoints demand
// payment before admitting a request (spec.md §4.4).
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// Decision is what a gate check tells the HTTP surface to do.
type Decision struct {
	// Admit is true when the request may proceed.
	Admit bool
	// PaymentIdentifier is set whenever a bill is issued (fresh mint or
	// an unpaid identifier being re-billed); the HTTP surface echoes it
	// in the 402 response.
	PaymentIdentifier storage.PaymentIdentifier
	// Repeat is true when PaymentIdentifier was already on file (unpaid,
	// or paid but out of counter), as opposed to being freshly minted.
	Repeat bool
}

// newPaymentIdentifier mints a fresh, effectively-unique 32-byte
// payment identifier out of two UUIDv4s.
func newPaymentIdentifier() storage.PaymentIdentifier {
	var id storage.PaymentIdentifier
	a, b := uuid.New(), uuid.New()
	copy(id[0:16], a[:])
	copy(id[16:32], b[:])
	return id
}

// Gate composes the repositories the payment checks need.
type Gate struct {
	recdocPayments    *storage.RecdocPaymentRepository
	challengePayments *storage.ChallengePaymentRepository
	accounts          *storage.AccountRepository
}

// New builds a Gate over the given repositories.
func New(recdocPayments *storage.RecdocPaymentRepository, challengePayments *storage.ChallengePaymentRepository, accounts *storage.AccountRepository) *Gate {
	return &Gate{recdocPayments: recdocPayments, challengePayments: challengePayments, accounts: accounts}
}

// CheckRecdocUpload implements the recovery-document upload gate
// (spec.md §4.4 (a)): given a client-presented identifier (may be the
// zero value, meaning "none presented"), decide whether to admit,
// re-bill, or mint a fresh bill.
func (g *Gate) CheckRecdocUpload(ctx context.Context, pub storage.AccountPub, presented storage.PaymentIdentifier, cost amount.Amount, postCounter uint32) (Decision, error) {
	if presented != (storage.PaymentIdentifier{}) {
		status, err := g.recdocPayments.CheckRecdocPaymentIdentifier(ctx, presented)
		if err != nil {
			return Decision{}, err
		}
		if status.Found {
			if status.Paid && status.PostCounter > 0 {
				return Decision{Admit: true}, nil
			}
			return Decision{PaymentIdentifier: presented, Repeat: true}, nil
		}
	}

	id := newPaymentIdentifier()
	if err := g.recdocPayments.RecordRecdocPayment(ctx, pub, id, cost, postCounter); err != nil {
		return Decision{}, fmt.Errorf("gate: record_recdoc_payment: %w", err)
	}
	return Decision{PaymentIdentifier: id}, nil
}

// CheckChallengeIssuance implements the challenge-issuance gate
// (spec.md §4.4 (c)) for a method whose Metadata.PaymentPluginManaged
// is false. Methods with PaymentPluginManaged true must not call this;
// the HTTP surface checks that flag before reaching for the gate.
func (g *Gate) CheckChallengeIssuance(ctx context.Context, truthUUID storage.TruthUUID, presented storage.PaymentIdentifier, meta authorization.Metadata) (Decision, error) {
	if meta.Cost.IsZero() {
		return Decision{Admit: true}, nil
	}

	if presented != (storage.PaymentIdentifier{}) {
		status, err := g.challengePayments.CheckChallengePaymentIdentifier(ctx, truthUUID, presented)
		if err != nil {
			return Decision{}, err
		}
		if status.Found {
			if status.Paid && status.Counter > 0 {
				return Decision{Admit: true}, nil
			}
			return Decision{PaymentIdentifier: presented, Repeat: true}, nil
		}
	}

	id := newPaymentIdentifier()
	if err := g.challengePayments.RecordChallengePayment(ctx, truthUUID, id, meta.Cost, meta.RetryCounter); err != nil {
		return Decision{}, fmt.Errorf("gate: record_challenge_payment: %w", err)
	}
	return Decision{PaymentIdentifier: id}, nil
}

// CheckAccountExpiration implements the recovery-document GET gate
// (spec.md §4.4 (b)): an expired or unknown account must be (re-)paid
// before its recovery document is served.
func (g *Gate) CheckAccountExpiration(ctx context.Context, pub storage.AccountPub) (Decision, error) {
	lookup, status := g.accounts.LookupAccount(ctx, pub)
	if status == storage.AccountHardError {
		return Decision{}, fmt.Errorf("gate: lookup_account: hard error")
	}
	if status == storage.AccountPaymentRequired {
		return Decision{Admit: false}, nil
	}
	return Decision{Admit: lookup.PaidUntil.After(time.Now())}, nil
}
