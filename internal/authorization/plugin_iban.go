package authorization

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
	"github.com/anastasis-sarl/anastasis-provider/internal/wiresubject"
)

// ibanState tracks the event subscription the IBAN plugin holds open
// while waiting for a matching wire transfer, and carries the result
// once it resolves so Process can report it.
type ibanState struct {
	*baseState
	events    *storage.EventBus
	handle    storage.EventHandle
	truthUUID storage.TruthUUID
	code      uint64
	matched   bool
}

// cancel cancels the subscription; safe to call more than once.
func (s *ibanState) cancel() {
	s.events.Cancel(s.handle)
}

// IBANPlugin is the "iban" method: payment_plugin_managed. The user
// pays by making a wire transfer whose subject embeds the challenge
// code; a matching transfer is simultaneously "payment received" and
// "challenge satisfied" (spec.md §4.2, §4.4).
type IBANPlugin struct {
	wire         *storage.WireRepository
	events       *storage.EventBus
	marker       ChallengeMarker
	creditIBAN   string
	businessName string
	cost         amount.Amount
}

// NewIBANPlugin builds the IBAN plugin bound to the operator's
// configured credit account.
func NewIBANPlugin(wire *storage.WireRepository, events *storage.EventBus, marker ChallengeMarker, creditIBAN, businessName string, cost amount.Amount) *IBANPlugin {
	return &IBANPlugin{wire: wire, events: events, marker: marker, creditIBAN: creditIBAN, businessName: businessName, cost: cost}
}

func (p *IBANPlugin) Metadata() Metadata {
	return Metadata{
		Cost:                 p.cost,
		PaymentPluginManaged: true,
		RetryCounter:         0xFFFFFFFF, // long-poll indefinitely for the wire transfer (spec.md §4.4)
		CodeValidityPeriod:   30 * 24 * time.Hour,
		CodeRotationPeriod:   24 * time.Hour,
	}
}

func (p *IBANPlugin) Validate(mimeType string, data []byte) error {
	if len(data) < 8 {
		return ErrInvalidTruth
	}
	return nil
}

// sufficientTransfer accepts a wire transfer as proof of payment when
// its credited amount is at least the configured cost and its subject
// contains the expected code; reimplemented directly rather than
// carried over from an ambiguous amount comparison.
func sufficientTransfer(cost amount.Amount, code uint64) storage.WireTransferCheck {
	return func(credit amount.Amount, subject string) bool {
		if credit.Currency != cost.Currency {
			return false
		}
		cmp, err := amount.Cmp(credit, cost)
		if err != nil {
			return false
		}
		return cmp >= 0 && wiresubject.HasCode(subject, code)
	}
}

func (p *IBANPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	debitIBAN := string(encryptedTruth)
	debitHash := sha256.Sum256([]byte(debitIBAN))

	s := &ibanState{baseState: newBaseState(), events: p.events, truthUUID: truthUUID, code: code}

	handle, err := p.events.Listen(ctx, storage.EventSpec{
		Type: storage.AuthIBANTransfer, Code: code, DebitIBANHash: debitHash,
	}, func(extra string) {
		s.matched = true
		s.wake()
	})
	if err != nil {
		return nil, err
	}
	s.handle = handle

	// Close the race window: a transfer that arrived before this
	// subscription was registered would otherwise never notify it.
	status, err := p.wire.TestAuthIBANPayment(ctx, debitIBAN, p.creditIBAN, time.Time{}, sufficientTransfer(p.cost, code))
	if err != nil {
		s.cancel()
		return nil, err
	}
	if status == storage.QueryOneResult {
		s.matched = true
		s.wake()
	}

	return s, nil
}

func (p *IBANPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	is, ok := state.(*ibanState)
	if !ok {
		return Outcome{Result: FailedReplyFailed}, nil
	}

	select {
	case <-is.Ready():
	case <-time.After(time.Until(deadline)):
		return Outcome{
			Result:      Suspended,
			StatusCode:  202,
			Body:        []byte("awaiting wire transfer, please retry"),
			ContentType: "text/plain",
		}, nil
	case <-ctx.Done():
		return Outcome{Result: FailedReplyFailed}, ctx.Err()
	}

	if !is.matched {
		return Outcome{Result: FailedReplyFailed}, nil
	}
	if err := p.marker.MarkChallengeCodeSatisfied(ctx, is.truthUUID, is.code); err != nil {
		return Outcome{Result: FailedReplyFailed}, err
	}
	return Outcome{Result: Finished}, nil
}

func (p *IBANPlugin) Cleanup(state State) {
	if is, ok := state.(*ibanState); ok {
		is.cancel()
	}
}
