// Package authorization implements the challenge authorization plugin
// framework (spec.md §4.2): a uniform interface the HTTP surface calls
// to issue and verify a challenge for one truth, plus the built-in
// authentication methods.
package authorization

import (
	"context"
	"errors"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// ErrInvalidTruth is returned by Validate when the truth payload fails
// its method-specific syntactic check (a malformed phone number, IBAN,
// TOTP secret length, and so on).
var ErrInvalidTruth = errors.New("authorization: invalid truth payload")

// Metadata is a plugin's fixed, init-time configuration (spec.md §4.2).
type Metadata struct {
	// Cost is the price charged per challenge issuance; zero for free
	// methods.
	Cost amount.Amount
	// PaymentPluginManaged, if true, means the plugin itself decides
	// when the user has paid (IBAN); the generic gate in §4.4 is
	// bypassed for this method.
	PaymentPluginManaged bool
	// RetryCounter is the initial retry_counter placed in freshly
	// minted challenge codes.
	RetryCounter uint32
	// CodeValidityPeriod is how long a minted code remains valid.
	CodeValidityPeriod time.Duration
	// CodeRotationPeriod is the idempotency window: how long before a
	// new code may be minted for the same truth.
	CodeRotationPeriod time.Duration
	// CodeRetransmissionFrequency is the minimum interval between
	// re-sending the same code over the plugin's side channel.
	CodeRetransmissionFrequency time.Duration
	// UserProvidedCode, if true (TOTP), means the code is produced by
	// the user's device rather than minted by the server; Start is
	// invoked with code 0 and Process verifies a caller-supplied
	// response against a time-windowed set of acceptable codes.
	UserProvidedCode bool
}

// State is the per-request resource a plugin creates in Start and
// releases in Cleanup: event subscriptions, child-process handles, or
// (for TOTP) the precomputed acceptable-code window. Ready is closed
// when the plugin's asynchronous work resolves, letting Process select
// on it against the caller's deadline instead of being re-invoked via
// an explicit callback.
type State interface {
	Ready() <-chan struct{}
}

// Outcome is what Process produces for the HTTP surface to relay: a
// result plus, for terminal non-Finished results, the reply body to
// queue for the client.
type Outcome struct {
	Result      ProcessResult
	StatusCode  int
	Body        []byte
	ContentType string
}

// Plugin is one authentication method's implementation of the contract
// in spec.md §4.2.
type Plugin interface {
	Metadata() Metadata

	// Validate performs a cheap syntactic check on a truth payload
	// before payment is charged.
	Validate(mimeType string, data []byte) error

	// Start creates per-request state. If the method requires no
	// challenge-code round trip (file), it atomically marks the code as
	// satisfied in the same call; totp marks it in Process once the
	// supplied response matches.
	Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error)

	// Process produces a reply for the connection and/or progresses
	// the authentication. response is the client-supplied "response"
	// query parameter, used only by plugins with UserProvidedCode.
	Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error)

	// Cleanup releases state: cancels child processes or event
	// listeners, kills outstanding timeouts. Must be safe to call in
	// every state, including after suspension or a cleanup retry.
	Cleanup(state State)
}
