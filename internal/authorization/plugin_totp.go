package authorization

import (
	"context"
	"strconv"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// totpState holds the acceptable-code window computed at Start; it
// never needs to wait on anything external, so it is always ready.
type totpState struct {
	*baseState
	truthUUID storage.TruthUUID
	window    []uint32
}

// TOTPPlugin is the "totp" method: user_provided_code=true, so start is
// invoked with code 0 and verification happens in Process against a
// time-windowed set of acceptable codes (spec.md §4.2).
type TOTPPlugin struct {
	cost   amount.Amount
	window int // k: codes accepted are [-k, +k] steps from now
	marker ChallengeMarker
}

// NewTOTPPlugin builds the TOTP plugin. window is the k in "2k+1
// acceptable codes"; the original design constant is 2.
func NewTOTPPlugin(cost amount.Amount, window int, marker ChallengeMarker) *TOTPPlugin {
	if window <= 0 {
		window = 2
	}
	return &TOTPPlugin{cost: cost, window: window, marker: marker}
}

func (p *TOTPPlugin) Metadata() Metadata {
	return Metadata{
		Cost:               p.cost,
		RetryCounter:       3,
		CodeValidityPeriod: 24 * time.Hour,
		CodeRotationPeriod: time.Hour,
		UserProvidedCode:   true,
	}
}

func (p *TOTPPlugin) Validate(mimeType string, data []byte) error {
	if len(data) < 10 {
		return ErrInvalidTruth
	}
	return nil
}

func (p *TOTPPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	s := &totpState{baseState: newBaseState(), truthUUID: truthUUID, window: totpWindow(encryptedTruth, time.Now().Unix(), p.window)}
	s.wake()
	return s, nil
}

func (p *TOTPPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	ts, ok := state.(*totpState)
	if !ok {
		return Outcome{Result: FailedReplyFailed}, nil
	}

	given, err := strconv.ParseUint(response, 10, 32)
	if err != nil {
		return Outcome{Result: Failed, StatusCode: 403, Body: []byte("malformed response code")}, nil
	}

	for _, candidate := range ts.window {
		if uint32(given) == candidate {
			if err := p.marker.MarkChallengeCodeSatisfied(ctx, ts.truthUUID, 0); err != nil {
				return Outcome{Result: FailedReplyFailed}, err
			}
			return Outcome{Result: Finished}, nil
		}
	}
	return Outcome{Result: Failed, StatusCode: 403, Body: []byte("code does not match")}, nil
}

func (p *TOTPPlugin) Cleanup(state State) {}
