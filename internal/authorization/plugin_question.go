package authorization

import (
	"context"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// QuestionPlugin is the "question" method: the truth's encrypted_truth
// is an opaque blob only the client can decrypt and display (a
// security question and its expected hashed answer); the server's only
// job is to hand that blob back so the client can prompt the user. The
// answer itself is checked by the HTTP surface (via
// VerifyChallengeCode), not by this plugin.
type QuestionPlugin struct {
	cost amount.Amount
}

// NewQuestionPlugin builds the question plugin.
func NewQuestionPlugin(cost amount.Amount) *QuestionPlugin {
	return &QuestionPlugin{cost: cost}
}

func (p *QuestionPlugin) Metadata() Metadata {
	return Metadata{
		Cost:               p.cost,
		RetryCounter:       3,
		CodeValidityPeriod: 24 * time.Hour,
		CodeRotationPeriod: time.Hour,
	}
}

func (p *QuestionPlugin) Validate(mimeType string, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidTruth
	}
	return nil
}

func (p *QuestionPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	s := newBaseState()
	s.wake()
	return s, nil
}

func (p *QuestionPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	return Outcome{
		Result:      Success,
		StatusCode:  403,
		Body:        []byte("enter the answer to the security question"),
		ContentType: "text/plain",
	}, nil
}

func (p *QuestionPlugin) Cleanup(state State) {}
