package authorization

import (
	"context"
	"log"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/catalog"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// PostPlugin delivers the challenge code via postal mail, by invoking
// a helper command that renders and mails a letter to the postal
// address stored in the truth. Postal delivery is slow, so its
// retransmission frequency is much coarser than SMS or e-mail.
type PostPlugin struct {
	sender  *helperSender
	cost    amount.Amount
	catalog *catalog.Catalog
}

// NewPostPlugin builds the post plugin around the configured helper
// command. A nil cat falls back to the built-in message templates.
func NewPostPlugin(command string, timeout time.Duration, cost amount.Amount, logger *log.Logger, cat *catalog.Catalog) *PostPlugin {
	if cat == nil {
		cat = catalog.Default()
	}
	return &PostPlugin{sender: newHelperSender(command, timeout, logger), cost: cost, catalog: cat}
}

func (p *PostPlugin) Metadata() Metadata {
	return Metadata{
		Cost:                        p.cost,
		RetryCounter:                3,
		CodeValidityPeriod:          30 * 24 * time.Hour,
		CodeRotationPeriod:          7 * 24 * time.Hour,
		CodeRetransmissionFrequency: 7 * 24 * time.Hour,
	}
}

func (p *PostPlugin) Validate(mimeType string, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidTruth
	}
	return nil
}

func (p *PostPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	return newHelperState(string(encryptedTruth), code), nil
}

func (p *PostPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	hs, ok := state.(*helperState)
	if !ok {
		return Outcome{Result: FailedReplyFailed}, nil
	}
	_, body, err := p.catalog.Render("post", catalog.Data{Code: hs.code, Address: hs.address})
	if err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not render message")}, nil
	}
	if err := p.sender.send(ctx, hs.address, []byte(body)); err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not queue letter")}, nil
	}
	return Outcome{
		Result:      Success,
		StatusCode:  403,
		Body:        []byte("enter the code sent to your postal address"),
		ContentType: "text/plain",
	}, nil
}

func (p *PostPlugin) Cleanup(state State) {}
