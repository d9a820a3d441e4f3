package authorization

import (
	"context"
	"log"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/catalog"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// SMSPlugin delivers the challenge code via a helper command that
// sends an SMS to the phone number stored in the truth (spec.md §6,
// section authorization-sms: COMMAND receives the address on argv and
// the message body on stdin).
type SMSPlugin struct {
	sender  *helperSender
	cost    amount.Amount
	catalog *catalog.Catalog
}

// NewSMSPlugin builds the sms plugin around the configured helper
// command. A nil cat falls back to the built-in message templates.
func NewSMSPlugin(command string, timeout time.Duration, cost amount.Amount, logger *log.Logger, cat *catalog.Catalog) *SMSPlugin {
	if cat == nil {
		cat = catalog.Default()
	}
	return &SMSPlugin{sender: newHelperSender(command, timeout, logger), cost: cost, catalog: cat}
}

func (p *SMSPlugin) Metadata() Metadata {
	return Metadata{
		Cost:                        p.cost,
		RetryCounter:                3,
		CodeValidityPeriod:          24 * time.Hour,
		CodeRotationPeriod:          time.Hour,
		CodeRetransmissionFrequency: time.Minute,
	}
}

func (p *SMSPlugin) Validate(mimeType string, data []byte) error {
	if len(data) < 5 || data[0] != '+' {
		return ErrInvalidTruth
	}
	return nil
}

func (p *SMSPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	return newHelperState(string(encryptedTruth), code), nil
}

func (p *SMSPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	hs, ok := state.(*helperState)
	if !ok {
		return Outcome{Result: FailedReplyFailed}, nil
	}
	phone, code := hs.address, hs.code
	_, body, err := p.catalog.Render("sms", catalog.Data{Code: code, Address: phone})
	if err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not render message")}, nil
	}
	if err := p.sender.send(ctx, phone, []byte(body)); err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not send SMS")}, nil
	}
	return Outcome{
		Result:      Success,
		StatusCode:  403,
		Body:        []byte("enter the code sent to your phone"),
		ContentType: "text/plain",
	}, nil
}

func (p *SMSPlugin) Cleanup(state State) {}
