package authorization

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/catalog"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// EmailPlugin delivers the challenge code via a helper command that
// sends an e-mail to the address stored in the truth.
type EmailPlugin struct {
	sender  *helperSender
	cost    amount.Amount
	catalog *catalog.Catalog
}

// NewEmailPlugin builds the email plugin around the configured helper
// command. A nil cat falls back to the built-in message templates.
func NewEmailPlugin(command string, timeout time.Duration, cost amount.Amount, logger *log.Logger, cat *catalog.Catalog) *EmailPlugin {
	if cat == nil {
		cat = catalog.Default()
	}
	return &EmailPlugin{sender: newHelperSender(command, timeout, logger), cost: cost, catalog: cat}
}

func (p *EmailPlugin) Metadata() Metadata {
	return Metadata{
		Cost:                        p.cost,
		RetryCounter:                3,
		CodeValidityPeriod:          24 * time.Hour,
		CodeRotationPeriod:          time.Hour,
		CodeRetransmissionFrequency: time.Minute,
	}
}

func (p *EmailPlugin) Validate(mimeType string, data []byte) error {
	if !strings.Contains(string(data), "@") {
		return ErrInvalidTruth
	}
	return nil
}

func (p *EmailPlugin) Start(ctx context.Context, truthUUID storage.TruthUUID, code uint64, encryptedTruth []byte) (State, error) {
	return newHelperState(string(encryptedTruth), code), nil
}

func (p *EmailPlugin) Process(ctx context.Context, state State, deadline time.Time, response string) (Outcome, error) {
	hs, ok := state.(*helperState)
	if !ok {
		return Outcome{Result: FailedReplyFailed}, nil
	}
	subject, text, err := p.catalog.Render("email", catalog.Data{Code: hs.code, Address: hs.address})
	if err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not render message")}, nil
	}
	if subject == "" {
		subject = "Your Anastasis recovery code"
	}
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s", subject, text)
	if err := p.sender.send(ctx, hs.address, []byte(body)); err != nil {
		return Outcome{Result: Failed, StatusCode: 502, Body: []byte("could not send e-mail")}, nil
	}
	return Outcome{
		Result:      Success,
		StatusCode:  403,
		Body:        []byte("enter the code sent to your e-mail address"),
		ContentType: "text/plain",
	}, nil
}

func (p *EmailPlugin) Cleanup(state State) {}
