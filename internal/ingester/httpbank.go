package ingester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
)

// HTTPBankClient implements BankClient against a bank's REST "credit
// history" endpoint: POST {baseURL}/history/incoming with a JSON body
// naming the cursor, batch size and long-poll timeout, returning a
// JSON array of transfers. The exact bank wire protocol is out of
// scope; this adapter only needs to satisfy the abstract interface
// the ingester depends on.
type HTTPBankClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPBankClient builds a bank client against baseURL, sending
// authToken as a bearer token when non-empty.
func NewHTTPBankClient(baseURL, authToken string) *HTTPBankClient {
	return &HTTPBankClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			// No fixed client-level timeout: the long-poll timeout is
			// carried per-request via ctx, which can exceed it.
		},
	}
}

type creditHistoryRequest struct {
	SinceWireReference uint64 `json:"since_wire_reference"`
	Batch              int    `json:"batch"`
	TimeoutMs          int64  `json:"timeout_ms"`
}

type creditHistoryEntry struct {
	WireReference uint64 `json:"wire_reference"`
	WireSubject   string `json:"wire_subject"`
	Amount        string `json:"amount"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	ExecutionDate int64  `json:"execution_date_unix"`
}

// CreditHistory implements BankClient.
func (c *HTTPBankClient) CreditHistory(ctx context.Context, sinceWireReference uint64, batch int, timeout time.Duration) ([]CreditTransfer, error) {
	reqBody, err := json.Marshal(creditHistoryRequest{
		SinceWireReference: sinceWireReference,
		Batch:              batch,
		TimeoutMs:          timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("ingester: marshal credit_history request: %w", err)
	}

	url := c.baseURL + "/history/incoming"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ingester: build credit_history request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ingester: credit_history request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingester: reading credit_history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingester: bank returned status %d: %s", resp.StatusCode, string(body))
	}

	var entries []creditHistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("ingester: parsing credit_history response: %w", err)
	}

	transfers := make([]CreditTransfer, 0, len(entries))
	for _, e := range entries {
		amt, err := amount.Parse(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("ingester: parsing transfer amount %q: %w", e.Amount, err)
		}
		transfers = append(transfers, CreditTransfer{
			WireReference: e.WireReference,
			WireSubject:   e.WireSubject,
			Amount:        amt,
			DebitAccount:  e.DebitAccount,
			CreditAccount: e.CreditAccount,
			ExecutionDate: time.Unix(e.ExecutionDate, 0).UTC(),
		})
	}
	return transfers, nil
}
