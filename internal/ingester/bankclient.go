// Package ingester continuously imports inbound bank transfers and
// turns each one into a persistent wire record plus a database event a
// suspended IBAN challenge can observe (spec.md §4.3).
package ingester

import (
	"context"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
)

// CreditTransfer is one inbound wire transfer as reported by the bank.
type CreditTransfer struct {
	WireReference uint64
	WireSubject   string
	Amount        amount.Amount
	DebitAccount  string
	CreditAccount string
	ExecutionDate time.Time
}

// BankClient abstracts the bank API's long-polling "credit history"
// call; the ingester only depends on this interface, never on a
// concrete bank adapter.
type BankClient interface {
	// CreditHistory returns transfers credited to the configured
	// account strictly after sinceWireReference, in ascending
	// wire_reference order, up to batch entries. It blocks up to
	// timeout waiting for at least one new transfer; an empty result
	// with a nil error means the long-poll simply timed out.
	CreditHistory(ctx context.Context, sinceWireReference uint64, batch int, timeout time.Duration) ([]CreditTransfer, error)
}
