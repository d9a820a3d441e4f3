package ingester

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// fakeBank replays a fixed batch once, then reports empty forever, so
// Run in test mode terminates deterministically.
type fakeBank struct {
	batch []CreditTransfer
	calls int
}

func (b *fakeBank) CreditHistory(ctx context.Context, since uint64, batch int, timeout time.Duration) ([]CreditTransfer, error) {
	b.calls++
	if b.calls == 1 {
		var out []CreditTransfer
		for _, t := range b.batch {
			if t.WireReference > since {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return nil, nil
}

func newTestWireRepo(t *testing.T) *storage.WireRepository {
	t.Helper()
	connStr := os.Getenv("ANASTASIS_TEST_DB")
	if connStr == "" {
		t.Skip("test database not configured (set ANASTASIS_TEST_DB)")
	}
	client, err := storage.NewClient(&config.Config{DatabaseURL: connStr, DatabaseMaxConns: 5, DatabaseMinConns: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	if err := client.CreateTables(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB().Exec(`TRUNCATE inbound_wire_transfers`); err != nil {
		t.Fatal(err)
	}
	return storage.NewWireRepository(client.DB())
}

func TestIngesterImportsAndExtractsCode(t *testing.T) {
	wire := newTestWireRepo(t)
	bank := &fakeBank{batch: []CreditTransfer{
		{WireReference: 1, WireSubject: "Anastasis 1234 thank you", Amount: amount.MustParse("EUR:1"), DebitAccount: "payto://iban/DE1", CreditAccount: "payto://iban/OP", ExecutionDate: time.Now()},
		{WireReference: 2, WireSubject: "no keyword here", Amount: amount.MustParse("EUR:1"), DebitAccount: "payto://iban/DE1", CreditAccount: "payto://iban/OP", ExecutionDate: time.Now()},
	}}

	g := New(bank, wire, log.New(os.Stderr, "", 0), "payto://iban/OP", 1024, time.Second, time.Millisecond, WithTestMode())
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last, err := wire.GetLastAuthIBANPaymentRow(context.Background(), "payto://iban/OP")
	if err != nil || last != 2 {
		t.Fatalf("GetLastAuthIBANPaymentRow = %d, %v; want 2, nil", last, err)
	}
}

func TestIngesterRejectsNonMonotonicReference(t *testing.T) {
	wire := newTestWireRepo(t)
	bank := &fakeBank{batch: []CreditTransfer{
		{WireReference: 5, WireSubject: "anastasis 1", Amount: amount.MustParse("EUR:1"), DebitAccount: "payto://iban/DE1", CreditAccount: "payto://iban/OP", ExecutionDate: time.Now()},
		{WireReference: 5, WireSubject: "anastasis 2", Amount: amount.MustParse("EUR:1"), DebitAccount: "payto://iban/DE1", CreditAccount: "payto://iban/OP", ExecutionDate: time.Now()},
	}}

	g := New(bank, wire, log.New(os.Stderr, "", 0), "payto://iban/OP", 1024, time.Second, time.Millisecond, WithTestMode())
	if err := g.Run(context.Background()); err != ErrNonMonotonicWireReference {
		t.Fatalf("Run = %v; want ErrNonMonotonicWireReference", err)
	}
}
