package gate

import (
	"context"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func newTestGate(t *testing.T) *Gate {
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
	if _, err := client.DB().Exec(`TRUNCATE accounts, truths CASCADE`); err != nil {
		t.Fatal(err)
	}
	repos := storage.NewRepositories(client, 7*24*time.Hour)
	return New(repos.RecdocPayments, repos.ChallengePayments, repos.Accounts)
}

func randomAccountPub(t *testing.T) storage.AccountPub {
	t.Helper()
	var pub storage.AccountPub
	if _, err := rand.Read(pub[:]); err != nil {
		t.Fatal(err)
	}
	return pub
}

func TestCheckRecdocUploadMintsThenAdmits(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	pub := randomAccountPub(t)

	decision, err := g.CheckRecdocUpload(ctx, pub, storage.PaymentIdentifier{}, amount.MustParse("EUR:1"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Admit {
		t.Fatal("fresh upload with no prior payment must not be admitted")
	}
	if decision.PaymentIdentifier == (storage.PaymentIdentifier{}) {
		t.Fatal("expected a freshly minted payment identifier")
	}
}

func TestCheckAccountExpirationUnknownAccount(t *testing.T) {
	g := newTestGate(t)
	decision, err := g.CheckAccountExpiration(context.Background(), randomAccountPub(t))
	if err != nil {
		t.Fatal(err)
	}
	if decision.Admit {
		t.Fatal("unknown account must not be admitted")
	}
}
