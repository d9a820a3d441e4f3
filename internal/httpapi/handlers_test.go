package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/gate"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func newTestHandlers(t *testing.T) *Handlers {
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
	registry := authorization.NewRegistry(map[string]authorization.Plugin{
		"file": authorization.NewFilePlugin(repos.ChallengeCodes),
	})
	g := gate.New(repos.RecdocPayments, repos.ChallengePayments, repos.Accounts)
	return NewHandlers(repos, registry, g, nil, amount.MustParse("EUR:1"), 3, 365*24*time.Hour)
}

func randomUUID32(t *testing.T) storage.TruthUUID {
	t.Helper()
	var u storage.TruthUUID
	if _, err := rand.Read(u[:]); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestStoreTruthThenFileChallengeReleasesKeyShare(t *testing.T) {
	h := newTestHandlers(t)
	truthUUID := randomUUID32(t)

	body, _ := json.Marshal(storeTruthRequest{
		EncryptedTruth: []byte("opaque"),
		KeyShare:       []byte("the-key-share"),
		Method:         "file",
		Mime:           "text/plain",
	})
	req := httptest.NewRequest(http.MethodPost, "/truth/"+encode32(truthUUID), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.routeTruth(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("store truth: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/truth/"+encode32(truthUUID)+"/challenge", nil)
	rec = httptest.NewRecorder()
	h.routeTruth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		KeyShare []byte `json:"key_share"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if string(resp.KeyShare) != "the-key-share" {
		t.Fatalf("key_share = %q, want %q", resp.KeyShare, "the-key-share")
	}
}

func TestStorePolicyRoundTrip(t *testing.T) {
	h := newTestHandlers(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var accountPub storage.AccountPub
	copy(accountPub[:], pub)

	recoveryData := []byte("encrypted backup blob")
	hash := sha512.Sum512(recoveryData)
	sig := ed25519.Sign(priv, hash[:])

	body, _ := json.Marshal(storePolicyRequest{RecoveryData: recoveryData, AccountSig: sig})
	req := httptest.NewRequest(http.MethodPost, "/policy/"+encode32(accountPub), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.routePolicy(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("first upload without payment: status = %d, want 402; body = %s", rec.Code, rec.Body.String())
	}

	var bill struct {
		PaymentIdentifier string `json:"payment_identifier"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bill); err != nil {
		t.Fatal(err)
	}
	identBytes, err := base64.RawURLEncoding.DecodeString(bill.PaymentIdentifier)
	if err != nil || len(identBytes) != 32 {
		t.Fatalf("invalid minted payment identifier %q", bill.PaymentIdentifier)
	}
	var identifier storage.PaymentIdentifier
	copy(identifier[:], identBytes)

	// Simulate the out-of-scope Taler payment confirmation: it marks the
	// recdoc payment paid and extends the account by incrementing its
	// lifetime under the same identifier (idempotent, spec.md §4.1).
	if _, err := h.repos.Accounts.IncrementLifetime(context.Background(), accountPub, identifier, h.paidAccountLifetime); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest(http.MethodPost, "/policy/"+encode32(accountPub), bytes.NewReader(body))
	req.Header.Set(PaymentHeader, bill.PaymentIdentifier)
	rec = httptest.NewRecorder()
	h.routePolicy(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("paid upload: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if v := rec.Header().Get(VersionHeader); v != "1" {
		t.Fatalf("Anastasis-Version = %q, want \"1\"", v)
	}

	req = httptest.NewRequest(http.MethodGet, "/policy/"+encode32(accountPub), nil)
	rec = httptest.NewRecorder()
	h.routePolicy(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get policy: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
