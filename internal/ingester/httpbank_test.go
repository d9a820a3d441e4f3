package ingester

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPBankClientParsesCreditHistory(t *testing.T) {
	var gotAuth string
	var gotReq creditHistoryRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]creditHistoryEntry{
			{
				WireReference: 7,
				WireSubject:   "anastasis 42",
				Amount:        "EUR:1.50000000",
				DebitAccount:  "payto://iban/DE00",
				CreditAccount: "payto://iban/DE11",
				ExecutionDate: 1700000000,
			},
		})
	}))
	defer server.Close()

	client := NewHTTPBankClient(server.URL, "secret-token")
	transfers, err := client.CreditHistory(context.Background(), 5, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization header = %q", gotAuth)
	}
	if gotReq.SinceWireReference != 5 || gotReq.Batch != 10 {
		t.Fatalf("request = %+v", gotReq)
	}
	if len(transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(transfers))
	}
	got := transfers[0]
	if got.WireReference != 7 || got.WireSubject != "anastasis 42" {
		t.Fatalf("transfer = %+v", got)
	}
	if got.Amount.String() != "EUR:1.50000000" {
		t.Fatalf("amount = %q", got.Amount.String())
	}
}
