package authorization

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/catalog"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func TestSMSPluginValidateRequiresLeadingPlus(t *testing.T) {
	p := NewSMSPlugin("/bin/true", time.Second, amount.MustParse("EUR:0.1"), nil, nil)
	if err := p.Validate("text/plain", []byte("+490000000")); err != nil {
		t.Fatalf("valid phone number rejected: %v", err)
	}
	if err := p.Validate("text/plain", []byte("490000000")); err == nil {
		t.Fatal("phone number without leading + should be rejected")
	}
}

func TestSMSPluginProcessRunsHelperAndUsesCatalog(t *testing.T) {
	cat, err := newInlineCatalog(t, `sms:
  body: "code={{.Code}} to={{.Address}}"
`)
	if err != nil {
		t.Fatal(err)
	}
	p := NewSMSPlugin("/bin/true", time.Second, amount.MustParse("EUR:0.1"), nil, cat)

	var truthUUID storage.TruthUUID
	state, err := p.Start(context.Background(), truthUUID, 12345, []byte("+491234567"))
	if err != nil {
		t.Fatal(err)
	}
	outcome, err := p.Process(context.Background(), state, time.Now().Add(time.Second), "")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Result != Success {
		t.Fatalf("Process result = %v, want Success", outcome.Result)
	}
}

func newInlineCatalog(t *testing.T, yaml string) (*catalog.Catalog, error) {
	t.Helper()
	path := t.TempDir() + "/catalog.yaml"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		return nil, err
	}
	return catalog.Load(path)
}
