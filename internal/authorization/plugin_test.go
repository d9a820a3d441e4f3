package authorization

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// fakeMarker is an in-memory ChallengeMarker used to unit-test plugins
// without a database.
type fakeMarker struct {
	mu        sync.Mutex
	satisfied map[storage.TruthUUID]map[uint64]bool
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{satisfied: make(map[storage.TruthUUID]map[uint64]bool)}
}

func (f *fakeMarker) MarkChallengeCodeSatisfied(ctx context.Context, truthUUID storage.TruthUUID, code uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.satisfied[truthUUID] == nil {
		f.satisfied[truthUUID] = make(map[uint64]bool)
	}
	f.satisfied[truthUUID][code] = true
	return nil
}

func (f *fakeMarker) isSatisfied(truthUUID storage.TruthUUID, code uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.satisfied[truthUUID][code]
}

func TestFilePluginMarksSatisfiedOnStart(t *testing.T) {
	marker := newFakeMarker()
	p := NewFilePlugin(marker)
	var truthUUID storage.TruthUUID
	copy(truthUUID[:], []byte("file-plugin-test-uuid-0000000001"))

	state, err := p.Start(context.Background(), truthUUID, 99, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !marker.isSatisfied(truthUUID, 99) {
		t.Fatal("expected file plugin to mark the code satisfied in Start")
	}

	outcome, err := p.Process(context.Background(), state, time.Now(), "")
	if err != nil || outcome.Result != Finished {
		t.Fatalf("Process = %v, %v; want Finished", outcome.Result, err)
	}
}

func TestTOTPPluginAcceptsWindowCode(t *testing.T) {
	marker := newFakeMarker()
	p := NewTOTPPlugin(amount.Amount{}, 2, marker)
	var truthUUID storage.TruthUUID
	copy(truthUUID[:], []byte("totp-plugin-test-uuid-0000000001"))

	secret := []byte("a-shared-totp-secret")
	state, err := p.Start(context.Background(), truthUUID, 0, secret)
	if err != nil {
		t.Fatal(err)
	}
	ts := state.(*totpState)
	if len(ts.window) == 0 {
		t.Fatal("expected a non-empty code window")
	}

	goodResponse := itoa(ts.window[len(ts.window)/2])
	outcome, err := p.Process(context.Background(), state, time.Now(), goodResponse)
	if err != nil || outcome.Result != Finished {
		t.Fatalf("Process(valid code) = %v, %v; want Finished", outcome.Result, err)
	}
	if !marker.isSatisfied(truthUUID, 0) {
		t.Fatal("expected TOTP success to mark code 0 satisfied")
	}
}

func TestTOTPPluginRejectsWrongCode(t *testing.T) {
	marker := newFakeMarker()
	p := NewTOTPPlugin(amount.Amount{}, 1, marker)
	var truthUUID storage.TruthUUID
	copy(truthUUID[:], []byte("totp-plugin-test-uuid-0000000002"))

	state, err := p.Start(context.Background(), truthUUID, 0, []byte("another-secret"))
	if err != nil {
		t.Fatal(err)
	}
	outcome, err := p.Process(context.Background(), state, time.Now(), "00000000")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Result != Failed {
		t.Fatalf("Process(wrong code) = %v; want Failed", outcome.Result)
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
