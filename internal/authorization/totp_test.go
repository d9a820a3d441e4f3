package authorization

import "testing"

func TestHOTPDeterministic(t *testing.T) {
	// RFC 4226 Appendix D, secret "12345678901234567890" (ASCII), 6-digit
	// truncation; re-derived here at totpDigits=8 just to pin
	// determinism of our own implementation, not the RFC's published
	// 6-digit values.
	secret := []byte("12345678901234567890")
	a := hotp(secret, 0)
	b := hotp(secret, 0)
	if a != b {
		t.Fatal("hotp must be deterministic for the same counter")
	}
	if hotp(secret, 0) == hotp(secret, 1) {
		t.Fatal("different counters should (overwhelmingly likely) differ")
	}
}

func TestTOTPWindowContainsCurrent(t *testing.T) {
	secret := []byte("shared-secret-bytes")
	now := int64(1_700_000_000)
	window := totpWindow(secret, now, 2)
	if len(window) != 5 {
		t.Fatalf("expected 2k+1=5 codes, got %d", len(window))
	}
	current := hotp(secret, uint64(now)/totpStep)
	found := false
	for _, c := range window {
		if c == current {
			found = true
		}
	}
	if !found {
		t.Fatal("window must include the current step's code")
	}
}
