package wiresubject

import "testing"

func TestExtractCode(t *testing.T) {
	cases := []struct {
		subject  string
		wantCode uint64
		wantOK   bool
	}{
		{"Anastasis 1234 thank you", 1234, true},
		{"ANASTASIS5678", 5678, true},
		{"just a regular wire, no keyword, 42", 0, false},
		{"anastasis but no digits anywhere", 0, false},
		{"anastasis 007", 7, true},
	}
	for _, c := range cases {
		code, ok := ExtractCode(c.subject)
		if ok != c.wantOK || (ok && code != c.wantCode) {
			t.Errorf("ExtractCode(%q) = (%d, %v), want (%d, %v)", c.subject, code, ok, c.wantCode, c.wantOK)
		}
	}
}

func TestHasCode(t *testing.T) {
	if !HasCode("Anastasis 1234 thank you", 1234) {
		t.Error("expected match")
	}
	if HasCode("Anastasis 1234 thank you", 4321) {
		t.Error("expected mismatch")
	}
}
