package amount

import "testing"

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"EUR:1", "EUR:1"},
		{"EUR:0.5", "EUR:0.50000000"},
		{"USD:10.00000001", "USD:10.00000001"},
	}
	for _, c := range cases {
		a, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := a.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "EUR", "EUR:", ":1"} {
		if _, err := Parse(in); err == nil && in != "EUR:" {
			t.Errorf("Parse(%q): expected error, got nil", in)
		}
	}
}

func TestAdd(t *testing.T) {
	a := MustParse("EUR:1.50000000")
	b := MustParse("EUR:0.60000000")
	sum, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if want := "EUR:2.10000000"; sum.String() != want {
		t.Errorf("Add() = %q, want %q", sum.String(), want)
	}
}

func TestAddCurrencyMismatch(t *testing.T) {
	_, err := Add(MustParse("EUR:1"), MustParse("USD:1"))
	if err == nil {
		t.Fatal("expected currency mismatch error")
	}
}

func TestCmp(t *testing.T) {
	small := MustParse("EUR:1")
	big := MustParse("EUR:2")
	if c, _ := Cmp(small, big); c != -1 {
		t.Errorf("Cmp(small, big) = %d, want -1", c)
	}
	if c, _ := Cmp(big, small); c != 1 {
		t.Errorf("Cmp(big, small) = %d, want 1", c)
	}
	if c, _ := Cmp(small, small); c != 0 {
		t.Errorf("Cmp(small, small) = %d, want 0", c)
	}
}
