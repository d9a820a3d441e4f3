package storage

import "testing"

func TestEventSpecChannelNameDeterministic(t *testing.T) {
	a := EventSpec{Type: AuthIBANTransfer, Code: 1234}
	b := EventSpec{Type: AuthIBANTransfer, Code: 1234}
	if a.channelName() != b.channelName() {
		t.Fatal("identical specs must hash to the same channel")
	}

	c := EventSpec{Type: AuthIBANTransfer, Code: 5678}
	if a.channelName() == c.channelName() {
		t.Fatal("distinct codes must not collide")
	}
}

func TestEventSpecChannelNameValidIdentifier(t *testing.T) {
	spec := EventSpec{Type: AuthIBANTransfer, Code: 42}
	name := spec.channelName()
	if len(name) == 0 || len(name) > 63 {
		t.Fatalf("channel name length %d out of Postgres identifier bounds", len(name))
	}
}
