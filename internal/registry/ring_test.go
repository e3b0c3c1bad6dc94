package registry

import (
	"testing"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/session"
)

func mac(b byte) boot.MacAddress { return boot.MacAddress{0, 0, 0, 0, 0, b} }

func TestUnknownRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewUnknownRing(4)
	for i := byte(1); i <= 5; i++ {
		r.Push(mac(i), nil)
	}
	if r.Len() != 4 {
		t.Fatalf("got len %d, want 4", r.Len())
	}
	macs := r.MACs()
	want := []boot.MacAddress{mac(2), mac(3), mac(4), mac(5)}
	for i, m := range want {
		if macs[i] != m {
			t.Fatalf("slot %d: got %v, want %v", i, macs[i], m)
		}
	}
}

func TestUnknownRingPopMostRecentForMac(t *testing.T) {
	r := NewUnknownRing(4)
	older, newer := &session.Session{}, &session.Session{}
	r.Push(mac(1), older)
	r.Push(mac(1), newer)
	if r.Len() != 2 {
		t.Fatalf("got len %d, want 2", r.Len())
	}
	if got, ok := r.Pop(mac(1)); !ok || got != newer {
		t.Fatalf("expected the most recently pushed session for mac(1)")
	}
	if r.Len() != 1 {
		t.Fatalf("got len %d after pop, want 1", r.Len())
	}
	if _, ok := r.Pop(mac(9)); ok {
		t.Fatalf("expected no session for an absent mac")
	}
}
