package registry

import (
	"sync"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/session"
)

// DefaultRingCapacity matches the reference implementation's unknown-ring size.
const DefaultRingCapacity = 4

type ringEntry struct {
	mac  boot.MacAddress
	sess *session.Session
}

// UnknownRing is a bounded FIFO of sessions whose MAC has not yet been
// registered as a Machine (spec §3, §4.8). Pushing past capacity evicts the
// oldest entry, regardless of which MAC it belongs to.
type UnknownRing struct {
	mu       sync.Mutex
	capacity int
	entries  []ringEntry
}

// NewUnknownRing constructs a ring holding at most capacity sessions.
func NewUnknownRing(capacity int) *UnknownRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &UnknownRing{capacity: capacity}
}

// Push appends sess for mac, evicting the oldest entry if the ring is full.
func (r *UnknownRing) Push(mac boot.MacAddress, sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, ringEntry{mac: mac, sess: sess})
}

// Pop removes and returns the most recently pushed session for mac.
func (r *UnknownRing) Pop(mac boot.MacAddress) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].mac == mac {
			sess := r.entries[i].sess
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return sess, true
		}
	}
	return nil, false
}

// MACs lists the MAC of every session currently waiting in the ring, oldest
// first (used to report "Uninited" hosts over the HTTP surface).
func (r *UnknownRing) MACs() []boot.MacAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]boot.MacAddress, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.mac
	}
	return out
}

// Len reports how many sessions the ring currently holds.
func (r *UnknownRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
