// Package machine implements the per-host supervisor (spec §4.7): it owns a
// host's learned BootGraph and display name, and hands callers the one live
// session slot for that host when one exists.
package machine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/bootgraph"
)

// Machine is one known host: its MAC, its learned boot graph, and whichever
// session is currently attached to it (nil while the host is offline).
type Machine struct {
	mac boot.MacAddress

	mu          sync.Mutex
	displayName string
	graph       *bootgraph.Graph
	session     bootgraph.Sessioner
}

// New wraps an already-learned graph and display name (the persistence load
// path; spec §4.9).
func New(mac boot.MacAddress, displayName string, g *bootgraph.Graph) *Machine {
	return &Machine{mac: mac, displayName: displayName, graph: g}
}

// Construct runs the learning procedure against sess to completion and
// returns the resulting Machine, per spec §4.7's "new machine" path. The
// session is left attached on success.
func Construct(mac boot.MacAddress, displayName string, sess bootgraph.Sessioner, log *slog.Logger) (*Machine, error) {
	l := bootgraph.NewLearner(bootgraph.NewGraph(), log)
	if err := l.Run(sess); err != nil {
		return nil, fmt.Errorf("machine: learn boot graph for %s: %w", mac, err)
	}
	m := &Machine{mac: mac, displayName: displayName, graph: l.Graph, session: sess}
	return m, nil
}

// Mac returns the host's MAC address.
func (m *Machine) Mac() boot.MacAddress { return m.mac }

// DisplayName returns the operator-facing name for this host.
func (m *Machine) DisplayName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayName
}

// SetDisplayName renames the host.
func (m *Machine) SetDisplayName(name string) {
	m.mu.Lock()
	m.displayName = name
	m.mu.Unlock()
}

// Graph returns the host's learned boot graph.
func (m *Machine) Graph() *bootgraph.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// Attach installs sess as the machine's live session if the slot is empty.
// If a session is already installed, it is authoritative: sess is rejected
// and returned unchanged for the caller to discard, per spec §4.7's
// connect(): "if slot empty, install and return None; else return the
// session unchanged" — the in-place session is never displaced by a
// newcomer.
func (m *Machine) Attach(sess bootgraph.Sessioner) (rejected bootgraph.Sessioner, installed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return sess, false
	}
	m.session = sess
	return nil, true
}

// TakeSession removes and returns the live session, leaving the slot empty
// so a concurrent caller can't also grab it. Callers put it back with Attach
// once done with it; a session whose transport was lost is not put back.
func (m *Machine) TakeSession() (bootgraph.Sessioner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.session
	m.session = nil
	return sess, sess != nil
}

// CurrentOs reports the host's current power state, or boot.DownState if no
// session is attached.
func (m *Machine) CurrentOs() (boot.PowerState, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return boot.DownState, nil
	}
	return sess.CurrentOs()
}
