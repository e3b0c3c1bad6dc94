// Package registry implements the top-level host registry (spec §4.8): the
// accept loop that routes fresh connections to either an existing Machine
// or the unknown-host ring, and the operations (new_machine, boot) that
// the HTTP surface drives.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/bootgraph"
	"github.com/bootwake/bootwaked/internal/hook"
	"github.com/bootwake/bootwaked/internal/logger"
	"github.com/bootwake/bootwaked/internal/machine"
	"github.com/bootwake/bootwaked/internal/session"
)

// ErrNotFound is returned when an operation names a MAC the server doesn't
// recognize (a registered machine or, for NewMachine, a ring entry).
var ErrNotFound = errors.New("registry: not found")

// Server owns every known Machine, the ring of not-yet-registered sessions,
// and the event hook shared by every session for reconnect rendezvous.
type Server struct {
	log  *slog.Logger
	hook *session.Hook
	ring *UnknownRing

	mu       sync.Mutex
	machines map[boot.MacAddress]*machine.Machine
	order    []boot.MacAddress

	macLocksMu sync.Mutex
	macLocks   map[boot.MacAddress]*sync.Mutex
}

// New constructs an empty Server. ringCapacity <= 0 uses DefaultRingCapacity.
func New(log *slog.Logger, ringCapacity int) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log,
		hook:     hook.New[boot.MacAddress, net.Conn](),
		ring:     NewUnknownRing(ringCapacity),
		machines: make(map[boot.MacAddress]*machine.Machine),
		macLocks: make(map[boot.MacAddress]*sync.Mutex),
	}
}

// Serve accepts connections from ln until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("registry: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// handleConn routes one fresh connection per spec §4.8. It always offers the
// connection to the shared hook first: a session mid-reconnect (waiting on
// this MAC) takes priority regardless of whether the MAC is registered yet,
// which is what lets a host reconnect correctly while its own first-time
// learner run is still in progress. Only once nobody is waiting does the
// registration state decide between attach and the unknown ring.
func (s *Server) handleConn(conn net.Conn) {
	mac, peeked, err := peekHostHandshakeMac(conn)
	if err != nil {
		s.log.Warn("registry: rejecting connection", "error", err)
		conn.Close()
		return
	}

	if _, delivered := s.hook.Signal(mac, peeked); delivered {
		return
	}

	s.mu.Lock()
	m, known := s.machines[mac]
	s.mu.Unlock()

	sess, err := session.Handshake(peeked, s.hook)
	if err != nil {
		s.log.Warn("registry: handshake failed", logger.Mac(mac), "error", err)
		peeked.Close()
		return
	}

	if known {
		if rejected, installed := m.Attach(sess); !installed {
			s.log.Info("registry: dropping session that lost an attach race", logger.Mac(mac))
			rejected.Close()
		}
		return
	}
	s.ring.Push(mac, sess)
	s.log.Info("registry: unregistered host connected", logger.Mac(mac))
}

func (s *Server) macLock(mac boot.MacAddress) *sync.Mutex {
	s.macLocksMu.Lock()
	defer s.macLocksMu.Unlock()
	mu, ok := s.macLocks[mac]
	if !ok {
		mu = &sync.Mutex{}
		s.macLocks[mac] = mu
	}
	return mu
}

// NewMachine pops the most recent ring session for mac, runs the learner
// to completion, and registers the resulting Machine. Concurrent calls for
// the same mac serialize so only one learner ever runs against it.
func (s *Server) NewMachine(mac boot.MacAddress, displayName string) error {
	lock := s.macLock(mac)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := s.ring.Pop(mac)
	if !ok {
		return ErrNotFound
	}

	m, err := machine.Construct(mac, displayName, sess, s.log)
	if err != nil {
		return fmt.Errorf("registry: construct machine %s: %w", mac, err)
	}

	s.mu.Lock()
	if _, exists := s.machines[mac]; !exists {
		s.order = append(s.order, mac)
	}
	s.machines[mac] = m
	s.mu.Unlock()
	return nil
}

// Boot drives mac's machine toward target, taking its session for the
// duration of the execution per spec §4.8.
func (s *Server) Boot(mac boot.MacAddress, target boot.PowerState) error {
	s.mu.Lock()
	m, ok := s.machines[mac]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess, ok := m.TakeSession()
	if !ok {
		return session.ErrClientOffline
	}

	err := m.Graph().Execute(sess, target)
	if err != nil {
		if errors.Is(err, session.ErrClientOffline) {
			return err // leave the slot empty: the transport is gone.
		}
		s.reattach(m, mac, sess)
		return err
	}
	s.reattach(m, mac, sess)
	return nil
}

// reattach restores sess as m's live session now that Boot is done with it.
// The slot was emptied by TakeSession, so this normally succeeds; it can
// lose the race to a newer connection that attached in the meantime, in
// which case sess is now stale and is closed instead of kept around.
func (s *Server) reattach(m *machine.Machine, mac boot.MacAddress, sess bootgraph.Sessioner) {
	if rejected, installed := m.Attach(sess); !installed {
		s.log.Info("registry: dropping stale session superseded during boot", logger.Mac(mac))
		rejected.Close()
	}
}

// Machines returns every registered machine, in registration order.
func (s *Server) Machines() []*machine.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*machine.Machine, 0, len(s.order))
	for _, mac := range s.order {
		if m, ok := s.machines[mac]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Machine looks up a single registered machine by MAC.
func (s *Server) Machine(mac boot.MacAddress) (*machine.Machine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[mac]
	return m, ok
}

// UnknownMACs lists the MACs currently waiting in the unknown ring.
func (s *Server) UnknownMACs() []boot.MacAddress {
	return s.ring.MACs()
}

// MachineRecord is one machine's persisted shape: display name plus its
// boot graph rendered as a deterministic snapshot (spec §4.9).
type MachineRecord struct {
	Mac         boot.MacAddress
	DisplayName string
	Graph       bootgraph.Snapshot
}

// Export renders every registered machine as a MachineRecord, in
// registration order, for internal/persist to encode.
func (s *Server) Export() []MachineRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MachineRecord, 0, len(s.order))
	for _, mac := range s.order {
		m := s.machines[mac]
		out = append(out, MachineRecord{Mac: mac, DisplayName: m.DisplayName(), Graph: m.Graph().Snapshot()})
	}
	return out
}

// Import seeds the registry from persisted records. Callers use this once,
// before Serve starts accepting connections.
func (s *Server) Import(records []MachineRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if _, exists := s.machines[rec.Mac]; !exists {
			s.order = append(s.order, rec.Mac)
		}
		s.machines[rec.Mac] = machine.New(rec.Mac, rec.DisplayName, bootgraph.Restore(rec.Graph))
	}
}
