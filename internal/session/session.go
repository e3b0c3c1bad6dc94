// Package session implements the packet session: one TCP connection's
// handshake state plus the typed request/response multiplexer described in
// spec §4.4. A Session survives agent reboots by swapping its underlying
// connection in place via the shared event hook.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/frame"
	"github.com/bootwake/bootwaked/internal/hook"
	"github.com/bootwake/bootwaked/internal/wire"
	"github.com/bootwake/bootwaked/internal/wol"
)

// Error kinds surfaced by session operations, per spec §7.
var (
	ErrIncompatible          = errors.New("session: incompatible protocol version or identity")
	ErrTimeout               = errors.New("session: operation timed out")
	ErrClientOffline         = errors.New("session: client is offline")
	ErrUndefinedClientBehavior = errors.New("session: agent violated protocol invariant")
)

const (
	// DefaultOpTimeout bounds one request/response exchange.
	DefaultOpTimeout = 10 * time.Second
	// DefaultReconnectTimeout bounds a reconnect wait after reboot/shutdown.
	DefaultReconnectTimeout = 5 * time.Minute
	wolInterval             = time.Second
	// wolJitter bounds the ± randomization applied to each wolInterval tick,
	// so the magic packet cadence survives a flaky LAN switch without
	// drifting from the spec's "every 1s" average.
	wolJitter = 100 * time.Millisecond
)

// Hook is the shared MAC→connection rendezvous every Session uses to learn
// about a fresh connection arriving after a reboot. Sessions hold only a
// handle to it, never a back-reference to the server that owns it (spec §9).
type Hook = hook.Hook[boot.MacAddress, net.Conn]

// Session wraps one agent connection plus its handshake-derived identity and
// read multiplexer. Exactly one reader goroutine drains the underlying
// connection at a time; other readers block on readMu and recheck their
// per-kind buffer once they acquire it (spec §4.4/§5).
type Session struct {
	mac  boot.MacAddress
	hook *Hook

	connMu sync.Mutex // guards conn + reader/writer rebinding on reconnect
	conn   net.Conn
	r      *frame.Reader
	w      *frame.Writer

	uidMu sync.Mutex
	uid   boot.OsUid

	writeMu sync.Mutex // serializes frame writes, independent of readMu

	readMu  sync.Mutex // only one goroutine actively pulls frames at a time
	pending map[wire.Kind][]wire.AgentMessage

	offline bool
}

// Handshake performs the daemon side of the opening exchange on a fresh
// connection and returns a ready Session, or an error if the agent is
// incompatible.
func Handshake(conn net.Conn, h *Hook) (*Session, error) {
	r := frame.NewReader(conn)
	w := frame.NewWriter(conn)

	payload, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("session: read handshake: %w", err)
	}
	hs, err := wire.DecodeHostHandshake(payload)
	if err != nil {
		return nil, fmt.Errorf("session: decode handshake: %w", err)
	}
	if hs.ProtoIdent != wire.ProtoIdent || hs.ApiVersion != wire.APIVersion {
		return nil, ErrIncompatible
	}

	reply, err := wire.EncodeServerHandshake(wire.ServerHandshake{ProtoIdent: wire.ProtoIdent, ApiVersion: wire.APIVersion})
	if err != nil {
		return nil, fmt.Errorf("session: encode handshake reply: %w", err)
	}
	if err := w.WriteFrame(reply); err != nil {
		return nil, fmt.Errorf("session: write handshake reply: %w", err)
	}

	s := &Session{
		mac:     hs.Mac,
		hook:    h,
		conn:    conn,
		r:       r,
		w:       w,
		uid:     hs.Uid,
		pending: make(map[wire.Kind][]wire.AgentMessage),
	}
	return s, nil
}

// Mac returns the MAC address this session authenticated as.
func (s *Session) Mac() boot.MacAddress { return s.mac }

// Close tears down the underlying connection and marks the session offline.
// Used to discard a session that lost an Attach race against one already
// installed in its Machine's slot (spec §4.7's connect()).
func (s *Session) Close() error {
	s.connMu.Lock()
	conn := s.conn
	s.offline = true
	s.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Uid returns the locally cached OS uid, as last observed by handshake or
// InitId/Ping.
func (s *Session) Uid() boot.OsUid {
	s.uidMu.Lock()
	defer s.uidMu.Unlock()
	return s.uid
}

func (s *Session) setUid(uid boot.OsUid) {
	s.uidMu.Lock()
	s.uid = uid
	s.uidMu.Unlock()
}

// IsOffline reports whether the transport has been observed lost.
func (s *Session) IsOffline() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.offline
}

func (s *Session) markOffline() {
	s.connMu.Lock()
	s.offline = true
	s.connMu.Unlock()
}

// rebind installs a freshly handshaken connection in place of the old one,
// after a reconnect. Any frames buffered from the old connection's
// multiplexer are discarded: a new TCP connection starts a new frame
// stream.
func (s *Session) rebind(newConn net.Conn, uid boot.OsUid) {
	s.connMu.Lock()
	old := s.conn
	s.conn = newConn
	s.r = frame.NewReader(newConn)
	s.w = frame.NewWriter(newConn)
	s.offline = false
	s.connMu.Unlock()

	if old != nil && old != newConn {
		old.Close()
	}

	s.readMu.Lock()
	s.pending = make(map[wire.Kind][]wire.AgentMessage)
	s.readMu.Unlock()

	s.setUid(uid)
}

// write sends m on the current connection.
func (s *Session) write(m wire.ServerMessage) error {
	s.connMu.Lock()
	w := s.w
	s.connMu.Unlock()

	payload, err := wire.EncodeServerMessage(m)
	if err != nil {
		return fmt.Errorf("session: encode message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := w.WriteFrame(payload); err != nil {
		s.markOffline()
		return fmt.Errorf("%w: %v", ErrClientOffline, err)
	}
	return nil
}

// read drains the session's per-kind buffer for kind if non-empty;
// otherwise it becomes the single active reader, pulling frames off the
// wire and routing each to its kind's buffer until one of the requested
// kind arrives. Concurrent callers serialize on readMu and recheck their
// buffer once admitted, matching spec §4.4's multiplexing rule.
func (s *Session) read(ctx context.Context, kind wire.Kind) (wire.AgentMessage, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if buf := s.pending[kind]; len(buf) > 0 {
		m := buf[0]
		s.pending[kind] = buf[1:]
		return m, nil
	}

	for {
		s.connMu.Lock()
		r := s.r
		conn := s.conn
		s.connMu.Unlock()

		type result struct {
			payload []byte
			err     error
		}
		resCh := make(chan result, 1)
		go func() {
			payload, err := r.ReadFrame()
			resCh <- result{payload, err}
		}()

		var res result
		select {
		case res = <-resCh:
		case <-ctx.Done():
			// Closing conn unblocks the goroutine's ReadFrame instead of
			// abandoning it against a still-live socket: left running, it
			// would race the next read() call's own reader goroutine over
			// the same stream, violating spec §4.4's "exactly one reader
			// task" invariant. Waiting for it to finish before returning
			// guarantees no such race survives this call.
			s.markOffline()
			conn.Close()
			<-resCh
			return wire.AgentMessage{}, ErrTimeout
		}
		if res.err != nil {
			s.markOffline()
			return wire.AgentMessage{}, fmt.Errorf("%w: %v", ErrClientOffline, res.err)
		}

		msg, err := wire.DecodeAgentMessage(res.payload)
		if err != nil {
			return wire.AgentMessage{}, fmt.Errorf("%w: %v", ErrUndefinedClientBehavior, err)
		}

		if msg.Kind == kind {
			return msg, nil
		}
		s.pending[msg.Kind] = append(s.pending[msg.Kind], msg)
	}
}

func withOpTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}

// exchange writes req and waits for the matching response kind within the
// default operation timeout.
func (s *Session) exchange(kind wire.Kind, req wire.ServerMessage) (wire.AgentMessage, error) {
	if err := s.write(req); err != nil {
		return wire.AgentMessage{}, err
	}
	ctx, cancel := withOpTimeout(nil, DefaultOpTimeout)
	defer cancel()
	return s.read(ctx, kind)
}

// Ping sends a Ping request and returns the agent's reported uid.
func (s *Session) Ping() (boot.OsUid, error) {
	resp, err := s.exchange(wire.KindPing, wire.ServerMessage{Kind: wire.KindPing})
	if err != nil {
		return 0, err
	}
	s.setUid(resp.Ping.Uid)
	return resp.Ping.Uid, nil
}

// InitId assigns uid to the agent and waits for its ack.
func (s *Session) InitId(uid boot.OsUid) error {
	_, err := s.exchange(wire.KindInitId, wire.ServerMessage{Kind: wire.KindInitId, InitId: wire.InitIdRequest{Uid: uid}})
	if err != nil {
		return err
	}
	s.setUid(uid)
	return nil
}

// GrubQuery asks the agent for the bootloader entries it exposes for the
// currently running OS.
func (s *Session) GrubQuery() ([]uint64, error) {
	resp, err := s.exchange(wire.KindGrubQuery, wire.ServerMessage{Kind: wire.KindGrubQuery})
	if err != nil {
		return nil, err
	}
	return resp.GrubQuery.Entries, nil
}

// OsQuery asks the agent for the display name of the currently running OS.
func (s *Session) OsQuery() (string, error) {
	resp, err := s.exchange(wire.KindOsQuery, wire.ServerMessage{Kind: wire.KindOsQuery})
	if err != nil {
		return "", err
	}
	return resp.OsQuery.DisplayName, nil
}

// requestAck sends req and waits for the plain ack of the same kind,
// without the caller blocking on a subsequent reconnect.
func (s *Session) requestAck(kind wire.Kind, req wire.ServerMessage) error {
	_, err := s.exchange(kind, req)
	return err
}

// ShutdownAck sends Shutdown and waits for the agent's ack (which it sends
// before powering off).
func (s *Session) ShutdownAck() error {
	return s.requestAck(wire.KindShutdown, wire.ServerMessage{Kind: wire.KindShutdown})
}

// RebootAck sends Reboot(entry) and waits for the agent's ack (which it
// sends before rebooting).
func (s *Session) RebootAck(entry uint64) error {
	return s.requestAck(wire.KindReboot, wire.ServerMessage{Kind: wire.KindReboot, Reboot: wire.RebootRequest{GrubEntryId: entry}})
}

// WaitReconnect blocks until a fresh connection bearing this session's MAC
// arrives, without re-emitting WOL. Used after Reboot/Shutdown where the
// agent is expected to come back on its own.
func (s *Session) WaitReconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultReconnectTimeout)
	defer cancel()
	return s.waitReconnect(ctx)
}

func (s *Session) waitReconnect(ctx context.Context) error {
	conn, err := s.hook.Wait(ctx, s.mac)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	newSess, err := Handshake(conn, s.hook)
	if err != nil {
		conn.Close()
		return err
	}
	s.rebind(newSess.conn, newSess.uid)
	return nil
}

// WolReconnect re-emits the WOL packet every ~1s while racing a reconnect
// wait, cancelling the WOL loop as soon as the agent reconnects.
func (s *Session) WolReconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultReconnectTimeout)
	defer cancel()

	wolCtx, stopWol := context.WithCancel(ctx)
	defer stopWol()
	go s.emitWolLoop(wolCtx)

	return s.waitReconnect(ctx)
}

func (s *Session) emitWolLoop(ctx context.Context) {
	// Emit once immediately so a fast-booting host doesn't wait a full tick.
	_ = wol.Emit(s.mac)
	for {
		timer := time.NewTimer(jitteredWolInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = wol.Emit(s.mac)
		}
	}
}

// jitteredWolInterval returns wolInterval randomized by up to ±wolJitter.
func jitteredWolInterval() time.Duration {
	offset := time.Duration(rand.Int63n(int64(2*wolJitter))) - wolJitter
	return wolInterval + offset
}

// CurrentOs returns the agent's current OS uid, treating an offline
// transport as Down per spec §4.6's execution API.
func (s *Session) CurrentOs() (boot.PowerState, error) {
	if s.IsOffline() {
		return boot.DownState, nil
	}
	uid, err := s.Ping()
	if err != nil {
		if errors.Is(err, ErrClientOffline) {
			return boot.DownState, nil
		}
		return boot.PowerState{}, err
	}
	if uid == boot.UidUnset {
		return boot.PowerState{}, ErrUndefinedClientBehavior
	}
	return boot.UpState(uid), nil
}

// Execute runs one boot action against this session, per spec §4.6's
// edge-execution policy.
func (s *Session) Execute(a boot.BootAction) error {
	switch a.Kind {
	case boot.ActionWol:
		return s.WolReconnect()
	case boot.ActionGrubEntry:
		if err := s.RebootAck(a.Entry); err != nil {
			return err
		}
		return s.WaitReconnect()
	case boot.ActionShutdown:
		return s.ShutdownAck()
	default:
		return fmt.Errorf("session: unknown action kind %v", a.Kind)
	}
}
