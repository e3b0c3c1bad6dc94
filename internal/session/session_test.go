package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/frame"
	"github.com/bootwake/bootwaked/internal/hook"
	"github.com/bootwake/bootwaked/internal/wire"
)

// fakeAgent drives the agent side of a handshake plus scripted responses
// over an in-memory pipe, standing in for the real in-host agent in tests
// (spec §8's "simulated agent" fixture).
type fakeAgent struct {
	conn net.Conn
	r    *frame.Reader
	w    *frame.Writer
}

func dialFakeAgent(t *testing.T, mac boot.MacAddress, uid boot.OsUid) (*Session, *fakeAgent) {
	t.Helper()
	client, server := net.Pipe()
	agent := &fakeAgent{conn: client, r: frame.NewReader(client), w: frame.NewWriter(client)}

	hs, err := wire.EncodeHostHandshake(wire.HostHandshake{ProtoIdent: wire.ProtoIdent, Mac: mac, Uid: uid, ApiVersion: wire.APIVersion})
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}

	done := make(chan *Session, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := Handshake(server, newTestHook())
		if err != nil {
			errCh <- err
			return
		}
		done <- s
	}()

	if err := agent.w.WriteFrame(hs); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	replyPayload, err := agent.r.ReadFrame()
	if err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if _, err := wire.DecodeServerHandshake(replyPayload); err != nil {
		t.Fatalf("decode handshake reply: %v", err)
	}

	select {
	case s := <-done:
		return s, agent
	case err := <-errCh:
		t.Fatalf("handshake: %v", err)
	case <-time.After(time.Second):
		t.Fatal("handshake timed out")
	}
	return nil, nil
}

// newTestHook constructs a fresh event hook for a single test's session(s).
func newTestHook() *Hook {
	return hook.New[boot.MacAddress, net.Conn]()
}

func TestHandshakeEstablishesIdentity(t *testing.T) {
	mac := boot.MacAddress{1, 2, 3, 4, 5, 6}
	s, agent := dialFakeAgent(t, mac, 0)
	defer agent.conn.Close()

	if s.Mac() != mac {
		t.Fatalf("got mac %v, want %v", s.Mac(), mac)
	}
	if s.Uid() != 0 {
		t.Fatalf("got uid %d, want 0", s.Uid())
	}
}

func TestGrubQueryOsQueryPing(t *testing.T) {
	mac := boot.MacAddress{1, 2, 3, 4, 5, 6}
	s, agent := dialFakeAgent(t, mac, 0)
	defer agent.conn.Close()

	respond := func(kind wire.Kind, build func(wire.AgentMessage) wire.AgentMessage) {
		payload, err := agent.r.ReadFrame()
		if err != nil {
			t.Fatalf("agent read: %v", err)
		}
		req, err := wire.DecodeServerMessage(payload)
		if err != nil {
			t.Fatalf("agent decode: %v", err)
		}
		if req.Kind != kind {
			t.Fatalf("got request kind %v, want %v", req.Kind, kind)
		}
		resp := build(wire.AgentMessage{Kind: kind})
		out, err := wire.EncodeAgentMessage(resp)
		if err != nil {
			t.Fatalf("encode resp: %v", err)
		}
		if err := agent.w.WriteFrame(out); err != nil {
			t.Fatalf("agent write: %v", err)
		}
	}

	resultCh := make(chan struct {
		entries []uint64
		name    string
		uid     boot.OsUid
		err     error
	}, 1)
	go func() {
		entries, err := s.GrubQuery()
		if err != nil {
			resultCh <- struct {
				entries []uint64
				name    string
				uid     boot.OsUid
				err     error
			}{err: err}
			return
		}
		name, err := s.OsQuery()
		if err != nil {
			resultCh <- struct {
				entries []uint64
				name    string
				uid     boot.OsUid
				err     error
			}{err: err}
			return
		}
		uid, err := s.Ping()
		resultCh <- struct {
			entries []uint64
			name    string
			uid     boot.OsUid
			err     error
		}{entries, name, uid, err}
	}()

	respond(wire.KindGrubQuery, func(m wire.AgentMessage) wire.AgentMessage {
		m.GrubQuery = wire.GrubQueryResponse{Entries: []uint64{1, 2}}
		return m
	})
	respond(wire.KindOsQuery, func(m wire.AgentMessage) wire.AgentMessage {
		m.OsQuery = wire.OsQueryResponse{DisplayName: "Windows"}
		return m
	})
	respond(wire.KindPing, func(m wire.AgentMessage) wire.AgentMessage {
		m.Ping = wire.PingResponse{Uid: 1}
		return m
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("session ops: %v", res.err)
		}
		if len(res.entries) != 2 || res.entries[0] != 1 || res.entries[1] != 2 {
			t.Fatalf("got entries %v", res.entries)
		}
		if res.name != "Windows" {
			t.Fatalf("got display name %q", res.name)
		}
		if res.uid != 1 {
			t.Fatalf("got uid %d", res.uid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session ops")
	}
}

func TestOutOfOrderResponsesAreMultiplexed(t *testing.T) {
	mac := boot.MacAddress{1, 2, 3, 4, 5, 6}
	s, agent := dialFakeAgent(t, mac, 0)
	defer agent.conn.Close()

	pingDone := make(chan error, 1)
	go func() {
		_, err := s.Ping()
		pingDone <- err
	}()

	// Read the Ping request but respond to it LAST, after GrubQuery — the
	// session's per-kind buffer must still route each response correctly.
	pingReqPayload, err := agent.r.ReadFrame()
	if err != nil {
		t.Fatalf("agent read ping req: %v", err)
	}
	if req, _ := wire.DecodeServerMessage(pingReqPayload); req.Kind != wire.KindPing {
		t.Fatalf("expected ping request first, got %v", req.Kind)
	}

	grubDone := make(chan error, 1)
	go func() {
		_, err := s.GrubQuery()
		grubDone <- err
	}()

	grubReqPayload, err := agent.r.ReadFrame()
	if err != nil {
		t.Fatalf("agent read grub req: %v", err)
	}
	if req, _ := wire.DecodeServerMessage(grubReqPayload); req.Kind != wire.KindGrubQuery {
		t.Fatalf("expected grub request, got %v", req.Kind)
	}

	grubResp, _ := wire.EncodeAgentMessage(wire.AgentMessage{Kind: wire.KindGrubQuery, GrubQuery: wire.GrubQueryResponse{Entries: []uint64{9}}})
	if err := agent.w.WriteFrame(grubResp); err != nil {
		t.Fatalf("write grub resp: %v", err)
	}
	pingResp, _ := wire.EncodeAgentMessage(wire.AgentMessage{Kind: wire.KindPing, Ping: wire.PingResponse{Uid: 2}})
	if err := agent.w.WriteFrame(pingResp); err != nil {
		t.Fatalf("write ping resp: %v", err)
	}

	select {
	case err := <-grubDone:
		if err != nil {
			t.Fatalf("grub query: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grub query timed out")
	}
	select {
	case err := <-pingDone:
		if err != nil {
			t.Fatalf("ping: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ping timed out")
	}
}

// TestReadTimeoutClosesConnAndMarksOffline drives the ctx.Done() branch of
// read() directly (rather than waiting out DefaultOpTimeout) and confirms
// the abandoned reader goroutine can't race a subsequent read() call over
// the same stream: the timeout must close the connection and wait for that
// goroutine to finish before returning, not leave it running.
func TestReadTimeoutClosesConnAndMarksOffline(t *testing.T) {
	mac := boot.MacAddress{1, 2, 3, 4, 5, 6}
	s, agent := dialFakeAgent(t, mac, 0)
	defer agent.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.read(ctx, wire.KindPing); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if !s.IsOffline() {
		t.Fatal("expected session marked offline after a read timeout")
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.read(context.Background(), wire.KindPing)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error reading from an offline session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second read call hung instead of failing fast against the closed conn")
	}
}

func TestIncompatibleHandshakeRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := frame.NewWriter(client)
	bad := wire.HostHandshake{ProtoIdent: wire.ProtoIdent, ApiVersion: wire.APIVersion + 1}
	payload, _ := wire.EncodeHostHandshake(bad)

	errCh := make(chan error, 1)
	go func() {
		_, err := Handshake(server, newTestHook())
		errCh <- err
	}()
	if err := w.WriteFrame(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-errCh:
		if err != ErrIncompatible {
			t.Fatalf("got %v, want ErrIncompatible", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
