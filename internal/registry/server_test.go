package registry

import (
	"net"
	"testing"
	"time"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/frame"
	"github.com/bootwake/bootwaked/internal/wire"
)

// fakeAgentConn drives the agent side of a handshake plus scripted request
// responses over an in-memory pipe.
type fakeAgentConn struct {
	conn net.Conn
	r    *frame.Reader
	w    *frame.Writer
}

func newFakeAgentConn(conn net.Conn) *fakeAgentConn {
	return &fakeAgentConn{conn: conn, r: frame.NewReader(conn), w: frame.NewWriter(conn)}
}

func (a *fakeAgentConn) sendHandshake(m boot.MacAddress, uid boot.OsUid) error {
	payload, err := wire.EncodeHostHandshake(wire.HostHandshake{ProtoIdent: wire.ProtoIdent, Mac: m, Uid: uid, ApiVersion: wire.APIVersion})
	if err != nil {
		return err
	}
	if err := a.w.WriteFrame(payload); err != nil {
		return err
	}
	reply, err := a.r.ReadFrame()
	if err != nil {
		return err
	}
	_, err = wire.DecodeServerHandshake(reply)
	return err
}

func (a *fakeAgentConn) respond(t *testing.T, kind wire.Kind, build func(wire.AgentMessage) wire.AgentMessage) {
	t.Helper()
	payload, err := a.r.ReadFrame()
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
	out, err := wire.EncodeAgentMessage(build(wire.AgentMessage{Kind: kind}))
	if err != nil {
		t.Fatalf("encode resp: %v", err)
	}
	if err := a.w.WriteFrame(out); err != nil {
		t.Fatalf("agent write: %v", err)
	}
}

func TestUnregisteredHostLandsInRing(t *testing.T) {
	m := boot.MacAddress{1, 2, 3, 4, 5, 6}
	srv := New(nil, 4)

	client, server := net.Pipe()
	agent := newFakeAgentConn(client)

	hsErr := make(chan error, 1)
	go func() { hsErr <- agent.sendHandshake(m, 0) }()

	srv.handleConn(server)

	if err := <-hsErr; err != nil {
		t.Fatalf("agent handshake: %v", err)
	}
	macs := srv.UnknownMACs()
	if len(macs) != 1 || macs[0] != m {
		t.Fatalf("got unknown macs %v, want [%v]", macs, m)
	}
	if _, ok := srv.Machine(m); ok {
		t.Fatalf("machine should not be registered yet")
	}
}

func TestNewMachineUnknownMacFails(t *testing.T) {
	srv := New(nil, 4)
	if err := srv.NewMachine(boot.MacAddress{9, 9, 9, 9, 9, 9}, "nope"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// TestNewMachineLearnsSingleOsHost drives a host that boots to one OS by
// default (spec §8 scenario 1) through NewMachine end to end: ring entry,
// reset (Shutdown + WOL reconnect via the shared hook), and InitOS.
func TestNewMachineLearnsSingleOsHost(t *testing.T) {
	m := boot.MacAddress{1, 2, 3, 4, 5, 6}
	srv := New(nil, 4)

	client, server := net.Pipe()
	agent := newFakeAgentConn(client)
	hsErr := make(chan error, 1)
	go func() { hsErr <- agent.sendHandshake(m, 0) }()
	srv.handleConn(server)
	if err := <-hsErr; err != nil {
		t.Fatalf("agent handshake: %v", err)
	}

	newErr := make(chan error, 1)
	go func() { newErr <- srv.NewMachine(m, "Solo") }()

	agent.respond(t, wire.KindShutdown, func(a wire.AgentMessage) wire.AgentMessage { return a })

	// The learner's reset now races WOL re-emission against a reconnect wait
	// on the shared hook; give the goroutine a moment to register before the
	// "rebooted" host reconnects.
	time.Sleep(50 * time.Millisecond)

	reClient, reServer := net.Pipe()
	reAgent := newFakeAgentConn(reClient)
	reHsErr := make(chan error, 1)
	go func() { reHsErr <- reAgent.sendHandshake(m, 0) }()
	srv.handleConn(reServer)
	if err := <-reHsErr; err != nil {
		t.Fatalf("reconnect handshake: %v", err)
	}

	reAgent.respond(t, wire.KindInitId, func(a wire.AgentMessage) wire.AgentMessage { return a })
	reAgent.respond(t, wire.KindGrubQuery, func(a wire.AgentMessage) wire.AgentMessage {
		a.GrubQuery = wire.GrubQueryResponse{Entries: nil}
		return a
	})
	reAgent.respond(t, wire.KindOsQuery, func(a wire.AgentMessage) wire.AgentMessage {
		a.OsQuery = wire.OsQueryResponse{DisplayName: "Windows"}
		return a
	})

	select {
	case err := <-newErr:
		if err != nil {
			t.Fatalf("NewMachine: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("NewMachine timed out")
	}

	got, ok := srv.Machine(m)
	if !ok {
		t.Fatalf("expected machine to be registered")
	}
	if !got.Graph().HasVertex(boot.UpState(1)) {
		t.Fatalf("expected learned graph to contain Up(1)")
	}
	if trace, ok := got.Graph().Trace(boot.DownState, boot.UpState(1)); !ok || len(trace) != 1 || trace[0].Kind != boot.ActionWol {
		t.Fatalf("expected single Wol edge Down->Up(1), got %v ok=%v", trace, ok)
	}
	if len(srv.UnknownMACs()) != 0 {
		t.Fatalf("expected ring drained, got %v", srv.UnknownMACs())
	}
}
