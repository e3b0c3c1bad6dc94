// Package wire defines the typed messages exchanged on an agent connection
// and their CBOR encoding. Two distinct message sets exist — ServerMessage
// (daemon→agent) and AgentMessage (agent→server) — so neither direction can
// accidentally construct the other's variant.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/bootwake/bootwaked/internal/boot"
)

// ProtoIdent is the fixed 32-byte constant every handshake must match
// exactly, regardless of api_version.
var ProtoIdent = [32]byte{'b', 'o', 'o', 't', 'w', 'a', 'k', 'e', '-', 'a', 'g', 'e', 'n', 't', '-', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l', '-', 'v', '1', 0, 0, 0, 0, 0, 0}

// APIVersion is this build's wire protocol version. A mismatching agent is
// incompatible and the connection is closed right after the handshake decode.
const APIVersion uint64 = 1

// HostHandshake is the first message the agent sends on every fresh
// connection.
type HostHandshake struct {
	ProtoIdent [32]byte
	Mac        boot.MacAddress
	Uid        boot.OsUid
	ApiVersion uint64
}

// ServerHandshake is the daemon's reply once HostHandshake is accepted.
type ServerHandshake struct {
	ProtoIdent [32]byte
	ApiVersion uint64
}

// Kind discriminates AgentMessage/ServerMessage payloads so the session's
// read multiplexer can route a decoded frame without re-parsing its body.
type Kind uint8

const (
	KindShutdown Kind = iota
	KindReboot
	KindInitId
	KindGrubQuery
	KindOsQuery
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindShutdown:
		return "Shutdown"
	case KindReboot:
		return "Reboot"
	case KindInitId:
		return "InitId"
	case KindGrubQuery:
		return "GrubQuery"
	case KindOsQuery:
		return "OsQuery"
	case KindPing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// AllKinds enumerates every operation kind.
var AllKinds = []Kind{KindShutdown, KindReboot, KindInitId, KindGrubQuery, KindOsQuery, KindPing}

// ServerMessage is a daemon→agent request. Exactly one of the Kind-tagged
// fields is meaningful, selected by Kind.
type ServerMessage struct {
	Kind   Kind
	Reboot RebootRequest
	InitId InitIdRequest
}

type RebootRequest struct {
	GrubEntryId uint64
}

type InitIdRequest struct {
	Uid boot.OsUid
}

// AgentMessage is an agent→server response/ack.
type AgentMessage struct {
	Kind      Kind
	GrubQuery GrubQueryResponse
	OsQuery   OsQueryResponse
	Ping      PingResponse
}

type GrubQueryResponse struct {
	Entries []uint64
}

type OsQueryResponse struct {
	DisplayName string
}

type PingResponse struct {
	Uid boot.OsUid
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build canonical cbor encoder: %v", err))
	}
	return m
}()

// EncodeServerMessage renders m to its canonical CBOR payload.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	return encMode.Marshal(m)
}

// DecodeServerMessage parses a ServerMessage payload.
func DecodeServerMessage(b []byte) (ServerMessage, error) {
	var m ServerMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return ServerMessage{}, fmt.Errorf("wire: decode server message: %w", err)
	}
	return m, nil
}

// EncodeAgentMessage renders m to its canonical CBOR payload.
func EncodeAgentMessage(m AgentMessage) ([]byte, error) {
	return encMode.Marshal(m)
}

// DecodeAgentMessage parses an AgentMessage payload.
func DecodeAgentMessage(b []byte) (AgentMessage, error) {
	var m AgentMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return AgentMessage{}, fmt.Errorf("wire: decode agent message: %w", err)
	}
	return m, nil
}

// EncodeHostHandshake renders a HostHandshake to canonical CBOR.
func EncodeHostHandshake(h HostHandshake) ([]byte, error) {
	return encMode.Marshal(h)
}

// DecodeHostHandshake parses a HostHandshake payload.
func DecodeHostHandshake(b []byte) (HostHandshake, error) {
	var h HostHandshake
	if err := cbor.Unmarshal(b, &h); err != nil {
		return HostHandshake{}, fmt.Errorf("wire: decode host handshake: %w", err)
	}
	return h, nil
}

// EncodeServerHandshake renders a ServerHandshake to canonical CBOR.
func EncodeServerHandshake(h ServerHandshake) ([]byte, error) {
	return encMode.Marshal(h)
}

// DecodeServerHandshake parses a ServerHandshake payload.
func DecodeServerHandshake(b []byte) (ServerHandshake, error) {
	var h ServerHandshake
	if err := cbor.Unmarshal(b, &h); err != nil {
		return ServerHandshake{}, fmt.Errorf("wire: decode server handshake: %w", err)
	}
	return h, nil
}
