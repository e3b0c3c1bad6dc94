// Package boot holds the data model shared by every component that reasons
// about a host's power state: its MAC address, its server-issued OS ids, the
// boot actions that move it between power states, and the graph those
// actions form.
package boot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MacAddress uniquely and stably identifies one physical host.
type MacAddress [6]byte

// ParseMac parses the canonical "aa:bb:cc:dd:ee:ff" form.
func ParseMac(s string) (MacAddress, error) {
	var mac MacAddress
	if len(s) != 17 {
		return mac, fmt.Errorf("boot: invalid mac address %q", s)
	}
	for i := 0; i < 6; i++ {
		b, err := hex.DecodeString(s[i*3 : i*3+2])
		if err != nil || len(b) != 1 {
			return mac, fmt.Errorf("boot: invalid mac address %q", s)
		}
		mac[i] = b[0]
		if i < 5 && s[i*3+2] != ':' {
			return mac, fmt.Errorf("boot: invalid mac address %q", s)
		}
	}
	return mac, nil
}

func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// MarshalJSON renders the mac as a JSON array of 6 bytes (spec §6's
// "mac_address: bytes[6]"), not the usual base64 []byte encoding.
func (m MacAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal([6]byte(m))
}

// UnmarshalJSON accepts the same 6-element byte array shape.
func (m *MacAddress) UnmarshalJSON(data []byte) error {
	var raw [6]byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("boot: decode mac address: %w", err)
	}
	*m = MacAddress(raw)
	return nil
}

// OsUid is a server-issued per-host identifier for an installed OS.
// Zero means "the agent has not yet been told which OS it is".
type OsUid uint64

// UidUnset is the reserved zero value of OsUid.
const UidUnset OsUid = 0

// PowerState is a vertex in one host's boot graph: either Down, or running
// a specific installed OS.
type PowerState struct {
	Down bool
	Os   OsUid
}

// DownState is the single Down vertex.
var DownState = PowerState{Down: true}

// UpState builds the Up(uid) vertex for uid.
func UpState(uid OsUid) PowerState {
	return PowerState{Os: uid}
}

func (p PowerState) String() string {
	if p.Down {
		return "Down"
	}
	return fmt.Sprintf("Up(%d)", p.Os)
}

// ActionKind discriminates the three BootAction variants.
type ActionKind uint8

const (
	ActionWol ActionKind = iota
	ActionGrubEntry
	ActionShutdown
)

func (k ActionKind) String() string {
	switch k {
	case ActionWol:
		return "Wol"
	case ActionGrubEntry:
		return "GrubEntry"
	case ActionShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// BootAction is an edge label: an executable transition between two power
// states. Entry is only meaningful when Kind == ActionGrubEntry.
type BootAction struct {
	Kind  ActionKind
	Entry uint64
}

func Wol() BootAction              { return BootAction{Kind: ActionWol} }
func Shutdown() BootAction         { return BootAction{Kind: ActionShutdown} }
func GrubEntry(id uint64) BootAction { return BootAction{Kind: ActionGrubEntry, Entry: id} }

func (a BootAction) String() string {
	if a.Kind == ActionGrubEntry {
		return fmt.Sprintf("GrubEntry(%d)", a.Entry)
	}
	return a.Kind.String()
}

// OsInfo is attached to every Up vertex.
type OsInfo struct {
	DisplayName string
}
