package httpapi

import "github.com/bootwake/bootwaked/internal/boot"

// loginRequest is the POST /login body.
type loginRequest struct {
	Password string `json:"password"`
}

// osSelector is the tagged-union `{kind:"Down"} | {id:u64}` target shape
// used by POST /api/op/boot (spec §6's table).
type osSelector struct {
	Kind string  `json:"kind,omitempty"`
	Id   *uint64 `json:"id,omitempty"`
}

func (s osSelector) toPowerState() (boot.PowerState, bool) {
	if s.Kind == "Down" {
		return boot.DownState, true
	}
	if s.Id != nil {
		return boot.UpState(boot.OsUid(*s.Id)), true
	}
	return boot.PowerState{}, false
}

func fromPowerState(p boot.PowerState) osSelector {
	if p.Down {
		return osSelector{Kind: "Down"}
	}
	id := uint64(p.Os)
	return osSelector{Kind: "Up", Id: &id}
}

// bootRequest is the POST /api/op/boot body.
type bootRequest struct {
	MacAddress boot.MacAddress `json:"mac_address"`
	Os         osSelector      `json:"os"`
}

// newMachineRequest is the POST /api/op/new body.
type newMachineRequest struct {
	DisplayName string          `json:"display_name"`
	MacAddress  boot.MacAddress `json:"mac_address"`
}

// opResult is the `{kind: Success|Fail|NotFound}` envelope shared by both
// operation endpoints.
type opResult struct {
	Kind string `json:"kind"`
}

var (
	resultSuccess  = opResult{Kind: "Success"}
	resultFail     = opResult{Kind: "Fail"}
	resultNotFound = opResult{Kind: "NotFound"}
)

// machineRequest is the shared body shape of /api/get/machine and
// /api/get/oss: both take only a mac_address.
type machineRequest struct {
	MacAddress boot.MacAddress `json:"mac_address"`
}

// machineView is one entry of POST /api/get/machines's response.
type machineView struct {
	DisplayName *string         `json:"display_name,omitempty"`
	MacAddress  boot.MacAddress `json:"mac_address"`
	State       osSelector      `json:"state"`
}

type machinesResponse struct {
	Machines []machineView `json:"machines"`
}

// machineRecordView is POST /api/get/machine's response, or null.
type machineRecordView struct {
	DisplayName string          `json:"display_name"`
	MacAddress  boot.MacAddress `json:"mac_address"`
	State       osSelector      `json:"state"`
}

type osView struct {
	DisplayName string      `json:"display_name"`
	Id          boot.OsUid  `json:"id"`
}

type ossResponse struct {
	Oss []osView `json:"oss"`
}
