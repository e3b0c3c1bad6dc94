package httpapi

import (
	"errors"
	"net/http"

	"github.com/bootwake/bootwaked/internal/logger"
	"github.com/bootwake/bootwaked/internal/registry"
)

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	var req bootRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	target, ok := req.Os.toPowerState()
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	err := s.reg.Boot(req.MacAddress, target)
	switch {
	case err == nil:
		s.writeJSON(w, resultSuccess)
	case errors.Is(err, registry.ErrNotFound):
		s.writeJSON(w, resultNotFound)
	case isBadGraph(err):
		s.internalError(w, err)
	default:
		s.log.Warn("httpapi: boot failed", logger.Mac(req.MacAddress), "error", err)
		s.writeJSON(w, resultFail)
	}
}

func (s *Server) handleNewMachine(w http.ResponseWriter, r *http.Request) {
	var req newMachineRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.reg.NewMachine(req.MacAddress, req.DisplayName)
	switch {
	case err == nil:
		s.writeJSON(w, resultSuccess)
	case errors.Is(err, registry.ErrNotFound):
		s.writeJSON(w, resultNotFound)
	default:
		s.log.Warn("httpapi: new machine failed", logger.Mac(req.MacAddress), "error", err)
		s.writeJSON(w, resultFail)
	}
}

func (s *Server) handleGetMachines(w http.ResponseWriter, r *http.Request) {
	machines := s.reg.Machines()
	views := make([]machineView, 0, len(machines)+len(s.reg.UnknownMACs()))

	for _, m := range machines {
		name := m.DisplayName()
		state, err := m.CurrentOs()
		sel := fromPowerState(state)
		if err != nil {
			s.log.Warn("httpapi: current os lookup failed", logger.Mac(m.Mac()), "error", err)
		}
		views = append(views, machineView{DisplayName: &name, MacAddress: m.Mac(), State: sel})
	}
	for _, mac := range s.reg.UnknownMACs() {
		views = append(views, machineView{MacAddress: mac, State: osSelector{Kind: "Uninited"}})
	}

	s.writeJSON(w, machinesResponse{Machines: views})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	var req machineRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	m, ok := s.reg.Machine(req.MacAddress)
	if !ok {
		s.writeJSON(w, nil)
		return
	}
	state, err := m.CurrentOs()
	if err != nil {
		s.log.Warn("httpapi: current os lookup failed", logger.Mac(m.Mac()), "error", err)
	}
	s.writeJSON(w, machineRecordView{DisplayName: m.DisplayName(), MacAddress: m.Mac(), State: fromPowerState(state)})
}

func (s *Server) handleGetOss(w http.ResponseWriter, r *http.Request) {
	var req machineRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	m, ok := s.reg.Machine(req.MacAddress)
	if !ok {
		s.writeJSON(w, ossResponse{})
		return
	}

	all := m.Graph().AllOs()
	views := make([]osView, 0, len(all))
	for uid, info := range all {
		views = append(views, osView{DisplayName: info.DisplayName, Id: uid})
	}
	s.writeJSON(w, ossResponse{Oss: views})
}
