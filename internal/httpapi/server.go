// Package httpapi implements the authenticated HTTP/JSON operator surface
// (spec §6, component J): login, session-cookie auth, and the boot/new/
// machines/machine/oss endpoints over internal/registry.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/bootwake/bootwaked/internal/bootgraph"
	"github.com/bootwake/bootwaked/internal/registry"
)

// maxBodyBytes is the 1 KiB request body cap from spec §6; anything larger
// is rejected with 413 before it reaches a handler's json.Decode.
const maxBodyBytes = 1024

// Server is the HTTP operator surface wired to one registry.Server.
type Server struct {
	reg          *registry.Server
	passwordHash atomic.Pointer[string]
	jwtSecret    []byte
	log          *slog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer constructs the operator HTTP surface. passwordHash is a bcrypt
// hash (see config.HashPassword); jwtSecret signs session cookies.
func NewServer(reg *registry.Server, passwordHash string, jwtSecret []byte, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		reg:       reg,
		jwtSecret: jwtSecret,
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
	}
	s.SetPasswordHash(passwordHash)
	return s
}

// SetPasswordHash swaps the operator password hash in place, letting a
// config hot-reload take effect without restarting the listener.
func (s *Server) SetPasswordHash(hash string) {
	s.passwordHash.Store(&hash)
}

// Handler builds the routed, middleware-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /login", s.rateLimited(s.handleLogin))

	api := http.NewServeMux()
	api.HandleFunc("POST /api/op/boot", s.handleBoot)
	api.HandleFunc("POST /api/op/new", s.handleNewMachine)
	api.HandleFunc("POST /api/get/machines", s.handleGetMachines)
	api.HandleFunc("POST /api/get/machine", s.handleGetMachine)
	api.HandleFunc("POST /api/get/oss", s.handleGetOss)
	mux.Handle("/api/", s.requireAuth(api))

	return s.limitBody(mux)
}

// limitBody caps every request body at maxBodyBytes, turning an oversize
// body into a 413 instead of an arbitrary decode failure deep in a handler.
// A declared Content-Length over the cap is rejected before any handler
// runs; a body of unknown length is cut off by http.MaxBytesReader.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects unauthenticated /api/* requests with 403 (spec §6).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited applies a per-source-IP token bucket in front of login, the
// same shape teacher's bandwidth meter applies per user (1/sec, burst 5).
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiterFor(host).Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		s.limiters[key] = lim
	}
	return lim
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.checkPassword(req.Password) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := s.issueSessionCookie(w); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, resultSuccess)
}

// decodeBody JSON-decodes r.Body into dst, writing 413 for an oversize
// body (http.MaxBytesReader's error, per limitBody) and 400 for anything
// else malformed. Returns false if it already wrote a response.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("httpapi: encode response", "error", err)
	}
}

// internalError logs the real error and returns the generic 500 spec §7
// requires (no internal detail leaked to the client).
func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("httpapi: internal error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// isBadGraph reports whether err is (or wraps) bootgraph.ErrBadGraph, the
// one error kind spec §7 maps to 500 instead of a Fail result.
func isBadGraph(err error) bool {
	return errors.Is(err, bootgraph.ErrBadGraph)
}
