package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/bootgraph"
	"github.com/bootwake/bootwaked/internal/registry"
)

func testServer(t *testing.T) (*Server, *registry.Server) {
	t.Helper()
	reg := registry.New(nil, 4)

	g := bootgraph.NewGraph()
	g.AddOsVertex(1, boot.OsInfo{DisplayName: "Windows"})
	g.ConnectWol(1)
	reg.Import([]registry.MachineRecord{{
		Mac:         boot.MacAddress{1, 2, 3, 4, 5, 6},
		DisplayName: "Desk",
		Graph:       g.Snapshot(),
	}})

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return NewServer(reg, string(hashBytes), []byte("test-secret"), nil), reg
}

func loginCookie(t *testing.T, h http.Handler, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Password: password})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got status %d, body %q", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("no session cookie set")
	return nil
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()

	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rec.Code)
	}
}

func TestApiRequiresAuth(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/get/machines", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rec.Code)
	}
}

func TestGetMachinesListsRegistered(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()
	cookie := loginCookie(t, h, "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/api/get/machines", strings.NewReader("{}"))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %q", rec.Code, rec.Body.String())
	}
	var resp machinesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Machines) != 1 {
		t.Fatalf("got %d machines, want 1: %+v", len(resp.Machines), resp.Machines)
	}
	if resp.Machines[0].DisplayName == nil || *resp.Machines[0].DisplayName != "Desk" {
		t.Fatalf("got machine %+v, want display name Desk", resp.Machines[0])
	}
}

func TestBootUnknownMacReturnsNotFound(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()
	cookie := loginCookie(t, h, "hunter2")

	body, _ := json.Marshal(bootRequest{MacAddress: boot.MacAddress{8, 8, 8, 8, 8, 8}, Os: osSelector{Kind: "Down"}})
	req := httptest.NewRequest(http.MethodPost, "/api/op/boot", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var res opResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Kind != "NotFound" {
		t.Fatalf("got kind %q, want NotFound", res.Kind)
	}
}

func TestOversizeBodyRejectedWith413(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()
	cookie := loginCookie(t, h, "hunter2")

	huge := bytes.Repeat([]byte("a"), maxBodyBytes*2)
	req := httptest.NewRequest(http.MethodPost, "/api/get/machines", bytes.NewReader(huge))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want 413", rec.Code)
	}
}
