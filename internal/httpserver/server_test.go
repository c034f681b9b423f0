package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chinnasivakrishna/auriter-agent/internal/config"
)

func TestServer_Healthz(t *testing.T) {
	srv := New(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestOffer_MethodNotAllowed(t *testing.T) {
	srv := New(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/interview/offer/room-1", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestOffer_BadJSON(t *testing.T) {
	srv := New(config.Config{})
	r := httptest.NewRequest(http.MethodPost, "/interview/offer/room-1", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOffer_Unauthorized(t *testing.T) {
	srv := New(config.Config{RTCAuthPassword: "secret"})

	r := httptest.NewRequest(http.MethodPost, "/interview/offer/room-1", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d", w.Code)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/interview/offer/room-1?password=wrong", strings.NewReader("{}"))
	r2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w2, r2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w2.Code)
	}
}

func TestAuthOK(t *testing.T) {
	if !authOK(httptest.NewRequest(http.MethodGet, "/", nil), "") {
		t.Fatal("empty password must accept")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !authOK(r, "secret") {
		t.Fatal("query password must accept")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "bearer tok")
	if !authOK(r2, "tok") {
		t.Fatal("lowercase bearer prefix must accept")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("X-Auth-Token", "nope")
	if authOK(r3, "secret") {
		t.Fatal("wrong X-Auth-Token must reject")
	}
}

func TestWSCall_MissingRoom(t *testing.T) {
	srv := New(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/ws/call", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without room parameter, got %d", w.Code)
	}
}
