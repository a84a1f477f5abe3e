package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetRoleInvalid(t *testing.T) {
	cfg := &Config{}
	sessions := newSessionStore()
	hub := newTestHub()
	errs := make(chan error, 8)

	handler := serveSetRole(cfg, sessions, hub, errs)

	for _, body := range []string{`{"role":"wizard"}`, `{}`, `not json`} {
		r := httptest.NewRequest("POST", "/set-role", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler(w, r, nil)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}

		var resp setRoleResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body %q: decoding response: %v", body, err)
		}
		if resp.OK || resp.Error != "invalid role" {
			t.Fatalf("body %q: expected invalid role error, got %+v", body, resp)
		}
	}
}

func TestSetRolePersistsSession(t *testing.T) {
	cfg := &Config{}
	sessions := newSessionStore()
	hub := newTestHub()
	errs := make(chan error, 8)

	handler := serveSetRole(cfg, sessions, hub, errs)

	r := httptest.NewRequest("POST", "/set-role", strings.NewReader(`{"role":"hacker"}`))
	w := httptest.NewRecorder()
	handler(w, r, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp setRoleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.OK || resp.Role != "hacker" {
		t.Fatalf("expected ok hacker response, got %+v", resp)
	}

	// A fresh browser gets an identity cookie, and the role sticks to it.
	cookies := w.Result().Cookies()
	var playerID string
	for _, c := range cookies {
		if c.Name == playerCookieName {
			playerID = c.Value
		}
	}
	if playerID == "" {
		t.Fatal("expected an identity cookie to be set")
	}
	if role, ok := sessions.role(playerID); !ok || role != RoleHacker {
		t.Fatalf("expected session role hacker, got (%q, %v)", role, ok)
	}
}

func TestRolePageGating(t *testing.T) {
	cfg := &Config{}
	sessions := newSessionStore()
	sessions.setRole("alice", RoleHacker)

	handler := serveRolePage(cfg, sessions, RoleHacker, []byte("hacker page"))

	// No cookie: back to the lobby.
	r := httptest.NewRequest("GET", "/hacker", nil)
	w := httptest.NewRecorder()
	handler(w, r, nil)
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect without a session, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}

	// Wrong role: back to the lobby.
	sessions.setRole("bob", RoleDefender)
	r = httptest.NewRequest("GET", "/hacker", nil)
	r.AddCookie(&http.Cookie{Name: playerCookieName, Value: "bob"})
	w = httptest.NewRecorder()
	handler(w, r, nil)
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect for a defender session, got %d", w.Code)
	}

	// Matching role: page served.
	r = httptest.NewRequest("GET", "/hacker", nil)
	r.AddCookie(&http.Cookie{Name: playerCookieName, Value: "alice"})
	w = httptest.NewRecorder()
	handler(w, r, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for the hacker session, got %d", w.Code)
	}
	if got := w.Body.String(); got != "hacker page" {
		t.Fatalf("expected the hacker page body, got %q", got)
	}
}

func TestGetOrSetPlayerIDIsStable(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	first := getOrSetPlayerID(w, r)
	if first == "" {
		t.Fatal("expected a generated player id")
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: playerCookieName, Value: first})
	w = httptest.NewRecorder()

	if second := getOrSetPlayerID(w, r); second != first {
		t.Fatalf("expected the existing id %q, got %q", first, second)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for a returning browser")
	}
}
