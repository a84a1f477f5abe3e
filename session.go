package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

const playerCookieName = "breachbox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// sessionStore maps a browser's player ID to the role it locked, so the
// /hacker and /defender pages can be gated server-side. In-memory only; it
// lives and dies with the lobby itself.
type sessionStore struct {
	mu    sync.Mutex
	roles map[string]Role
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		roles: make(map[string]Role),
	}
}

func (s *sessionStore) setRole(playerID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[playerID] = role
}

func (s *sessionStore) role(playerID string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[playerID]
	return role, ok
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type setRoleResponse struct {
	OK    bool   `json:"ok"`
	Role  string `json:"role,omitempty"`
	Error string `json:"error,omitempty"`
}

// serveSetRole is called by the client after a successful choose_role lock,
// to persist the role into the browser session backing the role pages.
func serveSetRole(cfg *Config, sessions *sessionStore, hub *Hub, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req setRoleRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		role, ok := parseRole(req.Role)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			if err := json.NewEncoder(w).Encode(setRoleResponse{OK: false, Error: "invalid role"}); err != nil {
				errs <- err
			}
			return
		}

		playerID := getOrSetPlayerID(w, r)
		sessions.setRole(playerID, role)

		// If both roles are taken, re-announce roles_ready so clients can
		// move on to their pages.
		hub.notifyReady()

		if err := json.NewEncoder(w).Encode(setRoleResponse{OK: true, Role: string(role)}); err != nil {
			errs <- err

			return
		}

		logf(cfg, "LOBBY: Session role %q set for %s in %s",
			role,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveRolePage serves a role's page only to the browser session that locked
// that role; everyone else is bounced back to the lobby.
func serveRolePage(cfg *Config, sessions *sessionStore, role Role, page []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c, err := r.Cookie(playerCookieName)
		if err != nil || c.Value == "" {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusTemporaryRedirect)
			return
		}

		if held, ok := sessions.role(c.Value); !ok || held != role {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusTemporaryRedirect)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write(page)
	}
}
