package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "choose_role", "release_role"
	Role string `json:"role,omitempty"` // "hacker" or "defender"
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   ConnID
}

type roleRequest struct {
	client *Client
	msg    ClientMessage
}

// Hub serializes all access to the Lobby through its run loop. Handlers and
// client read pumps only ever talk to it over channels, so no two lobby
// operations can interleave.
type Hub struct {
	lobby   *Lobby
	clients map[ConnID]*Client

	register chan *Client
	unreg    chan *Client
	requests chan roleRequest
	ready    chan struct{}
	queries  chan chan bool
}

func newHub() *Hub {
	return &Hub{
		lobby:    newLobby(),
		clients:  make(map[ConnID]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		requests: make(chan roleRequest),
		ready:    make(chan struct{}),
		queries:  make(chan chan bool),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.dispatch(h.lobby.Connect(c.id))
			logf(cfg, "LOBBY: Connection %s joined (%d/%d)", c.id, h.lobby.PlayerCount(), maxPlayers)

		case c := <-h.unreg:
			if cur, ok := h.clients[c.id]; ok && cur == c {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.dispatch(h.lobby.Disconnect(c.id))
			logf(cfg, "LOBBY: Connection %s left (%d/%d)", c.id, h.lobby.PlayerCount(), maxPlayers)

		case rr := <-h.requests:
			switch rr.msg.Type {
			case "choose_role":
				h.dispatch(h.lobby.Choose(rr.client.id, rr.msg.Role))
			case "release_role":
				h.dispatch(h.lobby.Release(rr.client.id, rr.msg.Role))
			}

		case <-h.ready:
			// Re-announce readiness after a role lands in a browser session,
			// so clients that missed the original broadcast can move on.
			if h.lobby.AllRolesTaken() {
				h.dispatch([]Event{broadcast(RolesReadyMessage{Type: "roles_ready", OK: true})})
			}

		case reply := <-h.queries:
			reply <- h.lobby.AllRolesTaken()
		}
	}
}

// dispatch fans events out to their recipients. Sends never block the run
// loop: a client whose buffer is full is dropped, and its read pump's unreg
// signal cleans up the lobby entry afterwards.
func (h *Hub) dispatch(events []Event) {
	for _, ev := range events {
		if ev.To != "" {
			c, ok := h.clients[ev.To]
			if !ok {
				continue
			}
			h.trySend(c, ev.Payload)
			continue
		}

		for _, c := range h.clients {
			h.trySend(c, ev.Payload)
		}
	}
}

func (h *Hub) trySend(c *Client, payload any) {
	select {
	case c.send <- payload:
	default:
		delete(h.clients, c.id)
		close(c.send)
	}
}

// allRolesTaken answers the page layer's readiness query from outside the
// run loop.
func (h *Hub) allRolesTaken() bool {
	reply := make(chan bool, 1)
	h.queries <- reply
	return <-reply
}

// notifyReady asks the run loop to re-broadcast roles_ready if both seats
// are currently held.
func (h *Hub) notifyReady() {
	h.ready <- struct{}{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and registers it with the hub under a
// fresh connection ID.
func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   ConnID(uuid.NewString()),
		}

		h.register <- client

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "choose_role", "release_role":
			h.requests <- roleRequest{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the lobby URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../duel/qr; strip the trailing segments to get the lobby URL.
	path := strings.TrimSuffix(r.URL.Path, "duel/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerDuelLobby sets up routes so that:
//   - $prefix/                → lobby page
//   - $prefix/hacker          → hacker page (session-gated)
//   - $prefix/defender        → defender page (session-gated)
//   - $prefix/set-role        → persist a locked role into the browser session
//   - $prefix/duel/ws         → realtime lobby websocket
//   - $prefix/duel/qr         → PNG QR code for the lobby URL
func registerDuelLobby(cfg *Config, mux *httprouter.Router, errs chan<- error) {
	hub := newHub()
	go hub.run(cfg)

	sessions := newSessionStore()

	mux.GET(cfg.prefix+"/", serveLobbyPage(cfg))
	mux.GET(cfg.prefix+"/hacker", serveRolePage(cfg, sessions, RoleHacker, hackerHTML))
	mux.GET(cfg.prefix+"/defender", serveRolePage(cfg, sessions, RoleDefender, defenderHTML))
	mux.POST(cfg.prefix+"/set-role", serveSetRole(cfg, sessions, hub, errs))

	mux.GET(cfg.prefix+"/assets/duel/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/duel/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+"/duel/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+"/duel/qr", qrHandler)
}
