// Breachbox duel lobby
//
// Exactly two players connect and each claims one of two mutually exclusive
// roles, "hacker" or "defender". The Lobby owns the connection registry and
// role ownership, and guarantees at most one holder per role at any time.
//
// Every state transition returns the ordered list of events it produced
// instead of emitting them itself. The websocket hub in duel.go is the only
// caller and performs the actual fan-out, so the whole state machine can be
// exercised in tests without a live transport.

package main

// Role is one of the two seats in a duel.
type Role string

const (
	RoleHacker   Role = "hacker"
	RoleDefender Role = "defender"
)

// maxPlayers is the number of seats; role selection is gated on both
// being filled.
const maxPlayers = 2

// parseRole validates a client-supplied role string.
func parseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleHacker, RoleDefender:
		return Role(s), true
	}
	return "", false
}

// ConnID identifies one live connection. IDs are assigned by the transport
// layer on upgrade and are unique for the lifetime of the process.
type ConnID string

// Error tags sent to a client whose choose_role attempt was rejected.
const (
	errWaitingForPlayers    = "waiting_for_players"
	errInvalidRole          = "invalid_role"
	errRoleTaken            = "role_taken"
	errAlreadyOwnsOtherRole = "already_owns_other_role"
)

// Messages sent to clients. The Type field discriminates on the wire.
type PlayerCountMessage struct {
	Type  string `json:"type"` // "player_count"
	Count int    `json:"count"`
	Max   int    `json:"max"`
}

type RolesUpdateMessage struct {
	Type     string `json:"type"` // "roles_update"
	Hacker   bool   `json:"hacker"`
	Defender bool   `json:"defender"`
}

type RolesReadyMessage struct {
	Type string `json:"type"` // "roles_ready"
	OK   bool   `json:"ok"`
}

type ChooseRoleSuccessMessage struct {
	Type string `json:"type"` // "choose_role_success"
	Role string `json:"role"`
}

type ChooseRoleFailedMessage struct {
	Type  string `json:"type"`  // "choose_role_failed"
	Error string `json:"error"` // one of the err* tags above
}

type RoleReleasedMessage struct {
	Type string `json:"type"` // "role_released"
	Role string `json:"role"`
}

// Event is one message produced by a Lobby transition. An empty To means
// broadcast to every connected client; otherwise the payload goes to that
// connection only.
type Event struct {
	To      ConnID
	Payload any
}

func broadcast(payload any) Event {
	return Event{Payload: payload}
}

func direct(to ConnID, payload any) Event {
	return Event{To: to, Payload: payload}
}

// Lobby is the duel lobby state: which connections exist and which of them
// holds which role. It is owned by a single Hub run loop; no two operations
// ever interleave, and it is never handed out for direct mutation.
//
// Invariants, after every operation:
//   - owners[r] == id implies conns[id] == r
//   - a connection holds at most one role
//   - each role has at most one owner
type Lobby struct {
	conns  map[ConnID]Role // "" while the connection holds no role
	owners map[Role]ConnID
}

func newLobby() *Lobby {
	return &Lobby{
		conns:  make(map[ConnID]Role),
		owners: make(map[Role]ConnID),
	}
}

// PlayerCount reports the number of live connections. There is no admission
// cap; connections beyond the second are counted but cannot claim a seat
// while both are held.
func (l *Lobby) PlayerCount() int {
	return len(l.conns)
}

// Snapshot reports which seats are currently taken.
func (l *Lobby) Snapshot() (hackerTaken, defenderTaken bool) {
	_, hackerTaken = l.owners[RoleHacker]
	_, defenderTaken = l.owners[RoleDefender]
	return hackerTaken, defenderTaken
}

// AllRolesTaken reports whether both seats are held.
func (l *Lobby) AllRolesTaken() bool {
	hacker, defender := l.Snapshot()
	return hacker && defender
}

func (l *Lobby) countMessage() PlayerCountMessage {
	return PlayerCountMessage{
		Type:  "player_count",
		Count: l.PlayerCount(),
		Max:   maxPlayers,
	}
}

func (l *Lobby) rolesMessage() RolesUpdateMessage {
	hacker, defender := l.Snapshot()
	return RolesUpdateMessage{
		Type:     "roles_update",
		Hacker:   hacker,
		Defender: defender,
	}
}

// Connect registers a new connection with no role and announces the updated
// player count and seat availability to everyone.
func (l *Lobby) Connect(id ConnID) []Event {
	l.conns[id] = ""

	return []Event{
		broadcast(l.countMessage()),
		broadcast(l.rolesMessage()),
	}
}

// Disconnect releases any seat the connection held and removes it from the
// registry. Unknown IDs are a no-op, so duplicate disconnect signals from
// the transport are harmless.
func (l *Lobby) Disconnect(id ConnID) []Event {
	if _, ok := l.conns[id]; !ok {
		return nil
	}

	for role, owner := range l.owners {
		if owner == id {
			delete(l.owners, role)
		}
	}
	delete(l.conns, id)

	return []Event{
		broadcast(l.countMessage()),
		broadcast(l.rolesMessage()),
	}
}

// Choose attempts to lock desired for the given connection. Preconditions
// are checked in order and the first failure wins; a rejection leaves the
// lobby unmodified and is reported to the requester only.
//
// Re-choosing a role you already hold succeeds again without changing state.
func (l *Lobby) Choose(id ConnID, desired string) []Event {
	fail := func(tag string) []Event {
		return []Event{
			direct(id, ChooseRoleFailedMessage{Type: "choose_role_failed", Error: tag}),
		}
	}

	// Seats only become claimable once both players are present.
	if l.PlayerCount() < maxPlayers {
		return fail(errWaitingForPlayers)
	}

	role, ok := parseRole(desired)
	if !ok {
		return fail(errInvalidRole)
	}

	if owner, taken := l.owners[role]; taken && owner != id {
		return fail(errRoleTaken)
	}

	if held := l.conns[id]; held != "" && held != role {
		return fail(errAlreadyOwnsOtherRole)
	}

	l.owners[role] = id
	l.conns[id] = role

	events := []Event{
		direct(id, ChooseRoleSuccessMessage{Type: "choose_role_success", Role: string(role)}),
		broadcast(l.rolesMessage()),
	}

	if l.AllRolesTaken() {
		events = append(events, broadcast(RolesReadyMessage{Type: "roles_ready", OK: true}))
	}

	return events
}

// Release gives a seat back voluntarily. It only applies when the requester
// actually owns the named role; anything else is silently ignored.
func (l *Lobby) Release(id ConnID, requested string) []Event {
	role, ok := parseRole(requested)
	if !ok || l.owners[role] != id {
		return nil
	}

	delete(l.owners, role)
	l.conns[id] = ""

	return []Event{
		direct(id, RoleReleasedMessage{Type: "role_released", Role: string(role)}),
		broadcast(l.rolesMessage()),
	}
}
