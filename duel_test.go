package main

import (
	"testing"
	"time"
)

// testClient registers a transport-less client with the hub; the run loop
// only ever touches the send channel, so no websocket is needed.
func testClient(t *testing.T, h *Hub, id ConnID) *Client {
	t.Helper()

	c := &Client{
		send: make(chan any, 8),
		id:   id,
	}
	h.register <- c
	return c
}

func recvMessage(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel for %q closed unexpectedly", c.id)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a message to %q", c.id)
	}
	return nil
}

func drain(t *testing.T, c *Client, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		recvMessage(t, c)
	}
}

func newTestHub() *Hub {
	h := newHub()
	go h.run(&Config{})
	return h
}

func TestHubDeliversConnectBroadcasts(t *testing.T) {
	h := newTestHub()

	a := testClient(t, h, "a")

	msg := recvMessage(t, a)
	count, ok := msg.(PlayerCountMessage)
	if !ok {
		t.Fatalf("expected player_count first, got %T", msg)
	}
	if count.Count != 1 || count.Max != maxPlayers {
		t.Fatalf("expected count 1/%d, got %d/%d", maxPlayers, count.Count, count.Max)
	}
	if _, ok := recvMessage(t, a).(RolesUpdateMessage); !ok {
		t.Fatal("expected roles_update second")
	}

	b := testClient(t, h, "b")

	// Both clients see the second join.
	for _, c := range []*Client{a, b} {
		count, ok := recvMessage(t, c).(PlayerCountMessage)
		if !ok || count.Count != 2 {
			t.Fatalf("expected count 2 for %q, got %#v", c.id, count)
		}
		if _, ok := recvMessage(t, c).(RolesUpdateMessage); !ok {
			t.Fatalf("expected roles_update for %q", c.id)
		}
	}
}

func TestHubOrdersSuccessBeforeBroadcasts(t *testing.T) {
	h := newTestHub()

	a := testClient(t, h, "a")
	drain(t, a, 2)
	b := testClient(t, h, "b")
	drain(t, a, 2)
	drain(t, b, 2)

	h.requests <- roleRequest{client: a, msg: ClientMessage{Type: "choose_role", Role: "hacker"}}

	if _, ok := recvMessage(t, a).(ChooseRoleSuccessMessage); !ok {
		t.Fatal("requester must see choose_role_success before the broadcast")
	}
	roles, ok := recvMessage(t, a).(RolesUpdateMessage)
	if !ok || !roles.Hacker || roles.Defender {
		t.Fatalf("expected roles_update {hacker:true}, got %#v", roles)
	}

	// The loser only hears about the new state, never the failure of others.
	roles, ok = recvMessage(t, b).(RolesUpdateMessage)
	if !ok || !roles.Hacker {
		t.Fatalf("expected roles_update for b, got %#v", roles)
	}

	h.requests <- roleRequest{client: b, msg: ClientMessage{Type: "choose_role", Role: "hacker"}}

	failed, ok := recvMessage(t, b).(ChooseRoleFailedMessage)
	if !ok || failed.Error != errRoleTaken {
		t.Fatalf("expected role_taken for b, got %#v", failed)
	}

	h.requests <- roleRequest{client: b, msg: ClientMessage{Type: "choose_role", Role: "defender"}}

	if _, ok := recvMessage(t, b).(ChooseRoleSuccessMessage); !ok {
		t.Fatal("expected defender success for b")
	}
	if _, ok := recvMessage(t, b).(RolesUpdateMessage); !ok {
		t.Fatal("expected roles_update before roles_ready")
	}
	ready, ok := recvMessage(t, b).(RolesReadyMessage)
	if !ok || !ready.OK {
		t.Fatalf("expected roles_ready last, got %#v", ready)
	}

	if !h.allRolesTaken() {
		t.Fatal("expected hub to report both seats held")
	}
}

func TestHubUnregisterReleasesSeat(t *testing.T) {
	h := newTestHub()

	a := testClient(t, h, "a")
	drain(t, a, 2)
	b := testClient(t, h, "b")
	drain(t, a, 2)
	drain(t, b, 2)

	h.requests <- roleRequest{client: a, msg: ClientMessage{Type: "choose_role", Role: "hacker"}}
	drain(t, a, 2)
	drain(t, b, 1)

	h.unreg <- a

	count, ok := recvMessage(t, b).(PlayerCountMessage)
	if !ok || count.Count != 1 {
		t.Fatalf("expected count 1 after disconnect, got %#v", count)
	}
	roles, ok := recvMessage(t, b).(RolesUpdateMessage)
	if !ok || roles.Hacker {
		t.Fatalf("expected hacker seat freed, got %#v", roles)
	}

	// A second unreg for the same client must not panic or re-broadcast.
	h.unreg <- a

	if h.allRolesTaken() {
		t.Fatal("expected seats free after owner disconnect")
	}
}

func TestHubNotifyReadyRebroadcasts(t *testing.T) {
	h := newTestHub()

	a := testClient(t, h, "a")
	drain(t, a, 2)
	b := testClient(t, h, "b")
	drain(t, a, 2)
	drain(t, b, 2)

	// Not ready yet: nothing should be broadcast.
	h.notifyReady()

	h.requests <- roleRequest{client: a, msg: ClientMessage{Type: "choose_role", Role: "hacker"}}
	drain(t, a, 2)
	drain(t, b, 1)
	h.requests <- roleRequest{client: b, msg: ClientMessage{Type: "choose_role", Role: "defender"}}
	drain(t, a, 2)
	drain(t, b, 3)

	h.notifyReady()

	if _, ok := recvMessage(t, a).(RolesReadyMessage); !ok {
		t.Fatal("expected roles_ready rebroadcast for a")
	}
	if _, ok := recvMessage(t, b).(RolesReadyMessage); !ok {
		t.Fatal("expected roles_ready rebroadcast for b")
	}
}
