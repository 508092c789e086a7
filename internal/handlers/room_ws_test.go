// internal/handlers/room_ws_test.go
package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/anteroom-dev/anteroom/internal/lobby"
	"github.com/anteroom-dev/anteroom/internal/muc"
)

// newWSClient wires a wsClient the way RoomWSHandler does, minus the
// socket: frames land on cl.out and the relay goroutine runs.
func newWSClient(t *testing.T, s *Server, local, userLocal string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cl := &wsClient{
		server: s,
		sess:   s.Rooms.NewSession(userLocal),
		local:  local,
		cancel: cancel,
		out:    make(chan any, 32),
	}
	cl.identity = cl.sess.RealJID().Bare()
	main, err := cl.sess.CreateRoom(local, muc.RoomOptions{})
	if err != nil {
		t.Fatalf("creating view on %s: %v", local, err)
	}
	cl.main = main
	events := make(chan muc.Event, 64)
	cl.unsub = main.Subscribe(events)
	go cl.relayRoomEvents(ctx, events, s.Log)
	t.Cleanup(cl.teardown)
	return cl
}

// awaitFrame pulls frames off cl.out until match accepts one,
// discarding the rest.
func awaitFrame(t *testing.T, cl *wsClient, what string, match func(any) bool) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-cl.out:
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("frame %q did not arrive", what)
			return nil
		}
	}
}

func eventOfType(typ muc.EventType) func(any) bool {
	return func(f any) bool {
		ev, ok := f.(muc.Event)
		return ok && ev.Type == typ
	}
}

func notificationOfType(typ lobby.NotificationType) func(any) bool {
	return func(f any) bool {
		n, ok := f.(lobby.Notification)
		return ok && n.Type == typ
	}
}

func frameOfType(typ string) func(any) bool {
	return func(f any) bool {
		m, ok := f.(map[string]any)
		return ok && m["type"] == typ
	}
}

func TestWSJoinOpenRoom(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))

	if !alice.main.IsModerator() {
		t.Fatalf("room creator should hold the moderator role")
	}
}

// TestWSAdmissionFlow walks the whole admission loop through the
// connection handlers: enable, wait, approve, deny and the password
// bypass.
func TestWSAdmissionFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))

	alice.handleEnableLobby(ctx, clientPacket{Type: "enable_lobby", Password: "xyz789"})
	awaitFrame(t, alice, "lobby_enabled", frameOfType("lobby_enabled"))

	// Bob knocks and ends up waiting; Alice sees him in the queue.
	bob := newWSClient(t, s, "room1", "bob")
	bob.handleJoin(ctx, clientPacket{Type: "join", Nick: "Bob", Email: "bob@example.com"}, s.Log)
	awaitFrame(t, bob, "join_failed", eventOfType(muc.EventJoinFailed))
	awaitFrame(t, bob, "lobby_waiting", frameOfType("lobby_waiting"))

	joined := awaitFrame(t, alice, "queue entry",
		notificationOfType(lobby.NotifyMemberJoined)).(lobby.Notification)
	if joined.Nick != "Bob" {
		t.Fatalf("expected Bob in the queue, got %+v", joined)
	}

	alice.handleDecision(ctx, clientPacket{Type: "approve", Target: joined.Resource})
	awaitFrame(t, bob, "self_joined after approval", eventOfType(muc.EventSelfJoined))
	awaitFrame(t, alice, "queue cleared", notificationOfType(lobby.NotifyMemberLeft))

	// Charlie knocks and is turned away.
	charlie := newWSClient(t, s, "room1", "charlie")
	charlie.handleJoin(ctx, clientPacket{Type: "join", Nick: "Charlie"}, s.Log)
	awaitFrame(t, charlie, "lobby_waiting", frameOfType("lobby_waiting"))
	entry := awaitFrame(t, alice, "charlie queued",
		notificationOfType(lobby.NotifyMemberJoined)).(lobby.Notification)

	alice.handleDecision(ctx, clientPacket{Type: "deny", Target: entry.Resource})
	awaitFrame(t, charlie, "denied", notificationOfType(lobby.NotifyAccessDenied))

	// Dave skips the queue with the shared password.
	dave := newWSClient(t, s, "room1", "dave")
	dave.handleJoin(ctx, clientPacket{Type: "join", Nick: "Dave", Password: "xyz789"}, s.Log)
	awaitFrame(t, dave, "self_joined via bypass", eventOfType(muc.EventSelfJoined))
}

func TestWSDisableLobbyReopensRoom(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))
	alice.handleEnableLobby(ctx, clientPacket{Type: "enable_lobby"})
	awaitFrame(t, alice, "lobby_enabled", frameOfType("lobby_enabled"))

	alice.handleDisableLobby(ctx)
	awaitFrame(t, alice, "lobby_disabled", frameOfType("lobby_disabled"))

	frank := newWSClient(t, s, "room1", "frank")
	frank.handleJoin(ctx, clientPacket{Type: "join", Nick: "Frank"}, s.Log)
	awaitFrame(t, frank, "self_joined after disable", eventOfType(muc.EventSelfJoined))
}

func TestWSChatAndPresence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))

	eve := newWSClient(t, s, "room1", "eve")
	eve.handleJoin(ctx, clientPacket{Type: "join", Nick: "Eve"}, s.Log)
	awaitFrame(t, eve, "self_joined", eventOfType(muc.EventSelfJoined))

	eve.handleChat(clientPacket{Type: "chat", Body: "hello"})
	msg := awaitFrame(t, alice, "chat relay", eventOfType(muc.EventMessageReceived)).(muc.Event)
	if msg.Body != "hello" {
		t.Fatalf("unexpected chat body %q", msg.Body)
	}

	eve.handlePresence(clientPacket{Type: "presence", Nick: "Evelyn"}, s.Log)
	upd := awaitFrame(t, alice, "presence update", eventOfType(muc.EventMemberUpdated)).(muc.Event)
	if upd.Member == nil || upd.Member.Nick != "Evelyn" {
		t.Fatalf("expected updated nick, got %+v", upd.Member)
	}
}

func TestWSKick(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))

	eve := newWSClient(t, s, "room1", "eve")
	eve.handleJoin(ctx, clientPacket{Type: "join", Nick: "Eve"}, s.Log)
	awaitFrame(t, eve, "self_joined", eventOfType(muc.EventSelfJoined))

	// Only moderators can kick.
	eve.handleKick(clientPacket{Type: "kick", Target: alice.sess.Resource()})
	awaitFrame(t, eve, "kick rejected", frameOfType("error"))

	alice.handleKick(clientPacket{Type: "kick", Target: eve.sess.Resource()})
	kicked := awaitFrame(t, eve, "kicked", eventOfType(muc.EventKicked)).(muc.Event)
	if !kicked.Self {
		t.Fatalf("kick event should be marked self")
	}
	if eve.main.Joined() {
		t.Fatalf("kicked client should not be joined")
	}
}

func TestWSLeaveAllowsRejoin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := newWSClient(t, s, "room1", "alice")
	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined", eventOfType(muc.EventSelfJoined))

	alice.handleLeave(s.Log)
	awaitFrame(t, alice, "left", frameOfType("left"))
	if alice.main.Joined() {
		t.Fatalf("client should be out after leave")
	}

	alice.handleJoin(ctx, clientPacket{Type: "join", Nick: "Alice"}, s.Log)
	awaitFrame(t, alice, "self_joined again", eventOfType(muc.EventSelfJoined))
}
