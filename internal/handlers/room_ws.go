// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/audit"
	"github.com/anteroom-dev/anteroom/internal/lobby"
	"github.com/anteroom-dev/anteroom/internal/muc"
	"github.com/anteroom-dev/anteroom/internal/room"
)

// messenger is the optional chat surface of a room view.
type messenger interface {
	SendMessage(body string) error
}

// clientPacket is the single inbound frame shape; fields are read per
// Type.
type clientPacket struct {
	Type     string `json:"type"`
	Nick     string `json:"nick,omitempty"`
	Email    string `json:"email,omitempty"`
	AvatarID string `json:"avatarId,omitempty"`
	Password string `json:"password,omitempty"`
	Target   string `json:"target,omitempty"` // occupant id for approve/deny/kick
	Body     string `json:"body,omitempty"`   // chat body
}

// wsClient is one WebSocket connection bound to one room: a session,
// the main room view, and lazily the admission controller.
type wsClient struct {
	server   *Server
	sess     *room.Session
	identity muc.JID // bare
	local    string

	cancel context.CancelFunc
	out    chan any // outbound frames; slow readers drop

	main  muc.Room
	unsub func()

	mu       sync.Mutex
	ctrl     *lobby.Controller
	nick     string
	email    string
	avatarID string
}

// RoomWSHandler runs one WebSocket session against one room. The URL
// names the room, the auth cookie (or a minted guest identity) names
// the user.
func RoomWSHandler(logger *logrus.Logger, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		local := roomLocalFromPath(r.URL.Path, "/rooms/ws/")
		if !validRoomLocal(local) {
			http.Error(w, "missing or invalid room name", http.StatusBadRequest)
			return
		}

		// Identity before the upgrade: minting a guest sets a cookie,
		// and cookies cannot follow the 101.
		identity, err := EnsureSessionIdentity(w, r, s.Rooms.UserDomain())
		if err != nil {
			logger.Warnf("identity resolution failed for room %s: %v", local, err)
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"anteroom"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "anteroom" {
			c.Close(BadSubprotocolError, "client must speak the anteroom subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		client := &wsClient{
			server:   s,
			sess:     s.Rooms.NewSession(identity.Local),
			identity: identity,
			local:    local,
			cancel:   cancel,
			out:      make(chan any, 32),
		}

		// The view exists before any join so mediated invites reach
		// this session even while it waits in the lobby.
		main, err := client.sess.CreateRoom(local, muc.RoomOptions{})
		if err != nil {
			logger.Warnf("creating view on room %s: %v", local, err)
			c.Close(InvalidRoomError, "cannot address that room")
			client.teardown()
			return
		}
		client.main = main
		events := make(chan muc.Event, 64)
		client.unsub = main.Subscribe(events)

		logger.Infof("User %s (%s) connected to room %s", identity.String(), remoteAddr, local)

		go client.relayRoomEvents(ctx, events, logger)
		go writePump(ctx, c, client, logger)
		client.readPump(ctx, c, logger)

		logger.Infof("User %s readPump exited for room %s. Cleaning up.", identity.String(), local)
		client.teardown()
	}
}

// teardown releases everything the connection holds, in dependency
// order: pumps, controller, session.
func (cl *wsClient) teardown() {
	cl.cancel()
	if cl.unsub != nil {
		cl.unsub()
	}
	cl.mu.Lock()
	ctrl := cl.ctrl
	cl.ctrl = nil
	cl.mu.Unlock()
	if ctrl != nil {
		_ = ctrl.Close()
	}
	cl.sess.Close()
}

// readPump handles inbound frames until the connection dies.
func (cl *wsClient) readPump(ctx context.Context, c *websocket.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Room %s: WebSocket closed normally for %s.", cl.local, cl.identity.String())
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("Room %s: Read error for %s: %v", cl.local, cl.identity.String(), err)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("Room %s: Ignoring non-text message from %s.", cl.local, cl.identity.String())
			continue
		}

		var packet clientPacket
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("Room %s: Invalid json from %s: %v", cl.local, cl.identity.String(), err)
			cl.writeError("invalid JSON payload")
			continue
		}
		cl.handlePacket(ctx, packet, logger)
	}
}

func (cl *wsClient) handlePacket(ctx context.Context, p clientPacket, logger *logrus.Logger) {
	switch p.Type {
	case "join":
		cl.handleJoin(ctx, p, logger)
	case "presence":
		cl.handlePresence(p, logger)
	case "chat":
		cl.handleChat(p)
	case "enable_lobby":
		cl.handleEnableLobby(ctx, p)
	case "disable_lobby":
		cl.handleDisableLobby(ctx)
	case "approve", "deny":
		cl.handleDecision(ctx, p)
	case "kick":
		cl.handleKick(p)
	case "leave":
		cl.handleLeave(logger)
	default:
		logger.Warnf("Room %s: Unknown action %q from %s", cl.local, p.Type, cl.identity.String())
		cl.writeError(fmt.Sprintf("unknown action type: %s", p.Type))
	}
}

// handleJoin stages presence and attempts entry. A password takes the
// admission controller's bypass; otherwise the main room is tried
// directly and a members-only refusal rolls over into the waiting
// room.
func (cl *wsClient) handleJoin(ctx context.Context, p clientPacket, logger *logrus.Logger) {
	cl.stagePresence(p)

	if cl.main.Joined() {
		cl.rejoinAsWatcher(ctx, p)
		return
	}

	if p.Password != "" {
		ctrl, err := cl.controller()
		if err != nil {
			cl.writeError("admission unavailable")
			return
		}
		opts := lobby.JoinOptions{DisplayName: p.Nick, Email: p.Email, Password: p.Password}
		if err := ctrl.Join(ctx, opts); err != nil {
			cl.writeError(admissionErrorText(err))
		}
		return
	}

	if err := cl.main.Join(""); err != nil {
		logger.Warnf("Room %s: join request from %s: %v", cl.local, cl.identity.String(), err)
		cl.writeError("join failed")
	}
}

// rejoinAsWatcher handles a repeat join from inside the room: for a
// moderator that means parking in the lobby to see the waiting queue,
// the post-reconnect flow.
func (cl *wsClient) rejoinAsWatcher(ctx context.Context, p clientPacket) {
	if !cl.main.IsModerator() || cl.server.Rooms.LobbyDomain() == "" {
		cl.writeError("already joined")
		return
	}
	ctrl, err := cl.controller()
	if err != nil {
		cl.writeError("admission unavailable")
		return
	}
	if err := ctrl.Join(ctx, lobby.JoinOptions{DisplayName: p.Nick}); err != nil {
		cl.writeError(admissionErrorText(err))
	}
}

// handlePresence restages the caller's presence and, once joined,
// pushes the update to the room.
func (cl *wsClient) handlePresence(p clientPacket, logger *logrus.Logger) {
	cl.stagePresence(p)
	if !cl.main.Joined() {
		return
	}
	if err := cl.main.SendPresence(); err != nil {
		logger.Warnf("Room %s: presence update from %s: %v", cl.local, cl.identity.String(), err)
	}
}

func (cl *wsClient) handleChat(p clientPacket) {
	if p.Body == "" {
		return
	}
	m, ok := cl.main.(messenger)
	if !ok {
		cl.writeError("chat unsupported")
		return
	}
	if err := m.SendMessage(p.Body); err != nil {
		cl.writeError("not in the room")
	}
}

// handleEnableLobby turns the room members-only and parks the caller
// in the lobby as its watching moderator.
func (cl *wsClient) handleEnableLobby(ctx context.Context, p clientPacket) {
	ctrl, err := cl.controller()
	if err != nil {
		cl.writeError("admission unavailable")
		return
	}
	if err := ctrl.Enable(ctx, p.Password); err != nil {
		cl.writeError(admissionErrorText(err))
		return
	}
	cl.server.Audit.Publish(audit.Record{
		RoomJID:   cl.main.RoomJID().String(),
		EventType: audit.EventLobbyEnabled,
		ActorJID:  cl.identity.String(),
	})
	cl.push(map[string]any{"type": "lobby_enabled"})
}

// handleDisableLobby lifts the members-only gate through a plain
// owner configuration round trip; the controller is not involved.
func (cl *wsClient) handleDisableLobby(ctx context.Context) {
	form := muc.NewConfigForm()
	form.SetBool(muc.FieldMembersOnly, false)
	form.Set(muc.FieldLobbyPassword, "")
	if _, err := cl.sess.SendIQ(ctx, muc.IQ{Type: muc.IQSet, To: cl.main.RoomJID(), Form: form}); err != nil {
		cl.writeError("disable failed")
		return
	}
	cl.server.Audit.Publish(audit.Record{
		RoomJID:   cl.main.RoomJID().String(),
		EventType: audit.EventLobbyDisabled,
		ActorJID:  cl.identity.String(),
	})
	cl.push(map[string]any{"type": "lobby_disabled"})
}

// handleDecision relays a moderator's approve or deny. The outcome
// reaches the waiting member through their own connection; here only
// the decision is recorded.
func (cl *wsClient) handleDecision(ctx context.Context, p clientPacket) {
	if p.Target == "" {
		cl.writeError("missing target")
		return
	}
	cl.mu.Lock()
	ctrl := cl.ctrl
	cl.mu.Unlock()
	if ctrl == nil {
		cl.writeError("no admission flow to decide on")
		return
	}
	if !cl.main.IsModerator() {
		// The controller drops the action anyway; keep the trail
		// honest too.
		return
	}

	event := audit.EventAccessApproved
	if p.Type == "deny" {
		event = audit.EventAccessDenied
		ctrl.DenyAccess(ctx, p.Target)
	} else {
		ctrl.ApproveAccess(ctx, p.Target)
	}
	cl.server.Audit.Publish(audit.Record{
		RoomJID:   cl.main.RoomJID().String(),
		EventType: event,
		ActorJID:  cl.identity.String(),
		SubjectID: p.Target,
	})
}

// handleKick removes an occupant from the main room, moderator only.
func (cl *wsClient) handleKick(p clientPacket) {
	if p.Target == "" {
		cl.writeError("missing target")
		return
	}
	if err := cl.main.Kick(p.Target); err != nil {
		cl.writeError("kick failed")
		return
	}
	cl.server.Audit.Publish(audit.Record{
		RoomJID:   cl.main.RoomJID().String(),
		EventType: audit.EventMemberKicked,
		ActorJID:  cl.identity.String(),
		SubjectID: p.Target,
	})
}

// handleLeave abandons both the room and any admission flow but keeps
// the socket open; the client may join again.
func (cl *wsClient) handleLeave(logger *logrus.Logger) {
	cl.mu.Lock()
	ctrl := cl.ctrl
	cl.ctrl = nil
	cl.mu.Unlock()
	if ctrl != nil {
		_ = ctrl.Close()
	}
	if cl.main.Joined() {
		if err := cl.main.Leave(); err != nil {
			logger.Warnf("Room %s: leave from %s: %v", cl.local, cl.identity.String(), err)
		}
	}
	cl.push(map[string]any{"type": "left"})
}

// relayRoomEvents forwards main-room events to the client and rolls a
// members-only refusal over into the admission flow.
func (cl *wsClient) relayRoomEvents(ctx context.Context, events <-chan muc.Event, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			cl.push(ev)
			if ev.Type == muc.EventJoinFailed && ev.Reason == muc.JoinFailNotAuthorized {
				cl.enterLobbyAfterRefusal(ctx, logger)
			}
		}
	}
}

// enterLobbyAfterRefusal starts the lobby wait after a members-only
// refusal of a plain join, what a conference client does by hand.
func (cl *wsClient) enterLobbyAfterRefusal(ctx context.Context, logger *logrus.Logger) {
	if cl.server.Rooms.LobbyDomain() == "" {
		return // the refusal was already relayed, nothing else to offer
	}
	cl.mu.Lock()
	ctrl, err := cl.ensureControllerLocked()
	opts := lobby.JoinOptions{DisplayName: cl.nick, Email: cl.email}
	cl.mu.Unlock()
	if err != nil {
		logger.Warnf("Room %s: starting admission for %s: %v", cl.local, cl.identity.String(), err)
		return
	}
	if ctrl.State() != lobby.StateIdle {
		// A mid-flow refusal (a wrong bypass password, a lobby wait
		// already underway) is the controller's to resolve.
		return
	}

	if err := ctrl.Join(ctx, opts); err != nil {
		cl.writeError(admissionErrorText(err))
		return
	}
	cl.push(map[string]any{"type": "lobby_waiting"})
}

// stagePresence records the caller's presence fields and stages them
// on the main room view.
func (cl *wsClient) stagePresence(p clientPacket) {
	cl.mu.Lock()
	cl.nick, cl.email, cl.avatarID = p.Nick, p.Email, p.AvatarID
	cl.mu.Unlock()

	set := func(key, value string) {
		cl.main.RemoveFromPresence(key)
		if value != "" {
			cl.main.AddToPresence(key, muc.PresenceExt{Value: value})
		}
	}
	set(muc.ExtNick, p.Nick)
	set(muc.ExtEmail, p.Email)
	set(muc.ExtAvatarID, p.AvatarID)
}

func (cl *wsClient) controller() (*lobby.Controller, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.ensureControllerLocked()
}

// ensureControllerLocked lazily builds the admission controller for
// this connection. Callers hold cl.mu.
func (cl *wsClient) ensureControllerLocked() (*lobby.Controller, error) {
	if cl.ctrl != nil {
		return cl.ctrl, nil
	}
	ctrl, err := lobby.New(lobby.Config{
		MainRoom:  cl.main,
		Factory:   cl.sess,
		Transport: cl.sess,
		Notifier:  lobby.NotifierFunc(cl.notify),
		Log:       cl.server.Log.WithField("room", cl.main.RoomJID().String()),
	})
	if err != nil {
		return nil, err
	}
	cl.ctrl = ctrl
	return ctrl, nil
}

// notify relays controller notifications onto the socket. It runs on
// the controller's loop, so it must never block.
func (cl *wsClient) notify(n lobby.Notification) {
	cl.push(n)
}

// push queues an outbound frame, dropping it when the client cannot
// keep up.
func (cl *wsClient) push(v any) {
	select {
	case cl.out <- v:
	default:
		cl.server.Log.WithField("room", cl.local).Warn("dropping frame for slow websocket client")
	}
}

func (cl *wsClient) writeError(text string) {
	cl.push(map[string]any{"type": "error", "error": text})
}

// admissionErrorText maps the admission error taxonomy onto terse
// client-facing strings.
func admissionErrorText(err error) string {
	var jerr *lobby.JoinFailedError
	var serr *lobby.StateError
	var cerr *lobby.ConfigError
	switch {
	case errors.Is(err, lobby.ErrLobbyUnsupported):
		return "lobby unsupported on this deployment"
	case errors.As(err, &jerr):
		return "join refused: " + string(jerr.Reason)
	case errors.As(err, &serr):
		return "operation invalid in state " + string(serr.State)
	case errors.As(err, &cerr):
		return "room does not support members-only"
	}
	return "admission failed"
}

// writePump drains the outbound channel onto the socket and keeps the
// connection alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, cl *wsClient, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cl.out:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Room %s: failed to marshal outgoing msg: %v", cl.local, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Room %s: write to %s failed: %v", cl.local, cl.identity.String(), err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Room %s: ping to %s failed, assuming disconnect: %v", cl.local, cl.identity.String(), err)
				return
			}
		}
	}
}
