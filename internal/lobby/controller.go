// internal/lobby/controller.go

// Package lobby implements the admission layer for members-only rooms.
// A Controller pairs one participant's main room with that room's
// waiting area, the lobby room: non-members wait there until a
// moderator approves or denies them, moderators join it to watch the
// queue and decide.
package lobby

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

// State names the controller's position in the admission flow.
type State string

const (
	// StateIdle: nothing in flight. Enable and Join start here.
	StateIdle State = "idle"
	// StateConfiguringMainRoom: the members-only form exchange is
	// running.
	StateConfiguringMainRoom State = "configuring_main_room"
	// StateJoiningLobby: a join is in flight, either of the lobby room
	// or of the main room on the shared-password bypass path.
	StateJoiningLobby State = "joining_lobby"
	// StateWaitingAsModerator: in the lobby room, relaying the queue.
	StateWaitingAsModerator State = "waiting_as_moderator"
	// StateWaitingAsParticipant: in the lobby room, awaiting a
	// moderator decision.
	StateWaitingAsParticipant State = "waiting_as_participant"
	// StateApproved: admitted to the main room.
	StateApproved State = "approved"
	// StateDenied: kicked out of the lobby room.
	StateDenied State = "denied"
	// StateLeft: the controller was closed.
	StateLeft State = "left"
)

// JoinOptions carries the participant metadata for a lobby join.
type JoinOptions struct {
	// DisplayName becomes the nickname shown to the watching
	// moderators.
	DisplayName string
	// Email is reported to moderators after the join settles.
	Email string
	// Password, for a non-moderator, switches to the shared-secret
	// bypass: a direct main-room join with no lobby room involved.
	Password string
}

// Config assembles a Controller's collaborators.
type Config struct {
	MainRoom  muc.Room
	Factory   muc.RoomFactory
	Transport muc.Transport
	Notifier  Notifier      // nil for none
	Log       *logrus.Entry // nil for the standard logger
}

// Controller drives the admission flow for one participant in one
// room. All state lives on a single run loop fed by room events and
// serialized commands; exported methods are safe for any goroutine.
// A Controller must be released with Close.
type Controller struct {
	log    *logrus.Entry
	main   muc.Room
	rooms  muc.RoomFactory
	tp     muc.Transport
	notify Notifier

	events chan muc.Event
	cmds   chan func()

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the run loop.
	state      State
	moderator  bool
	lobby      muc.Room
	unsubMain  func()
	unsubLobby func()
	email      string       // deferred e-mail push after the lobby join
	pending    chan<- error // waiter of the in-flight Enable/Join
	mainJoin   bool         // a direct main-room join is in flight
}

// New wires a Controller and starts its run loop. The moderator flag
// is seeded from the main room once and then tracked through role
// events only.
func New(cfg Config) (*Controller, error) {
	if cfg.MainRoom == nil || cfg.Factory == nil || cfg.Transport == nil {
		return nil, errors.New("lobby: main room, factory and transport are required")
	}
	logger := cfg.Log
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = NotifierFunc(func(Notification) {})
	}
	c := &Controller{
		log:       logger.WithField("room", cfg.MainRoom.RoomJID().String()),
		main:      cfg.MainRoom,
		rooms:     cfg.Factory,
		tp:        cfg.Transport,
		notify:    notify,
		events:    make(chan muc.Event, 64),
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		state:     StateIdle,
		moderator: cfg.MainRoom.Joined() && cfg.MainRoom.IsModerator(),
	}
	c.unsubMain = cfg.MainRoom.Subscribe(c.events)
	go c.run()
	return c, nil
}

// Supported reports whether the deployment has a lobby component at
// all. Without one every admission operation is refused or a no-op.
func (c *Controller) Supported() bool {
	return c.tp.LobbyComponentAddress() != ""
}

// State returns the controller's current state. After Close it is
// always StateLeft.
func (c *Controller) State() State {
	res := make(chan State, 1)
	if err := c.do(func() { res <- c.state }); err != nil {
		return StateLeft
	}
	select {
	case st := <-res:
		return st
	case <-c.done:
		return StateLeft
	}
}

// Enable switches the main room to members-only mode and joins its
// lobby room as the watching moderator. A non-empty password is stored
// in the room configuration as the shared bypass secret. Enable fails
// with ErrLobbyUnsupported before any traffic when there is no lobby
// component, with *ConfigError when the room's form lacks the
// members-only option (nothing is submitted then), with
// *TransportError on failed exchanges and with *JoinFailedError when
// the lobby join is refused. A partial enablement is not rolled back.
func (c *Controller) Enable(ctx context.Context, password string) error {
	res := make(chan error, 1)
	if err := c.do(func() { c.startEnable(ctx, password, res) }); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// Join requests access to the main room. With a password and no
// moderator role it takes the bypass: a direct main-room join, no
// lobby room ever created. Otherwise it creates the room's lobby,
// wires events before joining, and joins it. Join returns once the
// attempt settles: nil means either admitted (bypass) or waiting in
// the lobby; the moderator decision itself arrives later through the
// Notifier. Cancelling ctx abandons the wait, not the attempt.
func (c *Controller) Join(ctx context.Context, opts JoinOptions) error {
	res := make(chan error, 1)
	if err := c.do(func() { c.startJoin(opts, res) }); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// ApproveAccess admits the waiting member with the given lobby-scoped
// id by sending a mediated invite naming the member's real address.
// The room puts the invitee on its member list, so their main-room
// join now passes the members-only check. Without lobby support or the
// moderator role this is a silent no-op; a stale id is logged and
// dropped. The outcome reaches the member through their own
// controller, never through this one.
func (c *Controller) ApproveAccess(ctx context.Context, id string) {
	c.moderatorAction(ctx, id, true)
}

// DenyAccess kicks the waiting member with the given lobby-scoped id
// out of the lobby room. Same no-op rules as ApproveAccess.
func (c *Controller) DenyAccess(ctx context.Context, id string) {
	c.moderatorAction(ctx, id, false)
}

// Close leaves whatever the controller still holds, stops the run loop
// and fails any waiting operation with ErrClosed. It is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
	return nil
}

// do hands fn to the run loop and returns once the loop has picked it
// up. Every exported operation funnels through here so state is only
// ever touched by one goroutine.
func (c *Controller) do(fn func()) error {
	select {
	case c.cmds <- fn:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) await(ctx context.Context, res <-chan error) error {
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.done:
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.releaseLobby(true)
	if c.unsubMain != nil {
		c.unsubMain()
		c.unsubMain = nil
	}
	c.resolve(ErrClosed)
	c.state = StateLeft
}

// resolve completes the pending Enable/Join waiter, if any.
func (c *Controller) resolve(err error) {
	if c.pending == nil {
		return
	}
	c.pending <- err
	c.pending = nil
}

func (c *Controller) startEnable(ctx context.Context, password string, res chan error) {
	if !c.Supported() {
		res <- ErrLobbyUnsupported
		return
	}
	if c.state != StateIdle {
		res <- &StateError{Op: "enable", State: c.state}
		return
	}
	c.pending = res
	c.state = StateConfiguringMainRoom

	room := c.main.RoomJID()
	reply, err := c.tp.SendIQ(ctx, muc.IQ{Type: muc.IQGet, To: room})
	if err != nil {
		c.state = StateIdle
		c.resolve(&TransportError{Op: "fetch room configuration", Err: err})
		return
	}
	if !reply.Form.Has(muc.FieldMembersOnly) {
		// The room cannot do members-only at all. Nothing is
		// submitted.
		c.state = StateIdle
		c.resolve(&ConfigError{Field: muc.FieldMembersOnly})
		return
	}
	submit := muc.NewConfigForm()
	submit.SetBool(muc.FieldMembersOnly, true)
	if password != "" {
		submit.Set(muc.FieldLobbyPassword, password)
	}
	if _, err := c.tp.SendIQ(ctx, muc.IQ{Type: muc.IQSet, To: room, Form: submit}); err != nil {
		c.state = StateIdle
		c.resolve(&TransportError{Op: "submit room configuration", Err: err})
		return
	}
	c.log.Debug("room switched to members-only, joining lobby")
	c.beginLobbyJoin(JoinOptions{})
}

func (c *Controller) startJoin(opts JoinOptions, res chan error) {
	if c.state != StateIdle {
		res <- &StateError{Op: "join", State: c.state}
		return
	}
	if opts.Password != "" && !c.moderator {
		// Shared-secret bypass straight into the main room.
		c.pending = res
		c.state = StateJoiningLobby
		c.mainJoin = true
		if err := c.main.Join(opts.Password); err != nil {
			c.mainJoin = false
			c.state = StateIdle
			c.resolve(&TransportError{Op: "join main room", Err: err})
		}
		return
	}
	// Without the bypass there is nothing to join when the deployment
	// has no lobby component.
	if !c.Supported() {
		res <- ErrLobbyUnsupported
		return
	}
	c.pending = res
	c.beginLobbyJoin(opts)
}

// beginLobbyJoin creates the lobby room and issues the join. The event
// subscription is wired before the join so nothing early is missed.
func (c *Controller) beginLobbyJoin(opts JoinOptions) {
	room, err := c.rooms.CreateRoom(c.main.RoomJID().Local, muc.RoomOptions{
		DisableDiscoInfo: true,
		DisableFocus:     true,
		CustomDomain:     c.tp.LobbyComponentAddress(),
	})
	if err != nil {
		c.state = StateIdle
		c.resolve(&TransportError{Op: "create lobby room", Err: err})
		return
	}
	c.lobby = room
	c.email = ""
	if !c.moderator {
		c.email = opts.Email
	}
	if opts.DisplayName != "" {
		room.RemoveFromPresence(muc.ExtNick)
		room.AddToPresence(muc.ExtNick, muc.PresenceExt{Value: opts.DisplayName})
	}
	c.unsubLobby = room.Subscribe(c.events)
	c.state = StateJoiningLobby
	if err := room.Join(""); err != nil {
		c.releaseLobby(false)
		c.state = StateIdle
		c.resolve(&TransportError{Op: "join lobby room", Err: err})
	}
}

// releaseLobby drops the lobby room. leave controls whether a leave is
// still sent; errors on the way out are swallowed.
func (c *Controller) releaseLobby(leave bool) {
	if c.lobby == nil {
		return
	}
	if c.unsubLobby != nil {
		c.unsubLobby()
		c.unsubLobby = nil
	}
	if leave {
		if err := c.lobby.Leave(); err != nil {
			c.log.WithError(err).Debug("leaving lobby room")
		}
	}
	c.lobby = nil
	c.email = ""
}

func (c *Controller) moderatorAction(ctx context.Context, id string, admit bool) {
	done := make(chan struct{})
	err := c.do(func() {
		defer close(done)
		c.runModeratorAction(ctx, id, admit)
	})
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-c.done:
	}
}

func (c *Controller) runModeratorAction(ctx context.Context, id string, admit bool) {
	if !c.Supported() || !c.moderator {
		return
	}
	if c.lobby == nil {
		c.log.Debug("moderator action with no lobby room")
		return
	}
	member, ok := c.lobby.Members()[id]
	if !ok {
		// Stale id: the member left or was already handled.
		c.log.WithField("id", id).WithError(ErrMemberNotFound).Warn("moderator action dropped")
		return
	}
	if admit {
		if err := c.tp.SendInvite(ctx, c.main.RoomJID(), member.JID); err != nil {
			c.log.WithError(err).WithField("member", member.JID.String()).Warn("approving lobby member")
		}
		return
	}
	if err := c.lobby.Kick(member.Resource); err != nil {
		c.log.WithError(err).WithField("resource", member.Resource).Warn("denying lobby member")
	}
}

func (c *Controller) handleEvent(ev muc.Event) {
	switch {
	case c.lobby != nil && ev.Room == c.lobby.RoomJID():
		c.handleLobbyEvent(ev)
	case ev.Room == c.main.RoomJID():
		c.handleMainEvent(ev)
	}
}

func (c *Controller) handleMainEvent(ev muc.Event) {
	switch ev.Type {
	case muc.EventRoleChanged:
		if ev.Self {
			c.moderator = ev.Role == muc.RoleModerator
		}
	case muc.EventSelfJoined:
		if !c.mainJoin {
			return
		}
		c.mainJoin = false
		// In via the bypass or an approval invite. The lobby room, if
		// any, is done.
		c.releaseLobby(true)
		c.state = StateApproved
		c.resolve(nil)
	case muc.EventJoinFailed:
		if !c.mainJoin {
			return
		}
		c.mainJoin = false
		if c.state == StateWaitingAsParticipant {
			// The post-invite join bounced; stay in the lobby, the
			// moderator side may act again.
			c.log.WithField("reason", ev.Reason).Warn("main room join after invite failed")
			return
		}
		c.state = StateIdle
		c.resolve(&JoinFailedError{Room: ev.Room, Reason: ev.Reason})
	case muc.EventInviteReceived:
		if c.state != StateWaitingAsParticipant {
			return
		}
		c.mainJoin = true
		if err := c.main.Join(""); err != nil {
			c.mainJoin = false
			c.log.WithError(err).Warn("joining main room after invite")
		}
	}
}

func (c *Controller) handleLobbyEvent(ev muc.Event) {
	switch ev.Type {
	case muc.EventSelfJoined:
		if c.state != StateJoiningLobby {
			return
		}
		if c.moderator {
			c.state = StateWaitingAsModerator
			c.resolve(nil)
			return
		}
		c.state = StateWaitingAsParticipant
		if c.email != "" {
			// The join presence went out before anyone was watching;
			// push the e-mail again now that the moderator side is
			// wired.
			c.lobby.RemoveFromPresence(muc.ExtEmail)
			c.lobby.AddToPresence(muc.ExtEmail, muc.PresenceExt{Value: c.email})
			if err := c.lobby.SendPresence(); err != nil {
				c.log.WithError(err).Warn("re-sending e-mail presence")
			}
		}
		c.resolve(nil)
	case muc.EventJoinFailed:
		if c.state != StateJoiningLobby {
			return
		}
		room := ev.Room
		c.releaseLobby(false)
		c.state = StateIdle
		c.resolve(&JoinFailedError{Room: room, Reason: ev.Reason})
	case muc.EventMemberJoined:
		if c.moderator && ev.Member != nil {
			c.notify.Notify(Notification{
				Type:     NotifyMemberJoined,
				Resource: ev.Member.Resource,
				Nick:     ev.Member.Nick,
				AvatarID: ev.Member.AvatarID,
			})
		}
	case muc.EventMemberUpdated:
		if c.moderator && ev.Member != nil {
			c.notify.Notify(Notification{
				Type:     NotifyMemberUpdated,
				Resource: ev.Member.Resource,
				Email:    ev.Member.Email,
			})
		}
	case muc.EventMemberLeft:
		if c.moderator && ev.Member != nil {
			c.notify.Notify(Notification{
				Type:     NotifyMemberLeft,
				Resource: ev.Member.Resource,
			})
		}
	case muc.EventKicked:
		if !ev.Self {
			return
		}
		if c.state == StateWaitingAsParticipant {
			c.notify.Notify(Notification{Type: NotifyAccessDenied})
			c.releaseLobby(false)
			c.state = StateDenied
			return
		}
		c.log.Warn("kicked from lobby room outside the waiting state")
		c.releaseLobby(false)
		c.state = StateIdle
	}
}
