// internal/lobby/controller_test.go
package lobby

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

// fakeRoom records every call in order and can auto-answer joins by
// emitting the configured event back to its subscribers.
type fakeRoom struct {
	mu      sync.Mutex
	jid     muc.JID
	mod     bool
	joined  bool
	members map[string]muc.Member
	exts    map[string]muc.PresenceExt

	joinReply  muc.EventType // event emitted in response to Join, if set
	failReason muc.JoinFailReason
	joinErr    error

	subs    map[int]chan<- muc.Event
	nextSub int
	cancels int
	ops     []string
}

func newFakeRoom(t *testing.T, jid string) *fakeRoom {
	j, err := muc.ParseJID(jid)
	require.NoError(t, err)
	return &fakeRoom{
		jid:     j,
		members: make(map[string]muc.Member),
		exts:    make(map[string]muc.PresenceExt),
		subs:    make(map[int]chan<- muc.Event),
	}
}

func (r *fakeRoom) RoomJID() muc.JID { return r.jid }

func (r *fakeRoom) Join(password string) error {
	r.mu.Lock()
	r.ops = append(r.ops, "join:"+password)
	reply, reason, err := r.joinReply, r.failReason, r.joinErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	switch reply {
	case muc.EventSelfJoined:
		r.mu.Lock()
		r.joined = true
		r.mu.Unlock()
		r.emit(muc.Event{Type: muc.EventSelfJoined})
	case muc.EventJoinFailed:
		r.emit(muc.Event{Type: muc.EventJoinFailed, Reason: reason})
	}
	return nil
}

func (r *fakeRoom) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "leave")
	r.joined = false
	return nil
}

func (r *fakeRoom) Kick(resource string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "kick:"+resource)
	return nil
}

func (r *fakeRoom) SendPresence() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "send_presence")
	return nil
}

func (r *fakeRoom) AddToPresence(key string, ext muc.PresenceExt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exts[key] = ext
	r.ops = append(r.ops, "add:"+key+"="+ext.Value)
}

func (r *fakeRoom) RemoveFromPresence(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.exts, key)
	r.ops = append(r.ops, "remove:"+key)
}

func (r *fakeRoom) Members() map[string]muc.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]muc.Member, len(r.members))
	for k, v := range r.members {
		out[k] = v
	}
	return out
}

func (r *fakeRoom) IsModerator() bool { r.mu.Lock(); defer r.mu.Unlock(); return r.mod }
func (r *fakeRoom) Joined() bool      { r.mu.Lock(); defer r.mu.Unlock(); return r.joined }

func (r *fakeRoom) Subscribe(ch chan<- muc.Event) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.ops = append(r.ops, "subscribe")
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
		r.cancels++
	}
}

func (r *fakeRoom) emit(ev muc.Event) {
	ev.Room = r.jid
	r.mu.Lock()
	subs := make([]chan<- muc.Event, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

func (r *fakeRoom) opsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *fakeRoom) cancelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels
}

type factoryCall struct {
	local string
	opts  muc.RoomOptions
}

type fakeFactory struct {
	mu    sync.Mutex
	room  *fakeRoom
	err   error
	calls []factoryCall
}

func (f *fakeFactory) CreateRoom(local string, opts muc.RoomOptions) (muc.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, factoryCall{local, opts})
	if f.err != nil {
		return nil, f.err
	}
	return f.room, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sentInvite struct {
	room    muc.JID
	invitee muc.JID
}

type fakeTransport struct {
	mu        sync.Mutex
	lobbyAddr string
	form      *muc.ConfigForm
	getErr    error
	setErr    error
	inviteErr error
	iqs       []muc.IQ
	invites   []sentInvite
}

func (t *fakeTransport) SendIQ(_ context.Context, iq muc.IQ) (muc.IQ, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iqs = append(t.iqs, iq)
	switch iq.Type {
	case muc.IQGet:
		if t.getErr != nil {
			return muc.IQ{}, t.getErr
		}
		return muc.IQ{Type: muc.IQResult, Form: t.form}, nil
	case muc.IQSet:
		if t.setErr != nil {
			return muc.IQ{}, t.setErr
		}
	}
	return muc.IQ{Type: muc.IQResult}, nil
}

func (t *fakeTransport) SendInvite(_ context.Context, room, invitee muc.JID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invites = append(t.invites, sentInvite{room: room, invitee: invitee})
	return t.inviteErr
}

func (t *fakeTransport) LobbyComponentAddress() string { return t.lobbyAddr }

func (t *fakeTransport) iqSnapshot() []muc.IQ {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]muc.IQ(nil), t.iqs...)
}

func (t *fakeTransport) inviteSnapshot() []sentInvite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentInvite(nil), t.invites...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) snapshot() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notes...)
}

type fixture struct {
	main  *fakeRoom
	lobby *fakeRoom
	fac   *fakeFactory
	tp    *fakeTransport
	notes *recordingNotifier
	c     *Controller
}

// newFixture builds a controller over room1@conference.example with a
// lobby component at lobby.example. With moderator set the main room
// reports a joined moderator, the Enable caller's situation; without
// it the participant is outside the main room, the Join caller's.
func newFixture(t *testing.T, moderator bool) *fixture {
	t.Helper()
	main := newFakeRoom(t, "room1@conference.example")
	main.mod = moderator
	main.joined = moderator
	lobbyRoom := newFakeRoom(t, "room1@lobby.example")
	lobbyRoom.joinReply = muc.EventSelfJoined

	form := muc.NewConfigForm()
	form.SetBool(muc.FieldMembersOnly, false)
	form.Set(muc.FieldRoomName, "room1")

	f := &fixture{
		main:  main,
		lobby: lobbyRoom,
		fac:   &fakeFactory{room: lobbyRoom},
		tp:    &fakeTransport{lobbyAddr: "lobby.example", form: form},
		notes: &recordingNotifier{},
	}
	c, err := New(Config{
		MainRoom:  main,
		Factory:   f.fac,
		Transport: f.tp,
		Notifier:  f.notes,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	f.c = c
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSupported(t *testing.T) {
	f := newFixture(t, true)
	assert.True(t, f.c.Supported())

	f.tp.lobbyAddr = ""
	assert.False(t, f.c.Supported())
}

func TestEnableUnsupported(t *testing.T) {
	f := newFixture(t, true)
	f.tp.lobbyAddr = ""

	err := f.c.Enable(context.Background(), "")
	assert.ErrorIs(t, err, ErrLobbyUnsupported)
	assert.Empty(t, f.tp.iqSnapshot(), "no traffic when unsupported")
	assert.Equal(t, StateIdle, f.c.State())
}

func TestEnableRoomWithoutMembersOnlyOption(t *testing.T) {
	f := newFixture(t, true)
	f.tp.form = muc.NewConfigForm() // no members-only field at all

	err := f.c.Enable(context.Background(), "secret")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, muc.FieldMembersOnly, cfgErr.Field)

	iqs := f.tp.iqSnapshot()
	require.Len(t, iqs, 1, "only the form fetch, never a submit")
	assert.Equal(t, muc.IQGet, iqs[0].Type)
	assert.Zero(t, f.fac.callCount())
	assert.Equal(t, StateIdle, f.c.State())
}

func TestEnableSubmitsMembersOnlyAndJoinsLobby(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.c.Enable(context.Background(), "xyz789"))

	iqs := f.tp.iqSnapshot()
	require.Len(t, iqs, 2)
	assert.Equal(t, muc.IQGet, iqs[0].Type)
	assert.Equal(t, muc.IQSet, iqs[1].Type)
	assert.Equal(t, "room1@conference.example", iqs[1].To.String())
	assert.Equal(t, muc.FormTrue, iqs[1].Form.Get(muc.FieldMembersOnly))
	assert.Equal(t, "xyz789", iqs[1].Form.Get(muc.FieldLobbyPassword))

	f.fac.mu.Lock()
	require.Len(t, f.fac.calls, 1)
	call := f.fac.calls[0]
	f.fac.mu.Unlock()
	assert.Equal(t, "room1", call.local)
	assert.True(t, call.opts.DisableDiscoInfo)
	assert.True(t, call.opts.DisableFocus)
	assert.Equal(t, "lobby.example", call.opts.CustomDomain)

	// subscription wired before the join went out
	assert.Equal(t, []string{"subscribe", "join:"}, f.lobby.opsSnapshot())
	assert.Equal(t, StateWaitingAsModerator, f.c.State())
}

func TestEnableWithoutPasswordOmitsPasswordField(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.c.Enable(context.Background(), ""))

	iqs := f.tp.iqSnapshot()
	require.Len(t, iqs, 2)
	assert.Equal(t, muc.FormTrue, iqs[1].Form.Get(muc.FieldMembersOnly))
	assert.False(t, iqs[1].Form.Has(muc.FieldLobbyPassword))
}

func TestEnableTransportErrors(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t, true)
		f.tp.getErr = errors.New("boom")

		err := f.c.Enable(context.Background(), "")
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, StateIdle, f.c.State())
	})

	t.Run("submit", func(t *testing.T) {
		f := newFixture(t, true)
		f.tp.setErr = errors.New("boom")

		err := f.c.Enable(context.Background(), "")
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Zero(t, f.fac.callCount())
		assert.Equal(t, StateIdle, f.c.State())
	})
}

func TestEnableLobbyJoinRefused(t *testing.T) {
	f := newFixture(t, true)
	f.lobby.joinReply = muc.EventJoinFailed
	f.lobby.failReason = muc.JoinFailNotAllowed

	err := f.c.Enable(context.Background(), "")
	var jerr *JoinFailedError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, muc.JoinFailNotAllowed, jerr.Reason)
	assert.Equal(t, "room1@lobby.example", jerr.Room.String())
	assert.Equal(t, StateIdle, f.c.State())
	assert.Equal(t, 1, f.lobby.cancelCount(), "lobby subscription released")
}

func TestJoinBypassWithPassword(t *testing.T) {
	f := newFixture(t, false)
	f.main.joinReply = muc.EventSelfJoined

	err := f.c.Join(context.Background(), JoinOptions{Password: "xyz789"})
	require.NoError(t, err)

	assert.Contains(t, f.main.opsSnapshot(), "join:xyz789")
	assert.Zero(t, f.fac.callCount(), "no lobby room on the bypass path")
	assert.Equal(t, StateApproved, f.c.State())
}

func TestJoinBypassRefused(t *testing.T) {
	f := newFixture(t, false)
	f.main.joinReply = muc.EventJoinFailed
	f.main.failReason = muc.JoinFailNotAuthorized

	err := f.c.Join(context.Background(), JoinOptions{Password: "wrong"})
	var jerr *JoinFailedError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, muc.JoinFailNotAuthorized, jerr.Reason)
	assert.Zero(t, f.fac.callCount())
	assert.Equal(t, StateIdle, f.c.State())
}

func TestJoinModeratorIgnoresBypass(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.c.Join(context.Background(), JoinOptions{Password: "xyz789"}))

	assert.Equal(t, 1, f.fac.callCount(), "moderators always take the lobby path")
	assert.NotContains(t, f.main.opsSnapshot(), "join:xyz789")
	assert.Equal(t, StateWaitingAsModerator, f.c.State())
}

func TestJoinWithoutLobbyComponent(t *testing.T) {
	f := newFixture(t, false)
	f.tp.lobbyAddr = ""

	err := f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"})
	assert.ErrorIs(t, err, ErrLobbyUnsupported)
	assert.Zero(t, f.fac.callCount())
	assert.Equal(t, StateIdle, f.c.State())

	// The bypass needs no lobby component.
	f.main.joinReply = muc.EventSelfJoined
	require.NoError(t, f.c.Join(context.Background(), JoinOptions{Password: "xyz789"}))
	assert.Equal(t, StateApproved, f.c.State())
}

func TestJoinLobbyAsParticipantSetsNick(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"}))

	// nick cleared then set, subscribed, joined, and no second
	// presence without an e-mail
	assert.Equal(t, []string{"remove:nick", "add:nick=Alice", "subscribe", "join:"}, f.lobby.opsSnapshot())
	assert.Equal(t, StateWaitingAsParticipant, f.c.State())
}

func TestJoinLobbyResendsEmailAfterJoin(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.c.Join(context.Background(), JoinOptions{
		DisplayName: "Alice",
		Email:       "alice@example.com",
	}))

	assert.Equal(t, []string{
		"remove:nick", "add:nick=Alice", "subscribe", "join:",
		"remove:email", "add:email=alice@example.com", "send_presence",
	}, f.lobby.opsSnapshot())
}

func TestModeratorSeesQueue(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))

	f.lobby.emit(muc.Event{Type: muc.EventMemberJoined, Member: &muc.Member{
		Resource: "res123", Nick: "Bob", AvatarID: "av1",
	}})
	f.lobby.emit(muc.Event{Type: muc.EventMemberUpdated, Member: &muc.Member{
		Resource: "res123", Email: "bob@example.com",
	}})
	f.lobby.emit(muc.Event{Type: muc.EventMemberLeft, Member: &muc.Member{
		Resource: "res123",
	}})

	require.Eventually(t, func() bool { return len(f.notes.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	notes := f.notes.snapshot()
	assert.Equal(t, Notification{Type: NotifyMemberJoined, Resource: "res123", Nick: "Bob", AvatarID: "av1"}, notes[0])
	assert.Equal(t, Notification{Type: NotifyMemberUpdated, Resource: "res123", Email: "bob@example.com"}, notes[1])
	assert.Equal(t, Notification{Type: NotifyMemberLeft, Resource: "res123"}, notes[2])
}

func TestParticipantRelaysNothing(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"}))

	f.lobby.emit(muc.Event{Type: muc.EventMemberJoined, Member: &muc.Member{Resource: "res999"}})

	assert.Never(t, func() bool { return len(f.notes.snapshot()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestDenyKicksMember(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))
	f.lobby.mu.Lock()
	f.lobby.members["res123"] = muc.Member{Resource: "res123", JID: muc.JID{Local: "alice", Domain: "example.com", Resource: "res123"}}
	f.lobby.mu.Unlock()

	f.c.DenyAccess(context.Background(), "res123")

	assert.Contains(t, f.lobby.opsSnapshot(), "kick:res123")
	assert.Empty(t, f.tp.inviteSnapshot())
}

func TestApproveInvitesRealAddress(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))
	f.lobby.mu.Lock()
	f.lobby.members["res123"] = muc.Member{Resource: "res123", JID: muc.JID{Local: "alice", Domain: "example.com", Resource: "res123"}}
	f.lobby.mu.Unlock()

	f.c.ApproveAccess(context.Background(), "res123")

	invites := f.tp.inviteSnapshot()
	require.Len(t, invites, 1)
	assert.Equal(t, "room1@conference.example", invites[0].room.String())
	assert.Equal(t, "alice@example.com/res123", invites[0].invitee.String())
	assert.NotContains(t, f.lobby.opsSnapshot(), "kick:res123")
}

func TestModeratorActionsRequireModerator(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"}))
	f.lobby.mu.Lock()
	f.lobby.members["res123"] = muc.Member{Resource: "res123"}
	f.lobby.mu.Unlock()

	f.c.ApproveAccess(context.Background(), "res123")
	f.c.DenyAccess(context.Background(), "res123")

	assert.Empty(t, f.tp.inviteSnapshot())
	assert.NotContains(t, f.lobby.opsSnapshot(), "kick:res123")
}

func TestModeratorActionsWithoutLobbyComponent(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))
	f.lobby.mu.Lock()
	f.lobby.members["res123"] = muc.Member{Resource: "res123"}
	f.lobby.mu.Unlock()
	f.tp.lobbyAddr = ""

	f.c.ApproveAccess(context.Background(), "res123")
	f.c.DenyAccess(context.Background(), "res123")

	assert.Empty(t, f.tp.inviteSnapshot())
	assert.NotContains(t, f.lobby.opsSnapshot(), "kick:res123")
}

func TestModeratorActionsWithStaleID(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))

	f.c.ApproveAccess(context.Background(), "ghost")
	f.c.DenyAccess(context.Background(), "ghost")

	assert.Empty(t, f.tp.inviteSnapshot())
	for _, op := range f.lobby.opsSnapshot() {
		assert.NotContains(t, op, "kick:")
	}
}

func TestKickedParticipantIsDenied(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"}))

	f.lobby.emit(muc.Event{Type: muc.EventKicked, Self: true})

	require.Eventually(t, func() bool { return f.c.State() == StateDenied }, time.Second, 5*time.Millisecond)
	notes := f.notes.snapshot()
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyAccessDenied, notes[0].Type)
	assert.Equal(t, 1, f.lobby.cancelCount(), "lobby released after the kick")

	// a straggling kick changes nothing
	f.lobby.emit(muc.Event{Type: muc.EventKicked, Self: true})
	assert.Never(t, func() bool { return len(f.notes.snapshot()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestInviteAdmitsParticipant(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.c.Join(context.Background(), JoinOptions{DisplayName: "Alice"}))
	f.main.mu.Lock()
	f.main.joinReply = muc.EventSelfJoined
	f.main.mu.Unlock()

	f.main.emit(muc.Event{Type: muc.EventInviteReceived, From: muc.JID{Local: "mod", Domain: "example.com"}})

	require.Eventually(t, func() bool { return f.c.State() == StateApproved }, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.main.opsSnapshot(), "join:")
	assert.Contains(t, f.lobby.opsSnapshot(), "leave")
	assert.Equal(t, 1, f.lobby.cancelCount())
	assert.Empty(t, f.notes.snapshot(), "approval is silent on this side")
}

func TestOperationsWhileBusy(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))

	err := f.c.Enable(context.Background(), "")
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateWaitingAsModerator, serr.State)

	err = f.c.Join(context.Background(), JoinOptions{})
	require.ErrorAs(t, err, &serr)
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.c.Enable(context.Background(), ""))

	require.NoError(t, f.c.Close())
	assert.Contains(t, f.lobby.opsSnapshot(), "leave")
	assert.Equal(t, 1, f.lobby.cancelCount())
	assert.Equal(t, 1, f.main.cancelCount())
	assert.Equal(t, StateLeft, f.c.State())

	assert.ErrorIs(t, f.c.Enable(context.Background(), ""), ErrClosed)
	require.NoError(t, f.c.Close(), "close is idempotent")
}
