// internal/room/view.go
package room

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

// roomView is one session's handle on one room, the concrete muc.Room
// handed to the admission controller and the connection handlers. The
// view tracks its own joined/role state by watching the events it
// relays.
type roomView struct {
	svc  *Service
	sess *Session
	jid  muc.JID

	mu      sync.Mutex
	room    *Room // resolved lazily on first join
	joined  bool
	role    muc.Role
	exts    map[string]muc.PresenceExt
	subs    map[int]chan<- muc.Event
	nextSub int
}

func newRoomView(svc *Service, sess *Session, jid muc.JID) *roomView {
	return &roomView{
		svc:  svc,
		sess: sess,
		jid:  jid.Bare(),
		exts: make(map[string]muc.PresenceExt),
		subs: make(map[int]chan<- muc.Event),
	}
}

func (v *roomView) RoomJID() muc.JID { return v.jid }

func (v *roomView) Join(password string) error {
	v.mu.Lock()
	if v.joined {
		v.mu.Unlock()
		return ErrAlreadyInRoom
	}
	exts := copyExts(v.exts)
	v.mu.Unlock()

	room, err := v.svc.roomFor(v.jid, true)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.room = room
	v.mu.Unlock()

	return room.join(joinRequest{
		resource: v.sess.Resource(),
		realJID:  v.sess.RealJID(),
		password: password,
		exts:     exts,
		deliver:  v.dispatch,
	})
}

func (v *roomView) Leave() error {
	v.mu.Lock()
	room := v.room
	if !v.joined || room == nil {
		v.mu.Unlock()
		return ErrNotInRoom
	}
	v.joined = false
	v.role = muc.RoleNone
	v.mu.Unlock()
	return room.leave(v.sess.Resource())
}

func (v *roomView) Kick(resource string) error {
	room := v.currentRoom()
	if room == nil {
		return ErrNotInRoom
	}
	return room.kick(v.sess.Resource(), resource)
}

func (v *roomView) SendPresence() error {
	v.mu.Lock()
	room := v.room
	exts := copyExts(v.exts)
	v.mu.Unlock()
	if room == nil {
		return ErrNotInRoom
	}
	return room.updatePresence(v.sess.Resource(), exts)
}

func (v *roomView) AddToPresence(key string, ext muc.PresenceExt) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exts[key] = ext
}

func (v *roomView) RemoveFromPresence(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.exts, key)
}

func (v *roomView) Members() map[string]muc.Member {
	room := v.currentRoom()
	if room == nil {
		return map[string]muc.Member{}
	}
	return room.members(v.sess.Resource())
}

func (v *roomView) IsModerator() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joined && v.role == muc.RoleModerator
}

func (v *roomView) Joined() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joined
}

func (v *roomView) Subscribe(ch chan<- muc.Event) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

// SendMessage relays a groupchat message through the view.
func (v *roomView) SendMessage(body string) error {
	room := v.currentRoom()
	if room == nil {
		return ErrNotInRoom
	}
	return room.message(v.sess.Resource(), body)
}

func (v *roomView) currentRoom() *Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.room
}

// dispatch mirrors the view's own state off the event stream and fans
// the event out to subscribers. Sends never block: a slow subscriber
// drops events with a warning, it does not stall the room.
func (v *roomView) dispatch(ev muc.Event) {
	v.mu.Lock()
	switch ev.Type {
	case muc.EventSelfJoined:
		v.joined = true
	case muc.EventKicked:
		if ev.Self {
			v.joined = false
			v.role = muc.RoleNone
		}
	case muc.EventRoleChanged:
		if ev.Self {
			v.role = ev.Role
		}
	}
	subs := make([]chan<- muc.Event, 0, len(v.subs))
	for _, ch := range v.subs {
		subs = append(subs, ch)
	}
	v.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			v.svc.log.WithFields(logrus.Fields{
				"room": ev.Room.String(),
				"type": string(ev.Type),
			}).Warn("dropping room event for slow subscriber")
		}
	}
}

func copyExts(exts map[string]muc.PresenceExt) map[string]muc.PresenceExt {
	out := make(map[string]muc.PresenceExt, len(exts))
	for k, v := range exts {
		out[k] = v
	}
	return out
}
