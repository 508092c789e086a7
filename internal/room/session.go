// internal/room/session.go
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

// Session is one connected identity: a real JID bound to a unique
// resource, plus the views it holds on rooms. Session implements
// muc.RoomFactory and muc.Transport, so it is everything an admission
// controller needs to talk to the backend.
type Session struct {
	svc     *Service
	id      uuid.UUID
	realJID muc.JID

	mu     sync.Mutex
	views  map[string]*roomView
	closed bool
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// RealJID returns the session's full address, user@domain/resource.
func (s *Session) RealJID() muc.JID { return s.realJID }

// Resource returns the session's resource, which doubles as its
// room-scoped occupant id.
func (s *Session) Resource() string { return s.realJID.Resource }

// CreateRoom implements muc.RoomFactory. It returns this session's
// view on localName under the conference domain, or under
// opts.CustomDomain when set. The room itself materializes on join.
// Discovery and focus flags are accepted but moot: hosted rooms have
// neither to disable.
func (s *Session) CreateRoom(localName string, opts muc.RoomOptions) (muc.Room, error) {
	if localName == "" {
		return nil, fmt.Errorf("empty room name")
	}
	domain := s.svc.conferenceDomain
	if opts.CustomDomain != "" {
		domain = opts.CustomDomain
	}
	return s.viewFor(muc.NewJID(localName, domain), true)
}

// SendIQ implements muc.Transport for configuration round trips
// addressed to rooms this session has standing in.
func (s *Session) SendIQ(ctx context.Context, iq muc.IQ) (muc.IQ, error) {
	if err := ctx.Err(); err != nil {
		return muc.IQ{}, err
	}
	if iq.To.IsZero() {
		return muc.IQ{}, fmt.Errorf("iq without destination")
	}
	room, err := s.svc.roomFor(iq.To, false)
	if err != nil {
		return muc.IQ{}, err
	}
	bare := s.realJID.Bare().String()
	switch iq.Type {
	case muc.IQGet:
		form, err := room.configForm(bare)
		if err != nil {
			return muc.IQ{}, err
		}
		return muc.IQ{Type: muc.IQResult, To: iq.To, Form: form}, nil
	case muc.IQSet:
		if err := room.applyConfig(bare, iq.Form); err != nil {
			return muc.IQ{}, err
		}
		s.svc.persistConfig(ctx, room)
		return muc.IQ{Type: muc.IQResult, To: iq.To}, nil
	default:
		return muc.IQ{}, fmt.Errorf("unsupported iq type %q", iq.Type)
	}
}

// SendInvite implements muc.Transport. The room adds the invitee to
// its member list and the invite is routed to the invitee's sessions,
// joined or not.
func (s *Session) SendInvite(ctx context.Context, roomJID, invitee muc.JID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room, err := s.svc.roomFor(roomJID, false)
	if err != nil {
		return err
	}
	from, err := room.invite(s.Resource(), invitee)
	if err != nil {
		return err
	}
	s.svc.routeInvite(room.JID, invitee, from)
	return nil
}

// LobbyComponentAddress implements muc.Transport.
func (s *Session) LobbyComponentAddress() string { return s.svc.lobbyDomain }

// Close leaves every joined room and unregisters the session. Safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	views := make([]*roomView, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[string]*roomView)
	s.mu.Unlock()

	for _, v := range views {
		if v.Joined() {
			if err := v.Leave(); err != nil {
				s.svc.log.WithError(err).Debug("leaving room on session close")
			}
		}
	}
	s.svc.dropSession(s)
}

func (s *Session) viewFor(jid muc.JID, create bool) (*roomView, error) {
	key := jid.Bare().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	if v, ok := s.views[key]; ok {
		return v, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: no view on %s", ErrRoomNotFound, key)
	}
	v := newRoomView(s.svc, s, jid)
	s.views[key] = v
	return v, nil
}

// deliverRoomEvent hands an out-of-room event, such as an invite, to
// this session's view on the room, if it holds one.
func (s *Session) deliverRoomEvent(roomJID muc.JID, ev muc.Event) {
	s.mu.Lock()
	v, ok := s.views[roomJID.Bare().String()]
	s.mu.Unlock()
	if ok {
		v.dispatch(ev)
	}
}
