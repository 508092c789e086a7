// internal/room/service.go
package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

// Config configures the room service.
type Config struct {
	ConferenceDomain string
	LobbyDomain      string // "" disables the lobby component
	UserDomain       string
	Log              *logrus.Entry
	Configs          ConfigStore // optional persistence
}

// Service owns the resident rooms and the connected sessions. It hands
// out Sessions, resolves rooms across the conference and lobby
// domains, and routes invites to sessions that are not in the room.
type Service struct {
	log              *logrus.Entry
	conferenceDomain string
	lobbyDomain      string
	userDomain       string
	configs          ConfigStore
	store            *Store

	mu       sync.Mutex
	sessions map[string]map[string]*Session // bare JID -> resource -> session
}

// NewService builds a Service from cfg, filling in local defaults for
// missing domains.
func NewService(cfg Config) *Service {
	logger := cfg.Log
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	conference := cfg.ConferenceDomain
	if conference == "" {
		conference = "conference.localhost"
	}
	user := cfg.UserDomain
	if user == "" {
		user = "localhost"
	}
	return &Service{
		log:              logger,
		conferenceDomain: conference,
		lobbyDomain:      cfg.LobbyDomain,
		userDomain:       user,
		configs:          cfg.Configs,
		store:            NewStore(),
		sessions:         make(map[string]map[string]*Session),
	}
}

// ConferenceDomain returns the domain main rooms live under.
func (s *Service) ConferenceDomain() string { return s.conferenceDomain }

// LobbyDomain returns the lobby component address, or "" when the
// service runs without one.
func (s *Service) LobbyDomain() string { return s.lobbyDomain }

// UserDomain returns the domain real user addresses live under.
func (s *Service) UserDomain() string { return s.userDomain }

// NewSession registers a session for userLocal with a fresh resource.
func (s *Service) NewSession(userLocal string) *Session {
	id := uuid.New()
	sess := &Session{
		svc:     s,
		id:      id,
		realJID: muc.JID{Local: userLocal, Domain: s.userDomain, Resource: id.String()},
		views:   make(map[string]*roomView),
	}
	bare := sess.realJID.Bare().String()
	s.mu.Lock()
	byResource := s.sessions[bare]
	if byResource == nil {
		byResource = make(map[string]*Session)
		s.sessions[bare] = byResource
	}
	byResource[sess.Resource()] = sess
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"user":     bare,
		"resource": sess.Resource(),
	}).Debug("session registered")
	return sess
}

func (s *Service) dropSession(sess *Session) {
	bare := sess.realJID.Bare().String()
	s.mu.Lock()
	if byResource, ok := s.sessions[bare]; ok {
		delete(byResource, sess.Resource())
		if len(byResource) == 0 {
			delete(s.sessions, bare)
		}
	}
	s.mu.Unlock()
}

// ProvisionRoom creates a named, persisted room owned by owner. Unlike
// the implicit create-on-join path this fails when the room already
// exists.
func (s *Service) ProvisionRoom(ctx context.Context, local, name string, owner muc.JID, membersOnly bool) (Info, error) {
	if local == "" {
		return Info{}, fmt.Errorf("empty room name")
	}
	jid := muc.NewJID(local, s.conferenceDomain)
	if _, ok := s.store.Get(jid.String()); ok {
		return Info{}, fmt.Errorf("room %s already exists", jid)
	}
	r := NewRoom(jid)
	s.hydrate(r)
	r.Mu.Lock()
	if r.hasOwnerUnsafe() {
		r.Mu.Unlock()
		return Info{}, fmt.Errorf("room %s already exists", jid)
	}
	r.affiliations[owner.Bare().String()] = affOwner
	r.MembersOnly = membersOnly
	if name != "" {
		r.Name = name
	}
	r.Mu.Unlock()
	r.OnEmpty = func() { s.reapRoom(jid.String()) }
	if stored := s.store.GetOrAdd(r); stored != r {
		// Lost a create race after the existence check above.
		return Info{}, fmt.Errorf("room %s already exists", jid)
	}
	s.persistConfig(ctx, r)
	return r.Snapshot(), nil
}

// ListRooms returns a stable listing of the resident conference rooms.
// Lobby rooms are plumbing and stay off the listing.
func (s *Service) ListRooms() []Info {
	rooms := s.store.Rooms()
	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		if r.JID.Domain != s.conferenceDomain {
			continue
		}
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

// roomFor resolves a bare room JID, optionally creating the room and
// hydrating it from persisted configuration.
func (s *Service) roomFor(jid muc.JID, create bool) (*Room, error) {
	key := jid.Bare().String()
	if r, ok := s.store.Get(key); ok {
		return r, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, key)
	}
	r := NewRoom(jid)
	s.hydrate(r)
	r.OnEmpty = func() { s.reapRoom(key) }
	return s.store.GetOrAdd(r), nil
}

// hydrate loads persisted configuration into a fresh room.
func (s *Service) hydrate(r *Room) {
	if s.configs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cfg, err := s.configs.LoadRoomConfig(ctx, r.JID.String())
	if err != nil {
		s.log.WithError(err).WithField("room", r.JID.String()).Warn("loading room config")
		return
	}
	if cfg == nil {
		return
	}
	r.Mu.Lock()
	r.MembersOnly = cfg.MembersOnly
	r.PasswordHash = cfg.PasswordHash
	if cfg.OwnerJID != "" {
		r.affiliations[cfg.OwnerJID] = affOwner
	}
	if cfg.Name != "" {
		r.Name = cfg.Name
	}
	r.Mu.Unlock()
}

// persistConfig saves the room's durable state, best effort.
func (s *Service) persistConfig(ctx context.Context, r *Room) {
	if s.configs == nil {
		return
	}
	r.Mu.Lock()
	cfg := RoomConfig{
		RoomJID:      r.JID.String(),
		Name:         r.Name,
		MembersOnly:  r.MembersOnly,
		PasswordHash: r.PasswordHash,
		OwnerJID:     r.ownerUnsafe(),
	}
	r.Mu.Unlock()
	if err := s.configs.SaveRoomConfig(ctx, cfg); err != nil {
		s.log.WithError(err).WithField("room", cfg.RoomJID).Warn("saving room config")
	}
}

// reapRoom drops an emptied room from memory. Protected rooms stay
// resident when nothing else would remember their configuration.
func (s *Service) reapRoom(key string) {
	r, ok := s.store.Get(key)
	if !ok {
		return
	}
	r.Mu.Lock()
	protected := r.MembersOnly || r.PasswordHash != ""
	r.Mu.Unlock()
	if protected && s.configs == nil {
		return
	}
	s.store.Delete(key)
	s.log.WithField("room", key).Debug("room emptied, removed")
}

// routeInvite delivers an invite to the invitee's sessions. A full
// invitee address targets one session; a bare one reaches them all.
func (s *Service) routeInvite(roomJID, invitee, from muc.JID) {
	bare := invitee.Bare().String()
	s.mu.Lock()
	targets := make([]*Session, 0, 1)
	for _, sess := range s.sessions[bare] {
		if invitee.Resource != "" && sess.Resource() != invitee.Resource {
			continue
		}
		targets = append(targets, sess)
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		s.log.WithField("invitee", invitee.String()).Debug("invite for absent user dropped")
		return
	}
	ev := muc.Event{Type: muc.EventInviteReceived, Room: roomJID, From: from}
	for _, sess := range targets {
		sess.deliverRoomEvent(roomJID, ev)
	}
}
