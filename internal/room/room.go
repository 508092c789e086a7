// internal/room/room.go

// Package room hosts multi-user chat rooms in process: occupant
// tracking, member affiliations, members-only admission with an
// optional shared password, mediated invites and owner configuration.
// Sessions talk to rooms through per-session views that implement the
// muc interfaces.
package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/anteroom-dev/anteroom/internal/auth"
	"github.com/anteroom-dev/anteroom/internal/muc"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotModerator   = errors.New("not a moderator in this room")
	ErrNotOwner       = errors.New("not an owner of this room")
	ErrNotInRoom      = errors.New("not an occupant of this room")
	ErrAlreadyInRoom  = errors.New("already an occupant of this room")
	ErrNoSuchOccupant = errors.New("no such occupant")
)

// affiliation is a bare JID's standing with a room, independent of
// presence. Owners configure; members pass the members-only check.
type affiliation string

const (
	affNone   affiliation = ""
	affOwner  affiliation = "owner"
	affMember affiliation = "member"
)

// occupant is one joined session.
type occupant struct {
	resource string
	realJID  muc.JID
	role     muc.Role
	exts     map[string]muc.PresenceExt
	deliver  func(muc.Event)
}

// Room is the authoritative state of one hosted room. All fields are
// guarded by Mu; methods with the Unsafe suffix expect it held.
type Room struct {
	JID muc.JID

	Mu           sync.Mutex
	Name         string
	MembersOnly  bool
	PasswordHash string // argon2id encoded, "" when no shared password
	occupants    map[string]*occupant
	affiliations map[string]affiliation

	// OnEmpty runs after the last occupant leaves, outside Mu.
	OnEmpty func()
}

// NewRoom creates an empty room at the given bare JID.
func NewRoom(jid muc.JID) *Room {
	return &Room{
		JID:          jid.Bare(),
		Name:         jid.Local,
		occupants:    make(map[string]*occupant),
		affiliations: make(map[string]affiliation),
	}
}

// joinRequest carries everything a join attempt needs. deliver is the
// requester's event sink and is the only way the outcome is reported.
type joinRequest struct {
	resource string
	realJID  muc.JID
	password string
	exts     map[string]muc.PresenceExt
	deliver  func(muc.Event)
}

// join admits or refuses the requester. A refusal is not an error: the
// request was processed, the outcome travels as an event.
func (r *Room) join(req joinRequest) error {
	r.Mu.Lock()
	if _, ok := r.occupants[req.resource]; ok {
		r.Mu.Unlock()
		return ErrAlreadyInRoom
	}

	bare := req.realJID.Bare().String()
	aff := r.affiliations[bare]
	if len(r.occupants) == 0 && !r.hasOwnerUnsafe() {
		// MUC semantics: whoever creates the room owns it.
		r.affiliations[bare] = affOwner
		aff = affOwner
	}

	if !r.admitUnsafe(aff, req.password) {
		deliver := req.deliver
		jid := r.JID
		r.Mu.Unlock()
		deliver(muc.Event{Type: muc.EventJoinFailed, Room: jid, Reason: muc.JoinFailNotAuthorized})
		return nil
	}

	occ := &occupant{
		resource: req.resource,
		realJID:  req.realJID,
		role:     muc.RoleParticipant,
		exts:     req.exts,
		deliver:  req.deliver,
	}
	if aff == affOwner {
		occ.role = muc.RoleModerator
	}

	// Roster first: the newcomer learns who is already here.
	for _, other := range r.occupants {
		m := r.memberForUnsafe(occ, other)
		occ.deliver(muc.Event{Type: muc.EventMemberJoined, Room: r.JID, Member: &m})
	}
	r.broadcastUnsafe(req.resource, func(rcv *occupant) muc.Event {
		m := r.memberForUnsafe(rcv, occ)
		return muc.Event{Type: muc.EventMemberJoined, Room: r.JID, Member: &m}
	})
	r.occupants[req.resource] = occ
	occ.deliver(muc.Event{Type: muc.EventSelfJoined, Room: r.JID})
	occ.deliver(muc.Event{Type: muc.EventRoleChanged, Room: r.JID, Self: true, Role: occ.role})
	r.Mu.Unlock()
	return nil
}

// admitUnsafe applies the members-only rule: owners and members are in;
// anyone else needs the shared password, when one is set.
func (r *Room) admitUnsafe(aff affiliation, password string) bool {
	if !r.MembersOnly || aff == affOwner || aff == affMember {
		return true
	}
	if password == "" || r.PasswordHash == "" {
		return false
	}
	ok, err := auth.ComparePasswordAndHash(password, r.PasswordHash)
	return err == nil && ok
}

func (r *Room) hasOwnerUnsafe() bool { return r.ownerUnsafe() != "" }

// ownerUnsafe returns the bare JID of the room's owner, or "".
func (r *Room) ownerUnsafe() string {
	for jid, aff := range r.affiliations {
		if aff == affOwner {
			return jid
		}
	}
	return ""
}

// leave removes the occupant and tells the rest.
func (r *Room) leave(resource string) error {
	r.Mu.Lock()
	occ, ok := r.occupants[resource]
	if !ok {
		r.Mu.Unlock()
		return ErrNotInRoom
	}
	delete(r.occupants, resource)
	r.broadcastUnsafe("", func(rcv *occupant) muc.Event {
		m := r.memberForUnsafe(rcv, occ)
		return muc.Event{Type: muc.EventMemberLeft, Room: r.JID, Member: &m}
	})
	empty := len(r.occupants) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()
	if empty && onEmpty != nil {
		onEmpty()
	}
	return nil
}

// kick removes target on behalf of a moderator. The target hears
// Kicked with self set; everyone else sees an ordinary leave.
func (r *Room) kick(byResource, target string) error {
	r.Mu.Lock()
	by, ok := r.occupants[byResource]
	if !ok {
		r.Mu.Unlock()
		return ErrNotInRoom
	}
	if by.role != muc.RoleModerator {
		r.Mu.Unlock()
		return ErrNotModerator
	}
	occ, ok := r.occupants[target]
	if !ok || target == byResource {
		r.Mu.Unlock()
		return ErrNoSuchOccupant
	}
	r.removeUnsafe(occ)
	empty := len(r.occupants) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()
	if empty && onEmpty != nil {
		onEmpty()
	}
	return nil
}

// removeUnsafe drops occ as if kicked: Kicked to the target, a leave
// to the rest.
func (r *Room) removeUnsafe(occ *occupant) {
	delete(r.occupants, occ.resource)
	occ.deliver(muc.Event{Type: muc.EventKicked, Room: r.JID, Self: true})
	r.broadcastUnsafe("", func(rcv *occupant) muc.Event {
		m := r.memberForUnsafe(rcv, occ)
		return muc.Event{Type: muc.EventMemberLeft, Room: r.JID, Member: &m}
	})
}

// updatePresence replaces the occupant's extensions and fans the new
// values out.
func (r *Room) updatePresence(resource string, exts map[string]muc.PresenceExt) error {
	r.Mu.Lock()
	occ, ok := r.occupants[resource]
	if !ok {
		r.Mu.Unlock()
		return ErrNotInRoom
	}
	occ.exts = exts
	r.broadcastUnsafe(resource, func(rcv *occupant) muc.Event {
		m := r.memberForUnsafe(rcv, occ)
		return muc.Event{Type: muc.EventMemberUpdated, Room: r.JID, Member: &m}
	})
	r.Mu.Unlock()
	return nil
}

// invite puts invitee on the member list on behalf of a moderator and
// returns the occupant who asked, so the caller can route the invite
// to the invitee's sessions.
func (r *Room) invite(byResource string, invitee muc.JID) (muc.JID, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	by, ok := r.occupants[byResource]
	if !ok {
		return muc.JID{}, ErrNotInRoom
	}
	if by.role != muc.RoleModerator {
		return muc.JID{}, ErrNotModerator
	}
	bare := invitee.Bare().String()
	if r.affiliations[bare] != affOwner {
		r.affiliations[bare] = affMember
	}
	return by.realJID, nil
}

// message fans a groupchat message out to every other occupant.
func (r *Room) message(resource, body string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	occ, ok := r.occupants[resource]
	if !ok {
		return ErrNotInRoom
	}
	from := r.JID.WithResource(occ.resource)
	r.broadcastUnsafe(resource, func(*occupant) muc.Event {
		return muc.Event{Type: muc.EventMessageReceived, Room: r.JID, From: from, Body: body}
	})
	return nil
}

// configForm snapshots the owner configuration form. The password is
// never echoed back; the field's presence is what matters.
func (r *Room) configForm(byBare string) (*muc.ConfigForm, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.affiliations[byBare] != affOwner {
		return nil, ErrNotOwner
	}
	form := muc.NewConfigForm()
	form.Set(muc.FieldRoomName, r.Name)
	form.SetBool(muc.FieldMembersOnly, r.MembersOnly)
	form.Set(muc.FieldLobbyPassword, "")
	return form, nil
}

// applyConfig submits an owner configuration form. Only fields present
// in the form change. Switching members-only on sweeps out occupants
// with no standing, MUC-style.
func (r *Room) applyConfig(byBare string, form *muc.ConfigForm) error {
	if form == nil {
		return fmt.Errorf("empty configuration form")
	}
	r.Mu.Lock()
	if r.affiliations[byBare] != affOwner {
		r.Mu.Unlock()
		return ErrNotOwner
	}
	if form.Has(muc.FieldMembersOnly) {
		r.MembersOnly = form.GetBool(muc.FieldMembersOnly)
	}
	if form.Has(muc.FieldLobbyPassword) {
		if pw := form.Get(muc.FieldLobbyPassword); pw == "" {
			r.PasswordHash = ""
		} else {
			hash, err := auth.CreateHash(pw)
			if err != nil {
				r.Mu.Unlock()
				return fmt.Errorf("hash lobby password: %w", err)
			}
			r.PasswordHash = hash
		}
	}
	if form.Has(muc.FieldRoomName) {
		if name := form.Get(muc.FieldRoomName); name != "" {
			r.Name = name
		}
	}
	if r.MembersOnly {
		r.sweepNonMembersUnsafe()
	}
	empty := len(r.occupants) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()
	if empty && onEmpty != nil {
		onEmpty()
	}
	return nil
}

// sweepNonMembersUnsafe removes occupants a members-only room no
// longer admits.
func (r *Room) sweepNonMembersUnsafe() {
	for _, occ := range r.occupants {
		aff := r.affiliations[occ.realJID.Bare().String()]
		if aff == affOwner || aff == affMember {
			continue
		}
		r.removeUnsafe(occ)
	}
}

// members builds the viewer's snapshot of the other occupants.
func (r *Room) members(viewerResource string) map[string]muc.Member {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	viewer := r.occupants[viewerResource]
	out := make(map[string]muc.Member)
	for res, occ := range r.occupants {
		if res == viewerResource {
			continue
		}
		out[res] = r.memberForUnsafe(viewer, occ)
	}
	return out
}

// memberForUnsafe renders occ for a receiver. Real addresses are only
// revealed to moderators.
func (r *Room) memberForUnsafe(receiver, occ *occupant) muc.Member {
	m := muc.Member{
		Resource: occ.resource,
		Nick:     occ.exts[muc.ExtNick].Value,
		Email:    occ.exts[muc.ExtEmail].Value,
		AvatarID: occ.exts[muc.ExtAvatarID].Value,
		Role:     occ.role,
	}
	if receiver != nil && receiver.role == muc.RoleModerator {
		m.JID = occ.realJID
	}
	return m
}

// broadcastUnsafe delivers a per-receiver event to every occupant but
// except.
func (r *Room) broadcastUnsafe(except string, mk func(receiver *occupant) muc.Event) {
	for res, occ := range r.occupants {
		if res == except {
			continue
		}
		occ.deliver(mk(occ))
	}
}

// Info is the room summary used by listings.
type Info struct {
	JID         string `json:"jid"`
	Name        string `json:"name"`
	MembersOnly bool   `json:"membersOnly"`
	Occupants   int    `json:"occupants"`
}

// Snapshot returns the room's listing summary.
func (r *Room) Snapshot() Info {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return Info{
		JID:         r.JID.String(),
		Name:        r.Name,
		MembersOnly: r.MembersOnly,
		Occupants:   len(r.occupants),
	}
}

// occupantRole reports resource's current role.
func (r *Room) occupantRole(resource string) (muc.Role, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	occ, ok := r.occupants[resource]
	if !ok {
		return muc.RoleNone, false
	}
	return occ.role, true
}
