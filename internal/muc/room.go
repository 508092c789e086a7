// internal/muc/room.go
package muc

import "context"

// Role is an occupant's role within a room.
type Role string

const (
	RoleNone        Role = "none"
	RoleParticipant Role = "participant"
	RoleModerator   Role = "moderator"
)

// Member is a room occupant as seen by another session. Resource is the
// room-scoped identifier; JID is the occupant's real bare address, which
// rooms only reveal to moderators.
type Member struct {
	Resource string `json:"resource"`
	JID      JID    `json:"jid,omitempty"`
	Nick     string `json:"nick,omitempty"`
	Email    string `json:"email,omitempty"`
	AvatarID string `json:"avatarId,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// RoomOptions tunes room creation.
type RoomOptions struct {
	// DisableDiscoInfo skips service discovery on the room address.
	// Waiting-area rooms are plain holding pens and need none of it.
	DisableDiscoInfo bool

	// DisableFocus keeps the conference focus component out of the
	// room. Again a waiting-area concern.
	DisableFocus bool

	// CustomDomain overrides the default conference domain for the
	// room address.
	CustomDomain string
}

// Room is a single chat room from the point of view of one session.
// Join, Leave and Kick issue requests; outcomes arrive as events on
// subscribed channels, never as return values.
type Room interface {
	// RoomJID returns the room's bare address.
	RoomJID() JID

	// Join requests entry. password may be empty. The result is
	// reported as EventSelfJoined or EventJoinFailed; the returned
	// error covers only request-level failures.
	Join(password string) error

	// Leave exits the room.
	Leave() error

	// Kick removes the occupant with the given room-scoped resource.
	// Moderators only.
	Kick(resource string) error

	// SendPresence pushes the session's current presence, including
	// all attached extensions, to the other occupants.
	SendPresence() error

	// AddToPresence attaches an extension to the session's presence.
	// It does not send; the value rides the next presence push.
	AddToPresence(key string, ext PresenceExt)

	// RemoveFromPresence detaches an extension.
	RemoveFromPresence(key string)

	// Members returns a snapshot of the other occupants, keyed by
	// room-scoped resource.
	Members() map[string]Member

	// IsModerator reports whether the session currently holds the
	// moderator role in this room.
	IsModerator() bool

	// Joined reports whether the session is currently in the room.
	Joined() bool

	// Subscribe registers a channel for this room's events and
	// returns a cancel function. Delivery is non-blocking: events to
	// a full channel are dropped with a warning.
	Subscribe(ch chan<- Event) (cancel func())
}

// RoomFactory creates rooms on demand.
type RoomFactory interface {
	// CreateRoom returns a Room handle for localName under either the
	// default conference domain or opts.CustomDomain. The room itself
	// may or may not exist yet; Join decides that.
	CreateRoom(localName string, opts RoomOptions) (Room, error)
}

// Transport carries the out-of-room operations a session needs:
// configuration round trips and mediated invites.
type Transport interface {
	// SendIQ performs a request/response exchange and returns the
	// result stanza.
	SendIQ(ctx context.Context, iq IQ) (IQ, error)

	// SendInvite asks the room to admit invitee. The room adds the
	// invitee to its member list as a side effect.
	SendInvite(ctx context.Context, room JID, invitee JID) error

	// LobbyComponentAddress returns the domain that hosts waiting
	// rooms, or "" when the deployment has none.
	LobbyComponentAddress() string
}
