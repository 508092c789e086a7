// internal/muc/events.go
package muc

// EventType discriminates room events delivered to subscribers.
type EventType string

const (
	// EventSelfJoined fires once the subscribing session's own join
	// request has been accepted by the room.
	EventSelfJoined EventType = "self_joined"
	// EventJoinFailed fires when the session's join request is refused.
	EventJoinFailed EventType = "join_failed"
	// EventMemberJoined fires when another occupant enters the room.
	EventMemberJoined EventType = "member_joined"
	// EventMemberUpdated fires when another occupant's presence
	// extensions change.
	EventMemberUpdated EventType = "member_updated"
	// EventMemberLeft fires when another occupant leaves the room.
	EventMemberLeft EventType = "member_left"
	// EventKicked fires when an occupant is removed by a moderator.
	// Self is true on the removed occupant's own stream.
	EventKicked EventType = "kicked"
	// EventInviteReceived fires when the session is invited into a
	// members-only room.
	EventInviteReceived EventType = "invite_received"
	// EventRoleChanged fires when an occupant's role changes. Self is
	// true when it is the subscribing session's own role.
	EventRoleChanged EventType = "role_changed"
	// EventMessageReceived fires for groupchat messages.
	EventMessageReceived EventType = "message_received"
)

// JoinFailReason classifies a refused join.
type JoinFailReason string

const (
	// JoinFailNotAuthorized means the room is members-only and the
	// session is not on the member list (or supplied a bad password).
	JoinFailNotAuthorized JoinFailReason = "not_authorized"
	// JoinFailNotAllowed means the session is barred outright, for
	// example after being kicked from the room's waiting area.
	JoinFailNotAllowed JoinFailReason = "not_allowed"
	// JoinFailConnect means the room could not be reached at all.
	JoinFailConnect JoinFailReason = "connect_error"
)

// Event is a single room occurrence. Room identifies the originating
// room so one channel can serve several subscriptions; the remaining
// fields are populated per Type.
type Event struct {
	Type EventType `json:"type"`
	Room JID       `json:"room"`

	// Member describes the occupant the event concerns, for
	// member_joined / member_updated / member_left / kicked.
	Member *Member `json:"member,omitempty"`

	// Self marks kicked / role_changed events that concern the
	// subscribing session itself.
	Self bool `json:"self,omitempty"`

	// Role is the new role for role_changed.
	Role Role `json:"role,omitempty"`

	// Reason classifies join_failed.
	Reason JoinFailReason `json:"reason,omitempty"`

	// From is the occupant behind an invite or message.
	From JID `json:"from,omitempty"`

	// Body is the message text for message_received.
	Body string `json:"body,omitempty"`
}
