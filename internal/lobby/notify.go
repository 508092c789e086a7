// internal/lobby/notify.go
package lobby

// NotificationType discriminates controller notifications.
type NotificationType string

const (
	// NotifyMemberJoined: someone entered the lobby (moderators only).
	NotifyMemberJoined NotificationType = "lobby_member_joined"
	// NotifyMemberUpdated: a waiting member's presence changed,
	// typically the deferred e-mail push (moderators only).
	NotifyMemberUpdated NotificationType = "lobby_member_updated"
	// NotifyMemberLeft: a waiting member gave up (moderators only).
	NotifyMemberLeft NotificationType = "lobby_member_left"
	// NotifyAccessDenied: this participant was kicked out of the
	// lobby by a moderator.
	NotifyAccessDenied NotificationType = "lobby_access_denied"
)

// Notification is a single outbound controller event. Resource is the
// lobby-scoped identifier of the member concerned; the remaining
// fields are filled per Type.
type Notification struct {
	Type     NotificationType `json:"type"`
	Resource string           `json:"resource,omitempty"`
	Nick     string           `json:"nick,omitempty"`
	Email    string           `json:"email,omitempty"`
	AvatarID string           `json:"avatarId,omitempty"`
}

// Notifier receives controller notifications. Notify is invoked on the
// controller's own loop, so implementations must return quickly and
// must not call back into the Controller.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
