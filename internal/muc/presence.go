// internal/muc/presence.go
package muc

// Presence extension keys understood by rooms. A session attaches
// extensions to its presence before joining; the room fans the values
// out to other occupants on join and on every explicit SendPresence.
const (
	ExtNick     = "nick"
	ExtEmail    = "email"
	ExtAvatarID = "avatar-id"
)

// PresenceExt is a single key/value extension carried in an occupant's
// presence. Value holds the payload; Attrs carries optional attributes
// for extensions that need more than a scalar.
type PresenceExt struct {
	Value string            `json:"value"`
	Attrs map[string]string `json:"attrs,omitempty"`
}
