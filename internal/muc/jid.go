// internal/muc/jid.go
package muc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadJID indicates a malformed address string.
var ErrBadJID = errors.New("malformed jid")

// JID is a room or user address of the form local@domain/resource.
// Room addresses are bare (room1@conference.example); occupant addresses
// carry the room-scoped resource (room1@conference.example/res123).
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJID parses local@domain or local@domain/resource.
func ParseJID(s string) (JID, error) {
	rest := s
	var resource string
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		resource = rest[idx+1:]
		rest = rest[:idx]
		if resource == "" {
			return JID{}, fmt.Errorf("%w: empty resource in %q", ErrBadJID, s)
		}
	}
	at := strings.IndexByte(rest, '@')
	if at <= 0 || at == len(rest)-1 {
		return JID{}, fmt.Errorf("%w: %q", ErrBadJID, s)
	}
	local, domain := rest[:at], rest[at+1:]
	if strings.ContainsRune(domain, '@') {
		return JID{}, fmt.Errorf("%w: %q", ErrBadJID, s)
	}
	return JID{Local: local, Domain: domain, Resource: resource}, nil
}

// NewJID builds a bare JID from its parts.
func NewJID(local, domain string) JID {
	return JID{Local: local, Domain: domain}
}

// String renders the JID in wire form.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	if j.Resource == "" {
		return j.Local + "@" + j.Domain
	}
	return j.Local + "@" + j.Domain + "/" + j.Resource
}

// Bare strips the resource.
func (j JID) Bare() JID {
	j.Resource = ""
	return j
}

// WithResource returns a copy of the JID bound to the given resource.
func (j JID) WithResource(resource string) JID {
	j.Resource = resource
	return j
}

// IsBare reports whether the JID has no resource.
func (j JID) IsBare() bool { return j.Resource == "" }

// IsZero reports whether the JID is the empty value.
func (j JID) IsZero() bool { return j.Local == "" && j.Domain == "" }

// MarshalText implements encoding.TextMarshaler so JIDs serialize as strings.
func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*j = JID{}
		return nil
	}
	parsed, err := ParseJID(string(b))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
