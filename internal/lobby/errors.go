// internal/lobby/errors.go
package lobby

import (
	"errors"
	"fmt"

	"github.com/anteroom-dev/anteroom/internal/muc"
)

var (
	// ErrLobbyUnsupported means the deployment has no lobby component,
	// so members-only admission cannot be used at all.
	ErrLobbyUnsupported = errors.New("lobby not supported by this deployment")

	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("lobby controller closed")

	// ErrMemberNotFound marks a moderator action against an id no
	// longer in the lobby. It is logged and swallowed, never returned.
	ErrMemberNotFound = errors.New("lobby member not found")
)

// StateError reports an operation attempted in a state that does not
// allow it, such as a second Enable while one is still running.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// ConfigError means the main room's configuration form does not expose
// the members-only option. Nothing was submitted.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("room configuration form lacks %s", e.Field)
}

// TransportError wraps a failed backend exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// JoinFailedError reports a refused room join.
type JoinFailedError struct {
	Room   muc.JID
	Reason muc.JoinFailReason
}

func (e *JoinFailedError) Error() string {
	return fmt.Sprintf("join %s refused: %s", e.Room, e.Reason)
}
