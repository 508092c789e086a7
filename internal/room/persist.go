// internal/room/persist.go
package room

import "context"

// RoomConfig is the durable part of a room: what has to survive a
// restart for a protected room to stay protected. Occupancy and lobby
// membership are deliberately not part of it.
type RoomConfig struct {
	RoomJID      string
	Name         string
	MembersOnly  bool
	PasswordHash string
	OwnerJID     string
}

// ConfigStore persists room configuration. LoadRoomConfig returns
// (nil, nil) when the room has nothing stored.
type ConfigStore interface {
	SaveRoomConfig(ctx context.Context, cfg RoomConfig) error
	LoadRoomConfig(ctx context.Context, roomJID string) (*RoomConfig, error)
}
