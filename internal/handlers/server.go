// internal/handlers/server.go

// Package handlers exposes the room service over HTTP and WebSocket:
// room provisioning and listing, guest identities, and the per-room
// WebSocket sessions that carry joins, chat and lobby admission.
package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/audit"
	"github.com/anteroom-dev/anteroom/internal/room"
)

// Server binds the HTTP surface to the room service and the audit
// trail.
type Server struct {
	Rooms *room.Service
	Audit *audit.Publisher // nil disables the admission trail
	Log   *logrus.Logger
}

func NewServer(rooms *room.Service, pub *audit.Publisher, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{Rooms: rooms, Audit: pub, Log: logger}
}
