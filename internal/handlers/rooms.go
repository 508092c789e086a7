// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anteroom-dev/anteroom/internal/auth"
	"github.com/anteroom-dev/anteroom/internal/muc"
)

type createRoomRequest struct {
	Room        string `json:"room"`
	Name        string `json:"name"`
	MembersOnly bool   `json:"membersOnly"`
}

// CreateRoomHandler provisions a named room owned by the caller.
// Rooms also materialize implicitly on first join; this endpoint is
// for rooms that should exist, owned and optionally protected, before
// anyone arrives.
func CreateRoomHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie := r.Header.Get("Cookie")
		if !strings.Contains(cookie, "auth_token=") {
			http.Error(w, "missing auth_token", http.StatusUnauthorized)
			return
		}
		token := extractCookieToken(cookie, "auth_token")

		subject, err := auth.AuthenticateJWT(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		owner, err := muc.ParseJID(subject)
		if err != nil {
			http.Error(w, "invalid subject in token", http.StatusBadRequest)
			return
		}

		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad room request payload", http.StatusBadRequest)
			return
		}
		if !validRoomLocal(req.Room) {
			http.Error(w, "invalid room name", http.StatusBadRequest)
			return
		}

		info, err := s.Rooms.ProvisionRoom(r.Context(), req.Room, req.Name, owner, req.MembersOnly)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

// ListRoomsHandler returns the resident conference rooms.
func ListRoomsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie := r.Header.Get("Cookie")
		if !strings.Contains(cookie, "auth_token=") {
			http.Error(w, "missing auth_token", http.StatusUnauthorized)
			return
		}
		token := extractCookieToken(cookie, "auth_token")
		if _, err := auth.AuthenticateJWT(token); err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}

		rooms := s.Rooms.ListRooms()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rooms)
	}
}
