// internal/handlers/users.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/anteroom-dev/anteroom/internal/auth"
	"github.com/anteroom-dev/anteroom/internal/muc"
)

// guestLocal mints the local part of a throwaway guest address.
func guestLocal() string {
	return "guest-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// EnsureSessionIdentity returns the caller's bare address. A valid
// auth_token cookie wins; anyone without one gets a minted guest
// identity and the cookie set. Call this before upgrading a
// WebSocket, cookies cannot follow the 101.
func EnsureSessionIdentity(w http.ResponseWriter, r *http.Request, userDomain string) (muc.JID, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		if subject, err := auth.AuthenticateJWT(token); err == nil {
			jid, perr := muc.ParseJID(subject)
			if perr != nil {
				return muc.JID{}, fmt.Errorf("invalid subject in token: %w", perr)
			}
			return jid.Bare(), nil
		}
		// An expired or garbage token falls through to a fresh guest.
	}

	jid := muc.NewJID(guestLocal(), userDomain)
	token, err := auth.CreateJWT(jid.String())
	if err != nil {
		return muc.JID{}, fmt.Errorf("minting guest token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
	})
	return jid, nil
}

// GuestSessionHandler issues a guest identity outright, for clients
// that want a token before touching any room.
func GuestSessionHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jid, err := EnsureSessionIdentity(w, r, s.Rooms.UserDomain())
		if err != nil {
			http.Error(w, "failed to issue identity", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"jid": jid.String()})
	}
}
