// internal/handlers/utils.go
package handlers

import "strings"

// extractCookieToken extracts a named cookie value from the "Cookie"
// header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// roomLocalFromPath pulls the room's local name out of a request path
// below prefix, e.g. "/rooms/ws/room1" -> "room1".
func roomLocalFromPath(path, prefix string) string {
	local := strings.TrimPrefix(path, prefix)
	if idx := strings.IndexByte(local, '/'); idx != -1 {
		local = local[:idx]
	}
	return local
}

// validRoomLocal reports whether s can serve as a room's local name.
func validRoomLocal(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	return !strings.ContainsAny(s, "@/ \t\r\n")
}
