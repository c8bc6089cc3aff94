package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered     EventType = "user_registered"
	EventUserLoggedIn       EventType = "user_logged_in"
	EventTokenRotated       EventType = "token_rotated"
	EventTokenReuseDetected EventType = "token_reuse_detected"
	EventSessionsRevoked    EventType = "sessions_revoked"
)

// Event represents a security-relevant occurrence emitted by the token
// lifecycle. Reuse detection is intentionally only visible here and in logs,
// never in the HTTP response.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TokenRotatedPayload payload.
type TokenRotatedPayload struct {
	OldJTI string `json:"old_jti"`
	NewJTI string `json:"new_jti"`
}

// TokenReusePayload payload.
type TokenReusePayload struct {
	JTI       string     `json:"jti"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Cascaded  int64      `json:"cascaded"`
}

// SessionsRevokedPayload payload.
type SessionsRevokedPayload struct {
	Count  int64  `json:"count"`
	Reason string `json:"reason"`
}
