// Package session owns the authenticated session: the bearer token, the
// user's role, and the persisted backing store that survives restarts.
package session

import (
	"context"
	"strings"
	"time"
)

// Role of the logged-in user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// ParseRole normalizes a role string from the server.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleTeacher:
		return RoleTeacher, true
	}
	return "", false
}

// Session is the authenticated state of this client.
type Session struct {
	// Token is the opaque bearer token attached to every request.
	Token string `json:"token"`

	// Role determines which views and operations are offered.
	Role Role `json:"role"`

	// StudentID is set for student sessions only; it is the id whose
	// grades the student may read.
	StudentID int `json:"student_id,omitempty"`

	// CreatedAt is when the session was established.
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session can authenticate requests.
func (s Session) Valid() bool {
	return s.Token != "" && (s.Role == RoleStudent || s.Role == RoleTeacher)
}

// Store persists one session across process restarts.
type Store interface {
	// Save writes the session to the backing store.
	Save(ctx context.Context, s Session) error

	// Load reads the persisted session. Returns shared.ErrNoSession
	// when nothing is stored.
	Load(ctx context.Context) (Session, error)

	// Clear removes the persisted session.
	Clear(ctx context.Context) error
}
