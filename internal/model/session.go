package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleEmployee  Role = "employee"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// CanRaiseTickets reports whether the role may open new tickets.
func (r Role) CanRaiseTickets() bool {
	return r == RoleEmployee || r == RoleDeveloper
}

// IsAdmin reports whether the role has access to admin views.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User is the authenticated user's record as returned by the auth
// endpoints and persisted between runs.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// UnmarshalJSON accepts "id" as an alias for "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding user: %w", err)
	}
	*u = User(p.plain)
	if u.ID == "" {
		u.ID = p.AltID
	}
	return nil
}

// DisplayName returns the user's name, falling back to email.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Session is the identity of the signed-in user. It is read once when
// a view mounts and treated as immutable afterwards.
type Session struct {
	Token string
	User  *User
}

// Active reports whether the session carries both a token and a user
// record. Sync components stay inert for inactive sessions.
func (s Session) Active() bool {
	return s.Token != "" && s.User != nil && s.User.ID != ""
}

// UserID returns the signed-in user's identifier or "".
func (s Session) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}
