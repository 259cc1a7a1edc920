package model

import "time"

// APIToken is a bearer credential for the control API.
type APIToken struct {
	ID        int64     `json:"id"`
	Value     string    `json:"-"` // raw token value (only shown on creation)
	Hash      string    `json:"-"` // SHA-256 hash stored in DB
	Label     string    `json:"label"`
	Role      Role      `json:"role"`
	ServerID  string    `json:"server_id"` // empty = any server
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired returns true if the token has expired.
func (t *APIToken) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// Requester returns the permission context carried by this token.
func (t *APIToken) Requester() Requester {
	return Requester{
		UserID:   t.Label,
		Role:     t.Role,
		ServerID: t.ServerID,
	}
}
