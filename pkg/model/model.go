// Package model defines the core domain types for gatelog.
package model

import "strings"

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermManageInvites Permission = iota
	PermManageRoles
	PermReadInvites
)

// String returns the wire name of the permission.
func (p Permission) String() string {
	switch p {
	case PermManageInvites:
		return "MANAGE_INVITES"
	case PermManageRoles:
		return "MANAGE_ROLES"
	case PermReadInvites:
		return "READ_INVITES"
	default:
		return "UNKNOWN"
	}
}

// Requester is the permission context of whoever is calling into the
// invite lifecycle: the authenticated user, their role, and the scope the
// call targets.
type Requester struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	ServerID  string `json:"server_id"`  // empty = not bound to a server
	ChannelID string `json:"channel_id"` // empty = server-wide
}

// WithScope returns a copy of r targeted at serverID. A requester already
// bound to a server keeps its binding so the permission engine can reject
// cross-server calls.
func (r Requester) WithScope(serverID string) Requester {
	if strings.TrimSpace(r.ServerID) == "" {
		r.ServerID = serverID
	}
	return r
}
