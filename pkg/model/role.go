package model

// Role represents a member's permission level within a server.
type Role int

const (
	RoleMember    Role = iota // Default role, can replicate the log
	RoleModerator             // Can list invites
	RoleAdmin                 // Full control: issue and revoke invites, manage roles
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "moderator":
		return RoleModerator
	default:
		return RoleMember
	}
}

// Valid returns true if the role is a recognised value (Member, Moderator, or Admin).
func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleAdmin
}
