// Package rbac provides role-based access control checks.
package rbac

import (
	"strings"

	"github.com/NicolasHaas/gatelog/pkg/model"
)

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermManageInvites: true,
		model.PermManageRoles:   true,
		model.PermReadInvites:   true,
	},
	model.RoleModerator: {
		model.PermReadInvites: true,
	},
	model.RoleMember: {
		// No special permissions: can only replicate the log
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// Engine answers permission questions for one server.
type Engine struct {
	serverID string
}

// NewEngine returns an Engine scoped to serverID.
func NewEngine(serverID string) *Engine {
	return &Engine{serverID: serverID}
}

// HasPermission reports whether the requester holds perm in the engine's
// server. A requester scoped to a different server holds nothing here.
func (e *Engine) HasPermission(perm model.Permission, req model.Requester) bool {
	scope := strings.TrimSpace(req.ServerID)
	if scope != "" && scope != e.serverID {
		return false
	}
	return HasPermission(req.Role, perm)
}
