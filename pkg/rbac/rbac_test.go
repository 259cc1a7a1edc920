package rbac

import (
	"testing"

	"github.com/NicolasHaas/gatelog/pkg/model"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name string
		role model.Role
		perm model.Permission
		want bool
	}{
		{"admin manages invites", model.RoleAdmin, model.PermManageInvites, true},
		{"moderator reads invites", model.RoleModerator, model.PermReadInvites, true},
		{"moderator cannot manage invites", model.RoleModerator, model.PermManageInvites, false},
		{"member cannot manage invites", model.RoleMember, model.PermManageInvites, false},
		{"unknown role", model.Role(42), model.PermReadInvites, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestEngineScope(t *testing.T) {
	engine := NewEngine("srv-1")

	tests := []struct {
		name string
		req  model.Requester
		want bool
	}{
		{"unscoped admin", model.Requester{UserID: "a", Role: model.RoleAdmin}, true},
		{"same server admin", model.Requester{UserID: "a", Role: model.RoleAdmin, ServerID: "srv-1"}, true},
		{"other server admin", model.Requester{UserID: "a", Role: model.RoleAdmin, ServerID: "srv-2"}, false},
		{"same server member", model.Requester{UserID: "m", Role: model.RoleMember, ServerID: "srv-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.HasPermission(model.PermManageInvites, tt.req); got != tt.want {
				t.Errorf("HasPermission = %v, want %v", got, tt.want)
			}
		})
	}
}
