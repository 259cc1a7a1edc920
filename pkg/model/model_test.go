package model

import (
	"testing"
	"time"
)

func TestInviteAdmissible(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		invite *Invite
		want   bool
	}{
		{"both in future", &Invite{ExpiresAt: future, ProtocolExpiry: future}, true},
		{"local expiry passed", &Invite{ExpiresAt: past, ProtocolExpiry: future}, false},
		{"protocol expiry passed", &Invite{ExpiresAt: future, ProtocolExpiry: past}, false},
		{"both passed", &Invite{ExpiresAt: past, ProtocolExpiry: past}, false},
		{"expires exactly now", &Invite{ExpiresAt: now, ProtocolExpiry: future}, false},
		{"revoked", &Invite{ExpiresAt: future, ProtocolExpiry: future, Revoked: true}, false},
		{"missing local expiry", &Invite{ProtocolExpiry: future}, false},
		{"missing protocol expiry", &Invite{ExpiresAt: future}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.invite.Admissible(now); got != tt.want {
				t.Errorf("Admissible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInviteHexID(t *testing.T) {
	inv := &Invite{ID: []byte{0xde, 0xad, 0xbe, 0xef}}
	if got := inv.HexID(); got != "deadbeef" {
		t.Errorf("HexID() = %q, want %q", got, "deadbeef")
	}
}

func TestRoleValid(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"RoleMember", RoleMember, true},
		{"RoleModerator", RoleModerator, true},
		{"RoleAdmin", RoleAdmin, true},
		{"negative", Role(-1), false},
		{"three", Role(3), false},
		{"large", Role(99), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%d).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"admin", RoleAdmin},
		{"moderator", RoleModerator},
		{"member", RoleMember},
		{"", RoleMember},
		{"unknown", RoleMember},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseRole(tt.input); got != tt.want {
				t.Errorf("ParseRole(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequesterWithScope(t *testing.T) {
	unbound := Requester{UserID: "alice", Role: RoleAdmin}
	if got := unbound.WithScope("srv-1").ServerID; got != "srv-1" {
		t.Errorf("WithScope on unbound requester: ServerID = %q, want %q", got, "srv-1")
	}

	bound := Requester{UserID: "bob", Role: RoleAdmin, ServerID: "srv-2"}
	if got := bound.WithScope("srv-1").ServerID; got != "srv-2" {
		t.Errorf("WithScope on bound requester: ServerID = %q, want %q", got, "srv-2")
	}
}

func TestActionTypeNamespace(t *testing.T) {
	if got := ActionCreateInvite.Namespace(); got != "@server" {
		t.Errorf("Namespace() = %q, want %q", got, "@server")
	}
	if ActionType(" ").IsValid() {
		t.Error("blank action type reported valid")
	}
}
