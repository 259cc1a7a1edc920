package protocol

import (
	"encoding/json"
	"time"
)

// ----- Node -----

type InfoResponse struct {
	ServerID     string `json:"server_id"`
	DiscoveryKey string `json:"discovery_key"` // hex
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuiltAt      string `json:"built_at"`
}

// ----- Invites -----

// CreateInviteRequest carries expiry options for a new invite. Relative
// counts are whole numbers, sent as JSON numbers or decimal strings;
// ExpiresAt is RFC 3339 and wins over every relative count.
type CreateInviteRequest struct {
	ExpiresAt       string      `json:"expires_at,omitempty"`
	ExpireInDays    json.Number `json:"expire_in_days,omitempty"`
	ExpireInHours   json.Number `json:"expire_in_hours,omitempty"`
	ExpireInMinutes json.Number `json:"expire_in_minutes,omitempty"`
}

type CreateInviteResponse struct {
	Code string `json:"code"`
}

type InviteInfo struct {
	ID             string    `json:"id"` // hex
	Code           string    `json:"code"`
	ServerID       string    `json:"server_id"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
	ProtocolExpiry time.Time `json:"protocol_expiry,omitzero"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	CreatedBy      string    `json:"created_by,omitempty"`
	Revoked        bool      `json:"revoked"`
	RevokedAt      time.Time `json:"revoked_at,omitzero"`
	RevokedBy      string    `json:"revoked_by,omitempty"`
}

type ListInvitesResponse struct {
	Invites []InviteInfo `json:"invites"`
}

type RevokeInviteResponse struct {
	Revoked bool `json:"revoked"` // false = no such invite
}

type ClaimInviteRequest struct {
	ClaimedBy string    `json:"claimed_by,omitempty"` // empty = token label
	Timestamp time.Time `json:"timestamp,omitzero"`   // zero = server time
}

// ----- Tokens -----

type CreateTokenRequest struct {
	Label          string `json:"label"`
	Role           string `json:"role"`
	ExpiresInHours int    `json:"expires_in_hours,omitempty"` // 0 = never
}

type CreateTokenResponse struct {
	ID    int64  `json:"id"`
	Token string `json:"token"` // shown once
}

// ----- Generic -----

type ErrorResponse struct {
	Error string `json:"error"`
}
