package model

import (
	"strings"
	"time"
)

// ActionType identifies the kind of signed action appended to the log.
type ActionType string

const (
	// ActionCreateInvite records the issuance of an invite.
	ActionCreateInvite ActionType = "@server/create-invite"
	// ActionRevokeInvite records the revocation of an invite by code.
	ActionRevokeInvite ActionType = "@server/revoke-invite"
	// ActionClaimInvite records an optimistic redemption attempt.
	ActionClaimInvite ActionType = "@server/claim-invite"
)

// IsValid reports whether the action type is usable.
func (t ActionType) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Namespace returns the collection prefix of the action type (e.g. "@server").
func (t ActionType) Namespace() string {
	if i := strings.IndexByte(string(t), '/'); i >= 0 {
		return string(t[:i])
	}
	return string(t)
}

// SignedAction is an immutable, signed entry in the log.
type SignedAction struct {
	// Seq is the position in the local journal (starts at 1). Assigned on append.
	Seq       uint64     `cbor:"1,keyasint,omitempty" json:"seq"`
	Type      ActionType `cbor:"2,keyasint" json:"type"`
	Payload   []byte     `cbor:"3,keyasint" json:"payload"` // CBOR-encoded action payload
	Signer    []byte     `cbor:"4,keyasint" json:"signer"`  // Ed25519 public key
	Signature []byte     `cbor:"5,keyasint" json:"signature"`
	Timestamp time.Time  `cbor:"6,keyasint" json:"timestamp"`
}

// CreateInvitePayload is the payload of ActionCreateInvite.
type CreateInvitePayload struct {
	ID             []byte `cbor:"1,keyasint"`
	Invite         []byte `cbor:"2,keyasint"` // opaque pairing payload
	PublicKey      []byte `cbor:"3,keyasint"`
	ExpiresAt      int64  `cbor:"4,keyasint"` // unix milliseconds
	ProtocolExpiry int64  `cbor:"5,keyasint"` // unix milliseconds
	ServerID       string `cbor:"6,keyasint"`
	CreatedBy      string `cbor:"7,keyasint"`
}

// RevokeInvitePayload is the payload of ActionRevokeInvite.
type RevokeInvitePayload struct {
	Code      string `cbor:"1,keyasint"`
	ServerID  string `cbor:"2,keyasint"`
	RevokedAt int64  `cbor:"3,keyasint"` // unix milliseconds
	RevokedBy string `cbor:"4,keyasint"`
}

// ClaimInvitePayload is the payload of ActionClaimInvite.
type ClaimInvitePayload struct {
	InviteCode string `cbor:"1,keyasint"`
	Timestamp  int64  `cbor:"2,keyasint"` // unix milliseconds
	ClaimedBy  string `cbor:"3,keyasint"`
}

// UnixMilli converts a unix millisecond value to UTC time. Zero stays zero.
func UnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
