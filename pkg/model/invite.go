package model

import (
	"encoding/hex"
	"time"
)

// Invite is the materialized record of an issued invite. It is written only
// by replaying log actions; callers treat it as read-only.
type Invite struct {
	ID             []byte    `json:"id" yaml:"-"`
	Code           string    `json:"code" yaml:"code"`
	ServerID       string    `json:"server_id" yaml:"server_id"`
	PublicKey      []byte    `json:"public_key" yaml:"-"`
	Payload        []byte    `json:"-" yaml:"-"`                   // opaque pairing payload
	ExpiresAt      time.Time `json:"expires_at" yaml:"expires_at"` // issuer-computed expiry
	ProtocolExpiry time.Time `json:"protocol_expiry" yaml:"protocol_expiry"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	CreatedBy      string    `json:"created_by" yaml:"created_by"`
	Revoked        bool      `json:"revoked" yaml:"revoked"`
	RevokedAt      time.Time `json:"revoked_at,omitzero" yaml:"revoked_at,omitempty"`
	RevokedBy      string    `json:"revoked_by,omitempty" yaml:"revoked_by,omitempty"`
}

// HexID returns the lowercase hex form of ID, the key the view indexes by.
func (i *Invite) HexID() string {
	return hex.EncodeToString(i.ID)
}

// IsExpired reports whether the issuer-computed expiry has passed.
// A zero ExpiresAt counts as expired.
func (i *Invite) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// IsProtocolExpired reports whether the handshake-layer expiry has passed.
// A zero ProtocolExpiry counts as expired.
func (i *Invite) IsProtocolExpired(now time.Time) bool {
	return !i.ProtocolExpiry.After(now)
}

// Admissible reports whether a candidate may be admitted with this invite
// at now. Revocation and both expiry authorities are checked independently.
func (i *Invite) Admissible(now time.Time) bool {
	if i == nil || i.Revoked {
		return false
	}
	if i.IsExpired(now) {
		return false
	}
	if i.IsProtocolExpired(now) {
		return false
	}
	return true
}

// Claim is a recorded redemption attempt.
type Claim struct {
	Seq       uint64    `json:"seq"`
	Code      string    `json:"code"`
	ClaimedBy string    `json:"claimed_by"`
	Timestamp time.Time `json:"timestamp"`
}
