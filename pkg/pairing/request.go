package pairing

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

var (
	// ErrInvalidRequest is returned for a request that cannot be parsed.
	ErrInvalidRequest = errors.New("pairing: invalid request")
	// ErrBadProof is returned by Candidate.Open when the request was not
	// signed with the invite's key.
	ErrBadProof = errors.New("pairing: request signature does not match invite")
)

// Request is what a redeemer sends to a member.
type Request struct {
	DiscoveryKey []byte `cbor:"1,keyasint"`
	InviteID     []byte `cbor:"2,keyasint"`
	Recipient    string `cbor:"3,keyasint"` // age X25519 recipient
	Timestamp    int64  `cbor:"4,keyasint"` // unix milliseconds
	Signature    []byte `cbor:"5,keyasint,omitempty"`
}

// Reply carries the sealed join material back to the redeemer.
type Reply struct {
	InviteID []byte `cbor:"1,keyasint"`
	Sealed   []byte `cbor:"2,keyasint"`
}

// Confirmation is the join material a member grants.
type Confirmation struct {
	Key           []byte `cbor:"1,keyasint"`
	EncryptionKey []byte `cbor:"2,keyasint"`
}

// NewRequest builds a signed request redeeming payload for recipient.
func NewRequest(payload []byte, recipient string, now time.Time) (*Request, error) {
	meta, err := ImportInvite(payload)
	if err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: missing recipient", ErrInvalidRequest)
	}
	r := &Request{
		DiscoveryKey: meta.DiscoveryKey,
		InviteID:     meta.ID,
		Recipient:    recipient,
		Timestamp:    now.UnixMilli(),
	}
	msg, err := r.signedBytes()
	if err != nil {
		return nil, err
	}
	r.Signature = ed25519.Sign(meta.private, msg)
	return r, nil
}

// Marshal encodes the request for transport.
func (r *Request) Marshal() ([]byte, error) {
	return codec.Marshal(r)
}

// ParseRequest decodes a request received from the network.
func ParseRequest(data []byte) (*Request, error) {
	var r Request
	if err := codec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(r.DiscoveryKey) == 0 || len(r.InviteID) == 0 || r.Recipient == "" {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidRequest)
	}
	return &r, nil
}

// Time returns the redeemer-reported request time.
func (r *Request) Time() time.Time {
	return model.UnixMilli(r.Timestamp)
}

func (r *Request) signedBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return codec.Marshal(unsigned)
}

func (r *Request) verify(publicKey ed25519.PublicKey) error {
	if len(publicKey) != ed25519.PublicKeySize || len(r.Signature) != ed25519.SignatureSize {
		return ErrBadProof
	}
	if !bytes.Equal(InviteID(publicKey), r.InviteID) {
		return ErrBadProof
	}
	msg, err := r.signedBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(publicKey, msg, r.Signature) {
		return ErrBadProof
	}
	return nil
}

// Marshal encodes the reply for transport.
func (r *Reply) Marshal() ([]byte, error) {
	return codec.Marshal(r)
}

// ParseReply decodes a reply received from a member.
func ParseReply(data []byte) (*Reply, error) {
	var r Reply
	if err := codec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("pairing: parse reply: %w", err)
	}
	return &r, nil
}

// OpenReply decrypts the join material sealed to identity.
func OpenReply(identity *crypto.Identity, reply *Reply) (Confirmation, error) {
	plaintext, err := identity.Open(reply.Sealed)
	if err != nil {
		return Confirmation{}, fmt.Errorf("pairing: open reply: %w", err)
	}
	var c Confirmation
	if err := codec.Unmarshal(plaintext, &c); err != nil {
		return Confirmation{}, fmt.Errorf("pairing: open reply: %w", err)
	}
	return c, nil
}
