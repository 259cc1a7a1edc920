// Package pairing is the reference handshake that lets a prospective
// member redeem an invite for a log's join material.
//
// An invite payload carries a random seed and the log's discovery key.
// Both sides derive the same Ed25519 keypair from the seed; the redeemer
// proves possession by signing its request, and the member confirms by
// sealing the join material to the redeemer's age recipient.
package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

const seedSize = 32

// ErrInvalidInvite is returned when an invite payload cannot be imported.
var ErrInvalidInvite = errors.New("pairing: invalid invite")

var (
	keypairInfo = []byte("gatelog pairing keypair v1")

	inviteIDDomain = [32]byte{
		'g', 'a', 't', 'e', 'l', 'o', 'g', ' ', 'i', 'n', 'v', 'i', 't', 'e', ' ',
		'i', 'd', ' ', 'v', '1',
	}
)

// InviteOptions controls CreateInvite. A non-positive ExpiresIn yields an
// invite that is already expired. IssuerExpiry is the issuing
// application's own expiry; it is carried in the payload untouched.
type InviteOptions struct {
	ExpiresIn    time.Duration
	IssuerExpiry time.Time
}

// Invite is a freshly created invite.
type Invite struct {
	ID        []byte
	Payload   []byte // opaque; shared as a code
	PublicKey ed25519.PublicKey
	Expires   time.Time
}

// Metadata is what a payload reveals once imported.
type Metadata struct {
	ID           []byte
	PublicKey    ed25519.PublicKey
	DiscoveryKey []byte
	Expires      time.Time
	IssuerExpiry time.Time // zero if the issuer set none

	private ed25519.PrivateKey
}

type invitePayload struct {
	Seed         []byte `cbor:"1,keyasint"`
	DiscoveryKey []byte `cbor:"2,keyasint"`
	Expires      int64  `cbor:"3,keyasint"`           // unix milliseconds
	IssuerExpiry int64  `cbor:"4,keyasint,omitempty"` // unix milliseconds
}

// CreateInvite creates an invite into the log identified by joinKey.
func (s *Service) CreateInvite(joinKey []byte, opts InviteOptions) (Invite, error) {
	if len(joinKey) != crypto.KeySize {
		return Invite{}, fmt.Errorf("pairing: create invite: %w", crypto.ErrInvalidKey)
	}
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return Invite{}, fmt.Errorf("pairing: create invite: %w", err)
	}

	p := invitePayload{
		Seed:         seed,
		DiscoveryKey: crypto.DiscoveryKey(joinKey),
		Expires:      s.clock.Now().Add(opts.ExpiresIn).UnixMilli(),
	}
	if !opts.IssuerExpiry.IsZero() {
		p.IssuerExpiry = opts.IssuerExpiry.UnixMilli()
	}
	payload, err := codec.Marshal(p)
	if err != nil {
		return Invite{}, fmt.Errorf("pairing: create invite: %w", err)
	}
	meta, err := metadataFrom(p)
	if err != nil {
		return Invite{}, err
	}
	return Invite{
		ID:        meta.ID,
		Payload:   payload,
		PublicKey: meta.PublicKey,
		Expires:   meta.Expires,
	}, nil
}

// ImportInvite recovers invite metadata from a payload without any local
// state. Expiry is reported, not enforced.
func (s *Service) ImportInvite(payload []byte) (*Metadata, error) {
	return ImportInvite(payload)
}

// ImportInvite is the stateless form of Service.ImportInvite.
func ImportInvite(payload []byte) (*Metadata, error) {
	var p invitePayload
	if err := codec.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	return metadataFrom(p)
}

func metadataFrom(p invitePayload) (*Metadata, error) {
	if len(p.Seed) != seedSize || len(p.DiscoveryKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidInvite)
	}
	private, err := deriveKeypair(p.Seed, p.DiscoveryKey)
	if err != nil {
		return nil, err
	}
	public := private.Public().(ed25519.PublicKey)
	return &Metadata{
		ID:           InviteID(public),
		PublicKey:    public,
		DiscoveryKey: p.DiscoveryKey,
		Expires:      model.UnixMilli(p.Expires),
		IssuerExpiry: model.UnixMilli(p.IssuerExpiry),
		private:      private,
	}, nil
}

// deriveKeypair expands seed, salted with the discovery key, into the
// invite's Ed25519 keypair.
func deriveKeypair(seed, discoveryKey []byte) (ed25519.PrivateKey, error) {
	r := hkdf.New(sha256.New, seed, discoveryKey, keypairInfo)
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return nil, fmt.Errorf("pairing: derive keypair: %w", err)
	}
	return ed25519.NewKeyFromSeed(keySeed), nil
}

// InviteID derives an invite's identifier from its public key.
func InviteID(publicKey ed25519.PublicKey) []byte {
	hasher, err := blake3.NewKeyed(inviteIDDomain[:])
	if err != nil {
		panic("pairing: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(publicKey)
	return hasher.Sum(nil)
}
