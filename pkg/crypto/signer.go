package crypto

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

// Signer produces signed log actions with an Ed25519 key.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	now     func() time.Time
}

// NewSigner returns a Signer for the given private key.
func NewSigner(private ed25519.PrivateKey) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key has %d bytes, want %d", ErrInvalidKey, len(private), ed25519.PrivateKeySize)
	}
	return &Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.public
}

// Sign CBOR-encodes payload and signs it together with the action type.
func (s *Signer) Sign(actionType model.ActionType, payload any) (model.SignedAction, error) {
	if !actionType.IsValid() {
		return model.SignedAction{}, fmt.Errorf("crypto: sign: empty action type")
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return model.SignedAction{}, fmt.Errorf("crypto: sign %s: encode payload: %w", actionType, err)
	}
	return model.SignedAction{
		Type:      actionType,
		Payload:   encoded,
		Signer:    append([]byte(nil), s.public...),
		Signature: ed25519.Sign(s.private, signedMessage(actionType, encoded)),
		Timestamp: s.now(),
	}, nil
}

// Verify checks the action's signature against its embedded signer key.
func Verify(action model.SignedAction) error {
	if len(action.Signer) != ed25519.PublicKeySize || len(action.Signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(action.Signer), signedMessage(action.Type, action.Payload), action.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// signedMessage is type || 0x00 || payload.
func signedMessage(actionType model.ActionType, payload []byte) []byte {
	msg := make([]byte, 0, len(actionType)+1+len(payload))
	msg = append(msg, actionType...)
	msg = append(msg, 0)
	return append(msg, payload...)
}
