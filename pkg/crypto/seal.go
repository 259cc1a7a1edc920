package crypto

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// Identity is an age X25519 identity used by a redeemer to receive the
// join material sealed to it.
type Identity struct {
	identity *age.X25519Identity
}

// GenerateIdentity creates a new redeemer identity.
func GenerateIdentity() (*Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate age identity: %w", err)
	}
	return &Identity{identity: id}, nil
}

// Recipient returns the public age1... recipient string.
func (i *Identity) Recipient() string {
	return i.identity.Recipient().String()
}

// Seal encrypts plaintext to the age recipient string.
func Seal(recipient string, plaintext []byte) ([]byte, error) {
	r, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse recipient: %w", err)
	}
	var out bytes.Buffer
	w, err := age.Encrypt(&out, r)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	return out.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal for this identity.
func (i *Identity) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), i.identity)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}
