// Package crypto provides action signing, log key material and API token
// hashing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// KeySize is the size of the log's join key and encryption key.
const KeySize = 32

var (
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	ErrInvalidKey       = errors.New("crypto: invalid key size")
)

// discoveryDomain keys the BLAKE3 hash that turns a log key into its
// discovery key. Changing it changes every discovery key.
var discoveryDomain = [32]byte{
	'g', 'a', 't', 'e', 'l', 'o', 'g', ' ', 'd', 'i', 's', 'c', 'o', 'v', 'e', 'r',
	'y', ' ', 'k', 'e', 'y', ' ', 'v', '1',
}

// GenerateKey generates a random key of KeySize bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// DiscoveryKey derives the public discovery key for a log key. Peers can
// announce and look up a log by its discovery key without learning the
// key itself.
func DiscoveryKey(key []byte) []byte {
	hasher, err := blake3.NewKeyed(discoveryDomain[:])
	if err != nil {
		panic("crypto: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(key)
	return hasher.Sum(nil)
}

// GenerateToken generates a random token string (32 bytes, hex-like).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}
