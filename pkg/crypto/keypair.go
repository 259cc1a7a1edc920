package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	signingKeyFile    = "signing-key"
	logKeyFile        = "log-key"
	encryptionKeyFile = "log-encryption-key"
)

// LoadOrGenerateSigningKey loads the node's Ed25519 signing key from dir,
// generating and saving one (mode 0600) on first run.
func LoadOrGenerateSigningKey(dir string) (ed25519.PrivateKey, bool, error) {
	path := filepath.Join(dir, signingKeyFile)
	data, err := os.ReadFile(path) //nolint:gosec // path from server config
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, false, fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalidKey, path, len(data), ed25519.PrivateKeySize)
		}
		return ed25519.PrivateKey(data), false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("crypto: read signing key: %w", err)
	}

	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false, fmt.Errorf("crypto: generate signing key: %w", err)
	}
	if err := os.WriteFile(path, private, 0o600); err != nil {
		return nil, false, fmt.Errorf("crypto: write signing key: %w", err)
	}
	return private, true, nil
}

// LogKeys is the join material for one log: the key peers replicate by,
// its public discovery key, and the key that encrypts log blocks.
type LogKeys struct {
	Key           []byte
	DiscoveryKey  []byte
	EncryptionKey []byte
}

// LoadOrGenerateLogKeys loads the log key and encryption key from dir,
// generating whichever is missing.
func LoadOrGenerateLogKeys(dir string) (LogKeys, error) {
	key, err := loadOrGenerate(filepath.Join(dir, logKeyFile))
	if err != nil {
		return LogKeys{}, err
	}
	encKey, err := loadOrGenerate(filepath.Join(dir, encryptionKeyFile))
	if err != nil {
		return LogKeys{}, err
	}
	return LogKeys{
		Key:           key,
		DiscoveryKey:  DiscoveryKey(key),
		EncryptionKey: encKey,
	}, nil
}

// NewLogKeys generates fresh, unpersisted log keys.
func NewLogKeys() (LogKeys, error) {
	key, err := GenerateKey()
	if err != nil {
		return LogKeys{}, err
	}
	encKey, err := GenerateKey()
	if err != nil {
		return LogKeys{}, err
	}
	return LogKeys{Key: key, DiscoveryKey: DiscoveryKey(key), EncryptionKey: encKey}, nil
}

func loadOrGenerate(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from server config
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalidKey, path, len(data), KeySize)
		}
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("crypto: read %s: %w", filepath.Base(path), err)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("crypto: write %s: %w", filepath.Base(path), err)
	}
	return key, nil
}
