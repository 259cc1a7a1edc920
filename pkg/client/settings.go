package client

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// JoinedLog is a log this user has redeemed an invite for.
type JoinedLog struct {
	DiscoveryKey  string `yaml:"discovery_key" json:"discovery_key"` // hex
	Key           string `yaml:"key" json:"key"`                     // hex
	EncryptionKey string `yaml:"encryption_key,omitempty" json:"encryption_key,omitempty"`
	Node          string `yaml:"node,omitempty" json:"node,omitempty"` // bookmark or address redeemed through
	JoinedAt      int64  `yaml:"joined_at" json:"joined_at"`           // unix seconds
}

// Settings stores invitectl preferences persisted as YAML.
type Settings struct {
	path string

	DefaultNode string      `yaml:"default_node,omitempty"` // bookmark name
	Output      string      `yaml:"output"`                 // "text" or "json"
	Joined      []JoinedLog `yaml:"joined,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{Output: "text"}
}

// ConfigDir returns the directory invitectl keeps its files in: the user
// config dir, or the directory of the executable if there is none.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gatelog")
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// LoadSettings loads settings from dir or returns defaults.
func LoadSettings(dir string) *Settings {
	s := DefaultSettings()
	s.path = filepath.Join(dir, "settings.yaml")
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", s.path, "err", err)
		d := DefaultSettings()
		d.path = s.path
		return d
	}
	return s
}

// Save writes settings to YAML.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// RecordJoin remembers m, replacing an earlier join of the same log.
func (s *Settings) RecordJoin(node string, m *Membership) {
	j := JoinedLog{
		DiscoveryKey:  hex.EncodeToString(m.DiscoveryKey),
		Key:           hex.EncodeToString(m.Key),
		EncryptionKey: hex.EncodeToString(m.EncryptionKey),
		Node:          node,
		JoinedAt:      m.JoinedAt.Unix(),
	}
	for i := range s.Joined {
		if s.Joined[i].DiscoveryKey == j.DiscoveryKey {
			s.Joined[i] = j
			return
		}
	}
	s.Joined = append(s.Joined, j)
}
