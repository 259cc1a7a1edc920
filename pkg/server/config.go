package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gatelog/pkg/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATELOG_"

// Config holds server configuration.
//
// Values are layered: DefaultConfig, then the YAML file named by --config,
// then GATELOG_* environment variables, then explicitly set flags.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr" env:"LISTEN_ADDR"`             // HTTPS API bind address
	MetricsAddr      string        `yaml:"metrics_addr" env:"METRICS_ADDR"`           // /metrics bind address (empty = disabled)
	DBPath           string        `yaml:"db_path" env:"DB_PATH"`                     // SQLite database path
	DataDir          string        `yaml:"data_dir" env:"DATA_DIR"`                   // keys and generated certs
	CertFile         string        `yaml:"cert_file" env:"CERT_FILE"`                 // TLS certificate (generated if empty)
	KeyFile          string        `yaml:"key_file" env:"KEY_FILE"`                   // TLS private key (generated if empty)
	ServerID         string        `yaml:"server_id" env:"SERVER_ID"`                 // community this log belongs to
	OptimisticClaims bool          `yaml:"optimistic_claims" env:"OPTIMISTIC_CLAIMS"` // expose the claim endpoint
	PairTimeout      time.Duration `yaml:"pair_timeout" env:"PAIR_TIMEOUT"`           // max wait for a pairing decision
	LogLevel         string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat        string        `yaml:"log_format" env:"LOG_FORMAT"`

	// CLI-only actions (run and exit)
	ExportInvites bool `yaml:"-"` // export all invites as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":9700",
		MetricsAddr: ":9702",
		DBPath:      "gatelog.db",
		DataDir:     ".",
		ServerID:    "default",
		PairTimeout: 10 * time.Second,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen address is required")
	}
	if strings.TrimSpace(c.ServerID) == "" {
		return errors.New("config: server id is required")
	}
	if c.PairTimeout <= 0 {
		return fmt.Errorf("config: pair timeout must be positive, got %s", c.PairTimeout)
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadConfigFile overlays the YAML file at path onto cfg.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays GATELOG_* variables from environ onto cfg. A nil
// environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// FlagSet binds every Config field to a command-line flag. The flag
// defaults are taken from cfg.
func FlagSet(name string, cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTPS API bind address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for keys and generated files")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file (auto-generated if empty)")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS private key file (auto-generated if empty)")
	fs.StringVar(&cfg.ServerID, "server-id", cfg.ServerID, "Server (community) identifier")
	fs.BoolVar(&cfg.OptimisticClaims, "optimistic-claims", cfg.OptimisticClaims, "Record invite claims through the API")
	fs.DurationVar(&cfg.PairTimeout, "pair-timeout", cfg.PairTimeout, "Maximum wait for a pairing decision")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: "+logging.FormatNames())
	fs.BoolVar(&cfg.ExportInvites, "export-invites", false, "Export all invites as YAML and exit")
	return fs
}

// LoadConfig resolves the layered configuration from args and environ.
func LoadConfig(name string, args []string, environ map[string]string) (Config, error) {
	flagged := DefaultConfig()
	fs := FlagSet(name, &flagged)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if path, _ := fs.GetString("config"); path != "" {
		if err := LoadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *pflag.Flag) {
		applyFlag(&cfg, flagged, f.Name)
	})
	return cfg, cfg.Validate()
}

// applyFlag copies one explicitly set flag value from flagged into cfg.
func applyFlag(cfg *Config, flagged Config, name string) {
	switch name {
	case "listen":
		cfg.ListenAddr = flagged.ListenAddr
	case "metrics":
		cfg.MetricsAddr = flagged.MetricsAddr
	case "db":
		cfg.DBPath = flagged.DBPath
	case "data":
		cfg.DataDir = flagged.DataDir
	case "cert":
		cfg.CertFile = flagged.CertFile
	case "key":
		cfg.KeyFile = flagged.KeyFile
	case "server-id":
		cfg.ServerID = flagged.ServerID
	case "optimistic-claims":
		cfg.OptimisticClaims = flagged.OptimisticClaims
	case "pair-timeout":
		cfg.PairTimeout = flagged.PairTimeout
	case "log-level":
		cfg.LogLevel = flagged.LogLevel
	case "log-format":
		cfg.LogFormat = flagged.LogFormat
	case "export-invites":
		cfg.ExportInvites = flagged.ExportInvites
	}
}
