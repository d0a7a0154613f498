// Package config loads keyhold settings from ~/.keyhold/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/keyhold/internal/keychain"
)

// Backend names accepted in the config file.
const (
	BackendSystem = "system"
	BackendMemory = "memory"
)

// Config holds persistent settings. Zero values mean "use the default".
type Config struct {
	Service        string   `yaml:"service"`
	AccessGroup    string   `yaml:"access_group"`
	Accessibility  string   `yaml:"accessibility"`
	AccessControl  []string `yaml:"access_control"`
	Backend        string   `yaml:"backend"`
	AuditLog       string   `yaml:"audit_log"`
	AuditMaxSizeMB int      `yaml:"audit_max_size_mb"`
	MetadataPath   string   `yaml:"metadata_path"`
	Socket         string   `yaml:"socket"`
	APIAddr        string   `yaml:"api_addr"`
	ReadRate       float64  `yaml:"read_rate"`
	ReadBurst      int      `yaml:"read_burst"`
}

// Home returns the keyhold home directory (~/.keyhold).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keyhold")
}

// DefaultPath returns the default config file path: ~/.keyhold/config.yaml.
func DefaultPath() string {
	h := Home()
	if h == "" {
		return ""
	}
	return filepath.Join(h, "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	if _, err := keychain.ParseAccessibility(c.Accessibility); err != nil {
		return err
	}
	if _, err := keychain.ParseAccessControl(c.AccessControl); err != nil {
		return err
	}
	switch c.Backend {
	case "", BackendSystem, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ReadRate < 0 || c.ReadBurst < 0 {
		return errors.New("read_rate and read_burst must not be negative")
	}
	return nil
}

// WithDefaults returns a copy with unset paths and limits filled in.
func (c Config) WithDefaults() Config {
	home := Home()
	if c.Service == "" {
		c.Service = "com.keyhold"
	}
	if c.Backend == "" {
		c.Backend = BackendSystem
	}
	if c.AuditLog == "" {
		c.AuditLog = filepath.Join(home, "audit.log")
	}
	if c.MetadataPath == "" {
		c.MetadataPath = filepath.Join(home, "secret-metadata.json")
	}
	if c.Socket == "" {
		c.Socket = filepath.Join(home, "keyhold.sock")
	}
	if c.ReadRate == 0 {
		c.ReadRate = 10
	}
	if c.ReadBurst == 0 {
		c.ReadBurst = 20
	}
	return c
}

// KeychainOptions converts the config into keychain options. Validate
// must have succeeded.
func (c *Config) KeychainOptions() []keychain.Option {
	a, _ := keychain.ParseAccessibility(c.Accessibility)
	flags, _ := keychain.ParseAccessControl(c.AccessControl)
	opts := []keychain.Option{
		keychain.WithAccessibility(a),
		keychain.WithAccessControl(flags),
	}
	if c.AccessGroup != "" {
		opts = append(opts, keychain.WithAccessGroup(c.AccessGroup))
	}
	if c.Backend == BackendMemory {
		opts = append(opts, keychain.WithBackend(keychain.NewMemoryBackend()))
	}
	return opts
}

// NewKeychain builds a Keychain from the config. Extra options are applied
// after the config's own, so WithBackend there replaces the configured
// backend.
func (c *Config) NewKeychain(extra ...keychain.Option) (*keychain.Keychain, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return keychain.New(c.Service, append(c.KeychainOptions(), extra...)...), nil
}
