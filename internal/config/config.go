package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// SyncPublicKey defines when generated public keys are written back to the
// secret store
type SyncPublicKey string

const (
	SyncPublicKeyNever   SyncPublicKey = "never"
	SyncPublicKeyIfEmpty SyncPublicKey = "if_empty"
	SyncPublicKeyAlways  SyncPublicKey = "always"
)

// DefaultSSHOutputDir is where keys are written unless configured otherwise
const DefaultSSHOutputDir = "~/.ssh/proton-pass"

// Config represents the complete pass-ssh-unpack configuration
type Config struct {
	SSHOutputDir  string        `toml:"ssh_output_dir" yaml:"ssh_output_dir"`
	DefaultVaults []string      `toml:"default_vaults" yaml:"default_vaults"`
	DefaultItems  []string      `toml:"default_items" yaml:"default_items"`
	SyncPublicKey SyncPublicKey `toml:"sync_public_key" yaml:"sync_public_key"`
	Rclone        RcloneConfig  `toml:"rclone" yaml:"rclone"`
}

// RcloneConfig configures the rclone remote sync
type RcloneConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// PasswordPath is a secret reference (pass://vault/item/field) holding
	// the rclone config password
	PasswordPath  string `toml:"password_path" yaml:"password_path"`
	AlwaysEncrypt bool   `toml:"always_encrypt" yaml:"always_encrypt"`
}

// Default returns the configuration used when a key is not set
func Default() *Config {
	return &Config{
		SSHOutputDir:  DefaultSSHOutputDir,
		DefaultVaults: []string{},
		DefaultItems:  []string{},
		SyncPublicKey: SyncPublicKeyIfEmpty,
		Rclone: RcloneConfig{
			Enabled: true,
		},
	}
}

// DefaultPath returns ~/.config/pass-ssh-unpack/config.toml on every platform
func DefaultPath() string {
	return filepath.Join(homeDir(), ".config", "pass-ssh-unpack", "config.toml")
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML. Keys missing from the
// file keep their default value.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrCreate loads the config at path, writing the commented default
// config first when the file does not exist. An empty path selects
// DefaultPath. created reports whether the file was written.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	if path == "" {
		path = DefaultPath()
	}
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return nil, false, err
		}
		created = true
	}

	cfg, err = Load(path)
	if err != nil {
		return nil, created, err
	}
	return cfg, created, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	content := defaultTOML
	if isYAML(path) {
		content = defaultYAML
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// expandEnv expands environment variables in path fields
func (c *Config) expandEnv() {
	c.SSHOutputDir = os.ExpandEnv(c.SSHOutputDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.SSHOutputDir == "" {
		c.SSHOutputDir = DefaultSSHOutputDir
	}
	if c.SyncPublicKey == "" {
		c.SyncPublicKey = SyncPublicKeyIfEmpty
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.SyncPublicKey {
	case SyncPublicKeyNever, SyncPublicKeyIfEmpty, SyncPublicKeyAlways:
		// valid
	default:
		return fmt.Errorf("invalid sync_public_key: %s (must be never, if_empty, or always)", c.SyncPublicKey)
	}

	if !filepath.IsAbs(c.OutputDir()) {
		return fmt.Errorf("ssh_output_dir must be an absolute path or start with ~/: %s", c.SSHOutputDir)
	}

	if c.Rclone.PasswordPath != "" && !strings.HasPrefix(c.Rclone.PasswordPath, "pass://") {
		return fmt.Errorf("rclone.password_path must be a pass:// reference: %s", c.Rclone.PasswordPath)
	}

	return nil
}

// OutputDir returns ssh_output_dir with ~ expanded
func (c *Config) OutputDir() string {
	return ExpandTilde(c.SSHOutputDir)
}

// ExpandTilde replaces a leading ~ or ~/ with the user's home directory
func ExpandTilde(path string) string {
	if path == "~" {
		return homeDir()
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(homeDir(), rest)
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~"
	}
	return home
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

var (
	knownKeys       = []string{"ssh_output_dir", "default_vaults", "default_items", "sync_public_key", "rclone"}
	knownRcloneKeys = []string{"enabled", "password_path", "always_encrypt"}
)

// MissingOptions lists the known options absent from the TOML file at path,
// e.g. after an upgrade added new settings. Unreadable or non-TOML files
// yield nil.
func MissingOptions(path string) []string {
	if isYAML(path) {
		return nil
	}

	var raw map[string]any
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil
	}

	var missing []string
	for _, key := range knownKeys {
		if !meta.IsDefined(key) {
			missing = append(missing, key)
		}
	}
	if meta.IsDefined("rclone") {
		for _, key := range knownRcloneKeys {
			if !meta.IsDefined("rclone", key) {
				missing = append(missing, "rclone."+key)
			}
		}
	}
	return missing
}
