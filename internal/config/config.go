// Package config loads the daemon's own startup configuration: socket
// paths, log level, plugin search path, and the optional introspection
// API -- distinct from the per-plugin "saved network state" the Config
// role plugin owns, which this daemon never reads or writes directly.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// API configures the optional HTTP introspection surface (internal/api).
type API struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// Webhook configures the HMAC-signed external trigger endpoint
// (internal/webhook) an out-of-band DHCP client or provisioning system
// can call to hand the daemon a lease without a connected Dhcp plugin.
type Webhook struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Secret  string `yaml:"secret"`
}

// Config is the daemon's whole startup configuration.
type Config struct {
	// SocketDir holds the two Unix domain sockets the daemon listens on:
	// plugin.sock for plugin connections, user.sock for CLI/API clients.
	SocketDir string `yaml:"socket_dir"`

	LogLevel string `yaml:"log_level"`

	// PluginSearchPath lists plugin manifest directories. It is loaded
	// and validated as part of the config, but the daemon does not scan
	// it: plugins become known only once they connect and handshake.
	PluginSearchPath []string `yaml:"plugin_search_path"`

	PIDFile string `yaml:"pid_file"`

	// AuditDB is the SQLite file the audit log (internal/storage) writes
	// workflow start/finish/failure records to. Empty disables the audit
	// log.
	AuditDB string `yaml:"audit_db"`

	API     API     `yaml:"api"`
	Webhook Webhook `yaml:"webhook"`

	// Digest is the hex-encoded BLAKE3 hash of the raw config file content
	// (post env-expansion), computed at load time, never read from YAML.
	// cmd/censorated logs it at startup, recording which exact
	// configuration a running daemon started from.
	Digest string `yaml:"-"`
}

func defaults() Config {
	return Config{
		SocketDir: "/run/censorate",
		LogLevel:  "INFO",
		PIDFile:   "/run/censorate/censorated.pid",
		AuditDB:   "/var/lib/censorate/audit.db",
	}
}

// Load reads and strictly parses the daemon config file at path,
// expanding ${VAR} references against the process environment and
// filling in defaults for anything left unset.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", absPath, err)
	}
	raw = expandEnv(raw)

	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", absPath, err)
	}
	sum := blake3.Sum256(raw)
	cfg.Digest = hex.EncodeToString(sum[:])
	return &cfg, nil
}

func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Validate rejects a Config that would leave the daemon unable to start.
func (c *Config) Validate() error {
	if c.SocketDir == "" {
		return fmt.Errorf("socket_dir must not be empty")
	}
	switch c.LogLevel {
	case "ERROR", "WARN", "INFO", "DEBUG", "TRACE":
	default:
		return fmt.Errorf("log_level %q is not one of ERROR, WARN, INFO, DEBUG, TRACE", c.LogLevel)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen must be set when api.enabled is true")
	}
	if c.Webhook.Enabled && c.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen must be set when webhook.enabled is true")
	}
	return nil
}

// PluginSocketPath is the Unix domain socket plugins dial to connect.
func (c *Config) PluginSocketPath() string {
	return filepath.Join(c.SocketDir, "plugin.sock")
}

// UserSocketPath is the Unix domain socket censoratectl and any other
// user client dials.
func (c *Config) UserSocketPath() string {
	return filepath.Join(c.SocketDir, "user.sock")
}
