// Package config provides TOML configuration file loading for the host.
// The configuration file lives at ~/.editorlink/config.toml by default, but
// can be overridden with the --config flag. CLI flags always take precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// PortMin and PortMax bound the randomized WebSocket port search.
	// Defaults: 10000-65535.
	PortMin int `toml:"port_min"`
	PortMax int `toml:"port_max"`

	// PingIntervalSeconds is the liveness sweep period. Default: 30.
	PingIntervalSeconds int `toml:"ping_interval_s"`

	// LockDir is the directory lock files are written to.
	// Default: ~/.editorlink/ide
	LockDir string `toml:"lock_dir"`

	// Workspace is the workspace folder advertised to the client.
	// If empty, defaults to the current working directory.
	Workspace string `toml:"workspace"`

	// AuthRequired controls whether clients must present the session token
	// from the lock file. Default: true.
	AuthRequired bool `toml:"auth_required"`

	// TerminalCmd is the assistant CLI launched in the embedded terminal by
	// `editorlink serve --terminal`. If empty, no terminal is started.
	TerminalCmd string `toml:"terminal_cmd"`

	// LogFile is the path for log output when running detached.
	// Empty means stderr.
	LogFile string `toml:"log_file"`
}

// DefaultConfigPath returns the default config file location:
// ~/.editorlink/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".editorlink", "config.toml"), nil
}

// Load reads and parses the config file at path, layering file values over
// defaults. A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for internal consistency.
func (c *Config) Validate() error {
	if c.PortMin <= 0 || c.PortMin > 65535 {
		return fmt.Errorf("port_min %d out of range", c.PortMin)
	}
	if c.PortMax < c.PortMin || c.PortMax > 65535 {
		return fmt.Errorf("port_max %d invalid (port_min is %d)", c.PortMax, c.PortMin)
	}
	if c.PingIntervalSeconds <= 0 {
		return fmt.Errorf("ping_interval_s must be positive")
	}
	return nil
}

// WriteDefault creates a config file with default values at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Never overwrite an existing config.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# editorlink configuration

# Randomized WebSocket port search range (loopback only)
port_min = 10000
port_max = 65535

# Liveness ping interval in seconds
ping_interval_s = 30

# Require the lock-file session token on every connection
auth_required = true
`

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
