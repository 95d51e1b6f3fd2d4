package config

import (
	"os"
	"path/filepath"
)

// Default port search range. High ports keep the randomized search clear of
// well-known services.
const (
	DefaultPortMin = 10000
	DefaultPortMax = 65535
)

// DefaultPingIntervalSeconds is the liveness sweep period.
const DefaultPingIntervalSeconds = 30

// DefaultLockDir returns the default lock file directory: ~/.editorlink/ide.
// Falls back to a relative path if the home directory is unavailable.
func DefaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".editorlink", "ide")
	}
	return filepath.Join(home, ".editorlink", "ide")
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		PortMin:             DefaultPortMin,
		PortMax:             DefaultPortMax,
		PingIntervalSeconds: DefaultPingIntervalSeconds,
		LockDir:             DefaultLockDir(),
		AuthRequired:        true,
	}
}
