// Package lockfile implements the out-of-band discovery handshake: the host
// writes a lock file named after its bound port into a well-known directory,
// and the client reads it to learn the port and the session auth token.
// The file is written once at startup and removed on shutdown; it is never
// consulted by the host itself afterwards.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// LockFile is the JSON document the client reads to find the host.
type LockFile struct {
	PID              int      `json:"pid"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName"`
	Transport        string   `json:"transport"`
	AuthToken        string   `json:"authToken"`
}

// GenerateToken returns a fresh random session token. A new token is minted
// for every host process; it lives only in memory and in the lock file.
func GenerateToken() string {
	return uuid.NewString()
}

// Path returns the lock file path for a port inside dir.
func Path(dir string, port int) string {
	return filepath.Join(dir, strconv.Itoa(port)+".lock")
}

// Write creates dir if needed and writes the lock file for port. The file
// carries the session token, so it is created owner-readable only.
func Write(dir string, port int, lf LockFile) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("lockfile: create directory: %w", err)
	}

	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("lockfile: encode: %w", err)
	}

	path := Path(dir, port)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("lockfile: write %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes the lock file for port. A file already gone is not an
// error; shutdown paths call this unconditionally.
func Remove(dir string, port int) error {
	err := os.Remove(Path(dir, port))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove: %w", err)
	}
	return nil
}

// Read parses the lock file at path. Used by the debug client to pick up
// the port's token.
func Read(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}
	var lf LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s: %w", path, err)
	}
	return &lf, nil
}
