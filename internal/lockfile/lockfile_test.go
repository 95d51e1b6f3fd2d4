package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestWriteReadRoundTrip tests that a written lock file reads back intact
// and lands at the port-derived path.
func TestWriteReadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ide")
	lf := LockFile{
		PID:              12345,
		WorkspaceFolders: []string{"/src/project"},
		IDEName:          "editorlink",
		Transport:        "ws",
		AuthToken:        GenerateToken(),
	}

	path, err := Write(dir, 40123, lf)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if path != filepath.Join(dir, "40123.lock") {
		t.Fatalf("path = %q", path)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.PID != lf.PID || got.IDEName != lf.IDEName || got.Transport != lf.Transport {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.AuthToken != lf.AuthToken {
		t.Fatal("auth token corrupted")
	}
	if len(got.WorkspaceFolders) != 1 || got.WorkspaceFolders[0] != "/src/project" {
		t.Fatalf("workspace folders = %v", got.WorkspaceFolders)
	}
}

// TestWritePermissions tests that the token-bearing file is owner-only.
func TestWritePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ide")
	path, err := Write(dir, 40124, LockFile{PID: 1, AuthToken: GenerateToken()})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("lock file mode = %o, want 0600", perm)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Fatalf("lock dir mode = %o, want 0700", perm)
	}
}

// TestRemove tests deletion and that removing an already-gone file is fine.
func TestRemove(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, 40125, LockFile{PID: 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := Remove(dir, 40125); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(Path(dir, 40125)); !os.IsNotExist(err) {
		t.Fatal("lock file survived Remove")
	}

	// Shutdown paths call Remove unconditionally.
	if err := Remove(dir, 40125); err != nil {
		t.Fatalf("Remove on missing file failed: %v", err)
	}
}

// TestReadErrors tests missing and malformed files.
func TestReadErrors(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "absent.lock")); err == nil {
		t.Fatal("Read of missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "bad.lock")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read of malformed file succeeded")
	}
}

// TestGenerateToken tests that tokens are fresh per call and within the
// length bounds the handshake enforces.
func TestGenerateToken(t *testing.T) {
	a, b := GenerateToken(), GenerateToken()
	if a == b {
		t.Fatal("two tokens are identical")
	}
	if len(a) < 10 || len(a) > 500 {
		t.Fatalf("token length %d outside handshake bounds", len(a))
	}
	if strings.ContainsAny(a, " \r\n") {
		t.Fatalf("token contains whitespace: %q", a)
	}
}
