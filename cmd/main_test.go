package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runWithArgs runs the CLI entry point with captured output.
func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// TestRunNoArgs tests that a bare invocation prints usage and succeeds.
func TestRunNoArgs(t *testing.T) {
	code, out, _ := runWithArgs([]string{"editorlink"})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage, got %q", out)
	}
}

// TestRunVersion tests the version command and its aliases.
func TestRunVersion(t *testing.T) {
	for _, arg := range []string{"version", "--version", "-v"} {
		code, out, _ := runWithArgs([]string{"editorlink", arg})
		if code != 0 {
			t.Fatalf("%s: exit code = %d", arg, code)
		}
		if !strings.Contains(out, "editorlink "+Version) {
			t.Fatalf("%s: output = %q", arg, out)
		}
	}
}

// TestRunHelp tests the help command and its aliases.
func TestRunHelp(t *testing.T) {
	for _, arg := range []string{"help", "--help", "-h"} {
		code, out, _ := runWithArgs([]string{"editorlink", arg})
		if code != 0 {
			t.Fatalf("%s: exit code = %d", arg, code)
		}
		if !strings.Contains(out, "serve") {
			t.Fatalf("%s: usage missing commands: %q", arg, out)
		}
	}
}

// TestRunUnknownCommand tests that an unknown command fails with usage on
// stderr.
func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := runWithArgs([]string{"editorlink", "frobnicate"})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %q", errOut)
	}
}

// TestRunInit tests that init writes a config file and a second run leaves
// it untouched.
func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	code, out, errOut := runWithArgs([]string{"editorlink", "init", "--config", path})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("stdout = %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "port_min") {
		t.Fatalf("config missing defaults:\n%s", data)
	}

	// A second init must not overwrite.
	if err := os.WriteFile(path, []byte("port_min = 12345\n"), 0600); err != nil {
		t.Fatalf("modify config: %v", err)
	}
	if code, _, _ := runWithArgs([]string{"editorlink", "init", "--config", path}); code != 0 {
		t.Fatalf("second init failed")
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "12345") {
		t.Fatal("init overwrote an existing config")
	}
}

// TestRunServeBadConfig tests that serve refuses an invalid configuration.
func TestRunServeBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("port_min = -1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, errOut := runWithArgs([]string{"editorlink", "serve", "--config", path})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "config") {
		t.Fatalf("stderr = %q", errOut)
	}
}

// TestRunServeBadFlags tests that an inverted port range from flags is
// rejected before the server starts.
func TestRunServeBadFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	code, _, errOut := runWithArgs([]string{
		"editorlink", "serve", "--config", path,
		"--port-min", "5000", "--port-max", "4000",
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "Invalid configuration") {
		t.Fatalf("stderr = %q", errOut)
	}
}
