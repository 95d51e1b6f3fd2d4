// Package terminal launches the assistant CLI in a pseudo-terminal.
//
// A PTY (pseudo-terminal) is a pair of virtual devices: the command runs
// attached to the slave side (thinking it's a real terminal, so colors and
// interactive prompts behave normally), while we read its output from the
// master side. Environment variables advertise the running host so the CLI
// can find the lock file and connect back.
package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"
)

// Session manages one PTY running the assistant CLI.
type Session struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	running bool
	done    chan struct{}

	// OnOutput is an optional callback invoked with each chunk of terminal
	// output. If nil, output is discarded.
	OnOutput func(chunk []byte)
}

// New allocates a session. Call Start to actually run the command.
func New() *Session {
	return &Session{done: make(chan struct{})}
}

// Start spawns command (via the shell, so a configured command line with
// arguments works) attached to a fresh PTY. The environment advertises the
// host's port so the spawned CLI knows a bridge is available.
func (s *Session) Start(command string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("terminal: session already running")
	}
	if command == "" {
		return fmt.Errorf("terminal: no command configured")
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"ENABLE_IDE_INTEGRATION=true",
		"CLAUDE_CODE_SSE_PORT="+strconv.Itoa(port),
	)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("terminal: start %q: %w", command, err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.running = true

	go s.pump(ptmx)
	return nil
}

// pump copies PTY output to the callback until the command exits or the
// master side is closed.
func (s *Session) pump(ptmx *os.File) {
	defer close(s.done)

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 && s.OnOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.OnOutput(chunk)
		}
		if err != nil {
			// io.EOF and "input/output error" both mean the slave side went
			// away, i.e. the command exited.
			if err != io.EOF {
				_ = err
			}
			break
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Write sends input to the command's terminal.
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	running := s.running
	s.mu.Unlock()

	if !running || ptmx == nil {
		return 0, fmt.Errorf("terminal: session not running")
	}
	return ptmx.Write(data)
}

// Running reports whether the command is still alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close terminates the command and releases the PTY. Safe to call on a
// session that never started or already exited.
func (s *Session) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	ptmx := s.ptmx
	running := s.running
	s.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if running && cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return nil
}

// Done returns a channel closed when the command exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
