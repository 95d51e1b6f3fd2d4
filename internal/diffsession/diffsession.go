// Package diffsession manages the blocking openDiff tool: each invocation
// opens an old-versus-new diff view in the editor, parks the JSON-RPC
// request, and resumes it when the user saves the proposed buffer or closes
// the view. Sessions are keyed by tab name, independent of one another, and
// guaranteed to release their editor resources on every exit path (save,
// reject, replacement, shutdown).
package diffsession

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/editorlink/host/internal/editor"
	apperrors "github.com/editorlink/host/internal/errors"
	"github.com/editorlink/host/internal/mcp"
	"github.com/editorlink/host/internal/rpc"
)

// Status is the lifecycle state of one session. Pending transitions exactly
// once, to Saved or Rejected; later transitions are no-ops.
type Status int

const (
	StatusPending Status = iota
	StatusSaved
	StatusRejected
)

// session tracks one in-flight openDiff call.
type session struct {
	tabName     string
	oldPath     string
	newPath     string
	newContents string

	oldBuf editor.BufferID
	newBuf editor.BufferID
	window editor.WindowID
	hooks  []editor.HookID

	createdAt time.Time
	status    Status
	responder *rpc.Responder
}

// Manager owns the session table. One manager serves all connections of a
// server instance; access is serialized by its lock, so hook callbacks and
// new invocations can interleave safely.
type Manager struct {
	mu       sync.Mutex
	ed       editor.Editor
	sessions map[string]*session
}

// NewManager creates an empty session manager over the given editor.
func NewManager(ed editor.Editor) *Manager {
	return &Manager{
		ed:       ed,
		sessions: make(map[string]*session),
	}
}

// openDiffParams are the four required arguments, validated in declaration
// order so the error message always names the first missing field.
var openDiffParams = []string{"old_file_path", "new_file_path", "new_file_contents", "tab_name"}

// Tool returns the openDiff tool definition for registration.
func (m *Manager) Tool() mcp.Tool {
	props := map[string]mcp.Property{
		"old_file_path":     {Type: "string", Description: "Path to the file being modified"},
		"new_file_path":     {Type: "string", Description: "Path the new contents would be written to"},
		"new_file_contents": {Type: "string", Description: "Proposed contents of the new file"},
		"tab_name":          {Type: "string", Description: "Name for the diff tab"},
	}
	return mcp.Tool{
		Name:        "openDiff",
		Description: "Open a diff view and wait for the user to save or reject the change",
		InputSchema: mcp.InputSchema{Type: "object", Properties: props, Required: openDiffParams},
		Handler:     m.handleOpenDiff,
	}
}

// handleOpenDiff validates arguments, claims the request's responder, and
// opens the session. It never produces a synchronous result: the response is
// sent from a hook callback or a forced cleanup.
func (m *Manager) handleOpenDiff(call *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
	values := make(map[string]string, len(openDiffParams))
	for _, name := range openDiffParams {
		v, ok := args[name]
		if !ok {
			return nil, apperrors.MissingParam(name)
		}
		s, ok := v.(string)
		if !ok {
			return nil, apperrors.InvalidParams(name + " must be a string")
		}
		values[name] = s
	}

	// The whole mechanism rests on being able to park the caller and resume
	// it later. A notification invocation has no response channel, so there
	// is nothing to park.
	responder, ok := call.Defer()
	if !ok {
		return nil, apperrors.BlockingUnavailable("openDiff")
	}

	if err := m.open(values["old_file_path"], values["new_file_path"],
		values["new_file_contents"], values["tab_name"], responder); err != nil {
		return nil, err
	}
	return nil, nil
}

// open constructs the session: replacement cleanup, old-file read, scratch
// buffers, diff window, and event hooks. The responder is parked in the
// session on success; on failure it is the returned error's job to answer
// (the dispatcher rejects a deferred call whose handler errors out).
func (m *Manager) open(oldPath, newPath, newContents, tabName string, responder *rpc.Responder) error {
	// A colliding tab name force-cleans the previous session before the new
	// one allocates anything, so the collision can never leak the old
	// session's hooks or buffers.
	if prev := m.take(tabName); prev != nil {
		log.Printf("diffsession: replacing pending session for tab %q", tabName)
		m.finish(prev, StatusRejected, "replaced")
	}

	oldContents := ""
	if data, err := os.ReadFile(oldPath); err == nil {
		oldContents = string(data)
	} else if !os.IsNotExist(err) {
		// Distinct from "doesn't exist yet": a file we can see but not read
		// is a real failure. A missing old file is just a new-file diff.
		return apperrors.FileAccess(oldPath, err)
	}

	s := &session{
		tabName:     tabName,
		oldPath:     oldPath,
		newPath:     newPath,
		newContents: newContents,
		createdAt:   time.Now(),
		status:      StatusPending,
		responder:   responder,
	}

	var err error
	s.oldBuf, err = m.ed.CreateScratchBuffer(tabName+" (current)", oldContents)
	if err != nil {
		return apperrors.ToolError("failed to create diff buffer: " + err.Error())
	}
	s.newBuf, err = m.ed.CreateScratchBuffer(tabName, newContents)
	if err != nil {
		m.release(s)
		return apperrors.ToolError("failed to create diff buffer: " + err.Error())
	}
	s.window, err = m.ed.OpenDiffWindow(s.oldBuf, s.newBuf)
	if err != nil {
		m.release(s)
		return apperrors.ToolError("failed to open diff view: " + err.Error())
	}

	// Saving the proposed buffer accepts the change; deleting or closing
	// either side rejects it. The hooks resolve through the table lookup so
	// firing against an already-resolved session is a no-op.
	hookSpecs := []struct {
		buf   editor.BufferID
		event editor.Event
		final Status
	}{
		{s.newBuf, editor.EventBufWrite, StatusSaved},
		{s.newBuf, editor.EventBufDelete, StatusRejected},
		{s.oldBuf, editor.EventBufDelete, StatusRejected},
	}
	for _, spec := range hookSpecs {
		final := spec.final
		id, err := m.ed.RegisterHook(spec.buf, spec.event, func() {
			m.resolve(tabName, final)
		})
		if err != nil {
			m.release(s)
			return apperrors.ToolError("failed to register diff hooks: " + err.Error())
		}
		s.hooks = append(s.hooks, id)
	}

	m.mu.Lock()
	m.sessions[tabName] = s
	m.mu.Unlock()

	log.Printf("diffsession: opened %q (%s)", tabName, newPath)
	return nil
}

// resolve completes the session for tabName with the given terminal status.
// The first hook to fire wins; a second firing finds no pending session and
// returns without touching the already-produced payload.
func (m *Manager) resolve(tabName string, final Status) {
	s := m.take(tabName)
	if s == nil {
		return
	}
	m.finish(s, final, "")
}

// take atomically removes and returns the pending session for tabName.
// Removal happens before any resource is released so a hook firing during
// teardown can never act on a half-torn-down session.
func (m *Manager) take(tabName string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tabName]
	if !ok || s.status != StatusPending {
		return nil
	}
	delete(m.sessions, tabName)
	return s
}

// finish resumes the parked caller with the terminal payload, then runs
// cleanup unconditionally. s must already be out of the table.
func (m *Manager) finish(s *session, final Status, reason string) {
	s.status = final

	var result *mcp.ToolResult
	switch final {
	case StatusSaved:
		text, err := m.ed.BufferText(s.newBuf)
		if err != nil {
			// The buffer vanished between the save event and now; fall back
			// to the contents the tool was asked to propose.
			text = s.newContents
		}
		result = mcp.TextPair("FILE_SAVED", text)
	default:
		result = mcp.TextPair("DIFF_REJECTED", s.tabName)
	}

	if reason != "" {
		log.Printf("diffsession: %q resolved %s (%s)", s.tabName, statusName(final), reason)
	} else {
		log.Printf("diffsession: %q resolved %s", s.tabName, statusName(final))
	}

	s.responder.Resolve(result)
	m.release(s)
}

// release unregisters the session's hooks and releases its buffers and
// window. Hooks go first so that deleting the buffers cannot re-fire into
// the manager; buffer and window teardown then tolerates handles the user
// already closed.
func (m *Manager) release(s *session) {
	for _, id := range s.hooks {
		m.ed.UnregisterHook(id)
	}
	s.hooks = nil

	if m.ed.BufferValid(s.newBuf) {
		if err := m.ed.DeleteBuffer(s.newBuf); err != nil {
			log.Printf("diffsession: delete buffer for %q: %v", s.tabName, err)
		}
	}
	if m.ed.BufferValid(s.oldBuf) {
		if err := m.ed.DeleteBuffer(s.oldBuf); err != nil {
			log.Printf("diffsession: delete buffer for %q: %v", s.tabName, err)
		}
	}
	if m.ed.WindowValid(s.window) {
		if err := m.ed.CloseWindow(s.window); err != nil {
			log.Printf("diffsession: close window for %q: %v", s.tabName, err)
		}
	}
}

// CloseAll force-rejects every pending session and returns how many were
// closed. Backs the closeAllDiffTabs tool.
func (m *Manager) CloseAll() int {
	return m.sweep("closed")
}

// Shutdown force-resolves every still-pending session before the host
// exits, so no suspended caller is ever abandoned with live hooks.
func (m *Manager) Shutdown() {
	m.sweep("shutdown")
}

func (m *Manager) sweep(reason string) int {
	m.mu.Lock()
	var pending []*session
	for name, s := range m.sessions {
		if s.status == StatusPending {
			pending = append(pending, s)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	for _, s := range pending {
		m.finish(s, StatusRejected, reason)
	}
	return len(pending)
}

// PendingCount reports how many sessions are currently pending.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func statusName(s Status) string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusRejected:
		return "rejected"
	default:
		return "pending"
	}
}
