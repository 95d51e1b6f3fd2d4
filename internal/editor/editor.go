// Package editor defines the boundary between the host core and the editor
// it is embedded in. The core only ever talks to the Editor interface; the
// buffer and window primitives behind it belong to whatever editor hosts the
// plugin. Memory (memory.go) is a headless in-memory implementation used by
// the default binary and the tests.
package editor

import "errors"

// BufferID identifies an editor buffer. Handles are owned by whoever created
// the buffer and must be released with DeleteBuffer.
type BufferID int

// WindowID identifies an editor window (a split/tab presenting buffers).
type WindowID int

// HookID identifies a registered event hook. Hooks must be unregistered by
// their owner; a leaked hook keeps firing into torn-down state.
type HookID int

// Event is an editor event a hook can subscribe to on a buffer.
type Event string

const (
	// EventBufWrite fires when a buffer is written/saved.
	EventBufWrite Event = "buf_write"
	// EventBufDelete fires when a buffer is deleted or its tab is closed.
	EventBufDelete Event = "buf_delete"
)

// ErrBufferNotFound is returned for operations on an unknown or already
// deleted buffer.
var ErrBufferNotFound = errors.New("editor: buffer not found")

// ErrWindowNotFound is returned for operations on an unknown or already
// closed window.
var ErrWindowNotFound = errors.New("editor: window not found")

// Position is a zero-based line/character location in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Selection describes the current selection in the active editor.
type Selection struct {
	FilePath string   `json:"filePath"`
	Text     string   `json:"text"`
	Start    Position `json:"start"`
	End      Position `json:"end"`
	IsEmpty  bool     `json:"isEmpty"`
}

// AtMention is an explicit "send this range to the assistant" action: the
// user marks a file region and the host pushes it as a notification.
type AtMention struct {
	FilePath  string `json:"filePath"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
}

// OpenEditor describes one open document tab.
type OpenEditor struct {
	FilePath string `json:"filePath"`
	Dirty    bool   `json:"dirty"`
	Active   bool   `json:"active"`
}

// Diagnostic is one reported problem in a document.
type Diagnostic struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

// Editor is the set of host-editor operations the core depends on.
// Implementations wrap the real editor's API; all methods are expected to be
// safe to call from any goroutine.
type Editor interface {
	// OpenFile opens (or focuses) the document at path.
	OpenFile(path string) error

	// CurrentSelection returns the selection in the active editor. An empty
	// selection is not an error; it comes back with IsEmpty set.
	CurrentSelection() (Selection, error)

	// LatestSelection returns the most recent non-empty selection. Unlike
	// CurrentSelection it survives focus changes that clear the active one.
	LatestSelection() (Selection, error)

	// OpenEditors lists the open document tabs.
	OpenEditors() []OpenEditor

	// WorkspaceFolders returns the workspace root folders.
	WorkspaceFolders() []string

	// Diagnostics returns current diagnostics, filtered to path when path is
	// non-empty.
	Diagnostics(path string) []Diagnostic

	// IsDirty reports whether the document at path has unsaved changes.
	IsDirty(path string) (bool, error)

	// SaveDocument writes the document at path.
	SaveDocument(path string) error

	// CloseTab closes the tab with the given name.
	CloseTab(name string) error

	// CreateScratchBuffer creates an unlisted buffer seeded with contents.
	CreateScratchBuffer(name, contents string) (BufferID, error)

	// BufferText returns the current full text of a buffer.
	BufferText(id BufferID) (string, error)

	// DeleteBuffer removes a buffer. Delete hooks registered on it fire
	// before the handle becomes invalid.
	DeleteBuffer(id BufferID) error

	// BufferValid reports whether the handle still refers to a live buffer.
	BufferValid(id BufferID) bool

	// OpenDiffWindow opens a split view presenting old against new with diff
	// highlighting enabled.
	OpenDiffWindow(oldBuf, newBuf BufferID) (WindowID, error)

	// CloseWindow closes a window. Buffers shown in it are not deleted.
	CloseWindow(id WindowID) error

	// WindowValid reports whether the handle still refers to an open window.
	WindowValid(id WindowID) bool

	// RegisterHook subscribes fn to an event on a buffer. The hook fires on
	// the editor's event thread; fn must not block.
	RegisterHook(buf BufferID, event Event, fn func()) (HookID, error)

	// UnregisterHook removes a hook. Unknown IDs are a no-op so cleanup paths
	// can run unconditionally.
	UnregisterHook(id HookID)
}
