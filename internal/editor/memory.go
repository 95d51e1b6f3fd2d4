package editor

import (
	"fmt"
	"os"
	"sync"
)

// Memory is an in-memory Editor. It backs the headless binary and the tests:
// buffers, windows, selections and diagnostics live in maps, and the
// Fire/Set helpers stand in for the user actions a real editor would produce
// (saving a buffer, closing a tab, moving the cursor).
type Memory struct {
	mu sync.Mutex

	buffers map[BufferID]*memBuffer
	windows map[WindowID]*memWindow
	hooks   map[HookID]*memHook

	nextBuffer BufferID
	nextWindow WindowID
	nextHook   HookID

	selection   Selection
	latest      Selection
	folders     []string
	diagnostics []Diagnostic
	tabOrder    []BufferID

	// onSelectionChanged, when set, is invoked after every SetSelection.
	// The server wiring uses it to push selection_changed notifications.
	onSelectionChanged func(Selection)

	// onAtMention, when set, is invoked for every SendAtMention. The server
	// wiring uses it to push at_mentioned notifications.
	onAtMention func(AtMention)
}

type memBuffer struct {
	id      BufferID
	name    string
	text    string
	dirty   bool
	scratch bool
	active  bool
}

type memWindow struct {
	id       WindowID
	oldBuf   BufferID
	newBuf   BufferID
	diffMode bool
}

type memHook struct {
	id    HookID
	buf   BufferID
	event Event
	fn    func()
}

// NewMemory creates an empty in-memory editor rooted at the given workspace
// folders.
func NewMemory(folders ...string) *Memory {
	return &Memory{
		buffers:   make(map[BufferID]*memBuffer),
		windows:   make(map[WindowID]*memWindow),
		hooks:     make(map[HookID]*memHook),
		folders:   folders,
		selection: Selection{IsEmpty: true},
		latest:    Selection{IsEmpty: true},
	}
}

// OpenFile opens the document at path, reading its contents from disk when
// the file exists. A fresh buffer for a nonexistent path starts empty, the
// way an editor opens a new file.
func (m *Memory) OpenFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b := m.findByName(path); b != nil {
		m.focusLocked(b)
		return nil
	}

	var text string
	data, err := os.ReadFile(path)
	if err == nil {
		text = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("editor: open %s: %w", path, err)
	}

	b := m.newBufferLocked(path, text, false)
	m.focusLocked(b)
	return nil
}

// CurrentSelection returns the last selection recorded via SetSelection.
func (m *Memory) CurrentSelection() (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection, nil
}

// LatestSelection returns the most recent non-empty selection, even after a
// later SetSelection cleared the current one.
func (m *Memory) LatestSelection() (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}

// SetSelection records the active selection and fires the selection-changed
// callback, standing in for the user moving the cursor or selecting text.
func (m *Memory) SetSelection(sel Selection) {
	m.mu.Lock()
	sel.IsEmpty = sel.Text == ""
	m.selection = sel
	if !sel.IsEmpty {
		m.latest = sel
	}
	cb := m.onSelectionChanged
	m.mu.Unlock()

	if cb != nil {
		cb(sel)
	}
}

// OnSelectionChanged registers the callback fired after every SetSelection.
func (m *Memory) OnSelectionChanged(fn func(Selection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSelectionChanged = fn
}

// SendAtMention fires the at-mention callback, standing in for the user
// explicitly sending a file range to the assistant.
func (m *Memory) SendAtMention(mention AtMention) {
	m.mu.Lock()
	cb := m.onAtMention
	m.mu.Unlock()

	if cb != nil {
		cb(mention)
	}
}

// OnAtMention registers the callback fired for every SendAtMention.
func (m *Memory) OnAtMention(fn func(AtMention)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAtMention = fn
}

// OpenEditors lists open tabs in creation order, scratch buffers excluded.
func (m *Memory) OpenEditors() []OpenEditor {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OpenEditor
	for _, id := range m.tabOrder {
		b, ok := m.buffers[id]
		if !ok || b.scratch {
			continue
		}
		out = append(out, OpenEditor{FilePath: b.name, Dirty: b.dirty, Active: b.active})
	}
	return out
}

// WorkspaceFolders returns the folders the editor was opened with.
func (m *Memory) WorkspaceFolders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.folders...)
}

// Diagnostics returns recorded diagnostics, filtered to path when non-empty.
func (m *Memory) Diagnostics(path string) []Diagnostic {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Diagnostic
	for _, d := range m.diagnostics {
		if path == "" || d.FilePath == path {
			out = append(out, d)
		}
	}
	return out
}

// AddDiagnostic records a diagnostic for later retrieval.
func (m *Memory) AddDiagnostic(d Diagnostic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnostics = append(m.diagnostics, d)
}

// IsDirty reports whether the document at path has unsaved changes.
func (m *Memory) IsDirty(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b := m.findByName(path); b != nil {
		return b.dirty, nil
	}
	return false, fmt.Errorf("editor: %s is not open: %w", path, ErrBufferNotFound)
}

// SaveDocument marks the document at path clean and fires its write hooks.
func (m *Memory) SaveDocument(path string) error {
	m.mu.Lock()
	b := m.findByName(path)
	if b == nil {
		m.mu.Unlock()
		return fmt.Errorf("editor: %s is not open: %w", path, ErrBufferNotFound)
	}
	b.dirty = false
	fns := m.hooksForLocked(b.id, EventBufWrite)
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// CloseTab closes the tab (buffer) with the given name. Closing fires the
// buffer's delete hooks, exactly like DeleteBuffer.
func (m *Memory) CloseTab(name string) error {
	m.mu.Lock()
	b := m.findByName(name)
	m.mu.Unlock()

	if b == nil {
		return fmt.Errorf("editor: no tab named %s: %w", name, ErrBufferNotFound)
	}
	return m.DeleteBuffer(b.id)
}

// CreateScratchBuffer creates an unlisted buffer seeded with contents.
func (m *Memory) CreateScratchBuffer(name, contents string) (BufferID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.newBufferLocked(name, contents, true)
	return b.id, nil
}

// BufferText returns the full text of a buffer.
func (m *Memory) BufferText(id BufferID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[id]
	if !ok {
		return "", ErrBufferNotFound
	}
	return b.text, nil
}

// SetBufferText replaces a buffer's contents and marks it dirty, standing in
// for the user editing the buffer.
func (m *Memory) SetBufferText(id BufferID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[id]
	if !ok {
		return ErrBufferNotFound
	}
	b.text = text
	b.dirty = true
	return nil
}

// FireWrite simulates the user saving a buffer: the buffer is marked clean
// and its write hooks run.
func (m *Memory) FireWrite(id BufferID) error {
	m.mu.Lock()
	b, ok := m.buffers[id]
	if !ok {
		m.mu.Unlock()
		return ErrBufferNotFound
	}
	b.dirty = false
	fns := m.hooksForLocked(id, EventBufWrite)
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// DeleteBuffer removes a buffer, firing its delete hooks first so observers
// see a still-valid handle, matching how editors order the event.
func (m *Memory) DeleteBuffer(id BufferID) error {
	m.mu.Lock()
	if _, ok := m.buffers[id]; !ok {
		m.mu.Unlock()
		return ErrBufferNotFound
	}
	fns := m.hooksForLocked(id, EventBufDelete)
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	m.mu.Lock()
	delete(m.buffers, id)
	for i, tid := range m.tabOrder {
		if tid == id {
			m.tabOrder = append(m.tabOrder[:i], m.tabOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// BufferValid reports whether the buffer still exists.
func (m *Memory) BufferValid(id BufferID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buffers[id]
	return ok
}

// OpenDiffWindow opens a split presenting oldBuf against newBuf in diff mode.
func (m *Memory) OpenDiffWindow(oldBuf, newBuf BufferID) (WindowID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buffers[oldBuf]; !ok {
		return 0, ErrBufferNotFound
	}
	if _, ok := m.buffers[newBuf]; !ok {
		return 0, ErrBufferNotFound
	}

	m.nextWindow++
	w := &memWindow{id: m.nextWindow, oldBuf: oldBuf, newBuf: newBuf, diffMode: true}
	m.windows[w.id] = w
	return w.id, nil
}

// CloseWindow closes a window without touching the buffers it showed.
func (m *Memory) CloseWindow(id WindowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[id]; !ok {
		return ErrWindowNotFound
	}
	delete(m.windows, id)
	return nil
}

// WindowValid reports whether the window is still open.
func (m *Memory) WindowValid(id WindowID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[id]
	return ok
}

// RegisterHook subscribes fn to an event on a buffer.
func (m *Memory) RegisterHook(buf BufferID, event Event, fn func()) (HookID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buffers[buf]; !ok {
		return 0, ErrBufferNotFound
	}
	m.nextHook++
	m.hooks[m.nextHook] = &memHook{id: m.nextHook, buf: buf, event: event, fn: fn}
	return m.nextHook, nil
}

// UnregisterHook removes a hook; unknown IDs are ignored.
func (m *Memory) UnregisterHook(id HookID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hooks, id)
}

// FindBuffer returns the ID of the buffer with the given name, if any.
func (m *Memory) FindBuffer(name string) (BufferID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.findByName(name); b != nil {
		return b.id, true
	}
	return 0, false
}

// HookCount reports how many hooks are currently registered. Used by tests
// to verify cleanup paths unregister everything they installed.
func (m *Memory) HookCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}

func (m *Memory) findByName(name string) *memBuffer {
	for _, b := range m.buffers {
		if b.name == name {
			return b
		}
	}
	return nil
}

func (m *Memory) newBufferLocked(name, text string, scratch bool) *memBuffer {
	m.nextBuffer++
	b := &memBuffer{id: m.nextBuffer, name: name, text: text, scratch: scratch}
	m.buffers[b.id] = b
	m.tabOrder = append(m.tabOrder, b.id)
	return b
}

func (m *Memory) focusLocked(b *memBuffer) {
	for _, other := range m.buffers {
		other.active = false
	}
	b.active = true
}

// hooksForLocked snapshots the hook functions for a buffer/event pair.
// Callers invoke them after releasing the lock, because a hook is free to
// call back into the editor (unregistering itself, deleting buffers).
func (m *Memory) hooksForLocked(buf BufferID, event Event) []func() {
	var fns []func()
	for _, h := range m.hooks {
		if h.buf == buf && h.event == event {
			fns = append(fns, h.fn)
		}
	}
	return fns
}
