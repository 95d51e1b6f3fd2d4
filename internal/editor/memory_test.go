package editor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestOpenFileReadsDisk tests that opening an existing file loads its
// contents and opening it again focuses the existing buffer.
func TestOpenFileReadsDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	m := NewMemory(dir)
	if err := m.OpenFile(path); err != nil {
		t.Fatalf("open file: %v", err)
	}

	id, ok := m.FindBuffer(path)
	if !ok {
		t.Fatal("buffer not created")
	}
	text, err := m.BufferText(id)
	if err != nil || text != "package main\n" {
		t.Fatalf("buffer text = %q err=%v", text, err)
	}

	// Reopening must not create a second buffer.
	if err := m.OpenFile(path); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := len(m.OpenEditors()); n != 1 {
		t.Fatalf("open editors = %d, want 1", n)
	}
}

// TestOpenFileNonexistent tests that a missing path opens as an empty
// buffer, the way an editor starts a new file.
func TestOpenFileNonexistent(t *testing.T) {
	m := NewMemory()
	path := filepath.Join(t.TempDir(), "new.txt")
	if err := m.OpenFile(path); err != nil {
		t.Fatalf("open nonexistent: %v", err)
	}
	id, ok := m.FindBuffer(path)
	if !ok {
		t.Fatal("buffer not created")
	}
	if text, _ := m.BufferText(id); text != "" {
		t.Fatalf("new buffer text = %q, want empty", text)
	}
}

// TestOpenEditorsExcludesScratch tests that scratch buffers never appear in
// the tab listing.
func TestOpenEditorsExcludesScratch(t *testing.T) {
	m := NewMemory()
	if err := m.OpenFile(filepath.Join(t.TempDir(), "a.txt")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.CreateScratchBuffer("diff view", "contents"); err != nil {
		t.Fatalf("scratch: %v", err)
	}

	tabs := m.OpenEditors()
	if len(tabs) != 1 {
		t.Fatalf("tabs = %d, want 1 (scratch excluded)", len(tabs))
	}
}

// TestDirtyTracking tests the edit-then-save dirty cycle.
func TestDirtyTracking(t *testing.T) {
	m := NewMemory()
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := m.OpenFile(path); err != nil {
		t.Fatalf("open: %v", err)
	}

	dirty, err := m.IsDirty(path)
	if err != nil || dirty {
		t.Fatalf("fresh buffer dirty=%v err=%v", dirty, err)
	}

	id, _ := m.FindBuffer(path)
	if err := m.SetBufferText(id, "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if dirty, _ := m.IsDirty(path); !dirty {
		t.Fatal("edited buffer not dirty")
	}

	if err := m.SaveDocument(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	if dirty, _ := m.IsDirty(path); dirty {
		t.Fatal("saved buffer still dirty")
	}

	if _, err := m.IsDirty("not-open"); !errors.Is(err, ErrBufferNotFound) {
		t.Fatalf("IsDirty on unopened = %v, want ErrBufferNotFound", err)
	}
}

// TestWriteHooks tests that saving fires write hooks and that an
// unregistered hook never fires again.
func TestWriteHooks(t *testing.T) {
	m := NewMemory()
	id, err := m.CreateScratchBuffer("buf", "x")
	if err != nil {
		t.Fatalf("scratch: %v", err)
	}

	fired := 0
	hook, err := m.RegisterHook(id, EventBufWrite, func() { fired++ })
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.FireWrite(id); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired %d times, want 1", fired)
	}

	m.UnregisterHook(hook)
	if err := m.FireWrite(id); err != nil {
		t.Fatalf("fire after unregister: %v", err)
	}
	if fired != 1 {
		t.Fatalf("unregistered hook fired: %d", fired)
	}

	// Unknown hook IDs are ignored.
	m.UnregisterHook(HookID(9999))
}

// TestDeleteHookSeesValidBuffer tests the event ordering: delete hooks run
// before the buffer leaves the table, so observers hold a valid handle.
func TestDeleteHookSeesValidBuffer(t *testing.T) {
	m := NewMemory()
	id, _ := m.CreateScratchBuffer("buf", "x")

	sawValid := false
	if _, err := m.RegisterHook(id, EventBufDelete, func() {
		sawValid = m.BufferValid(id)
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.DeleteBuffer(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !sawValid {
		t.Fatal("delete hook saw an already-removed buffer")
	}
	if m.BufferValid(id) {
		t.Fatal("buffer survived deletion")
	}
}

// TestHookReentrancy tests that a hook may call back into the editor, which
// teardown paths depend on.
func TestHookReentrancy(t *testing.T) {
	m := NewMemory()
	a, _ := m.CreateScratchBuffer("a", "")
	b, _ := m.CreateScratchBuffer("b", "")

	if _, err := m.RegisterHook(a, EventBufDelete, func() {
		if err := m.DeleteBuffer(b); err != nil {
			t.Errorf("reentrant delete: %v", err)
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.DeleteBuffer(a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.BufferValid(a) || m.BufferValid(b) {
		t.Fatal("reentrant deletion incomplete")
	}
}

// TestCloseTab tests closing by name and the not-found error.
func TestCloseTab(t *testing.T) {
	m := NewMemory()
	if _, err := m.CreateScratchBuffer("tab", "x"); err != nil {
		t.Fatalf("scratch: %v", err)
	}

	if err := m.CloseTab("tab"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := m.FindBuffer("tab"); ok {
		t.Fatal("tab survived close")
	}
	if err := m.CloseTab("tab"); !errors.Is(err, ErrBufferNotFound) {
		t.Fatalf("closing a closed tab = %v, want ErrBufferNotFound", err)
	}
}

// TestDiffWindow tests the diff window lifecycle against buffer validity.
func TestDiffWindow(t *testing.T) {
	m := NewMemory()
	a, _ := m.CreateScratchBuffer("a", "old")
	b, _ := m.CreateScratchBuffer("b", "new")

	w, err := m.OpenDiffWindow(a, b)
	if err != nil {
		t.Fatalf("open diff window: %v", err)
	}
	if !m.WindowValid(w) {
		t.Fatal("fresh window invalid")
	}

	if err := m.CloseWindow(w); err != nil {
		t.Fatalf("close window: %v", err)
	}
	if m.WindowValid(w) {
		t.Fatal("window survived close")
	}
	if err := m.CloseWindow(w); !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("double close = %v, want ErrWindowNotFound", err)
	}

	if _, err := m.OpenDiffWindow(BufferID(999), b); !errors.Is(err, ErrBufferNotFound) {
		t.Fatalf("diff over missing buffer = %v, want ErrBufferNotFound", err)
	}
}

// TestSelectionCallback tests that SetSelection computes emptiness and fires
// the registered callback.
func TestSelectionCallback(t *testing.T) {
	m := NewMemory()
	var got Selection
	m.OnSelectionChanged(func(s Selection) { got = s })

	m.SetSelection(Selection{FilePath: "f.go", Text: "chunk"})
	if got.FilePath != "f.go" || got.IsEmpty {
		t.Fatalf("callback got %+v", got)
	}

	m.SetSelection(Selection{FilePath: "f.go"})
	if !got.IsEmpty {
		t.Fatal("empty selection not flagged")
	}

	sel, err := m.CurrentSelection()
	if err != nil || sel.FilePath != "f.go" {
		t.Fatalf("CurrentSelection = %+v err=%v", sel, err)
	}
}

// TestLatestSelection tests that the latest selection survives a later empty
// one, while the current selection does not.
func TestLatestSelection(t *testing.T) {
	m := NewMemory()

	sel, err := m.LatestSelection()
	if err != nil || !sel.IsEmpty {
		t.Fatalf("fresh LatestSelection = %+v err=%v", sel, err)
	}

	m.SetSelection(Selection{FilePath: "f.go", Text: "chunk"})
	m.SetSelection(Selection{FilePath: "g.go"})

	cur, _ := m.CurrentSelection()
	if !cur.IsEmpty || cur.FilePath != "g.go" {
		t.Fatalf("CurrentSelection = %+v", cur)
	}
	sel, err = m.LatestSelection()
	if err != nil || sel.IsEmpty || sel.FilePath != "f.go" || sel.Text != "chunk" {
		t.Fatalf("LatestSelection = %+v err=%v", sel, err)
	}
}

// TestAtMentionCallback tests that SendAtMention reaches the registered
// callback and is a no-op without one.
func TestAtMentionCallback(t *testing.T) {
	m := NewMemory()
	m.SendAtMention(AtMention{FilePath: "quiet.go"})

	var got AtMention
	m.OnAtMention(func(am AtMention) { got = am })
	m.SendAtMention(AtMention{FilePath: "f.go", LineStart: 2, LineEnd: 5})
	if got.FilePath != "f.go" || got.LineStart != 2 || got.LineEnd != 5 {
		t.Fatalf("callback got %+v", got)
	}
}

// TestDiagnosticsFilter tests path filtering on the diagnostics listing.
func TestDiagnosticsFilter(t *testing.T) {
	m := NewMemory()
	m.AddDiagnostic(Diagnostic{FilePath: "a.go", Message: "unused var"})
	m.AddDiagnostic(Diagnostic{FilePath: "b.go", Message: "shadowed"})

	if n := len(m.Diagnostics("")); n != 2 {
		t.Fatalf("unfiltered = %d, want 2", n)
	}
	ds := m.Diagnostics("a.go")
	if len(ds) != 1 || ds[0].Message != "unused var" {
		t.Fatalf("filtered = %+v", ds)
	}
	if n := len(m.Diagnostics("c.go")); n != 0 {
		t.Fatalf("unknown path = %d, want 0", n)
	}
}
