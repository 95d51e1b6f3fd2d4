package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/editorlink/host/internal/diffsession"
	"github.com/editorlink/host/internal/editor"
	"github.com/editorlink/host/internal/mcp"
	"github.com/editorlink/host/internal/rpc"
	"github.com/editorlink/host/internal/server"
	"github.com/editorlink/host/internal/tools"
	"github.com/editorlink/host/internal/wsproto"
)

const e2eToken = "0ddba11-test-token-0ddba11-test"

// testHost is the production wiring assembled in-process: headless editor,
// dispatcher, registry, diff sessions and the WebSocket server, exactly as
// runServe builds them.
type testHost struct {
	ed    *editor.Memory
	diffs *diffsession.Manager
	srv   *server.Server
}

func startHost(t *testing.T) *testHost {
	t.Helper()

	ed := editor.NewMemory(t.TempDir())
	dispatcher := rpc.NewDispatcher()
	registry := mcp.NewRegistry("editorlink", Version)
	registry.Bind(dispatcher)
	diffs := diffsession.NewManager(ed)
	tools.RegisterAll(registry, ed, diffs)

	srv := server.New(server.Config{
		PortMin:   49200,
		PortMax:   49900,
		AuthToken: e2eToken,
	}, &rpcHandler{dispatcher: dispatcher})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Stop)

	ed.OnSelectionChanged(func(sel editor.Selection) {
		payload, err := rpc.EncodeNotification("selection_changed", sel)
		if err != nil {
			return
		}
		srv.Broadcast(payload)
	})
	ed.OnAtMention(func(m editor.AtMention) {
		payload, err := rpc.EncodeNotification("at_mentioned", m)
		if err != nil {
			return
		}
		srv.Broadcast(payload)
	})

	return &testHost{ed: ed, diffs: diffs, srv: srv}
}

func (h *testHost) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(wsproto.AuthHeader, e2eToken)
	url := fmt.Sprintf("ws://127.0.0.1:%d/", h.srv.Port())
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// call sends a JSON-RPC request and decodes envelopes until the response
// with the matching id arrives, skipping pushed notifications.
func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) rpc.Response {
	t.Helper()

	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	return awaitResponse(t, conn, id)
}

func awaitResponse(t *testing.T, conn *websocket.Conn, id int) rpc.Response {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var resp rpc.Response
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read response: %v", err)
		}
		if string(resp.ID) == fmt.Sprint(id) {
			return resp
		}
	}
}

// toolResult decodes a response result as a tool content array.
func toolResult(t *testing.T, resp rpc.Response) mcp.ToolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	var result mcp.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	return result
}

// TestSessionHandshake tests the initialize / tools/list exchange a client
// performs after connecting.
func TestSessionHandshake(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	resp := call(t, conn, 1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
	})
	var init mcp.InitializeResult
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &init); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if init.ProtocolVersion != mcp.ProtocolVersion {
		t.Fatalf("protocolVersion = %q", init.ProtocolVersion)
	}
	if init.ServerInfo.Name != "editorlink" {
		t.Fatalf("serverInfo.name = %q", init.ServerInfo.Name)
	}

	resp = call(t, conn, 2, "tools/list", nil)
	var list mcp.ToolsListResult
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}

	names := make(map[string]bool, len(list.Tools))
	for _, tool := range list.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"openDiff", "openFile", "getCurrentSelection", "getLatestSelection", "closeAllDiffTabs", "getWorkspaceFolders"} {
		if !names[want] {
			t.Fatalf("tools/list missing %s (got %v)", want, names)
		}
	}
}

// TestOpenDiffSaveOverSocket tests the full blocking round trip: a client
// calls openDiff, the request stays open, and a simulated user save resumes
// it with FILE_SAVED and the buffer contents.
func TestOpenDiffSaveOverSocket(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	oldPath := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(oldPath, []byte("old contents\n"), 0600); err != nil {
		t.Fatalf("write old file: %v", err)
	}

	req := map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "tools/call",
		"params": map[string]any{
			"name": "openDiff",
			"arguments": map[string]any{
				"old_file_path":     oldPath,
				"new_file_path":     oldPath,
				"new_file_contents": "new contents\n",
				"tab_name":          "review f.txt",
			},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write openDiff: %v", err)
	}

	// The call is parked server-side; wait for the session, then simulate
	// the user saving the proposed buffer.
	deadline := time.Now().Add(2 * time.Second)
	for h.diffs.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("openDiff session never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	id, ok := h.ed.FindBuffer("review f.txt")
	if !ok {
		t.Fatal("proposed buffer missing")
	}
	if err := h.ed.FireWrite(id); err != nil {
		t.Fatalf("fire write: %v", err)
	}

	result := toolResult(t, awaitResponse(t, conn, 5))
	if len(result.Content) != 2 {
		t.Fatalf("content = %+v", result.Content)
	}
	if result.Content[0].Text != "FILE_SAVED" || result.Content[1].Text != "new contents\n" {
		t.Fatalf("payload = [%q, %q]", result.Content[0].Text, result.Content[1].Text)
	}
	if h.diffs.PendingCount() != 0 {
		t.Fatal("session not cleaned up after save")
	}
}

// TestOpenDiffRejectOverSocket tests the reject path across the socket: the
// user closes the diff tab and the caller resumes with DIFF_REJECTED.
func TestOpenDiffRejectOverSocket(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	req := map[string]any{
		"jsonrpc": "2.0", "id": 6, "method": "tools/call",
		"params": map[string]any{
			"name": "openDiff",
			"arguments": map[string]any{
				"old_file_path":     filepath.Join(t.TempDir(), "nope.txt"),
				"new_file_path":     filepath.Join(t.TempDir(), "nope.txt"),
				"new_file_contents": "proposal\n",
				"tab_name":          "review nope",
			},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write openDiff: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.diffs.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("openDiff session never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := h.ed.CloseTab("review nope"); err != nil {
		t.Fatalf("close tab: %v", err)
	}

	result := toolResult(t, awaitResponse(t, conn, 6))
	if len(result.Content) != 2 || result.Content[0].Text != "DIFF_REJECTED" || result.Content[1].Text != "review nope" {
		t.Fatalf("payload = %+v", result.Content)
	}
}

// TestSelectionNotificationPushed tests that editor selection changes arrive
// as pushed selection_changed notifications.
func TestSelectionNotificationPushed(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	// Make sure the handshake is fully done before the broadcast.
	call(t, conn, 1, "initialize", map[string]any{"protocolVersion": "2024-11-05"})

	h.ed.SetSelection(editor.Selection{FilePath: "main.go", Text: "func main"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env struct {
		Method string           `json:"method"`
		Params editor.Selection `json:"params"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if env.Method != "selection_changed" {
		t.Fatalf("method = %q", env.Method)
	}
	if env.Params.FilePath != "main.go" || env.Params.Text != "func main" {
		t.Fatalf("params = %+v", env.Params)
	}
}

// TestAtMentionNotificationPushed tests that explicit at-mention actions
// arrive as pushed at_mentioned notifications.
func TestAtMentionNotificationPushed(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	call(t, conn, 1, "initialize", map[string]any{"protocolVersion": "2024-11-05"})

	h.ed.SendAtMention(editor.AtMention{FilePath: "pkg/io.go", LineStart: 3, LineEnd: 9})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env struct {
		Method string           `json:"method"`
		Params editor.AtMention `json:"params"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if env.Method != "at_mentioned" {
		t.Fatalf("method = %q", env.Method)
	}
	if env.Params.FilePath != "pkg/io.go" || env.Params.LineStart != 3 || env.Params.LineEnd != 9 {
		t.Fatalf("params = %+v", env.Params)
	}
}

// TestEditorToolsOverSocket tests a representative editor tool end to end.
func TestEditorToolsOverSocket(t *testing.T) {
	h := startHost(t)
	conn := h.dial(t)

	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("text\n"), 0600); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	resp := call(t, conn, 1, "tools/call", map[string]any{
		"name":      "openFile",
		"arguments": map[string]any{"filePath": path},
	})
	result := toolResult(t, resp)
	if len(result.Content) != 1 || result.Content[0].Text != "Opened file: "+path {
		t.Fatalf("openFile content = %+v", result.Content)
	}

	resp = call(t, conn, 2, "tools/call", map[string]any{
		"name":      "checkDocumentDirty",
		"arguments": map[string]any{"filePath": path},
	})
	result = toolResult(t, resp)
	var dirty struct {
		FilePath string `json:"filePath"`
		IsDirty  bool   `json:"isDirty"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &dirty); err != nil {
		t.Fatalf("decode dirty result: %v", err)
	}
	if dirty.FilePath != path || dirty.IsDirty {
		t.Fatalf("dirty = %+v", dirty)
	}
}
