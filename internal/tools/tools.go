// Package tools implements the editor-operation tools exposed through the
// MCP registry. Each tool is a thin wrapper over the editor.Editor
// collaborator: validate the arguments, call the editor, map the outcome to
// a content array or a structured error.
package tools

import (
	"fmt"

	"github.com/editorlink/host/internal/diffsession"
	"github.com/editorlink/host/internal/editor"
	apperrors "github.com/editorlink/host/internal/errors"
	"github.com/editorlink/host/internal/mcp"
	"github.com/editorlink/host/internal/rpc"
)

// RegisterAll installs every tool on the registry: the editor wrappers, plus
// the diff tools backed by the session manager.
func RegisterAll(reg *mcp.Registry, ed editor.Editor, diffs *diffsession.Manager) {
	for _, t := range editorTools(ed) {
		reg.Register(t)
	}
	reg.Register(diffs.Tool())
	reg.Register(closeAllDiffTabsTool(diffs))
}

func editorTools(ed editor.Editor) []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "openFile",
			Description: "Open a file in the editor",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"filePath": {Type: "string", Description: "Path to the file to open"},
				},
				Required: []string{"filePath"},
			},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				path, ok := mcp.StringArg(args, "filePath")
				if !ok {
					return nil, apperrors.MissingParam("filePath")
				}
				if err := ed.OpenFile(path); err != nil {
					return nil, apperrors.ToolError("failed to open file: " + err.Error())
				}
				return mcp.TextContent("Opened file: " + path), nil
			},
		},
		{
			Name:        "getCurrentSelection",
			Description: "Get the current selection in the active editor",
			InputSchema: mcp.InputSchema{Type: "object"},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				sel, err := ed.CurrentSelection()
				if err != nil {
					return nil, apperrors.ToolError("failed to get selection: " + err.Error())
				}
				return mcp.JSONContent(sel)
			},
		},
		{
			Name:        "getLatestSelection",
			Description: "Get the most recent text selection, even if the editor lost focus",
			InputSchema: mcp.InputSchema{Type: "object"},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				sel, err := ed.LatestSelection()
				if err != nil {
					return nil, apperrors.ToolError("failed to get selection: " + err.Error())
				}
				return mcp.JSONContent(sel)
			},
		},
		{
			Name:        "getOpenEditors",
			Description: "List the currently open editor tabs",
			InputSchema: mcp.InputSchema{Type: "object"},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				tabs := ed.OpenEditors()
				if tabs == nil {
					tabs = []editor.OpenEditor{}
				}
				return mcp.JSONContent(map[string]any{"tabs": tabs})
			},
		},
		{
			Name:        "getWorkspaceFolders",
			Description: "Get the workspace root folders",
			InputSchema: mcp.InputSchema{Type: "object"},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				folders := ed.WorkspaceFolders()
				if folders == nil {
					folders = []string{}
				}
				result := map[string]any{"folders": folders}
				if len(folders) > 0 {
					result["rootPath"] = folders[0]
				}
				return mcp.JSONContent(result)
			},
		},
		{
			Name:        "getDiagnostics",
			Description: "Get current diagnostics, optionally filtered by file",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"uri": {Type: "string", Description: "File to filter diagnostics by"},
				},
			},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				path := mcp.OptionalStringArg(args, "uri", "")
				diags := ed.Diagnostics(path)
				if diags == nil {
					diags = []editor.Diagnostic{}
				}
				return mcp.JSONContent(diags)
			},
		},
		{
			Name:        "checkDocumentDirty",
			Description: "Check whether a document has unsaved changes",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"filePath": {Type: "string", Description: "Path to the document"},
				},
				Required: []string{"filePath"},
			},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				path, ok := mcp.StringArg(args, "filePath")
				if !ok {
					return nil, apperrors.MissingParam("filePath")
				}
				dirty, err := ed.IsDirty(path)
				if err != nil {
					return nil, apperrors.ToolError("failed to check document: " + err.Error())
				}
				return mcp.JSONContent(map[string]any{"filePath": path, "isDirty": dirty})
			},
		},
		{
			Name:        "saveDocument",
			Description: "Save a document with unsaved changes",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"filePath": {Type: "string", Description: "Path to the document"},
				},
				Required: []string{"filePath"},
			},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				path, ok := mcp.StringArg(args, "filePath")
				if !ok {
					return nil, apperrors.MissingParam("filePath")
				}
				if err := ed.SaveDocument(path); err != nil {
					return nil, apperrors.ToolError("failed to save document: " + err.Error())
				}
				return mcp.TextContent("Saved: " + path), nil
			},
		},
		{
			Name:        "closeTab",
			Description: "Close an editor tab by name",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"tab_name": {Type: "string", Description: "Name of the tab to close"},
				},
				Required: []string{"tab_name"},
			},
			Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
				name, ok := mcp.StringArg(args, "tab_name")
				if !ok {
					return nil, apperrors.MissingParam("tab_name")
				}
				if err := ed.CloseTab(name); err != nil {
					return nil, apperrors.ToolError("failed to close tab: " + err.Error())
				}
				return mcp.TextContent("Closed tab: " + name), nil
			},
		},
	}
}

// closeAllDiffTabsTool force-rejects every pending diff session. A rejected
// session resumes its parked caller with DIFF_REJECTED, the same outcome as
// the user closing each tab by hand.
func closeAllDiffTabsTool(diffs *diffsession.Manager) mcp.Tool {
	return mcp.Tool{
		Name:        "closeAllDiffTabs",
		Description: "Close all open diff tabs, rejecting their pending changes",
		InputSchema: mcp.InputSchema{Type: "object"},
		Handler: func(c *rpc.Call, args map[string]any) (*mcp.ToolResult, error) {
			closed := diffs.CloseAll()
			return mcp.TextContent(fmt.Sprintf("Closed %d diff tab(s)", closed)), nil
		},
	}
}
