package mcp

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	apperrors "github.com/editorlink/host/internal/errors"
	"github.com/editorlink/host/internal/rpc"
)

// ToolHandler executes one tool invocation. Arguments arrive as the decoded
// arguments object (nil-safe: an absent object becomes an empty map). The
// handler either returns a result, returns a structured error, or claims the
// call's responder via call.Defer and completes later.
type ToolHandler func(call *rpc.Call, args map[string]any) (*ToolResult, error)

// Tool couples a tool's static schema with its handler.
type Tool struct {
	Name        string
	Description string
	InputSchema InputSchema
	Handler     ToolHandler
}

// Registry owns the tool table and implements the three core MCP methods.
// It is an explicit object rather than package state so tests can run
// multiple independent instances in one process.
type Registry struct {
	mu    sync.RWMutex
	info  ServerInfo
	tools map[string]Tool
}

// NewRegistry creates a registry identifying itself with the given server
// name and version.
func NewRegistry(name, version string) *Registry {
	return &Registry{
		info:  ServerInfo{Name: name, Version: version},
		tools: make(map[string]Tool),
	}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Bind installs the MCP methods on a dispatcher.
func (r *Registry) Bind(d *rpc.Dispatcher) {
	d.Register("initialize", r.handleInitialize)
	d.Register("tools/list", r.handleToolsList)
	d.Register("tools/call", r.handleToolsCall)
	// The client announces readiness after initialize; there is nothing to
	// do with it, but it must be accepted.
	d.Register("notifications/initialized", func(c *rpc.Call) (any, error) {
		log.Printf("mcp: client initialized")
		return nil, nil
	})
}

// handleInitialize returns the fixed protocol version and server identity.
// Client-announced capabilities are accepted but not acted on.
func (r *Registry) handleInitialize(c *rpc.Call) (any, error) {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Tools: ToolsCapability{ListChanged: true}},
		ServerInfo:      r.info,
	}, nil
}

// handleToolsList returns the static tool schema array, sorted by name so
// the listing is stable across runs.
func (r *Registry) handleToolsList(c *rpc.Call) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return ToolsListResult{Tools: defs}, nil
}

// handleToolsCall looks up the named tool and relays its result or error.
func (r *Registry) handleToolsCall(c *rpc.Call) (any, error) {
	var params ToolCallParams
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &params); err != nil {
			return nil, apperrors.InvalidParams("tools/call params must be an object: " + err.Error())
		}
	}
	if params.Name == "" {
		return nil, apperrors.InvalidParams("tools/call requires a tool name")
	}

	r.mu.RLock()
	tool, ok := r.tools[params.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.ToolNotFound(params.Name)
	}

	args := make(map[string]any)
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, apperrors.InvalidParams("arguments must be an object: " + err.Error())
		}
	}

	result, err := tool.Handler(c, args)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StringArg extracts a required string argument. ok is false when the
// argument is absent, not a string, or empty.
func StringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// OptionalStringArg extracts an optional string argument, returning the
// fallback when absent.
func OptionalStringArg(args map[string]any, name, fallback string) string {
	if s, ok := StringArg(args, name); ok {
		return s
	}
	return fallback
}
