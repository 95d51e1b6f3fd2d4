// Package errors provides the structured error shape used on the JSON-RPC
// wire and throughout the host.
//
// The dispatch layer must preserve the exact {code, message, data} triple a
// handler produces, so errors are carried as values rather than opaque
// strings: an *RPCError survives the trip from a tool handler to the client
// unchanged, while any other error is wrapped as an internal error at the
// dispatch boundary.
package errors

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes, plus the -32000 code this host uses
// for its domain-specific failures (file access, missing blocking context,
// feature unavailable).
const (
	CodeParseError     = -32700 // Malformed JSON payload
	CodeInvalidRequest = -32600 // Envelope is not a valid JSON-RPC 2.0 request
	CodeMethodNotFound = -32601 // Unknown method or tool name
	CodeInvalidParams  = -32602 // Missing or malformed parameters
	CodeInternalError  = -32603 // Handler panic or unexpected failure
	CodeToolError      = -32000 // Domain-specific tool failure
)

// RPCError is an error carrying the JSON-RPC error object fields.
// It marshals directly into the "error" member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// New creates an RPCError with the given code and message.
func New(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// WithData creates an RPCError carrying diagnostic data.
func WithData(code int, message string, data any) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// ParseError creates a -32700 error for unparseable JSON.
func ParseError(detail string) *RPCError {
	return WithData(CodeParseError, "Parse error", detail)
}

// InvalidRequest creates a -32600 error for a malformed envelope.
func InvalidRequest(reason string) *RPCError {
	return WithData(CodeInvalidRequest, "Invalid Request", reason)
}

// MethodNotFound creates a -32601 error naming the unknown method.
func MethodNotFound(method string) *RPCError {
	return New(CodeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
}

// ToolNotFound creates a -32601 error naming the unknown tool.
// tools/call with an unrecognized tool name is a lookup failure of the same
// kind as an unknown method, so it shares the code.
func ToolNotFound(name string) *RPCError {
	return New(CodeMethodNotFound, fmt.Sprintf("Tool not found: %s", name))
}

// InvalidParams creates a -32602 error describing the parameter problem.
func InvalidParams(reason string) *RPCError {
	return New(CodeInvalidParams, reason)
}

// MissingParam creates a -32602 error naming the first missing required field.
func MissingParam(field string) *RPCError {
	return New(CodeInvalidParams, fmt.Sprintf("Missing required parameter: %s", field))
}

// Internal creates a -32603 error with the raw failure preserved as data.
// This is the catch-all for handler panics and unexpected errors; the data
// field keeps the original message available to the client for diagnostics.
func Internal(detail any) *RPCError {
	return WithData(CodeInternalError, "Internal error", detail)
}

// ToolError creates a -32000 domain error.
func ToolError(message string) *RPCError {
	return New(CodeToolError, message)
}

// FileAccess creates a -32000 error for a file that exists but cannot be read.
// A file that simply does not exist yet is not an error for the callers that
// use this (a nonexistent old file is a valid new-file diff).
func FileAccess(path string, cause error) *RPCError {
	return WithData(CodeToolError, fmt.Sprintf("Failed to read file: %s", path), cause.Error())
}

// BlockingUnavailable creates the -32000 error returned when a blocking tool
// is invoked without a call context that can be suspended and resumed.
func BlockingUnavailable(tool string) *RPCError {
	return New(CodeToolError, fmt.Sprintf("%s must be called in a blocking request context", tool))
}

// ToRPCError converts any error to the RPCError that should go on the wire.
// A structured error passes through verbatim; anything else becomes an
// internal error carrying the original message as diagnostic data.
func ToRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return Internal(err.Error())
}
