// Package rpc implements the JSON-RPC 2.0 envelope and method dispatch used
// over the WebSocket text frames.
//
// Envelope shapes follow the spec exactly: presence of "id" distinguishes a
// request (response required) from a notification (no response channel at
// all), and a response carries exactly one of result/error. Handler failures
// are isolated at the dispatch boundary so one bad call can never take down
// the read loop or other clients' sessions.
//
// A handler normally returns its result synchronously. A long-lived handler
// may instead claim the call's responder with Call.Defer and complete it
// later from an event callback; the dispatcher then sends nothing and the
// request stays open until the responder fires.
package rpc

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	apperrors "github.com/editorlink/host/internal/errors"
)

// Version is the fixed jsonrpc version string.
const Version = "2.0"

// Request is an incoming JSON-RPC envelope. ID stays raw so that requests
// and notifications can be told apart (absent vs present, including null)
// and so responses echo the id byte-for-byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC envelope.
type Response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      json.RawMessage     `json:"id"`
	Result  any                 `json:"result,omitempty"`
	Error   *apperrors.RPCError `json:"error,omitempty"`
}

// Notification is an outgoing JSON-RPC notification envelope.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// EncodeNotification marshals a server-originated notification.
func EncodeNotification(method string, params any) ([]byte, error) {
	return json.Marshal(Notification{JSONRPC: Version, Method: method, Params: params})
}

// Handler processes one method call. Returning a non-nil error produces an
// error response: an *errors.RPCError is forwarded verbatim, any other error
// is wrapped as -32603. Returning after a successful Call.Defer means the
// response is owned by the claimed Responder and the return values are
// ignored.
type Handler func(c *Call) (any, error)

// Call carries one in-flight method invocation through a handler.
type Call struct {
	// Method is the JSON-RPC method name.
	Method string

	// Params is the raw params member, nil when absent.
	Params json.RawMessage

	id    json.RawMessage
	send  func([]byte)
	resp  *Responder
	isReq bool
}

// IsRequest reports whether the call expects a response. Notification calls
// have no id and therefore no error channel back to the client.
func (c *Call) IsRequest() bool { return c.isReq }

// Defer claims the call's responder for later completion. It returns false
// when the call is a notification: with no id there is nothing to respond
// to, so a blocking handler cannot run.
//
// After a successful Defer the dispatcher sends no response of its own; the
// handler (or whatever callback it hands the responder to) must eventually
// call Resolve or Reject exactly once.
func (c *Call) Defer() (*Responder, bool) {
	if !c.isReq {
		return nil, false
	}
	c.resp = &Responder{id: c.id, send: c.send}
	return c.resp, true
}

// Responder completes a deferred request. It is safe to resolve from any
// goroutine, and duplicate completions are ignored: the first outcome wins.
type Responder struct {
	id   json.RawMessage
	send func([]byte)
	once sync.Once
}

// Resolve sends a success response carrying result.
func (r *Responder) Resolve(result any) {
	r.once.Do(func() {
		r.send(marshalResponse(Response{JSONRPC: Version, ID: r.id, Result: result}))
	})
}

// Reject sends an error response for err.
func (r *Responder) Reject(err error) {
	r.once.Do(func() {
		r.send(marshalResponse(Response{JSONRPC: Version, ID: r.id, Error: apperrors.ToRPCError(err)}))
	})
}

// Dispatcher routes decoded JSON-RPC envelopes to registered handlers.
// The method table is owned by the dispatcher and protected by a lock, so
// one dispatcher can serve every connection of a server instance.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs a handler for a method name, replacing any previous one.
func (d *Dispatcher) Register(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Dispatch processes one text-frame payload. Responses (including error
// responses) are emitted through send, which must deliver to the connection
// the payload arrived on.
func (d *Dispatcher) Dispatch(payload []byte, send func([]byte)) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		// With unparseable JSON there is no usable id to echo; respond with
		// a null id per the JSON-RPC error handling rules.
		send(marshalResponse(Response{
			JSONRPC: Version,
			ID:      json.RawMessage("null"),
			Error:   apperrors.ParseError(err.Error()),
		}))
		return
	}

	isRequest := req.ID != nil
	reply := func(resp Response) {
		if isRequest {
			resp.JSONRPC = Version
			resp.ID = req.ID
			send(marshalResponse(resp))
		}
		// Notifications get no error channel; failures are swallowed.
	}

	if req.JSONRPC != Version {
		log.Printf("rpc: dropping envelope with jsonrpc=%q method=%q", req.JSONRPC, req.Method)
		reply(Response{Error: apperrors.InvalidRequest(`jsonrpc must be "2.0"`)})
		return
	}

	d.mu.RLock()
	handler, ok := d.handlers[req.Method]
	d.mu.RUnlock()

	if !ok {
		if isRequest {
			reply(Response{Error: apperrors.MethodNotFound(req.Method)})
		} else {
			// Unhandled notifications are accepted and ignored.
			log.Printf("rpc: ignoring notification %q", req.Method)
		}
		return
	}

	call := &Call{
		Method: req.Method,
		Params: req.Params,
		id:     req.ID,
		send:   send,
		isReq:  isRequest,
	}

	result, err := d.invoke(handler, call)

	if call.resp != nil {
		// The handler claimed the responder; the response is its problem
		// now. If the handler ALSO failed after deferring, make sure the
		// request does not hang open forever.
		if err != nil {
			call.resp.Reject(err)
		}
		return
	}

	if err != nil {
		log.Printf("rpc: %s failed: %v", req.Method, err)
		reply(Response{Error: apperrors.ToRPCError(err)})
		return
	}
	reply(Response{Result: result})
}

// invoke runs the handler with panic isolation. A panicking handler is
// converted to an internal error carrying the panic message, and the
// dispatch loop keeps running.
func (d *Dispatcher) invoke(h Handler, c *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rpc: handler for %s panicked: %v", c.Method, r)
			err = apperrors.Internal(fmt.Sprint(r))
		}
	}()
	return h(c)
}

// marshalResponse serializes a response envelope. Response marshaling only
// fails on unmarshalable handler results, in which case the failure itself
// is reported instead so the client always hears back.
func marshalResponse(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		fallback := Response{
			JSONRPC: Version,
			ID:      resp.ID,
			Error:   apperrors.Internal("failed to encode response: " + err.Error()),
		}
		data, _ = json.Marshal(fallback)
	}
	return data
}
