package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/editorlink/host/internal/wsproto"
)

// State is a client's position in the connection lifecycle.
type State int

const (
	// StateConnecting: accepted, handshake not yet complete.
	StateConnecting State = iota
	// StateConnected: handshake done, frames flow.
	StateConnected
	// StateClosing: a close frame was sent or received; the socket is being
	// torn down.
	StateClosing
	// StateClosed: the socket is closed and the client is out of the table.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// ErrNotConnected is returned by Send when the client has not completed the
// handshake or is already closing.
var ErrNotConnected = errors.New("server: client is not connected")

// Handler receives connection events. Implementations embed NopHandler so
// they only override what they care about.
type Handler interface {
	// OnConnect fires once the handshake completes.
	OnConnect(c *Client)
	// OnMessage fires for each complete text or binary data frame.
	OnMessage(c *Client, payload []byte)
	// OnClose fires when the peer initiates the close handshake, with the
	// peer's code and reason.
	OnClose(c *Client, code uint16, reason string)
	// OnError fires on a fatal protocol violation, right before the
	// connection is force-closed.
	OnError(c *Client, err error)
	// OnDisconnect fires when the client is removed from the server's table,
	// on every exit path.
	OnDisconnect(c *Client)
}

// NopHandler is a Handler with every operation defaulted to a no-op.
type NopHandler struct{}

func (NopHandler) OnConnect(*Client)               {}
func (NopHandler) OnMessage(*Client, []byte)       {}
func (NopHandler) OnClose(*Client, uint16, string) {}
func (NopHandler) OnError(*Client, error)          {}
func (NopHandler) OnDisconnect(*Client)            {}

// Client wraps one accepted socket. It owns the incoming-buffer
// accumulation and drives the handshake-then-frames state transitions; the
// server's read loop feeds it raw bytes and reacts to what it reports.
type Client struct {
	id     string
	conn   net.Conn
	server *Server

	// mu guards state, buffer and the liveness timestamps. Writes to the
	// socket are serialized separately by writeMu so a slow write never
	// blocks state inspection.
	mu      sync.Mutex
	writeMu sync.Mutex

	state     State
	buffer    []byte
	closeSent bool

	lastPing time.Time
	lastPong time.Time

	// limiter bounds inbound data frames. A client that floods past the
	// burst is closed with 1008 rather than allowed to starve the others.
	limiter *rate.Limiter

	closeOnce sync.Once
}

// errProtocol wraps a frame/handshake violation with the close code the
// connection should die with.
type errProtocol struct {
	code uint16
	err  error
}

func (e *errProtocol) Error() string { return e.err.Error() }
func (e *errProtocol) Unwrap() error { return e.err }

// ID returns the client identifier, derived from the socket's remote
// address plus an accept-order counter so IDs stay unique across address
// reuse.
func (c *Client) ID() string { return c.id }

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// feed appends freshly read bytes and processes whatever is now complete:
// at most one HTTP upgrade while connecting, then frames until the buffer
// runs dry. A returned error is fatal to the connection; the caller closes
// the socket.
func (c *Client) feed(data []byte, h Handler) error {
	c.mu.Lock()
	c.buffer = append(c.buffer, data...)
	state := c.state
	c.mu.Unlock()

	if state == StateConnecting {
		done, err := c.processHandshake(h)
		if err != nil || !done {
			return err
		}
	}

	return c.processFrames(h)
}

// processHandshake attempts to extract and validate one upgrade request.
// Returns done=false when the request is still incomplete. A failed
// handshake answers with an HTTP error and reports a fatal error, so the
// connection never reaches StateConnected.
func (c *Client) processHandshake(h Handler) (done bool, err error) {
	c.mu.Lock()
	complete, request, remaining := wsproto.ExtractRequest(c.buffer)
	if !complete {
		c.mu.Unlock()
		return false, nil
	}
	c.buffer = remaining
	c.mu.Unlock()

	hs, err := wsproto.Validate(request, c.server.authToken)
	if err != nil {
		status := 400
		if errors.Is(err, wsproto.ErrUnauthorized) {
			status = 401
		}
		c.write(wsproto.ErrorResponse(status, err.Error()))
		c.setState(StateClosed)
		return false, fmt.Errorf("handshake rejected: %w", err)
	}

	if err := c.write(wsproto.AcceptResponse(hs.Key)); err != nil {
		c.setState(StateClosed)
		return false, fmt.Errorf("handshake response write: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.state = StateConnected
	c.lastPing = now
	c.lastPong = now
	c.mu.Unlock()

	log.Printf("server: client %s connected (%s)", c.id, hs.Path)
	h.OnConnect(c)
	return true, nil
}

// processFrames decodes and dispatches frames until the buffer holds only a
// partial frame (decode reports zero consumed) or the connection leaves the
// connected state.
func (c *Client) processFrames(h Handler) error {
	for {
		c.mu.Lock()
		if c.state != StateConnected && c.state != StateClosing {
			c.mu.Unlock()
			return nil
		}
		frame, n, err := wsproto.Decode(c.buffer)
		if err == nil && n > 0 {
			c.buffer = c.buffer[n:]
		}
		c.mu.Unlock()

		if err != nil {
			h.OnError(c, err)
			c.forceClose(wsproto.CloseProtocolError, "protocol error")
			return &errProtocol{code: wsproto.CloseProtocolError, err: err}
		}
		if frame == nil {
			// Incomplete frame; wait for more bytes.
			return nil
		}

		if err := c.handleFrame(frame, h); err != nil {
			return err
		}
	}
}

// handleFrame dispatches one decoded frame by opcode.
func (c *Client) handleFrame(f *wsproto.Frame, h Handler) error {
	// Fragmentation is a deliberate protocol subset exclusion: both a
	// continuation frame and a non-final data frame mean the peer started a
	// fragmented message.
	if f.Opcode == wsproto.OpContinuation || (!f.Fin && !f.Opcode.IsControl()) {
		err := fmt.Errorf("server: fragmented messages are not supported")
		h.OnError(c, err)
		c.forceClose(wsproto.CloseUnsupportedData, "fragmented messages not supported")
		return &errProtocol{code: wsproto.CloseUnsupportedData, err: err}
	}

	switch f.Opcode {
	case wsproto.OpText, wsproto.OpBinary:
		if !c.limiter.Allow() {
			err := fmt.Errorf("server: client %s exceeded message rate", c.id)
			h.OnError(c, err)
			c.forceClose(wsproto.ClosePolicyViolation, "message rate exceeded")
			return &errProtocol{code: wsproto.ClosePolicyViolation, err: err}
		}
		h.OnMessage(c, f.Payload)

	case wsproto.OpClose:
		code, reason := wsproto.ParseClose(f.Payload)
		c.mu.Lock()
		alreadySent := c.closeSent
		c.closeSent = true
		c.state = StateClosing
		c.mu.Unlock()

		// Echo the close once; if we initiated the close this completes the
		// handshake from our side instead.
		if !alreadySent {
			c.write(wsproto.EncodeClose(code, ""))
		}
		h.OnClose(c, code, reason)
		return fmt.Errorf("server: peer closed connection: %d %s", code, reason)

	case wsproto.OpPing:
		// Pong must carry the ping's payload verbatim.
		c.write(wsproto.EncodePong(f.Payload))

	case wsproto.OpPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	}
	return nil
}

// Send transmits a text frame. It fails without touching the socket unless
// the client is fully connected.
func (c *Client) Send(payload []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	return c.write(wsproto.EncodeText(payload))
}

// Ping transmits a ping frame and records when it went out.
func (c *Client) Ping() error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
	return c.write(wsproto.EncodePing([]byte("ping")))
}

// IsAlive reports whether a pong has been observed within timeout.
func (c *Client) IsAlive(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong) < timeout
}

// forceClose sends a best-effort close frame with the given code and closes
// the socket. Safe to call multiple times; only the first does the work.
// Code 1006 is reserved for abnormal closure and must never go on the wire,
// so liveness failures close the socket without a frame.
func (c *Client) forceClose(code uint16, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		alreadySent := c.closeSent
		c.closeSent = true
		c.state = StateClosing
		c.mu.Unlock()

		if !alreadySent && code != wsproto.CloseAbnormal {
			c.write(wsproto.EncodeClose(code, reason))
		}
		c.conn.Close()
		c.setState(StateClosed)
	})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// write serializes raw bytes onto the socket with a deadline, so one stuck
// peer cannot wedge the ping sweep or a broadcast.
func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := c.conn.Write(data)
	return err
}
