// Package server runs the loopback WebSocket server: it binds a randomized
// port from a configurable range, accepts connections, wires each socket to
// a Client that drives the handshake and frame protocol, and runs the
// periodic liveness ping sweep.
//
// The server knows nothing about JSON-RPC; message payloads are handed to
// the Handler the caller provides, which keeps the transport testable on its
// own.
package server

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/editorlink/host/internal/wsproto"
)

// Config holds the server's tunables.
type Config struct {
	// PortMin and PortMax bound the randomized port search (inclusive).
	PortMin int
	PortMax int

	// AuthToken, when non-empty, must be presented by every client in the
	// handshake's auth header.
	AuthToken string

	// PingInterval is the liveness sweep period. A client whose last pong is
	// older than twice this interval is considered dead.
	PingInterval time.Duration

	// MessagesPerSecond bounds inbound data frames per client.
	// Zero selects the default.
	MessagesPerSecond float64
}

const (
	defaultPingInterval = 30 * time.Second
	defaultMessageRate  = 100.0
	messageBurst        = 50
	readBufferSize      = 4096
)

// Server owns the listener, the client table and the sweep timer. Clients
// are registered on accept and removed by their read loop on every exit
// path, so the table never holds a closed socket.
type Server struct {
	handler Handler

	portMin      int
	portMax      int
	authToken    string
	pingInterval time.Duration
	messageRate  rate.Limit

	mu       sync.RWMutex
	listener net.Listener
	port     int
	clients  map[string]*Client
	stopped  bool
	nextID   int

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a server. Call Start to bind a port and begin accepting.
func New(cfg Config, handler Handler) *Server {
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	msgRate := cfg.MessagesPerSecond
	if msgRate <= 0 {
		msgRate = defaultMessageRate
	}
	if handler == nil {
		handler = NopHandler{}
	}
	return &Server{
		handler:      handler,
		portMin:      cfg.PortMin,
		portMax:      cfg.PortMax,
		authToken:    cfg.AuthToken,
		pingInterval: interval,
		messageRate:  rate.Limit(msgRate),
		clients:      make(map[string]*Client),
		done:         make(chan struct{}),
	}
}

// listenAvailable shuffles the port range and bind-tests candidates in the
// shuffled order, returning the first listener that binds. Randomizing the
// search keeps concurrently starting instances that share a range from
// deterministically colliding on the same first port.
func listenAvailable(portMin, portMax int) (net.Listener, int, error) {
	if portMin <= 0 || portMax < portMin {
		return nil, 0, fmt.Errorf("server: invalid port range %d-%d", portMin, portMax)
	}

	ports := make([]int, portMax-portMin+1)
	for i := range ports {
		ports[i] = portMin + i
	}
	rand.Shuffle(len(ports), func(i, j int) {
		ports[i], ports[j] = ports[j], ports[i]
	})

	for _, port := range ports {
		// Loopback only: nothing off-host may ever connect.
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("server: no available port in range %d-%d", portMin, portMax)
}

// Start binds a port from the configured range and launches the accept loop
// and the ping sweep. It returns once the listener is live.
func (s *Server) Start() error {
	ln, port, err := listenAvailable(s.portMin, s.portMax)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.port = port
	s.mu.Unlock()

	log.Printf("server: listening on 127.0.0.1:%d", port)

	s.wg.Add(2)
	go s.acceptLoop(ln)
	go s.pingSweep()
	return nil
}

// Port returns the bound port, valid after Start.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// ClientCount returns the number of clients currently in the table.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// acceptLoop accepts connections until the listener closes, wrapping each
// socket in a Client and handing it a read goroutine.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("server: accept: %v", err)
			continue
		}

		client := s.register(conn)
		if client == nil {
			// Stopped between Accept and register.
			conn.Close()
			return
		}

		s.wg.Add(1)
		go s.readLoop(client)
	}
}

// register adds a freshly accepted socket to the client table.
func (s *Server) register(conn net.Conn) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.nextID++
	client := &Client{
		id:      fmt.Sprintf("%s#%d", conn.RemoteAddr(), s.nextID),
		conn:    conn,
		server:  s,
		state:   StateConnecting,
		limiter: rate.NewLimiter(s.messageRate, messageBurst),
	}
	s.clients[client.id] = client
	return client
}

// readLoop pulls bytes off the socket and feeds them to the client until
// EOF, a read error, or a fatal protocol error, then removes the client.
func (s *Server) readLoop(c *Client) {
	defer s.wg.Done()
	defer s.remove(c)

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.feed(buf[:n], s.handler); ferr != nil {
				log.Printf("server: client %s: %v", c.id, ferr)
				return
			}
		}
		if err != nil {
			// EOF and reset are the normal ends of a connection's life; only
			// log the unexpected ones while still connected.
			if c.State() == StateConnected && !errors.Is(err, net.ErrClosed) {
				log.Printf("server: client %s read: %v", c.id, err)
			}
			return
		}
	}
}

// remove drops the client from the table and closes its socket. Idempotent,
// so a force-close followed by the read loop exiting is harmless.
func (s *Server) remove(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.forceClose(wsproto.CloseNormal, "")

	if present {
		log.Printf("server: client %s disconnected (%d remaining)", c.id, s.ClientCount())
		s.handler.OnDisconnect(c)
	}
}

// Broadcast sends a text payload to every connected client. Delivery is
// best-effort: a failed or not-yet-connected client is skipped, and one
// client's error never aborts the rest of the broadcast.
func (s *Server) Broadcast(payload []byte) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(payload); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Printf("server: broadcast to %s: %v", c.id, err)
		}
	}
}

// pingSweep pings every connected client each interval and evicts the ones
// that have not ponged within twice the interval. This bounds socket and
// memory growth from half-open peers.
func (s *Server) pingSweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		clients := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.RUnlock()

		for _, c := range clients {
			if c.State() != StateConnected {
				continue
			}
			if !c.IsAlive(2 * s.pingInterval) {
				log.Printf("server: client %s missed pongs, closing", c.id)
				c.forceClose(wsproto.CloseAbnormal, "")
				continue
			}
			if err := c.Ping(); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Printf("server: ping %s: %v", c.id, err)
			}
		}
	}
}

// Stop closes every client with 1001 (going away), tears down the listener
// and waits for the loops to exit. Calling Stop on a stopped server is a
// no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	listener := s.listener
	s.mu.Unlock()

	close(s.done)

	for _, c := range clients {
		c.forceClose(wsproto.CloseGoingAway, "server shutting down")
	}
	if listener != nil {
		listener.Close()
	}

	s.wg.Wait()
	log.Printf("server: stopped")
}
