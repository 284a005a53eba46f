// Package transport adapts gorilla/websocket connections to the narrow
// transport API consumed by the orchestrator's inbound pump and outbound
// send pump: EnqueueInbound, Send (outbound.Transport), and
// DropAllForSession. No wire format is defined here beyond what the
// client's own envelope requires to route a frame; payloads handed to the
// simulation core remain opaque byte leases.
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/outbound"
	"tickruntime/broker/internal/registry"
)

const (
	// readLimitBytes caps a single inbound websocket message, matching the
	// per-session queued-bytes backpressure default.
	readLimitBytes = 256 << 10
	pingInterval   = 20 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client holds one live connection's state. The reader goroutine owns
// reads; the writer goroutine owns writes. Neither touches the other's
// side of the socket directly.
type client struct {
	session registry.SessionID
	conn    *websocket.Conn
	send    chan outbound.Snapshot
	closeCh chan struct{}
	closeMu sync.Mutex
	closed  bool
}

func (c *client) requestClose() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeCh)
}

// Server bridges any number of websocket connections to a single shared
// InboundMailbox and a per-session outbound queue. It implements
// outbound.Transport (Send) so the orchestrator's send pump can push
// through it directly.
type Server struct {
	inbound *mailbox.InboundMailbox
	leases  *leasePool
	onJoin  JoinHandler

	mu      sync.Mutex
	clients map[registry.SessionID]*client

	sentBytes    int64
	rejectedJoin int64
}

// JoinHandler authenticates an upgrade request and returns the session id
// to bind the connection to, or ok=false to refuse the connection. The
// handler — not this package — is responsible for join-token verification
// and minting a fresh server-issued session id.
type JoinHandler func(r *http.Request) (registry.SessionID, bool)

// New constructs a transport server bound to the given inbound mailbox.
func New(inbound *mailbox.InboundMailbox, onJoin JoinHandler) *Server {
	return &Server{
		inbound: inbound,
		leases:  newLeasePool(),
		onJoin:  onJoin,
		clients: make(map[registry.SessionID]*client),
	}
}

// ServeHTTP upgrades the request to a websocket connection, authenticates
// it via the configured JoinHandler, and starts the connection's reader
// and writer goroutines.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := s.onJoin(r)
	if !ok {
		s.rejectedJoin++
		http.Error(w, "join rejected", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		session: session,
		conn:    conn,
		send:    make(chan outbound.Snapshot, 32),
		closeCh: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[session] = c
	s.mu.Unlock()

	conn.SetReadLimit(readLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop pulls frames off the wire and enqueues them into the inbound
// mailbox until the connection errors or closes. Runs on the goroutine
// that called ServeHTTP.
func (s *Server) readLoop(c *client) {
	defer s.disconnect(c)
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		s.EnqueueInbound(c.session, payload, 0, 0)
	}
}

// writeLoop drains the client's outbound channel and keeps the connection
// alive with periodic pings until requestClose or a write failure.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.closeCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, snap.Payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *client) {
	c.requestClose()
	s.mu.Lock()
	if existing, ok := s.clients[c.session]; ok && existing == c {
		delete(s.clients, c.session)
	}
	s.mu.Unlock()
	s.inbound.DropSession(c.session)
}

// EnqueueInbound rents a lease over payload and submits it to the inbound
// mailbox for the given session. commandType and submitTick are the
// client's own envelope fields; they are accepted but neither checked nor
// interpreted — the core's frame decoder re-parses the opaque payload on
// the tick thread. A full sub-queue evicts its oldest frame; this returns
// false only when the mailbox rejects the frame outright (a single frame
// larger than the session's byte budget).
func (s *Server) EnqueueInbound(session registry.SessionID, payload []byte, commandType uint32, submitTick int64) bool {
	_ = commandType
	_ = submitTick
	lease := s.leases.Rent(payload)
	ok := s.inbound.TryEnqueue(mailbox.Frame{Session: session, Lease: lease})
	if !ok {
		lease.Release()
	}
	return ok
}

// Send implements outbound.Transport: hands snapshot to the session's
// writer goroutine, or reports an error if the session is gone or its
// channel is saturated.
func (s *Server) Send(session registry.SessionID, snapshot outbound.Snapshot) error {
	s.mu.Lock()
	c, ok := s.clients[session]
	s.mu.Unlock()
	if !ok {
		return errors.New("transport: session not connected")
	}
	select {
	case c.send <- snapshot:
		return nil
	default:
		return errors.New("transport: outbound channel saturated")
	}
}

// DropAllForSession closes the live connection (if any) and discards its
// queued inbound frames.
func (s *Server) DropAllForSession(session registry.SessionID) {
	s.mu.Lock()
	c, ok := s.clients[session]
	if ok {
		delete(s.clients, session)
	}
	s.mu.Unlock()
	if ok {
		c.requestClose()
	}
	s.inbound.DropSession(session)
}

// Snapshot reports the count of live connections and rejected joins.
func (s *Server) Snapshot() (connected int, rejectedJoins int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients), s.rejectedJoin
}
