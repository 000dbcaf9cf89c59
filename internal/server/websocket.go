package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/session"
	"github.com/conneroisu/panes/internal/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer. Edits carry whole buffers.
	maxMessageSize = 1 << 20

	sendQueueSize = 256
)

// Client is one connected host page.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter // commands only
	server  *Server
}

// hub fans session updates out to every connected page. Only the primary
// (most recently connected) page forwards diagnostics, so several open tabs
// do not feed the console the same messages twice.
type hub struct {
	clients    map[*Client]bool
	primary    *Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	primaryReq chan chan *Client
	done       chan struct{}
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, sendQueueSize),
		primaryReq: make(chan chan *Client),
		done:       make(chan struct{}),
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Validate origin before accepting connection
	if !s.checkOrigin(r) {
		s.logger.Warn(r.Context(), nil, "Rejected websocket origin", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		id:      ulid.Make().String(),
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.RateBurst),
		server:  s,
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.metrics.WSConnected()
	s.logger.Debug(r.Context(), "Client connected", "client", client.id)

	go client.writePump()

	if snap, err := s.session.Snapshot(r.Context()); err == nil {
		for _, msg := range snapshotMessages(snap) {
			client.enqueue(msg)
		}
	}
	// The new page becomes primary; a fresh render gives its frame a
	// generation of its own.
	if err := s.session.Render(); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to render for new client")
	}

	client.readPump()
}

// checkOrigin validates the request origin for security
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Reject connections without origin header for security
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	for _, allowed := range s.allowedHosts() {
		if originURL.Host == allowed {
			return true
		}
	}
	return false
}

// allowedHosts lists the host:port pairs a page may be served from.
func (s *Server) allowedHosts() []string {
	port := strconv.Itoa(s.cfg.Server.Port)
	hosts := []string{
		s.cfg.Server.Addr(),
		"localhost:" + port,
		"127.0.0.1:" + port,
		"[::1]:" + port,
	}
	if s.listenPort != "" && s.listenPort != port {
		hosts = append(hosts,
			net.JoinHostPort(s.cfg.Server.Host, s.listenPort),
			"localhost:"+s.listenPort,
			"127.0.0.1:"+s.listenPort,
			"[::1]:"+s.listenPort)
	}
	for _, origin := range s.cfg.Server.AllowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// originPatterns are the allowed hosts in the form websocket.Accept matches
// them; checkOrigin has already vetted the scheme.
func (s *Server) originPatterns() []string {
	return s.allowedHosts()
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client, websocket.StatusGoingAway)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.primary = client

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client, websocket.StatusNormalClosure)
			}

		case reply := <-h.primaryReq:
			reply <- h.primary

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full
					h.drop(client, websocket.StatusPolicyViolation)
				}
			}
		}
	}
}

// drop forgets client, closing its send queue so the write pump exits.
func (h *hub) drop(client *Client, code websocket.StatusCode) {
	delete(h.clients, client)
	close(client.send)
	// Close waits for the peer's handshake; the hub must not.
	go client.conn.Close(code, "")
	client.server.metrics.WSDisconnected()

	if h.primary == client {
		h.primary = nil
		for other := range h.clients {
			h.primary = other
			break
		}
	}
}

// isPrimary reports whether c currently forwards diagnostics.
func (h *hub) isPrimary(c *Client) bool {
	reply := make(chan *Client, 1)
	select {
	case h.primaryReq <- reply:
		return <-reply == c
	case <-h.done:
		return false
	}
}

// publish queues a message for every client without blocking the caller.
func (h *hub) publish(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// forward is the session listener that relays updates to the pages.
func (s *Server) forward(u session.Update) {
	data, err := json.Marshal(fromUpdate(u))
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to encode update", "type", string(u.Type))
		return
	}
	s.metrics.WSMessage("out", string(u.Type))
	if !s.hub.publish(data) {
		s.logger.Warn(context.Background(), nil, "Broadcast queue full, update dropped", "type", string(u.Type))
	}
}

func (c *Client) enqueue(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() {
		// The hub may have closed the queue concurrently.
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

// readPump pumps messages from the websocket connection
func (c *Client) readPump() {
	s := c.server
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
		}
	}()

	ctx := context.Background()
	for {
		var msg inbound
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug(ctx, "WebSocket read ended", "client", c.id, "error", err.Error())
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg inbound) {
	s := c.server

	switch msg.Type {
	case msgEdit, msgDiagnostic, msgCommand:
		s.metrics.WSMessage("in", msg.Type)
	default:
		s.metrics.WSMessage("in", "unknown")
	}

	switch msg.Type {
	case msgEdit:
		slot, err := types.ParseSlot(msg.Slot)
		if err == nil {
			err = s.session.Edit(slot, msg.Text)
		}
		if err != nil {
			s.logger.Debug(ctx, "Rejected edit", "client", c.id, "slot", msg.Slot, "error", err.Error())
		}

	case msgDiagnostic:
		if !s.hub.isPrimary(c) {
			s.metrics.Dropped("secondary_client")
			return
		}
		_ = s.session.Diagnose(diagnostic.Envelope{
			Origin:     msg.Origin,
			Generation: msg.Generation,
			Data:       msg.Data,
		})

	case msgCommand:
		// Edits and diagnostics are never limited: dropping either would
		// leave the preview or the console out of date.
		if !c.limiter.Allow() {
			s.metrics.RateLimited()
			s.logger.Debug(ctx, "Rate limited command", "client", c.id, "name", msg.Name)
			c.enqueue(outbound{Type: string(session.UpdateNotice), Message: "Too many commands, slow down"})
			return
		}
		if _, err := s.session.Command(ctx, msg.Name, msg.Arg); err != nil {
			var pe *errors.PanesError
			text := err.Error()
			if stderrors.As(err, &pe) {
				text = pe.Message
			}
			c.enqueue(outbound{Type: string(session.UpdateNotice), Message: text})
		}

	default:
		s.logger.Debug(ctx, "Unknown websocket message", "client", c.id, "type", msg.Type)
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.server.logger.Debug(ctx, "WebSocket write failed", "client", c.id, "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
