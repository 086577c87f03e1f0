// Package ws implements the WebSocket adapter for real-time client communication.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	cfotel "github.com/Strob0t/supportdesk/internal/adapter/otel"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/event"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/middleware"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	readLimit    = 16 << 10
)

// Message is the envelope for all WebSocket messages in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FrameHandler processes frames sent by clients.
type FrameHandler interface {
	HandleFrame(ctx context.Context, peer broadcast.Peer, frameType string, payload json.RawMessage)
}

// conn is one live connection. Its rooms set is guarded by Hub.mu.
type conn struct {
	id     string
	ws     *websocket.Conn
	claims *user.Claims
	send   chan []byte
	rooms  map[string]struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func newConn(ws *websocket.Conn, claims *user.Claims, cancel context.CancelFunc) *conn {
	return &conn{
		id:     uuid.NewString(),
		ws:     ws,
		claims: claims,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
		cancel: cancel,
	}
}

func (c *conn) agentID() string {
	if c.claims != nil && c.claims.IsAgent() {
		return c.claims.AgentID
	}
	return ""
}

// kill closes the connection once. The read loop then returns and the
// handler unregisters it.
func (c *conn) kill(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		go func() {
			if c.ws != nil {
				_ = c.ws.Close(code, reason)
			}
			c.cancel()
		}()
	})
}

// Hub tracks live connections, their room memberships and the agent
// connection table. It implements broadcast.Broadcaster and broadcast.Rooms.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	rooms  map[string]map[*conn]struct{}
	agents map[string]map[*conn]struct{}

	metrics        *cfotel.Metrics
	originPatterns []string
}

// NewHub creates a hub. With no origin patterns the origin check is left to
// the CORS middleware.
func NewHub(metrics *cfotel.Metrics, originPatterns ...string) *Hub {
	return &Hub{
		conns:          make(map[string]*conn),
		rooms:          make(map[string]map[*conn]struct{}),
		agents:         make(map[string]map[*conn]struct{}),
		metrics:        metrics,
		originPatterns: originPatterns,
	}
}

// Handler returns the upgrade endpoint. Claims, if any, must already be in
// the request context.
func (h *Hub) Handler(frames FrameHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
		if len(h.originPatterns) == 0 {
			opts.InsecureSkipVerify = true
		}
		ws, err := websocket.Accept(w, r, opts)
		if err != nil {
			slog.Error("websocket accept failed", "error", err)
			return
		}
		ws.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		c := newConn(ws, middleware.ClaimsFromContext(r.Context()), cancel)
		h.register(ctx, c)
		defer func() {
			h.remove(ctx, c)
			cancel()
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()

		go h.writeLoop(ctx, c)
		h.readLoop(ctx, c, frames)
	}
}

func (h *Hub) readLoop(ctx context.Context, c *conn, frames FrameHandler) {
	peer := broadcast.Peer{ConnID: c.id, Claims: c.claims}
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil || m.Type == "" {
			h.Send(ctx, c.id, event.TypeMessageError, event.MessageError{Reason: "malformed frame"})
			continue
		}
		frames.HandleFrame(ctx, peer, m.Type, m.Payload)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "conn_id", c.id, "error", err)
				c.kill(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// register indexes c and performs the role-based automatic joins: agents
// join their tenant's agent room, owners the tenant room, visitors nothing.
func (h *Hub) register(ctx context.Context, c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	if c.claims != nil {
		if c.claims.IsAgent() {
			h.joinLocked(c, broadcast.AgentsRoom(c.claims.TenantID))
			set := h.agents[c.claims.AgentID]
			if set == nil {
				set = make(map[*conn]struct{})
				h.agents[c.claims.AgentID] = set
			}
			set[c] = struct{}{}
		} else {
			h.joinLocked(c, broadcast.TenantRoom(c.claims.TenantID))
		}
	}
	h.mu.Unlock()

	h.metrics.ConnectionOpened(ctx)
	slog.Info("websocket connected", "conn_id", c.id, "agent_id", c.agentID())
}

func (h *Hub) remove(ctx context.Context, c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	if id := c.agentID(); id != "" {
		if set := h.agents[id]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.agents, id)
			}
		}
	}
	h.mu.Unlock()

	c.cancel()
	h.metrics.ConnectionClosed(ctx)
	slog.Info("websocket disconnected", "conn_id", c.id)
}

func (h *Hub) joinLocked(c *conn, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *conn, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Join adds a connection to room.
func (h *Hub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, domain.ErrNotFound)
	}
	h.joinLocked(c, room)
	return nil
}

// Leave removes a connection from room. Unknown connections are ignored.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		h.leaveLocked(c, room)
	}
}

// ToRoom sends an event to every connection in room.
func (h *Hub) ToRoom(ctx context.Context, room, eventType string, payload any) {
	data, ok := encode(eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	slow := h.enqueueAll(h.rooms[room], data)
	h.mu.RUnlock()
	h.dropSlow(ctx, slow)
}

// ToAgent sends an event to every live connection of one agent.
func (h *Hub) ToAgent(ctx context.Context, agentID, eventType string, payload any) {
	data, ok := encode(eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	slow := h.enqueueAll(h.agents[agentID], data)
	h.mu.RUnlock()
	h.dropSlow(ctx, slow)
}

// Send delivers an event to a single connection.
func (h *Hub) Send(ctx context.Context, connID, eventType string, payload any) {
	data, ok := encode(eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.conns[connID]
	var slow []*conn
	if c != nil && !c.enqueue(data) {
		slow = append(slow, c)
	}
	h.mu.RUnlock()
	h.dropSlow(ctx, slow)
}

func (h *Hub) enqueueAll(members map[*conn]struct{}, data []byte) []*conn {
	var slow []*conn
	for c := range members {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	return slow
}

// enqueue never blocks; a full buffer marks the consumer as slow.
func (c *conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) dropSlow(ctx context.Context, slow []*conn) {
	for _, c := range slow {
		h.metrics.SlowConsumer(ctx)
		slog.Warn("websocket slow consumer disconnected", "conn_id", c.id, "agent_id", c.agentID())
		c.kill(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func encode(eventType string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return nil, false
	}
	data, err := json.Marshal(Message{Type: eventType, Payload: raw})
	if err != nil {
		slog.Error("marshal ws event", "type", eventType, "error", err)
		return nil, false
	}
	return data, true
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomSize returns the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client. Used at shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.kill(websocket.StatusGoingAway, "server shutdown")
	}
}
