package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudtide/chatrelay/contracts"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

var (
	errClientClosing  = errors.New("client is disconnecting")
	errSendBufferFull = errors.New("send buffer full")
)

// client is one connected player session. The mutex serializes enqueues
// against shutdown: the send channel is only ever closed while no enqueue is
// in flight, so a disconnect racing a broadcast cannot panic the sender.
type client struct {
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	admin    bool

	mu     sync.Mutex
	closed bool
}

// enqueue hands data to the write pump without blocking. A full buffer drops
// the event; delivery to one slow consumer must not stall the rest.
func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosing
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// shutdown closes the send channel exactly once, after which enqueue refuses
// further writes. Safe to call repeatedly.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Gateway is a websocket-backed Registry. It owns the connection map, the
// per-player location and the room subscription sets.
type Gateway struct {
	mu        sync.RWMutex
	clients   map[string]*client
	locations map[string]string
	rooms     map[string]map[string]bool
	aliases   map[string]string

	logger *slog.Logger
	onMove func(playerID, fromRoom, toRoom string)
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMovementListener registers a callback invoked after each location
// change, including the final one on disconnect (empty toRoom).
func WithMovementListener(fn func(playerID, fromRoom, toRoom string)) GatewayOption {
	return func(g *Gateway) {
		g.onMove = fn
	}
}

// NewGateway creates an empty gateway.
func NewGateway(options ...GatewayOption) *Gateway {
	g := &Gateway{
		clients:   make(map[string]*client),
		locations: make(map[string]string),
		rooms:     make(map[string]map[string]bool),
		aliases:   make(map[string]string),
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(g)
	}

	return g
}

// Register attaches an upgraded websocket connection to a player and starts
// its write pump. A previous connection for the same player is closed.
func (g *Gateway) Register(playerID string, conn *websocket.Conn, admin bool) {
	c := &client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		admin:    admin,
	}

	g.mu.Lock()
	prev := g.clients[playerID]
	g.clients[playerID] = c
	g.mu.Unlock()

	if prev != nil {
		prev.shutdown()
	}

	go g.writePump(c)

	g.logger.Info("player connected", "playerId", playerID, "admin", admin)
}

// Unregister drops a player's connection and clears their room membership.
func (g *Gateway) Unregister(playerID string) {
	g.mu.Lock()
	c, ok := g.clients[playerID]
	if ok {
		delete(g.clients, playerID)
	}
	prev := g.locations[playerID]
	delete(g.locations, playerID)
	for _, members := range g.rooms {
		delete(members, playerID)
	}
	g.mu.Unlock()

	if ok {
		c.shutdown()
	}

	if ok {
		g.logger.Info("player disconnected", "playerId", playerID)
		if g.onMove != nil {
			g.onMove(playerID, prev, "")
		}
	}
}

// SetLocation moves a player to a room, updating both the authoritative
// location and the room subscription sets.
func (g *Gateway) SetLocation(playerID, roomID string) {
	g.mu.Lock()

	prev := g.locations[playerID]
	if prev != "" {
		if members, ok := g.rooms[prev]; ok {
			delete(members, playerID)
		}
	}

	g.locations[playerID] = roomID
	if g.rooms[roomID] == nil {
		g.rooms[roomID] = make(map[string]bool)
	}
	g.rooms[roomID][playerID] = true
	g.mu.Unlock()

	if g.onMove != nil {
		g.onMove(playerID, prev, roomID)
	}
}

// AddRoomAlias maps an aliased room identifier to its canonical form.
func (g *Gateway) AddRoomAlias(alias, canonical string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aliases[alias] = canonical
}

// SendToOne implements Registry.
func (g *Gateway) SendToOne(ctx context.Context, playerID string, event *contracts.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	g.mu.RLock()
	c, ok := g.clients[playerID]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("player %s is not connected", playerID)
	}

	if err := c.enqueue(data); err != nil {
		g.logger.Warn("dropping event",
			"playerId", playerID, "messageId", event.MessageID, "reason", err)
		return fmt.Errorf("deliver to player %s: %w", playerID, err)
	}
	return nil
}

// SendToAll implements Registry.
func (g *Gateway) SendToAll(ctx context.Context, event *contracts.ChatEvent, excludeID string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	g.mu.RLock()
	targets := make([]*client, 0, len(g.clients))
	for id, c := range g.clients {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			g.logger.Warn("dropping event",
				"playerId", c.playerID, "messageId", event.MessageID, "reason", err)
		}
	}

	return nil
}

// RoomMembersOf implements Registry.
func (g *Gateway) RoomMembersOf(roomID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members, ok := g.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// LocationOf implements Registry.
func (g *Gateway) LocationOf(playerID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roomID, ok := g.locations[playerID]
	return roomID, ok
}

// CanonicalRoomID implements Registry.
func (g *Gateway) CanonicalRoomID(roomID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if canonical, ok := g.aliases[roomID]; ok {
		return canonical
	}
	return roomID
}

// IsAdmin implements Registry.
func (g *Gateway) IsAdmin(playerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[playerID]
	return ok && c.admin
}

// ConnectedCount returns the number of attached connections.
func (g *Gateway) ConnectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// writePump drains a client's send channel onto its websocket connection.
func (g *Gateway) writePump(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			g.logger.Warn("write failed, dropping connection",
				"playerId", c.playerID, "error", err)
			return
		}
	}

	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

var _ Registry = (*Gateway)(nil)
