package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
)

// ConnectionManager manages WebSocket connections and routes their frames
// through the room index
type ConnectionManager struct {
	rooms   *Rooms
	metrics MetricsCollector

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Optional cross-instance fan-out
	forwarder Forwarder

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Forwarder carries locally published frames to other relay instances
type Forwarder interface {
	Forward(roomID string, frame []byte) error
}

// Connection represents a WebSocket connection to an agent
type Connection struct {
	id      string
	Conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	RemoteAddr  string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// agents are not browsers; origin carries no meaning here
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, rooms *Rooms, metrics MetricsCollector) *ConnectionManager {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &ConnectionManager{
		rooms:   rooms,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		connections: make(map[string]*Connection),
	}
}

// SetForwarder installs a cross-instance forwarder
func (cm *ConnectionManager) SetForwarder(f Forwarder) {
	cm.forwarder = f
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. When roomID is
// non-empty the connection joins it immediately.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		id:          uuid.New().String(),
		Conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
		Manager:     cm,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.id).
		Str("remote_addr", connection.RemoteAddr).
		Msg("WebSocket connection established")

	if roomID != "" {
		connection.join(roomID)
	}
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.id] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and its room.
// Safe to call from both pumps.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn.id]
	delete(cm.connections, conn.id)
	cm.mu.Unlock()

	cm.rooms.Disconnect(conn)
	conn.shutdown()

	if exists {
		log.Info().
			Str("connection_id", conn.id).
			Dur("connected_for", time.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	}
}

// publish fans a sync payload out to the payload's room
func (cm *ConnectionManager) publish(senderID string, data json.RawMessage) error {
	roomID, err := events.RoutingRoom(data)
	if err != nil {
		return err
	}

	frame, err := json.Marshal(events.NewReceiveSync(data))
	if err != nil {
		return fmt.Errorf("marshal receive-sync: %w", err)
	}

	cm.deliver(senderID, roomID, frame)

	if cm.forwarder != nil {
		if err := cm.forwarder.Forward(roomID, frame); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to forward frame to other relays")
		}
	}
	return nil
}

// deliver sends an encoded frame to local members and evicts the ones that
// cannot keep up
func (cm *ConnectionManager) deliver(senderID, roomID string, frame []byte) {
	res := cm.rooms.Publish(senderID, roomID, frame)

	for _, m := range res.Dropped {
		log.Warn().
			Str("connection_id", m.ID()).
			Str("room_id", roomID).
			Msg("connection send buffer full, closing connection")
		if conn, ok := m.(*Connection); ok {
			cm.unregisterConnection(conn)
		} else {
			cm.rooms.Disconnect(m)
		}
	}

	log.Debug().
		Str("room_id", roomID).
		Int("delivered", res.Delivered).
		Int("dropped", len(res.Dropped)).
		Msg("sync event relayed")
}

// ConnectionCount returns the number of open connections
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every open connection
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

// ID implements Member
func (c *Connection) ID() string {
	return c.id
}

// Deliver implements Member. It never blocks.
func (c *Connection) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Connection) join(roomID string) {
	c.Manager.rooms.Join(c, roomID)
	c.reply(events.Frame{Type: events.FrameJoined, RoomID: roomID})

	log.Info().
		Str("connection_id", c.id).
		Str("room_id", roomID).
		Msg("connection joined room")
}

func (c *Connection) reply(f events.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply frame")
		return
	}
	if !c.Deliver(data) {
		log.Warn().Str("connection_id", c.id).Msg("reply dropped, send buffer full")
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes one frame received from the agent
func (c *Connection) handleClientMessage(message []byte) {
	frame, err := events.DecodeFrame(message)
	if err != nil {
		c.reject(events.CodeMalformed, err)
		return
	}

	switch frame.Type {
	case events.FrameJoinRoom:
		c.join(frame.RoomID)

	case events.FrameLeaveRoom:
		roomID, err := c.Manager.rooms.Leave(c)
		if err != nil {
			c.reject(events.CodeNotJoined, err)
			return
		}
		log.Info().Str("connection_id", c.id).Str("room_id", roomID).Msg("connection left room")

	case events.FrameSendSync:
		if err := c.Manager.publish(c.id, frame.Data); err != nil {
			code := events.CodeMalformed
			if errors.Is(err, events.ErrMissingField) {
				code = events.CodeBadRoom
			}
			c.reject(code, err)
		}

	default:
		c.reject(events.CodeMalformed, fmt.Errorf("%w: %q is not accepted from clients", events.ErrUnknownType, frame.Type))
	}
}

func (c *Connection) reject(code string, err error) {
	c.Manager.metrics.RecordRejectedFrame(code)
	log.Warn().
		Err(err).
		Str("connection_id", c.id).
		Str("code", code).
		Msg("rejected client frame")
	c.reply(events.NewErrorFrame(code, err.Error()))
}
