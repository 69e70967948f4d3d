package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/racewire/racewire/internal/protocol"
)

// Router is the session layer the gateway hands validated messages to.
// The registry implements it.
type Router interface {
	Join(sessionID, participantID, name string)
	Ready(sessionID, participantID string)
	ForceStart(sessionID, participantID string)
	UpdatePosition(sessionID, participantID string, update protocol.UpdatePositionPayload)
	Leave(sessionID, participantID string)
}

// ConnectionManager manages WebSocket connections for race sessions.
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   Router

	broadcastCh chan broadcastMessage
}

// Connection represents a WebSocket connection to a client. Its ID doubles
// as the participant identity for the lifetime of the connection.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	joined bool
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	sessionID string
	exceptID  string
	targetID  string
	event     *protocol.ServerEvent
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetRouter wires the session layer in. Must be called before serving.
func (cm *ConnectionManager) SetRouter(router Router) {
	cm.router = router
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The client
// is expected to send a join message as its first frame.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to its session pool.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.sessionConnections[conn.SessionID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.sessionConnections, conn.SessionID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("session_id", conn.SessionID).
				Msg("connection unregistered")
		}
	}
}

// Broadcast sends an event to all connections in a session.
func (cm *ConnectionManager) Broadcast(sessionID string, event *protocol.ServerEvent) {
	cm.enqueue(broadcastMessage{sessionID: sessionID, event: event})
}

// BroadcastExcept sends an event to all session connections except one.
func (cm *ConnectionManager) BroadcastExcept(sessionID, exceptID string, event *protocol.ServerEvent) {
	cm.enqueue(broadcastMessage{sessionID: sessionID, exceptID: exceptID, event: event})
}

// SendTo sends an event to a single participant in a session.
func (cm *ConnectionManager) SendTo(sessionID, participantID string, event *protocol.ServerEvent) {
	cm.enqueue(broadcastMessage{sessionID: sessionID, targetID: participantID, event: event})
}

func (cm *ConnectionManager) enqueue(message broadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("session_id", message.sessionID).
			Str("event_type", string(message.event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.sessionConnections[message.sessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot target connections to avoid holding the lock during sends
	var targetConnections []*Connection
	for conn := range connections {
		if message.targetID != "" && conn.ID != message.targetID {
			continue
		}
		if message.exceptID != "" && conn.ID == message.exceptID {
			continue
		}
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("session_id", conn.SessionID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (totalConnections, activeSessions int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.sessionConnections {
		totalConnections += len(connections)
	}
	return totalConnections, len(cm.sessionConnections)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection. A
// dropped connection is an implicit leave.
func (c *Connection) readPump() {
	defer func() {
		if c.joined {
			c.Manager.router.Leave(c.SessionID, c.ID)
		}
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage validates and routes one client frame.
func (c *Connection) handleClientMessage(message []byte) {
	msgType, payload, err := protocol.DecodeClientMessage(message)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("rejected malformed client message")
		c.sendError("bad_message", err.Error())
		return
	}

	switch msgType {
	case protocol.ClientJoin:
		if c.joined {
			log.Warn().Str("connection_id", c.ID).Msg("duplicate join on connection ignored")
			return
		}
		join := payload.(protocol.JoinPayload)
		c.SessionID = join.SessionID
		c.joined = true
		c.Manager.registerConnection(c)
		c.Manager.router.Join(join.SessionID, c.ID, join.Name)

	case protocol.ClientReady:
		if c.joined {
			c.Manager.router.Ready(c.SessionID, c.ID)
		}

	case protocol.ClientForceStart:
		if c.joined {
			c.Manager.router.ForceStart(c.SessionID, c.ID)
		}

	case protocol.ClientUpdatePosition:
		if c.joined {
			c.Manager.router.UpdatePosition(c.SessionID, c.ID, payload.(protocol.UpdatePositionPayload))
		}
	}
}

// sendError delivers an error event directly to this connection, outside
// the session broadcast path.
func (c *Connection) sendError(code, message string) {
	event := &protocol.ServerEvent{
		ID:        uuid.New().String(),
		SessionID: c.SessionID,
		Type:      protocol.EventError,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	event.Data = data

	frame, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.Send <- frame:
	default:
	}
}
