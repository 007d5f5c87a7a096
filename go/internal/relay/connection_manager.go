package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages the websocket rooms, one per session. It
// tracks which party each socket belongs to so it can announce
// presence when sockets come and go.
type ConnectionManager struct {
	sessionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents one websocket to a session party.
type Connection struct {
	ID        string
	Party     *models.Party
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	// done is closed on unregister. Send is never closed: broadcasts
	// run outside the manager lock, so closing it would race them.
	done chan struct{}

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to fan out to a session room.
type BroadcastMessage struct {
	SessionID uuid.UUID
	Event     *SessionEvent
	// Exclude skips one connection, used so a party does not receive
	// its own presence announcement.
	Exclude *Connection
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
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

// UpgradeConnection upgrades an HTTP request to a websocket for the
// given party. The caller has already authenticated the party and
// verified session membership.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, party *models.Party, sessionID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Party:       party,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", party.ID.String()).
		Str("session_id", sessionID.String()).
		Msg("websocket connection established")

	return nil
}

// registerConnection adds a connection to its session room and handles
// the presence exchange: the room learns this party came online, and
// the new socket learns who is already here.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	firstForParty := !cm.partyPresentLocked(conn.SessionID, conn.Party.ID)
	cm.sessionConnections[conn.SessionID][conn] = true

	// Snapshot the parties already in the room before releasing.
	peers := make(map[uuid.UUID]*models.Party)
	for c := range cm.sessionConnections[conn.SessionID] {
		if c != conn && c.Party.ID != conn.Party.ID {
			peers[c.Party.ID] = c.Party
		}
	}
	total := len(cm.sessionConnections[conn.SessionID])
	cm.mu.Unlock()

	if firstForParty {
		if event, err := NewPresenceEvent(conn.SessionID, conn.Party, PresenceOnline); err == nil {
			cm.broadcast(BroadcastMessage{SessionID: conn.SessionID, Event: event, Exclude: conn})
		}
	}
	for _, peer := range peers {
		event, err := NewPresenceEvent(conn.SessionID, peer, PresenceOnline)
		if err != nil {
			continue
		}
		cm.sendTo(conn, event)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection. When the party's last
// socket for the session goes away the room is told they went offline.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.done)
	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
	}
	lastForParty := !cm.partyPresentLocked(conn.SessionID, conn.Party.ID)
	cm.mu.Unlock()

	if lastForParty {
		if event, err := NewPresenceEvent(conn.SessionID, conn.Party, PresenceOffline); err == nil {
			cm.broadcast(BroadcastMessage{SessionID: conn.SessionID, Event: event})
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.Party.ID.String()).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

// partyPresentLocked reports whether the party has any live socket in
// the session room. Caller holds cm.mu.
func (cm *ConnectionManager) partyPresentLocked(sessionID, partyID uuid.UUID) bool {
	for c := range cm.sessionConnections[sessionID] {
		if c.Party.ID == partyID {
			return true
		}
	}
	return false
}

// BroadcastToSession sends an event to every socket in a session room.
func (cm *ConnectionManager) BroadcastToSession(sessionID uuid.UUID, event *SessionEvent) {
	cm.broadcast(BroadcastMessage{SessionID: sessionID, Event: event})
}

func (cm *ConnectionManager) broadcast(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Str("session_id", message.SessionID.String()).Msg("broadcast channel full, dropping message")
	}
}

// sendTo delivers an event to a single connection.
func (cm *ConnectionManager) sendTo(conn *Connection, event *SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case conn.Send <- data:
	case <-conn.done:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, dropping message")
	}
}

// handleBroadcast fans a message out to the session room.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.sessionConnections[message.SessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	var targets []*Connection
	for conn := range connections {
		if conn == message.Exclude {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		case <-conn.done:
			// Unregistered while we held the snapshot, skip it.
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.Party.ID.String()).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_id", message.SessionID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	sessionCounts := make(map[string]int)

	for sessionID, connections := range cm.sessionConnections {
		count := len(connections)
		totalConnections += count
		sessionCounts[sessionID.String()] = count
	}

	return map[string]interface{}{
		"total_connections":   totalConnections,
		"active_sessions":     len(cm.sessionConnections),
		"session_connections": sessionCounts,
	}
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
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

// readPump handles reading messages from the websocket connection.
func (c *Connection) readPump() {
	defer func() {
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
					Msg("unexpected websocket close error")
			}
			break
		}

		// The relay is one-way: state changes arrive via the HTTP API
		// and flow back through the outbox. Client frames are logged
		// and ignored.
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.Party.ID.String()).
			RawJSON("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
