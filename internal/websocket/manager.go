package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/metrics"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager owns every connected client and the room membership of each
// connection. Register, unregister and inbound messages are handled one at
// a time on the Run goroutine; sends may come from any goroutine.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	rooms          map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	done           chan struct{}
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
	// HandleDisconnect runs after the client has been removed from the
	// manager and from all of its rooms.
	HandleDisconnect(client *Client)
}

func NewManager(maxConnPerUser int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		rooms:          make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		done:           make(chan struct{}),
		maxConnPerUser: maxConnPerUser,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

// Done is closed once Run has returned and every client was closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run processes events until ctx is cancelled, then closes every client.
func (m *Manager) Run(ctx context.Context) {
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			if m.unregisterClient(client) && m.messageHandler != nil {
				m.messageHandler.HandleDisconnect(client)
			}

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) shutdown() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.userIndex = make(map[string]map[string]bool)
	m.rooms = make(map[string]map[string]bool)
	metrics.ActiveConnections.Set(0)
	close(m.done)
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if m.maxConnPerUser > 0 && len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		logger.Warnf("max connections reached for user %s", client.Username)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true
	metrics.ActiveConnections.Inc()

	logger.Infof("client registered: %s (user: %s)", client.ID, client.Username)
}

func (m *Manager) unregisterClient(client *Client) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return false
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	for room := range client.rooms {
		m.leaveLocked(client, room)
	}

	close(client.Send)
	metrics.ActiveConnections.Dec()
	logger.Infof("client unregistered: %s", client.ID)
	return true
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		logger.Warnf("error unmarshaling message from %s: %v", clientMsg.Client.ID, err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			logger.Warnf("error handling %s from %s: %v", msg.Type, clientMsg.Client.ID, err)
		}
	}
}

// JoinRoom subscribes the connection to room-scoped deliveries. It reports
// false if the client is no longer registered.
func (m *Manager) JoinRoom(client *Client, room string) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return false
	}
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]bool)
	}
	m.rooms[room][client.ID] = true
	client.rooms[room] = true
	return true
}

func (m *Manager) LeaveRoom(client *Client, room string) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	m.leaveLocked(client, room)
}

func (m *Manager) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)
	if members, ok := m.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

// SendAll queues data for every registered client.
func (m *Manager) SendAll(data []byte) {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for _, client := range m.clients {
		m.enqueue(client, data)
	}
}

// SendRoom queues data for the clients joined to room.
func (m *Manager) SendRoom(room string, data []byte) {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.rooms[room] {
		if client, ok := m.clients[clientID]; ok {
			m.enqueue(client, data)
		}
	}
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if client, ok := m.clients[clientID]; ok {
		m.enqueue(client, messageBytes)
	}
	return nil
}

// enqueue never blocks; a full buffer drops the message for that client.
// Callers hold at least the read lock.
func (m *Manager) enqueue(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		metrics.BroadcastsDropped.WithLabelValues("buffer_full").Inc()
		logger.Warnf("client %s send buffer full, dropping message", client.ID)
	}
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}

func (m *Manager) ConnectionCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.clients)
}

// RoomHasUser reports whether any connection of userID is joined to room.
func (m *Manager) RoomHasUser(room, userID string) bool {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.rooms[room] {
		if client, ok := m.clients[clientID]; ok && client.UserID == userID {
			return true
		}
	}
	return false
}

// RoomClients lists the client ids joined to room, sorted.
func (m *Manager) RoomClients(room string) []string {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	ids := make([]string, 0, len(m.rooms[room]))
	for id := range m.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
