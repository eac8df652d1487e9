package service

import (
	"sync"

	"github.com/gorilla/websocket"
)

// ConnectionManager tracks the dashboard WebSocket connection per user and
// pushes registry updates to it. One connection per user; a new connection
// replaces and closes the previous one.
type ConnectionManager struct {
	connections map[string]*websocket.Conn
	mu          sync.Mutex
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
	}
}

// Add registers a connection for a user, closing any previous one.
func (m *ConnectionManager) Add(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if previous, ok := m.connections[userID]; ok {
		previous.Close()
	}
	m.connections[userID] = conn
}

// Remove closes and forgets a user's connection.
func (m *ConnectionManager) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[userID]; ok {
		conn.Close()
		delete(m.connections, userID)
	}
}

// SendJSON pushes a message to a user's connection. Returns false when the
// user has no connection or the write failed; a failed write drops the
// connection so the next update does not block on it.
func (m *ConnectionManager) SendJSON(userID string, message interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[userID]
	if !ok {
		return false
	}
	if err := conn.WriteJSON(message); err != nil {
		conn.Close()
		delete(m.connections, userID)
		return false
	}
	return true
}
