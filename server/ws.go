package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	mu     sync.Mutex
	closed bool
}

// Notify schedules a polling state push to every subscriber. It never blocks.
func (s *Server) Notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// runHub coalesces change notifications into broadcasts.
func (s *Server) runHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, conn := range s.subscribers.All() {
				conn.close()
			}
			return
		case <-s.dirty:
			s.broadcast()
		}
	}
}

func (s *Server) snapshotMessage() ([]byte, error) {
	return json.Marshal(s.Poll())
}

func (s *Server) broadcast() {
	if s.subscribers.Len() == 0 {
		return
	}

	data, err := s.snapshotMessage()
	if err != nil {
		slog.Error("Failed to marshal polling state", "error", err)
		return
	}

	for _, conn := range s.subscribers.All() {
		if !conn.trySend(data) {
			slog.Warn("Failed to send to subscriber - channel full", "subscriberID", conn.id)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		id:     uuid.New(),
		conn:   conn,
		send:   make(chan []byte, 16),
		server: s,
	}

	s.subscribe(wsConn)
	slog.Debug("Subscriber connected", "subscriberID", wsConn.id, "remoteAddr", r.RemoteAddr)

	go wsConn.writePump()
	go wsConn.readPump()
}

// subscribe registers c and queues a full snapshot for it. Registering first
// means a change racing the snapshot still reaches c through the hub.
func (s *Server) subscribe(c *wsConnection) {
	s.subscribers.Add(c)

	data, err := s.snapshotMessage()
	if err != nil {
		slog.Error("Failed to marshal polling state", "error", err)
		return
	}
	c.trySend(data)
}

// trySend queues data unless the connection is closed or backed up.
func (c *wsConnection) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.server.subscribers.Remove(c.id)
	close(c.send)
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
		slog.Debug("Subscriber disconnected", "subscriberID", c.id)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
