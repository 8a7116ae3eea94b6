package server

import (
	"sync"

	"github.com/google/uuid"
)

// SubscriberList tracks the websocket connections receiving polling state pushes.
type SubscriberList struct {
	subscribers map[uuid.UUID]*wsConnection
	mu          sync.RWMutex
}

func NewSubscriberList() *SubscriberList {
	return &SubscriberList{
		subscribers: make(map[uuid.UUID]*wsConnection),
	}
}

func (sl *SubscriberList) Add(conn *wsConnection) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.subscribers[conn.id] = conn
}

func (sl *SubscriberList) Remove(id uuid.UUID) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	delete(sl.subscribers, id)
}

func (sl *SubscriberList) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.subscribers)
}

// All returns a snapshot so callers can send without holding the lock.
func (sl *SubscriberList) All() []*wsConnection {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	conns := make([]*wsConnection, 0, len(sl.subscribers))
	for _, conn := range sl.subscribers {
		conns = append(conns, conn)
	}
	return conns
}
