// Package room tracks which connections belong to which project and
// performs join/leave/broadcast.
//
// Rooms are not pre-provisioned: a room materializes when its first member
// joins and is discarded when its last member leaves. Within one room,
// broadcasts reach every member in the order they were issued. Each member
// owns a bounded send queue drained by a single writer goroutine, since
// websocket writes must be serialized; a member that cannot keep up has
// messages dropped rather than buffered without bound, and never receives
// a backfill.
package room

import (
	"log"
	"sync"

	"github.com/devroom-ai/devroom/model"
)

// sendQueueSize bounds each member's outbound queue.
const sendQueueSize = 64

// Conn is the transport half of a room member. Send must be safe to call
// from the member's writer goroutine only.
type Conn interface {
	Send(payload any) error
	Close() error
}

type member struct {
	session *model.Session
	conn    Conn
	queue   chan any
}

// Hub manages all project rooms.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*member // projectID -> connID -> member
	conns map[string]*member            // connID -> member
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*member),
		conns: make(map[string]*member),
	}
}

// Join adds the session's connection to the room keyed by its project ID,
// creating the room if absent, and starts the member's writer goroutine.
func (h *Hub) Join(session *model.Session, conn Conn) {
	m := &member{
		session: session,
		conn:    conn,
		queue:   make(chan any, sendQueueSize),
	}

	h.mu.Lock()
	roomMembers, ok := h.rooms[session.ProjectID]
	if !ok {
		roomMembers = make(map[string]*member)
		h.rooms[session.ProjectID] = roomMembers
	}
	roomMembers[session.ConnID] = m
	h.conns[session.ConnID] = m
	size := len(roomMembers)
	h.mu.Unlock()

	go h.writeLoop(m)

	log.Printf("room %s: %s joined (%d members)", session.ProjectID, session.ConnID, size)
}

// Leave removes the connection from its room. If the room becomes empty it
// is discarded. Safe to call for an unknown or already-removed connection.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	m, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)

	projectID := m.session.ProjectID
	if roomMembers, ok := h.rooms[projectID]; ok {
		delete(roomMembers, connID)
		if len(roomMembers) == 0 {
			delete(h.rooms, projectID)
		}
	}
	// No enqueue can follow removal: broadcasts hold the same lock.
	close(m.queue)
	h.mu.Unlock()

	log.Printf("room %s: %s left", projectID, connID)
}

// Broadcast delivers payload to every member of the project's room except,
// optionally, the connection identified by excludeConnID. Membership is
// snapshotted and enqueued under the hub lock, so a broadcast never
// observes a half-updated membership set and per-room issuance order is
// preserved.
func (h *Hub) Broadcast(projectID, excludeConnID string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID, m := range h.rooms[projectID] {
		if connID == excludeConnID {
			continue
		}
		h.enqueue(m, payload)
	}
}

// SendTo delivers payload to a single connection. Used for originator-only
// notices like typing indicators and error reports.
func (h *Hub) SendTo(connID string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.conns[connID]; ok {
		h.enqueue(m, payload)
	}
}

// Members returns the connection IDs currently joined to a project's room.
func (h *Hub) Members(projectID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.rooms[projectID]))
	for connID := range h.rooms[projectID] {
		ids = append(ids, connID)
	}
	return ids
}

// Session returns the session bound to a connection, or nil.
func (h *Hub) Session(connID string) *model.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.conns[connID]; ok {
		return m.session
	}
	return nil
}

// enqueue adds payload to a member's queue, dropping it if the queue is
// full. Callers must hold h.mu.
func (h *Hub) enqueue(m *member, payload any) {
	select {
	case m.queue <- payload:
	default:
		log.Printf("room %s: dropping message for slow consumer %s",
			m.session.ProjectID, m.session.ConnID)
	}
}

// writeLoop drains a member's queue onto its connection. A write failure
// removes the member; the queue close (from Leave) ends the loop.
func (h *Hub) writeLoop(m *member) {
	for payload := range m.queue {
		if err := m.conn.Send(payload); err != nil {
			log.Printf("room %s: write to %s failed: %v",
				m.session.ProjectID, m.session.ConnID, err)
			h.Leave(m.session.ConnID)
			break
		}
	}
	m.conn.Close()
}
