package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is a live connection as seen by the Hub.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// Send queues ev without blocking. It returns false when the connection
	// is closed or its outbound queue is full.
	Send(ev Event) bool
	// Close tears the connection down. It must be safe to call repeatedly.
	Close()
}

// Hub owns the presence registry and the room multiplexer and serializes
// every mutation of both. Publish enqueues while holding the lock, so events
// published to a conversation reach each member in publish order.
type Hub struct {
	mu       sync.Mutex
	conns    map[Conn]struct{}
	presence *Presence
	rooms    *Rooms
	closed   bool
	log      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns:    make(map[Conn]struct{}),
		presence: NewPresence(),
		rooms:    NewRooms(),
		log:      log,
	}
}

// Register tracks c so it receives presence broadcasts. It returns false
// once the hub has shut down.
func (h *Hub) Register(c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

// Unregister drops c from every room and, if c still owns a presence entry,
// marks that user offline. Unregistering twice is a no-op.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	h.rooms.LeaveAll(c)

	var failed []Conn
	userID, wasOnline := h.presence.SetOffline(c)
	if wasOnline {
		failed = h.broadcastLocked(Event{
			Name: EventUserStatus,
			Data: StatusPayload{UserID: userID, Status: StatusOffline},
		})
	}
	h.mu.Unlock()

	if wasOnline {
		h.log.Info("user offline", zap.String("user_id", userID), zap.String("conn", c.ID()))
	}
	h.drop(failed)
}

// SetOnline maps userID to c, replacing any earlier connection for that
// user, and announces the user to every connection.
func (h *Hub) SetOnline(userID string, c Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	h.presence.SetOnline(userID, c)
	failed := h.broadcastLocked(Event{
		Name: EventUserStatus,
		Data: StatusPayload{UserID: userID, Status: StatusOnline},
	})
	h.mu.Unlock()

	h.log.Info("user online", zap.String("user_id", userID), zap.String("conn", c.ID()))
	h.drop(failed)
}

// Lookup returns the connection currently registered for userID.
func (h *Hub) Lookup(userID string) (Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Lookup(userID)
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.Lookup(userID)
	return ok
}

// OnlineUsers lists the ids of online users.
func (h *Hub) OnlineUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Users()
}

// Join adds c to the conversation's room.
func (h *Hub) Join(c Conn, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	h.rooms.Join(c, conversationID)
}

// Leave removes c from the conversation's room.
func (h *Hub) Leave(c Conn, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms.Leave(c, conversationID)
}

// IsMember reports whether c has joined the conversation's room.
func (h *Hub) IsMember(c Conn, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.IsMember(c, conversationID)
}

// Publish delivers ev to every connection joined to the conversation and
// returns how many accepted it. No members is not an error.
func (h *Hub) Publish(conversationID string, ev Event) int {
	return h.PublishExcept(conversationID, ev, nil)
}

// PublishExcept is Publish with one connection excluded.
func (h *Hub) PublishExcept(conversationID string, ev Event, except Conn) int {
	h.mu.Lock()
	var (
		delivered int
		failed    []Conn
	)
	for _, c := range h.rooms.Members(conversationID) {
		if c == except {
			continue
		}
		if c.Send(ev) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	h.mu.Unlock()

	h.drop(failed)
	return delivered
}

// broadcastLocked sends ev to every registered connection and returns the
// ones that could not take it. h.mu must be held.
func (h *Hub) broadcastLocked(ev Event) []Conn {
	var failed []Conn
	for c := range h.conns {
		if !c.Send(ev) {
			failed = append(failed, c)
		}
	}
	return failed
}

// drop closes and unregisters connections whose queue overflowed.
func (h *Hub) drop(conns []Conn) {
	for _, c := range conns {
		h.log.Warn("dropping slow connection", zap.String("conn", c.ID()))
		c.Close()
		h.Unregister(c)
	}
}

// Counts reports registered connections, online users and active rooms.
func (h *Hub) Counts() (conns, online, rooms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), len(h.presence.byUser), h.rooms.Len()
}

// Shutdown closes every connection and refuses new registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	h.log.Info("hub shut down", zap.Int("connections", len(conns)))
}
