package room

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

const (
	MessageWelcome      = "welcome"
	MessageMemberJoined = "member_joined"
	MessageProgress     = "progress"
	MessageClosed       = "room_closed"
)

// Message is the only payload the hub sends. Progress carries a member's
// day index and market digest so peers can spot divergence.
type Message struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Day      int       `json:"day,omitempty"`
	Digest   string    `json:"digest,omitempty"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans room messages out to websocket subscribers.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger,
	}
}

// ServeWS upgrades the request and streams room messages to the grant
// holder until the connection drops. Inbound frames are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, g Grant) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err, "room_id", g.RoomID)
		return
	}
	sub := &subscriber{conn: conn, userID: g.UserID}
	h.subscribe(g.RoomID, sub)

	hello, _ := json.Marshal(Message{Type: MessageWelcome, RoomID: g.RoomID, UserID: g.UserID, At: time.Now().UTC()})
	if err := sub.write(hello); err != nil {
		h.unsubscribe(g.RoomID, sub)
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unsubscribe(g.RoomID, sub)
			return
		}
	}
}

func (h *Hub) subscribe(roomID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) unsubscribe(roomID string, sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	sub.conn.Close()
}

func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// Broadcast sends msg to every subscriber of its room and drops the ones
// whose write fails.
func (h *Hub) Broadcast(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal room message", "err", err, "room_id", msg.RoomID)
		return
	}
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.rooms[msg.RoomID]))
	for sub := range h.rooms[msg.RoomID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			h.log.Debug("dropping room subscriber", "err", err, "room_id", msg.RoomID, "user_id", sub.userID)
			h.unsubscribe(msg.RoomID, sub)
		}
	}
}

// CloseRoom notifies and disconnects every subscriber of roomID.
func (h *Hub) CloseRoom(roomID string) {
	h.Broadcast(Message{Type: MessageClosed, RoomID: roomID})
	h.mu.Lock()
	subs := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	for sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
			time.Now().Add(writeWait))
		sub.mu.Unlock()
		sub.conn.Close()
	}
}
