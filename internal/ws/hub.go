package ws

import (
	"sync"

	"github.com/rs/zerolog"

	"messaging-core/internal/models"
)

// Hub routes events to live connections. It keeps two indexes: chat rooms,
// which clients join and leave explicitly, and per-user notification
// channels, which every connection of a user belongs to for its lifetime.
// Delivery is best-effort to currently connected sockets only.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Client]bool
	users map[int]map[*Client]bool
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[int]map[*Client]bool),
		users: make(map[int]map[*Client]bool),
		log:   log.With().Str("component", "hub").Logger(),
	}
}

// AddClient registers a connection on its owner's notification channel.
func (h *Hub) AddClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[client.userID]; !ok {
		h.users[client.userID] = make(map[*Client]bool)
	}
	h.users[client.userID][client] = true
}

// RemoveClient drops a connection from its notification channel and from
// every room it joined. Empty sets are removed from the maps.
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[client.userID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.userID)
		}
	}
	for chatID := range client.rooms {
		h.leaveRoomLocked(chatID, client)
	}
}

// JoinRoom subscribes a connection to a chat room.
func (h *Hub) JoinRoom(chatID int, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]bool)
	}
	h.rooms[chatID][client] = true
	client.rooms[chatID] = struct{}{}
}

// LeaveRoom unsubscribes a connection from a chat room.
func (h *Hub) LeaveRoom(chatID int, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(chatID, client)
}

func (h *Hub) leaveRoomLocked(chatID int, client *Client) {
	if conns, ok := h.rooms[chatID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(client.rooms, chatID)
}

// BroadcastToChat sends an event to every connection in the chat room.
func (h *Hub) BroadcastToChat(chatID int, event models.Event) {
	h.deliver(h.roomSnapshot(chatID, -1), event)
}

// BroadcastToChatExcept sends to the room excluding one user's connections,
// used for typing indicators.
func (h *Hub) BroadcastToChatExcept(chatID, exceptUserID int, event models.Event) {
	h.deliver(h.roomSnapshot(chatID, exceptUserID), event)
}

// NotifyUser sends an event to every active connection of one user.
func (h *Hub) NotifyUser(userID int, event models.Event) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.users[userID]))
	for client := range h.users[userID] {
		conns = append(conns, client)
	}
	h.mu.RUnlock()

	h.deliver(conns, event)
}

func (h *Hub) roomSnapshot(chatID, exceptUserID int) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Client, 0, len(h.rooms[chatID]))
	for client := range h.rooms[chatID] {
		if client.userID == exceptUserID {
			continue
		}
		conns = append(conns, client)
	}
	return conns
}

func (h *Hub) deliver(conns []*Client, event models.Event) {
	for _, client := range conns {
		if err := client.Send(event); err != nil {
			h.log.Warn().Err(err).Int("user_id", client.userID).Msg("websocket write error")
			client.Close()
			h.RemoveClient(client)
		}
	}
}
