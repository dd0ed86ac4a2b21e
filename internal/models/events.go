package models

// Outbound websocket event types.
const (
	EventMessageNew      = "message:new"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventMessageRead     = "message:read"
	EventChatTyping      = "chat:typing"
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventOnlineFriends   = "presence:friends"
	EventTypeError       = "error"
)

// Inbound client command actions.
const (
	ActionJoin          = "join"
	ActionLeave         = "leave"
	ActionSendMessage   = "send_message"
	ActionMarkRead      = "mark_read"
	ActionMarkReadBatch = "mark_read_batch"
	ActionEditMessage   = "edit_message"
	ActionDeleteMessage = "delete_message"
	ActionTyping        = "typing"
	ActionSetPresence   = "set_presence"
	ActionOnlineFriends = "online_friends"
)

// Event is broadcast through websockets.
type Event struct {
	Type      string      `json:"type"`
	ChatID    int         `json:"chat_id,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	MessageID int         `json:"message_id,omitempty"`
	UserID    int         `json:"user_id,omitempty"`
	ReadBy    int         `json:"read_by,omitempty"`
	IsTyping  bool        `json:"is_typing,omitempty"`
	UserIDs   []int       `json:"user_ids,omitempty"`
	Error     *EventError `json:"error,omitempty"`
}

// EventError is the structured error surfaced to the originating connection.
type EventError struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	Action string `json:"action,omitempty"`
}

// Command is an inbound client command on the websocket connection.
type Command struct {
	Action     string    `json:"action"`
	ChatID     int       `json:"chat_id,omitempty"`
	MessageID  int       `json:"message_id,omitempty"`
	MessageIDs []int     `json:"message_ids,omitempty"`
	Content    string    `json:"content,omitempty"`
	Media      MediaList `json:"media,omitempty"`
	IsTyping   bool      `json:"is_typing,omitempty"`
	Status     string    `json:"status,omitempty"`
}
