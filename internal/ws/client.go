package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"messaging-core/internal/models"
)

// Client wraps one websocket connection. A single connection receives fan-out
// from many goroutines, so writes are serialized with a mutex.
type Client struct {
	conn   *websocket.Conn
	userID int
	info   ConnInfo

	writeMu sync.Mutex

	// joined rooms, guarded by the hub lock.
	rooms map[int]struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		conn:   conn,
		userID: info.UserID,
		info:   info,
		rooms:  make(map[int]struct{}),
	}
}

// UserID returns the verified owner of the connection.
func (c *Client) UserID() int { return c.userID }

// Info returns connection metadata.
func (c *Client) Info() ConnInfo { return c.info }

// Send writes one event to the connection.
func (c *Client) Send(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ReadCommand blocks for the next inbound client command.
func (c *Client) ReadCommand() (models.Command, error) {
	var cmd models.Command
	err := c.conn.ReadJSON(&cmd)
	return cmd, err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
