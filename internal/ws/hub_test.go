package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/models"
)

// testConn is one end-to-end websocket pair: the server side wrapped in a
// Client, the raw client side for asserting on delivered frames.
type testConn struct {
	client *Client
	peer   *websocket.Conn
}

func dialTestConn(t *testing.T, userID int) *testConn {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	conn := <-serverSide
	client := NewClient(conn, ConnInfo{ConnID: "test", UserID: userID})
	t.Cleanup(func() { client.Close() })
	return &testConn{client: client, peer: peer}
}

func (c *testConn) readEvent(t *testing.T) models.Event {
	t.Helper()
	c.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := c.peer.ReadMessage()
	require.NoError(t, err)
	var event models.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func (c *testConn) assertNoEvent(t *testing.T) {
	t.Helper()
	c.peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := c.peer.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcastToChatReachesRoomMembers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := dialTestConn(t, 1)
	b := dialTestConn(t, 2)
	c := dialTestConn(t, 3)

	for _, conn := range []*testConn{a, b, c} {
		hub.AddClient(conn.client)
	}
	hub.JoinRoom(5, a.client)
	hub.JoinRoom(5, b.client)

	hub.BroadcastToChat(5, models.Event{Type: models.EventMessageNew, ChatID: 5})

	assert.Equal(t, models.EventMessageNew, a.readEvent(t).Type)
	assert.Equal(t, models.EventMessageNew, b.readEvent(t).Type)
	c.assertNoEvent(t)
}

func TestBroadcastToChatExceptSkipsAllUserConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	typist1 := dialTestConn(t, 1)
	typist2 := dialTestConn(t, 1)
	other := dialTestConn(t, 2)

	for _, conn := range []*testConn{typist1, typist2, other} {
		hub.AddClient(conn.client)
		hub.JoinRoom(5, conn.client)
	}

	hub.BroadcastToChatExcept(5, 1, models.Event{Type: models.EventChatTyping, ChatID: 5, UserID: 1})

	assert.Equal(t, models.EventChatTyping, other.readEvent(t).Type)
	typist1.assertNoEvent(t)
	typist2.assertNoEvent(t)
}

func TestNotifyUserReachesEveryDevice(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	phone := dialTestConn(t, 1)
	laptop := dialTestConn(t, 1)
	stranger := dialTestConn(t, 2)

	for _, conn := range []*testConn{phone, laptop, stranger} {
		hub.AddClient(conn.client)
	}

	hub.NotifyUser(1, models.Event{Type: models.EventMessageRead, MessageID: 9})

	assert.Equal(t, 9, phone.readEvent(t).MessageID)
	assert.Equal(t, 9, laptop.readEvent(t).MessageID)
	stranger.assertNoEvent(t)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := dialTestConn(t, 1)
	hub.AddClient(a.client)
	hub.JoinRoom(5, a.client)
	hub.LeaveRoom(5, a.client)

	hub.BroadcastToChat(5, models.Event{Type: models.EventMessageNew, ChatID: 5})
	a.assertNoEvent(t)
}

func TestRemoveClientCleansRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := dialTestConn(t, 1)
	hub.AddClient(a.client)
	hub.JoinRoom(5, a.client)
	hub.JoinRoom(6, a.client)

	hub.RemoveClient(a.client)

	hub.BroadcastToChat(5, models.Event{Type: models.EventMessageNew, ChatID: 5})
	hub.BroadcastToChat(6, models.Event{Type: models.EventMessageNew, ChatID: 6})
	hub.NotifyUser(1, models.Event{Type: models.EventMessageNew})
	a.assertNoEvent(t)
}
