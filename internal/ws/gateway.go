package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"messaging-core/internal/auth"
	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/presence"
	"messaging-core/internal/service"
)

// Gateway authenticates incoming websocket connections, registers them with
// the presence registry and dispatches inbound client commands.
type Gateway struct {
	hub       *Hub
	registry  *presence.Registry
	svc       *service.Messaging
	verifier  *auth.Verifier
	publisher observability.Publisher
	log       zerolog.Logger
}

// NewGateway constructs a Gateway. A nil publisher disables lifecycle events.
func NewGateway(hub *Hub, registry *presence.Registry, svc *service.Messaging, verifier *auth.Verifier, publisher observability.Publisher, log zerolog.Logger) *Gateway {
	return &Gateway{
		hub:       hub,
		registry:  registry,
		svc:       svc,
		verifier:  verifier,
		publisher: publisher,
		log:       log.With().Str("component", "gateway").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection after authenticating it. Connections without
// a verified identity are rejected before any registration happens.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-core/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, err := g.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info)

	g.hub.AddClient(client)
	wentOnline := g.registry.Register(identity.UserID, info.ConnID)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	observability.SetOnlineUsers(len(g.registry.ListOnlineUsers()))
	g.publishLifecycle(ctx, "ws_connect", info, "")

	if wentOnline {
		g.svc.NotifyPresence(ctx, identity.UserID, true)
	}

	// The request context dies when this handler returns, long before the
	// connection does. Detach it for the read loop, keeping the trace values.
	go g.readLoop(context.WithoutCancel(ctx), client)
}

func (g *Gateway) authenticate(c *gin.Context) (auth.Identity, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 {
		return auth.Identity{}, service.ErrNotAuthenticated
	}
	return g.verifier.VerifyToken(parts[1])
}

func (g *Gateway) readLoop(ctx context.Context, client *Client) {
	info := client.Info()
	var closeReason string
	defer func() {
		g.hub.RemoveClient(client)
		wentOffline := g.registry.Remove(info.UserID, info.ConnID)

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		observability.SetOnlineUsers(len(g.registry.ListOnlineUsers()))
		g.publishLifecycle(ctx, "ws_disconnect", info, closeReason)

		if wentOffline {
			g.svc.NotifyPresence(ctx, info.UserID, false)
		}
		client.Close()
	}()

	for {
		cmd, err := client.ReadCommand()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				g.publishLifecycle(ctx, "ws_error", info, closeReason)
			}
			return
		}
		g.dispatch(ctx, client, cmd)
	}
}

// dispatch runs one inbound command. Recoverable failures are surfaced to the
// originating connection as structured error events and never affect other
// connections.
func (g *Gateway) dispatch(ctx context.Context, client *Client, cmd models.Command) {
	userID := client.UserID()
	observability.IncWSEvent(cmd.Action)

	var err error
	switch cmd.Action {
	case models.ActionJoin:
		var member bool
		member, err = g.svc.IsParticipant(ctx, cmd.ChatID, userID)
		if err == nil && !member {
			err = service.ErrNotParticipant
		}
		if err == nil {
			g.hub.JoinRoom(cmd.ChatID, client)
		}
	case models.ActionLeave:
		g.hub.LeaveRoom(cmd.ChatID, client)
	case models.ActionSendMessage:
		_, err = g.svc.SendMessage(ctx, userID, cmd.ChatID, cmd.Content, cmd.Media)
	case models.ActionMarkRead:
		err = g.svc.MarkMessageRead(ctx, userID, cmd.MessageID)
	case models.ActionMarkReadBatch:
		err = g.svc.MarkMessagesRead(ctx, userID, cmd.MessageIDs)
	case models.ActionEditMessage:
		_, err = g.svc.EditMessage(ctx, userID, cmd.MessageID, cmd.Content)
	case models.ActionDeleteMessage:
		err = g.svc.DeleteMessage(ctx, userID, cmd.MessageID)
	case models.ActionTyping:
		err = g.svc.Typing(ctx, userID, cmd.ChatID, cmd.IsTyping)
	case models.ActionSetPresence:
		g.svc.NotifyPresence(ctx, userID, cmd.Status != "offline")
	case models.ActionOnlineFriends:
		var online []int
		online, err = g.svc.OnlineFriends(ctx, userID)
		if err == nil {
			err = client.Send(models.Event{Type: models.EventOnlineFriends, UserIDs: online})
		}
	default:
		err = service.ErrValidation
	}

	if err != nil {
		g.sendError(client, cmd.Action, err)
	}
}

func (g *Gateway) sendError(client *Client, action string, err error) {
	code := "internal_error"
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		code = "not_participant"
	case errors.Is(err, service.ErrPermissionDenied):
		code = "permission_denied"
	case errors.Is(err, service.ErrNotFound):
		code = "not_found"
	case errors.Is(err, service.ErrValidation):
		code = "validation_error"
	default:
		g.log.Error().Err(err).Str("action", action).Int("user_id", client.UserID()).Msg("command failed")
	}

	event := models.Event{
		Type: models.EventTypeError,
		Error: &models.EventError{
			Code:   code,
			Reason: service.DenyReason(err),
			Action: action,
		},
	}
	if sendErr := client.Send(event); sendErr != nil {
		g.log.Warn().Err(sendErr).Int("user_id", client.UserID()).Msg("error event write failed")
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, eventName string, info ConnInfo, reason string) {
	if g.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       eventName,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	err := g.publisher.PublishJSON(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: eventName,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	if err != nil {
		observability.IncAMQPPublishError()
	}
}
