package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"messaging-core/internal/models"
	"messaging-core/internal/permissions"
	"messaging-core/internal/repositories"
	"messaging-core/internal/retention"
)

// Broadcaster routes events to live connections. Delivery is best-effort;
// offline users reconcile by re-fetching persisted messages on reconnect.
type Broadcaster interface {
	BroadcastToChat(chatID int, event models.Event)
	BroadcastToChatExcept(chatID, exceptUserID int, event models.Event)
	NotifyUser(userID int, event models.Event)
}

// Scheduler is the slice of the retention scheduler the service drives.
type Scheduler interface {
	Schedule(msg models.Message)
	Cancel(messageID int)
	ScheduleChatDeletion(chat models.Chat)
}

// PresenceSource answers online queries.
type PresenceSource interface {
	IsOnline(userID int) bool
}

// Messaging orchestrates chats, messages, permissions and retention.
type Messaging struct {
	chats     repositories.ChatRepository
	messages  repositories.MessageRepository
	settings  repositories.SettingsRepository
	engine    *permissions.Engine
	scheduler Scheduler
	hub       Broadcaster
	presence  PresenceSource
	log       zerolog.Logger
	timeout   time.Duration
}

// NewMessaging builds the service.
func NewMessaging(
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	settings repositories.SettingsRepository,
	engine *permissions.Engine,
	scheduler Scheduler,
	hub Broadcaster,
	presence PresenceSource,
	log zerolog.Logger,
	timeout time.Duration,
) *Messaging {
	return &Messaging{
		chats:     chats,
		messages:  messages,
		settings:  settings,
		engine:    engine,
		scheduler: scheduler,
		hub:       hub,
		presence:  presence,
		log:       log.With().Str("component", "messaging").Logger(),
		timeout:   timeout,
	}
}

// opCtx bounds every store-backed operation so a slow database fails the
// request instead of blocking the connection handler indefinitely.
func (s *Messaging) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// StartDirectChat returns the existing 1:1 chat between the two users or
// creates it. Calling it twice with the same pair yields the same chat.
func (s *Messaging) StartDirectChat(ctx context.Context, userID, otherID int) (models.Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	otherSettings, err := s.settings.GetSettings(ctx, otherID)
	if err != nil {
		return models.Chat{}, err
	}
	decision, err := s.engine.CanSendMessage(ctx, userID, otherID, otherSettings)
	if err != nil {
		return models.Chat{}, err
	}
	if !decision.Allowed {
		return models.Chat{}, denied(decision.Reason)
	}

	chat, err := s.chats.FindDirectChat(ctx, userID, otherID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, err
	}

	participants := []int{otherID}
	if userID == otherID {
		participants = nil
	}
	return s.chats.CreateChat(ctx, userID, participants, false, nil)
}

// CreateGroupChat creates a group after every participant passes the privacy
// check against the creator; one failed check fails the whole operation and
// nobody is added.
func (s *Messaging) CreateGroupChat(ctx context.Context, creatorID int, participantIDs []int, name string) (models.Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.checkAllCanBeMessaged(ctx, creatorID, participantIDs); err != nil {
		return models.Chat{}, err
	}

	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	return s.chats.CreateChat(ctx, creatorID, participantIDs, true, namePtr)
}

// AddParticipants adds users to a group chat atomically; each one must pass
// the privacy check against the adder.
func (s *Messaging) AddParticipants(ctx context.Context, adderID, chatID int, userIDs []int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return mapChatErr(err)
	}
	if !chat.IsGroup {
		return validationf("cannot add participants to a direct chat")
	}
	if err := s.requireParticipant(ctx, chatID, adderID); err != nil {
		return err
	}
	if err := s.checkAllCanBeMessaged(ctx, adderID, userIDs); err != nil {
		return err
	}
	return s.chats.AddParticipants(ctx, chatID, userIDs, models.RoleMember)
}

func (s *Messaging) checkAllCanBeMessaged(ctx context.Context, adderID int, userIDs []int) error {
	for _, id := range userIDs {
		settings, err := s.settings.GetSettings(ctx, id)
		if err != nil {
			return err
		}
		decision, err := s.engine.CanSendMessage(ctx, adderID, id, settings)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return denied(decision.Reason)
		}
	}
	return nil
}

// LeaveChat removes the caller from a group chat.
func (s *Messaging) LeaveChat(ctx context.Context, userID, chatID int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return mapChatErr(err)
	}
	if !chat.IsGroup {
		return validationf("cannot leave a direct chat")
	}
	if err := s.chats.RemoveParticipant(ctx, chatID, userID); err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	return nil
}

// ListChats returns the caller's chats with unread counts.
func (s *Messaging) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.chats.ListChats(ctx, userID)
}

// MuteChat flips the caller's mute flag on a chat.
func (s *Messaging) MuteChat(ctx context.Context, userID, chatID int, muted bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.chats.SetMuted(ctx, chatID, userID, muted); err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	return nil
}

// SendMessage validates, authorizes, persists and fans out a message. The
// effective retention policy is the strictest among the sender and all
// current participants.
func (s *Messaging) SendMessage(ctx context.Context, senderID, chatID int, content string, media models.MediaList) (models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if content == "" && len(media) == 0 {
		return models.Message{}, validationf("message needs text or media")
	}

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Message{}, mapChatErr(err)
	}
	participants, err := s.chats.GetParticipants(ctx, chatID)
	if err != nil {
		return models.Message{}, err
	}
	if !containsUser(participants, senderID) {
		return models.Message{}, ErrNotParticipant
	}

	senderSettings, err := s.settings.GetSettings(ctx, senderID)
	if err != nil {
		return models.Message{}, err
	}
	policies := []string{senderSettings.RetentionPeriod}
	for _, p := range participants {
		if p.UserID == senderID {
			continue
		}
		other, err := s.settings.GetSettings(ctx, p.UserID)
		if err != nil {
			return models.Message{}, err
		}
		if !chat.IsGroup {
			decision, err := s.engine.CanSendMessage(ctx, senderID, p.UserID, other)
			if err != nil {
				return models.Message{}, err
			}
			if !decision.Allowed {
				return models.Message{}, denied(decision.Reason)
			}
		}
		policies = append(policies, other.RetentionPeriod)
	}

	now := time.Now()
	effective := retention.StrictestOf(s.log, policies...)
	msg := models.Message{
		ChatID:          chatID,
		SenderID:        senderID,
		Content:         content,
		Media:           media,
		RetentionPolicy: effective,
		AutoDeleteAt:    retention.ComputeExpiry(effective, now),
	}
	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}

	// Secondary update; a failure here is logged, never rolled back.
	if err := s.chats.UpdateLastRead(ctx, chatID, senderID, stored.CreatedAt); err != nil {
		s.log.Warn().Err(err).Int("chat_id", chatID).Int("user_id", senderID).Msg("last_read update failed")
	}

	s.scheduler.Schedule(stored)
	s.fanOutMessage(participants, stored, models.EventMessageNew)
	return stored, nil
}

// fanOutMessage emits to the chat room and to each participant's personal
// notification channel, so clients that have not joined the room still hear
// about it. Muted participants skip the personal channel only.
func (s *Messaging) fanOutMessage(participants []models.ChatParticipant, msg models.Message, eventType string) {
	event := models.Event{Type: eventType, ChatID: msg.ChatID, Message: &msg}
	s.hub.BroadcastToChat(msg.ChatID, event)
	for _, p := range participants {
		if p.UserID == msg.SenderID || p.Muted {
			continue
		}
		s.hub.NotifyUser(p.UserID, event)
	}
}

// GetChatMessages returns a newest-first page of non-deleted messages and
// advances the caller's last_read mark.
func (s *Messaging) GetChatMessages(ctx context.Context, userID, chatID, limit int, before *time.Time) ([]models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	msgs, err := s.messages.ListChatMessages(ctx, chatID, limit, before)
	if err != nil {
		return nil, err
	}
	if err := s.chats.UpdateLastRead(ctx, chatID, userID, time.Now()); err != nil {
		s.log.Warn().Err(err).Int("chat_id", chatID).Int("user_id", userID).Msg("last_read update failed")
	}
	return msgs, nil
}

// MarkMessageRead marks a message read on behalf of the caller. Re-marking an
// already-read message is a no-op that still advances last_read and fires no
// duplicate receipt. An after_read message is tombstoned synchronously with
// the acknowledgement.
func (s *Messaging) MarkMessageRead(ctx context.Context, readerID, messageID int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return mapMessageErr(err)
	}
	if msg.IsDeleted {
		return ErrNotFound
	}
	if err := s.requireParticipant(ctx, msg.ChatID, readerID); err != nil {
		return err
	}

	if err := s.chats.UpdateLastRead(ctx, msg.ChatID, readerID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Int("chat_id", msg.ChatID).Int("user_id", readerID).Msg("last_read update failed")
	}
	if msg.SenderID == readerID {
		return nil
	}

	changed, err := s.messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if msg.RetentionPolicy == models.RetentionAfterRead {
		if _, err := s.messages.ExpireMessage(ctx, messageID); err != nil && !errors.Is(err, repositories.ErrMessageNotFound) {
			return err
		}
		s.scheduler.Cancel(messageID)
		s.hub.BroadcastToChat(msg.ChatID, models.Event{
			Type:      models.EventMessageDeleted,
			ChatID:    msg.ChatID,
			MessageID: messageID,
		})
	}

	readerSettings, err := s.settings.GetSettings(ctx, readerID)
	if err != nil {
		return err
	}
	senderSettings, err := s.settings.GetSettings(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	if permissions.ShouldSendReadReceipt(readerSettings, senderSettings) {
		s.hub.NotifyUser(msg.SenderID, models.Event{
			Type:      models.EventMessageRead,
			ChatID:    msg.ChatID,
			MessageID: messageID,
			ReadBy:    readerID,
		})
	}
	return nil
}

// MarkMessagesRead marks a batch; vanished messages are skipped.
func (s *Messaging) MarkMessagesRead(ctx context.Context, readerID int, messageIDs []int) error {
	for _, id := range messageIDs {
		if err := s.MarkMessageRead(ctx, readerID, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// EditMessage lets the sender change a live message's text.
func (s *Messaging) EditMessage(ctx context.Context, userID, messageID int, content string) (models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if content == "" {
		return models.Message{}, validationf("edited content must not be empty")
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapMessageErr(err)
	}
	if msg.IsDeleted {
		return models.Message{}, ErrNotFound
	}
	if msg.SenderID != userID {
		return models.Message{}, denied(ReasonNotMessageSender)
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, userID, content)
	if err != nil {
		return models.Message{}, mapMessageErr(err)
	}

	participants, err := s.chats.GetParticipants(ctx, msg.ChatID)
	if err != nil {
		s.log.Warn().Err(err).Int("chat_id", msg.ChatID).Msg("participant load failed, room-only broadcast")
		s.hub.BroadcastToChat(msg.ChatID, models.Event{Type: models.EventMessageEdited, ChatID: msg.ChatID, Message: &updated})
		return updated, nil
	}
	s.fanOutMessage(participants, updated, models.EventMessageEdited)
	return updated, nil
}

// DeleteMessage soft-deletes a message; only the original sender may do so.
// Any pending scheduled deletion is canceled.
func (s *Messaging) DeleteMessage(ctx context.Context, userID, messageID int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return mapMessageErr(err)
	}
	if msg.IsDeleted {
		return ErrNotFound
	}
	if msg.SenderID != userID {
		return denied(ReasonNotMessageSender)
	}

	if err := s.messages.SoftDelete(ctx, messageID, userID); err != nil {
		return mapMessageErr(err)
	}
	s.scheduler.Cancel(messageID)
	s.hub.BroadcastToChat(msg.ChatID, models.Event{
		Type:      models.EventMessageDeleted,
		ChatID:    msg.ChatID,
		MessageID: messageID,
	})
	return nil
}

// ForwardMessage copies a message into another chat, gated by the original
// sender's forwarding flag. The forwarder must belong to the source chat or
// be the original sender.
func (s *Messaging) ForwardMessage(ctx context.Context, forwarderID, messageID, targetChatID int) (models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	orig, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapMessageErr(err)
	}
	if orig.IsDeleted {
		return models.Message{}, ErrNotFound
	}

	isSourceParticipant, err := s.chats.IsParticipant(ctx, orig.ChatID, forwarderID)
	if err != nil {
		return models.Message{}, err
	}
	origSenderSettings, err := s.settings.GetSettings(ctx, orig.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	decision := permissions.CanForwardMessage(origSenderSettings, forwarderID, orig.SenderID, isSourceParticipant)
	if !decision.Allowed {
		return models.Message{}, denied(decision.Reason)
	}

	return s.SendMessage(ctx, forwarderID, targetChatID, orig.Content, orig.Media)
}

// ScheduleChatDeletion lets a chat admin schedule whole-chat deletion at a
// future timestamp.
func (s *Messaging) ScheduleChatDeletion(ctx context.Context, adminID, chatID int, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if !at.After(time.Now()) {
		return validationf("deletion time must be in the future")
	}
	participant, err := s.chats.GetParticipant(ctx, chatID, adminID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	if participant.Role != models.RoleAdmin {
		return denied(ReasonNotChatAdmin)
	}

	if err := s.chats.ScheduleDeletion(ctx, chatID, at); err != nil {
		return mapChatErr(err)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return mapChatErr(err)
	}
	s.scheduler.ScheduleChatDeletion(chat)
	return nil
}

// Typing relays a typing indicator to the room, excluding the typist. Nothing
// is persisted.
func (s *Messaging) Typing(ctx context.Context, userID, chatID int, isTyping bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	s.hub.BroadcastToChatExcept(chatID, userID, models.Event{
		Type:     models.EventChatTyping,
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: isTyping,
	})
	return nil
}

// OnlineFriends returns the caller's currently online friends, filtered by
// each friend's visibility settings.
func (s *Messaging) OnlineFriends(ctx context.Context, userID int) ([]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	friends, err := s.settings.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}

	online := make([]int, 0, len(friends))
	for _, friendID := range friends {
		if !s.presence.IsOnline(friendID) {
			continue
		}
		friendSettings, err := s.settings.GetSettings(ctx, friendID)
		if err != nil {
			return nil, err
		}
		visible, err := s.engine.CanSeeOnlineStatus(ctx, userID, friendID, friendSettings)
		if err != nil {
			return nil, err
		}
		if visible {
			online = append(online, friendID)
		}
	}
	return online, nil
}

// NotifyPresence pushes a presence edge to the user's online friends who are
// allowed to see it.
func (s *Messaging) NotifyPresence(ctx context.Context, userID int, online bool) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	eventType := models.EventPresenceOnline
	if !online {
		eventType = models.EventPresenceOffline
	}

	friends, err := s.settings.ListFriends(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("presence fan-out skipped")
		return
	}
	userSettings, err := s.settings.GetSettings(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("presence fan-out skipped")
		return
	}

	for _, friendID := range friends {
		if !s.presence.IsOnline(friendID) {
			continue
		}
		visible, err := s.engine.CanSeeOnlineStatus(ctx, friendID, userID, userSettings)
		if err != nil || !visible {
			continue
		}
		s.hub.NotifyUser(friendID, models.Event{Type: eventType, UserID: userID})
	}
}

// IsParticipant exposes the membership check for connection handlers.
func (s *Messaging) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.chats.IsParticipant(ctx, chatID, userID)
}

func (s *Messaging) requireParticipant(ctx context.Context, chatID, userID int) error {
	member, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotParticipant
	}
	return nil
}

func containsUser(participants []models.ChatParticipant, userID int) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func mapChatErr(err error) error {
	if errors.Is(err, repositories.ErrChatNotFound) {
		return ErrNotFound
	}
	return err
}

func mapMessageErr(err error) error {
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return ErrNotFound
	}
	return err
}
