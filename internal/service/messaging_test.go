package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
	"messaging-core/internal/models"
	"messaging-core/internal/permissions"
	"messaging-core/internal/repositories"
	"messaging-core/internal/service"
)

type fixture struct {
	chats     *mocks.ChatRepository
	messages  *mocks.MessageRepository
	settings  *mocks.SettingsRepository
	scheduler *mocks.Scheduler
	hub       *mocks.Broadcaster
	presence  *mocks.Presence
	svc       *service.Messaging
}

func newFixture() *fixture {
	f := &fixture{
		chats:     new(mocks.ChatRepository),
		messages:  new(mocks.MessageRepository),
		settings:  new(mocks.SettingsRepository),
		scheduler: new(mocks.Scheduler),
		hub:       new(mocks.Broadcaster),
		presence:  new(mocks.Presence),
	}
	engine := permissions.NewEngine(f.settings)
	f.svc = service.NewMessaging(f.chats, f.messages, f.settings, engine, f.scheduler, f.hub, f.presence, zerolog.Nop(), time.Second)
	return f
}

func participant(chatID, userID int, opts ...func(*models.ChatParticipant)) models.ChatParticipant {
	p := models.ChatParticipant{ChatID: chatID, UserID: userID, Role: models.RoleMember}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func settingsFor(userID int, retention string) models.PrivacySettings {
	s := models.DefaultPrivacySettings(userID)
	s.RetentionPeriod = retention
	return s
}

func TestStartDirectChatReturnsExistingChat(t *testing.T) {
	f := newFixture()
	f.settings.On("GetSettings", mock.Anything, 2).Return(models.DefaultPrivacySettings(2), nil)
	f.chats.On("FindDirectChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10}, nil)

	chat, err := f.svc.StartDirectChat(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, chat.ID)
	f.chats.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartDirectChatCreatesWhenMissing(t *testing.T) {
	f := newFixture()
	f.settings.On("GetSettings", mock.Anything, 2).Return(models.DefaultPrivacySettings(2), nil)
	f.chats.On("FindDirectChat", mock.Anything, 1, 2).Return(models.Chat{}, repositories.ErrChatNotFound)
	f.chats.On("CreateChat", mock.Anything, 1, []int{2}, false, (*string)(nil)).Return(models.Chat{ID: 11}, nil)

	chat, err := f.svc.StartDirectChat(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 11, chat.ID)
	f.chats.AssertExpectations(t)
}

func TestStartDirectChatWithSelf(t *testing.T) {
	f := newFixture()
	f.settings.On("GetSettings", mock.Anything, 1).Return(settingsFor(1, models.RetentionForever), nil)
	f.chats.On("FindDirectChat", mock.Anything, 1, 1).Return(models.Chat{}, repositories.ErrChatNotFound)
	f.chats.On("CreateChat", mock.Anything, 1, []int(nil), false, (*string)(nil)).Return(models.Chat{ID: 12}, nil)

	_, err := f.svc.StartDirectChat(context.Background(), 1, 1)
	require.NoError(t, err)
	f.chats.AssertExpectations(t)
}

func TestStartDirectChatDenied(t *testing.T) {
	f := newFixture()
	blocked := models.DefaultPrivacySettings(2)
	blocked.AllowMessagesFrom = models.AllowNobody
	f.settings.On("GetSettings", mock.Anything, 2).Return(blocked, nil)

	_, err := f.svc.StartDirectChat(context.Background(), 1, 2)
	require.ErrorIs(t, err, service.ErrPermissionDenied)
	assert.Equal(t, permissions.ReasonRecipientBlocksMessages, service.DenyReason(err))
	f.chats.AssertNotCalled(t, "FindDirectChat", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageRequiresContentOrMedia(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SendMessage(context.Background(), 1, 5, "", nil)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	f := newFixture()
	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil)
	f.chats.On("GetParticipants", mock.Anything, 5).Return([]models.ChatParticipant{
		participant(5, 2), participant(5, 3),
	}, nil)

	_, err := f.svc.SendMessage(context.Background(), 1, 5, "hi", nil)
	assert.ErrorIs(t, err, service.ErrNotParticipant)
}

func TestSendMessageAppliesStrictestRetention(t *testing.T) {
	f := newFixture()
	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil)
	f.chats.On("GetParticipants", mock.Anything, 5).Return([]models.ChatParticipant{
		participant(5, 1), participant(5, 2),
	}, nil)
	f.settings.On("GetSettings", mock.Anything, 1).Return(settingsFor(1, models.RetentionForever), nil)
	f.settings.On("GetSettings", mock.Anything, 2).Return(settingsFor(2, models.RetentionOneDay), nil)

	var created models.Message
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		created = m
		return m.RetentionPolicy == models.RetentionOneDay && m.AutoDeleteAt != nil
	})).Return(models.Message{ID: 100, ChatID: 5, SenderID: 1, RetentionPolicy: models.RetentionOneDay, CreatedAt: time.Now()}, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 5, 1, mock.Anything).Return(nil)
	f.scheduler.On("Schedule", mock.MatchedBy(func(m models.Message) bool { return m.ID == 100 })).Return()
	f.hub.On("BroadcastToChat", 5, mock.Anything).Return()
	f.hub.On("NotifyUser", 2, mock.Anything).Return()

	msg, err := f.svc.SendMessage(context.Background(), 1, 5, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 100, msg.ID)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 1), *created.AutoDeleteAt, time.Minute)
	f.messages.AssertExpectations(t)
	f.scheduler.AssertExpectations(t)
	f.hub.AssertExpectations(t)
}

func TestSendMessageSkipsMutedNotifications(t *testing.T) {
	f := newFixture()
	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5, IsGroup: true}, nil)
	f.chats.On("GetParticipants", mock.Anything, 5).Return([]models.ChatParticipant{
		participant(5, 1),
		participant(5, 2, func(p *models.ChatParticipant) { p.Muted = true }),
		participant(5, 3),
	}, nil)
	for _, id := range []int{1, 2, 3} {
		f.settings.On("GetSettings", mock.Anything, id).Return(settingsFor(id, models.RetentionForever), nil)
	}
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: 101, ChatID: 5, SenderID: 1, CreatedAt: time.Now()}, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 5, 1, mock.Anything).Return(nil)
	f.scheduler.On("Schedule", mock.Anything).Return()
	f.hub.On("BroadcastToChat", 5, mock.Anything).Return()
	f.hub.On("NotifyUser", 3, mock.Anything).Return()

	_, err := f.svc.SendMessage(context.Background(), 1, 5, "hello", nil)
	require.NoError(t, err)
	f.hub.AssertNotCalled(t, "NotifyUser", 2, mock.Anything)
}

func TestMarkMessageReadSendsReceiptWhenBothAllow(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 1, RetentionPolicy: models.RetentionForever, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 2, mock.Anything).Return(nil)
	f.messages.On("MarkRead", mock.Anything, 7, 2).Return(true, nil)
	f.settings.On("GetSettings", mock.Anything, 1).Return(models.DefaultPrivacySettings(1), nil)
	f.settings.On("GetSettings", mock.Anything, 2).Return(models.DefaultPrivacySettings(2), nil)
	f.hub.On("NotifyUser", 1, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageRead && e.MessageID == 7 && e.ReadBy == 2
	})).Return()

	require.NoError(t, f.svc.MarkMessageRead(context.Background(), 2, 7))
	f.hub.AssertExpectations(t)
}

func TestMarkMessageReadSuppressesReceiptWhenReaderOptsOut(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 1, RetentionPolicy: models.RetentionForever, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 2, mock.Anything).Return(nil)
	f.messages.On("MarkRead", mock.Anything, 7, 2).Return(true, nil)
	reader := models.DefaultPrivacySettings(2)
	reader.AllowReadReceipts = false
	f.settings.On("GetSettings", mock.Anything, 2).Return(reader, nil)
	f.settings.On("GetSettings", mock.Anything, 1).Return(models.DefaultPrivacySettings(1), nil)

	require.NoError(t, f.svc.MarkMessageRead(context.Background(), 2, 7))
	f.hub.AssertNotCalled(t, "NotifyUser", mock.Anything, mock.Anything)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 1, RetentionPolicy: models.RetentionAfterRead, IsRead: true, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 2, mock.Anything).Return(nil)
	f.messages.On("MarkRead", mock.Anything, 7, 2).Return(false, nil)

	require.NoError(t, f.svc.MarkMessageRead(context.Background(), 2, 7))

	// Nothing fires on a repeat acknowledgement.
	f.messages.AssertNotCalled(t, "ExpireMessage", mock.Anything, mock.Anything)
	f.hub.AssertNotCalled(t, "NotifyUser", mock.Anything, mock.Anything)
	f.hub.AssertNotCalled(t, "BroadcastToChat", mock.Anything, mock.Anything)
}

func TestMarkMessageReadTombstonesAfterReadMessage(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 8, ChatID: 3, SenderID: 1, RetentionPolicy: models.RetentionAfterRead, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 8).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 2, mock.Anything).Return(nil)
	f.messages.On("MarkRead", mock.Anything, 8, 2).Return(true, nil)
	f.messages.On("ExpireMessage", mock.Anything, 8).Return(models.Message{ID: 8, IsDeleted: true}, nil)
	f.scheduler.On("Cancel", 8).Return()
	f.hub.On("BroadcastToChat", 3, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageDeleted && e.MessageID == 8
	})).Return()
	f.settings.On("GetSettings", mock.Anything, mock.Anything).Return(models.DefaultPrivacySettings(0), nil)
	f.hub.On("NotifyUser", 1, mock.Anything).Return()

	require.NoError(t, f.svc.MarkMessageRead(context.Background(), 2, 8))
	f.messages.AssertExpectations(t)
	f.scheduler.AssertExpectations(t)
	f.hub.AssertExpectations(t)
}

func TestMarkMessageReadOwnMessageIsNoop(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 2, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 2, mock.Anything).Return(nil)

	require.NoError(t, f.svc.MarkMessageRead(context.Background(), 2, 7))
	f.messages.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkMessageReadDeletedMessage(t *testing.T) {
	f := newFixture()
	f.messages.On("GetMessage", mock.Anything, 7).Return(models.Message{ID: 7, IsDeleted: true}, nil)

	err := f.svc.MarkMessageRead(context.Background(), 2, 7)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestMarkMessagesReadSkipsVanished(t *testing.T) {
	f := newFixture()
	f.messages.On("GetMessage", mock.Anything, 1).Return(models.Message{}, repositories.ErrMessageNotFound)
	msg := models.Message{ID: 2, ChatID: 3, SenderID: 1, CreatedAt: time.Now()}
	f.messages.On("GetMessage", mock.Anything, 2).Return(msg, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 5).Return(true, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 5, mock.Anything).Return(nil)
	f.messages.On("MarkRead", mock.Anything, 2, 5).Return(true, nil)
	f.settings.On("GetSettings", mock.Anything, mock.Anything).Return(models.DefaultPrivacySettings(0), nil)
	f.hub.On("NotifyUser", 1, mock.Anything).Return()

	require.NoError(t, f.svc.MarkMessagesRead(context.Background(), 5, []int{1, 2}))
	f.messages.AssertExpectations(t)
}

func TestDeleteMessageOnlySender(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 1}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)

	err := f.svc.DeleteMessage(context.Background(), 2, 7)
	require.ErrorIs(t, err, service.ErrPermissionDenied)
	assert.Equal(t, service.ReasonNotMessageSender, service.DenyReason(err))
}

func TestDeleteMessageCancelsTimerAndBroadcasts(t *testing.T) {
	f := newFixture()
	msg := models.Message{ID: 7, ChatID: 3, SenderID: 1}
	f.messages.On("GetMessage", mock.Anything, 7).Return(msg, nil)
	f.messages.On("SoftDelete", mock.Anything, 7, 1).Return(nil)
	f.scheduler.On("Cancel", 7).Return()
	f.hub.On("BroadcastToChat", 3, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageDeleted && e.MessageID == 7
	})).Return()

	require.NoError(t, f.svc.DeleteMessage(context.Background(), 1, 7))
	f.scheduler.AssertExpectations(t)
	f.hub.AssertExpectations(t)
}

func TestGetChatMessagesClampsLimit(t *testing.T) {
	f := newFixture()
	f.chats.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil)
	f.messages.On("ListChatMessages", mock.Anything, 3, 100, (*time.Time)(nil)).Return([]models.Message{}, nil)
	f.chats.On("UpdateLastRead", mock.Anything, 3, 1, mock.Anything).Return(nil)

	_, err := f.svc.GetChatMessages(context.Background(), 1, 3, 500, nil)
	require.NoError(t, err)
	f.messages.AssertExpectations(t)
}

func TestScheduleChatDeletionRequiresAdmin(t *testing.T) {
	f := newFixture()
	f.chats.On("GetParticipant", mock.Anything, 3, 2).Return(participant(3, 2), nil)

	err := f.svc.ScheduleChatDeletion(context.Background(), 2, 3, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, service.ErrPermissionDenied)
	assert.Equal(t, service.ReasonNotChatAdmin, service.DenyReason(err))
}

func TestScheduleChatDeletionRejectsPastTime(t *testing.T) {
	f := newFixture()

	err := f.svc.ScheduleChatDeletion(context.Background(), 1, 3, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestTypingExcludesTypist(t *testing.T) {
	f := newFixture()
	f.chats.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil)
	f.hub.On("BroadcastToChatExcept", 3, 1, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventChatTyping && e.UserID == 1 && e.IsTyping
	})).Return()

	require.NoError(t, f.svc.Typing(context.Background(), 1, 3, true))
	f.hub.AssertExpectations(t)
}

func TestOnlineFriendsFiltersByVisibility(t *testing.T) {
	f := newFixture()
	f.settings.On("ListFriends", mock.Anything, 1).Return([]int{2, 3, 4}, nil)
	f.presence.On("IsOnline", 2).Return(true)
	f.presence.On("IsOnline", 3).Return(false)
	f.presence.On("IsOnline", 4).Return(true)
	f.settings.On("GetSettings", mock.Anything, 2).Return(models.DefaultPrivacySettings(2), nil)
	hidden := models.DefaultPrivacySettings(4)
	hidden.ShowOnlineStatus = false
	f.settings.On("GetSettings", mock.Anything, 4).Return(hidden, nil)

	online, err := f.svc.OnlineFriends(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, online)
}

func TestNotifyPresenceReachesVisibleOnlineFriends(t *testing.T) {
	f := newFixture()
	f.settings.On("ListFriends", mock.Anything, 1).Return([]int{2, 3}, nil)
	f.settings.On("GetSettings", mock.Anything, 1).Return(models.DefaultPrivacySettings(1), nil)
	f.presence.On("IsOnline", 2).Return(true)
	f.presence.On("IsOnline", 3).Return(false)
	f.hub.On("NotifyUser", 2, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventPresenceOnline && e.UserID == 1
	})).Return()

	f.svc.NotifyPresence(context.Background(), 1, true)
	f.hub.AssertExpectations(t)
	f.hub.AssertNotCalled(t, "NotifyUser", 3, mock.Anything)
}

func TestLeaveChatRejectsDirectChat(t *testing.T) {
	f := newFixture()
	f.chats.On("GetChat", mock.Anything, 3).Return(models.Chat{ID: 3, IsGroup: false}, nil)

	err := f.svc.LeaveChat(context.Background(), 1, 3)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestForwardMessageGatedBySenderFlag(t *testing.T) {
	f := newFixture()
	orig := models.Message{ID: 9, ChatID: 3, SenderID: 1, Content: "fwd"}
	f.messages.On("GetMessage", mock.Anything, 9).Return(orig, nil)
	f.chats.On("IsParticipant", mock.Anything, 3, 2).Return(true, nil)
	noForward := models.DefaultPrivacySettings(1)
	noForward.AllowForwarding = false
	f.settings.On("GetSettings", mock.Anything, 1).Return(noForward, nil)

	_, err := f.svc.ForwardMessage(context.Background(), 2, 9, 8)
	require.ErrorIs(t, err, service.ErrPermissionDenied)
	assert.Equal(t, permissions.ReasonForwardingDisabled, service.DenyReason(err))
}
