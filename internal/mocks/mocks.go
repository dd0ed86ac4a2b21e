// Package mocks holds hand-written testify mocks for the repository and
// collaborator interfaces used across service and scheduler tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-core/internal/models"
)

// ChatRepository mocks repositories.ChatRepository.
type ChatRepository struct {
	mock.Mock
}

func (m *ChatRepository) CreateChat(ctx context.Context, creatorID int, participantIDs []int, isGroup bool, name *string) (models.Chat, error) {
	args := m.Called(ctx, creatorID, participantIDs, isGroup, name)
	return args.Get(0).(models.Chat), args.Error(1)
}

func (m *ChatRepository) FindDirectChat(ctx context.Context, userID, otherID int) (models.Chat, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Get(0).(models.Chat), args.Error(1)
}

func (m *ChatRepository) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).(models.Chat), args.Error(1)
}

func (m *ChatRepository) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepository) GetParticipant(ctx context.Context, chatID, userID int) (models.ChatParticipant, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Get(0).(models.ChatParticipant), args.Error(1)
}

func (m *ChatRepository) GetParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).([]models.ChatParticipant), args.Error(1)
}

func (m *ChatRepository) AddParticipants(ctx context.Context, chatID int, userIDs []int, role string) error {
	args := m.Called(ctx, chatID, userIDs, role)
	return args.Error(0)
}

func (m *ChatRepository) RemoveParticipant(ctx context.Context, chatID, userID int) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *ChatRepository) UpdateLastRead(ctx context.Context, chatID, userID int, at time.Time) error {
	args := m.Called(ctx, chatID, userID, at)
	return args.Error(0)
}

func (m *ChatRepository) SetMuted(ctx context.Context, chatID, userID int, muted bool) error {
	args := m.Called(ctx, chatID, userID, muted)
	return args.Error(0)
}

func (m *ChatRepository) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.ChatSummary), args.Error(1)
}

func (m *ChatRepository) ScheduleDeletion(ctx context.Context, chatID int, at time.Time) error {
	args := m.Called(ctx, chatID, at)
	return args.Error(0)
}

func (m *ChatRepository) DeleteChat(ctx context.Context, chatID int) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepository) ListChatsPendingDeletion(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Chat), args.Error(1)
}

// MessageRepository mocks repositories.MessageRepository.
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) ListChatMessages(ctx context.Context, chatID, limit int, before *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, chatID, limit, before)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepository) MarkRead(ctx context.Context, messageID, readerID int) (bool, error) {
	args := m.Called(ctx, messageID, readerID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepository) UpdateContent(ctx context.Context, messageID, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, senderID, content)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) SoftDelete(ctx context.Context, messageID, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepository) ExpireMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) ListPendingExpiries(ctx context.Context, now time.Time) ([]models.Message, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepository) ListExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepository) ExpireBatch(ctx context.Context, messageIDs []int) (int64, error) {
	args := m.Called(ctx, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

// SettingsRepository mocks repositories.SettingsRepository.
type SettingsRepository struct {
	mock.Mock
}

func (m *SettingsRepository) GetSettings(ctx context.Context, userID int) (models.PrivacySettings, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.PrivacySettings), args.Error(1)
}

func (m *SettingsRepository) AreFriends(ctx context.Context, userID, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *SettingsRepository) HaveMutualFriends(ctx context.Context, userID, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *SettingsRepository) ListFriends(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]int), args.Error(1)
}

// Broadcaster mocks the event fan-out used by the service and scheduler.
type Broadcaster struct {
	mock.Mock
}

func (m *Broadcaster) BroadcastToChat(chatID int, event models.Event) {
	m.Called(chatID, event)
}

func (m *Broadcaster) BroadcastToChatExcept(chatID, exceptUserID int, event models.Event) {
	m.Called(chatID, exceptUserID, event)
}

func (m *Broadcaster) NotifyUser(userID int, event models.Event) {
	m.Called(userID, event)
}

// Scheduler mocks the retention scheduler slice the service drives.
type Scheduler struct {
	mock.Mock
}

func (m *Scheduler) Schedule(msg models.Message) {
	m.Called(msg)
}

func (m *Scheduler) Cancel(messageID int) {
	m.Called(messageID)
}

func (m *Scheduler) ScheduleChatDeletion(chat models.Chat) {
	m.Called(chat)
}

// Presence mocks the online-state source.
type Presence struct {
	mock.Mock
}

func (m *Presence) IsOnline(userID int) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

// Graph mocks the friendship oracle consulted by the permission engine.
type Graph struct {
	mock.Mock
}

func (m *Graph) AreFriends(ctx context.Context, userID, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *Graph) HaveMutualFriends(ctx context.Context, userID, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}
