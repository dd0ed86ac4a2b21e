package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/repositories"
)

// ExpiryStore is the slice of the message store the scheduler needs.
type ExpiryStore interface {
	ExpireMessage(ctx context.Context, messageID int) (models.Message, error)
	ListPendingExpiries(ctx context.Context, now time.Time) ([]models.Message, error)
	ListExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	ExpireBatch(ctx context.Context, messageIDs []int) (int64, error)
}

// ChatStore is the slice of the chat store the scheduler needs.
type ChatStore interface {
	DeleteChat(ctx context.Context, chatID int) error
	ListChatsPendingDeletion(ctx context.Context) ([]models.Chat, error)
}

// Broadcaster fans deletion events out to live connections.
type Broadcaster interface {
	BroadcastToChat(chatID int, event models.Event)
}

// Options tune the scheduler and its reaper.
type Options struct {
	RequestTimeout time.Duration
	RetryDelay     time.Duration
	SweepInterval  time.Duration
	BatchSize      int
	MaxBatches     int
}

func (o *Options) withDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxBatches <= 0 {
		o.MaxBatches = 10
	}
}

// Scheduler owns the pending-deletion timers. The in-memory timer map is only
// a cache of "next wake-up"; the durable auto_delete_at column stays
// authoritative and Recover rebuilds the map after a restart.
type Scheduler struct {
	store       ExpiryStore
	chats       ChatStore
	broadcaster Broadcaster
	log         zerolog.Logger
	opts        Options

	mu         sync.Mutex
	msgTimers  map[int]*time.Timer
	chatTimers map[int]*time.Timer

	// limiter paces reaper batches to bound write load.
	limiter *rate.Limiter
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler constructs a stopped Scheduler.
func NewScheduler(store ExpiryStore, chats ChatStore, broadcaster Broadcaster, log zerolog.Logger, opts Options) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		store:       store,
		chats:       chats,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "retention").Logger(),
		opts:        opts,
		msgTimers:   make(map[int]*time.Timer),
		chatTimers:  make(map[int]*time.Timer),
		limiter:     rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		done:        make(chan struct{}),
	}
}

// Schedule arms exactly one timer for a message with a future expiry.
// Messages without auto_delete_at (forever, after_read) never get one.
func (s *Scheduler) Schedule(msg models.Message) {
	if msg.AutoDeleteAt == nil || msg.IsDeleted {
		return
	}
	delay := time.Until(*msg.AutoDeleteAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.msgTimers[msg.ID]; ok {
		existing.Stop()
	}
	id, chatID := msg.ID, msg.ChatID
	s.msgTimers[id] = time.AfterFunc(delay, func() {
		s.fireMessage(id, chatID)
	})
	observability.IncRetentionTimerArmed()
}

// Cancel removes the pending timer for a message, typically because the user
// deleted it first. Canceling a timer that is already mid-fire is fine; the
// fire path treats "already deleted" as benign.
func (s *Scheduler) Cancel(messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.msgTimers[messageID]; ok {
		timer.Stop()
		delete(s.msgTimers, messageID)
	}
}

// PendingCount reports armed message timers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgTimers)
}

func (s *Scheduler) fireMessage(messageID, chatID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	msg, err := s.store.ExpireMessage(ctx, messageID)
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		// Deleted by the user before the timer fired.
		s.removeTimer(messageID)
		observability.IncRetentionTimerFired("already_deleted")
	case err != nil:
		// Keep the bookkeeping until deletion is confirmed; retry later and
		// let the reaper sweep act as the safety net.
		s.log.Error().Err(err).Int("message_id", messageID).Msg("expire message failed, will retry")
		observability.IncRetentionTimerFired("error")
		s.rearmRetry(messageID, chatID)
	default:
		s.removeTimer(messageID)
		observability.IncRetentionTimerFired("deleted")
		s.broadcaster.BroadcastToChat(chatID, models.Event{
			Type:      models.EventMessageDeleted,
			ChatID:    chatID,
			MessageID: msg.ID,
		})
	}
}

func (s *Scheduler) removeTimer(messageID int) {
	s.mu.Lock()
	delete(s.msgTimers, messageID)
	s.mu.Unlock()
}

func (s *Scheduler) rearmRetry(messageID, chatID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.msgTimers[messageID] = time.AfterFunc(s.opts.RetryDelay, func() {
		s.fireMessage(messageID, chatID)
	})
}

// ScheduleChatDeletion arms the whole-chat deletion timer.
func (s *Scheduler) ScheduleChatDeletion(chat models.Chat) {
	if chat.DeleteAt == nil {
		return
	}
	delay := time.Until(*chat.DeleteAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.chatTimers[chat.ID]; ok {
		existing.Stop()
	}
	chatID := chat.ID
	s.chatTimers[chatID] = time.AfterFunc(delay, func() {
		s.fireChatDeletion(chatID)
	})
}

func (s *Scheduler) fireChatDeletion(chatID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	err := s.chats.DeleteChat(ctx, chatID)
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		s.removeChatTimer(chatID)
	case err != nil:
		s.log.Error().Err(err).Int("chat_id", chatID).Msg("chat deletion failed, will retry")
		s.mu.Lock()
		s.chatTimers[chatID] = time.AfterFunc(s.opts.RetryDelay, func() {
			s.fireChatDeletion(chatID)
		})
		s.mu.Unlock()
	default:
		s.removeChatTimer(chatID)
		s.log.Info().Int("chat_id", chatID).Msg("scheduled chat deletion completed")
	}
}

func (s *Scheduler) removeChatTimer(chatID int) {
	s.mu.Lock()
	delete(s.chatTimers, chatID)
	s.mu.Unlock()
}

// Recover re-derives all pending timers from durable state after a restart.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := time.Now()

	msgs, err := s.store.ListPendingExpiries(ctx, now)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		s.Schedule(msg)
	}

	chats, err := s.chats.ListChatsPendingDeletion(ctx)
	if err != nil {
		return err
	}
	for _, chat := range chats {
		s.ScheduleChatDeletion(chat)
	}

	s.log.Info().Int("messages", len(msgs)).Int("chats", len(chats)).Msg("retention timers recovered")
	return nil
}

// Start runs the reaper loop until Stop is called. The first sweep runs
// immediately so messages that expired while the process was down are cleaned
// up without waiting a full interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweep()

		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the reaper and drops all armed timers.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.msgTimers {
		timer.Stop()
		delete(s.msgTimers, id)
	}
	for id, timer := range s.chatTimers {
		timer.Stop()
		delete(s.chatTimers, id)
	}
}

// sweep processes expired-but-undeleted messages in fixed-size batches,
// stopping on a short batch or the batch ceiling.
func (s *Scheduler) sweep() {
	observability.IncReaperSweep()

	for batch := 0; batch < s.opts.MaxBatches; batch++ {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.limiter.Wait(context.Background()); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		msgs, err := s.store.ListExpiredBatch(ctx, time.Now(), s.opts.BatchSize)
		if err != nil {
			cancel()
			s.log.Error().Err(err).Msg("reaper batch query failed")
			return
		}
		if len(msgs) == 0 {
			cancel()
			return
		}

		ids := make([]int, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		reaped, err := s.store.ExpireBatch(ctx, ids)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Msg("reaper batch update failed")
			return
		}
		observability.AddReapedMessages(reaped)

		for _, m := range msgs {
			s.Cancel(m.ID)
			s.broadcaster.BroadcastToChat(m.ChatID, models.Event{
				Type:      models.EventMessageDeleted,
				ChatID:    m.ChatID,
				MessageID: m.ID,
			})
		}

		if len(msgs) < s.opts.BatchSize {
			return
		}
	}
}
