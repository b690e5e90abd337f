package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/notify"
)

const (
	DefaultPerPage = notify.PageSize
	MaxPerPage     = 100

	pushTimeout = 10 * time.Second
)

// Broadcaster delivers an event to every socket subscribed to channel and
// returns how many received it.
type Broadcaster interface {
	Publish(channel, event string, data any) int
}

// PushSender delivers a mobile push message to one device token.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

type NotificationService struct {
	repo   NotificationRepository
	hub    Broadcaster
	push   PushSender
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewNotificationService wires the service. hub and push may be nil.
func NewNotificationService(repo NotificationRepository, hub Broadcaster, push PushSender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:   repo,
		hub:    hub,
		push:   push,
		logger: logger,
	}
}

// List returns one page of history with the user's total unread count.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, page, perPage int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	notifs, err := s.repo.ListNotifications(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	items := make([]notify.Notification, 0, len(notifs))
	for _, n := range notifs {
		items = append(items, n.Wire())
	}
	return &HistoryPage{Items: items, UnreadCount: unread}, nil
}

func (s *NotificationService) Stats(ctx context.Context, userID uuid.UUID) (*notify.Stats, error) {
	return s.repo.GetNotificationStats(ctx, userID)
}

// MarkRead is idempotent: marking an already read notification succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, userID, notificationID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	n, err := s.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("marked notifications read", zap.String("user_id", userID.String()), zap.Int64("count", n))
	return nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.DeleteNotification(ctx, userID, notificationID)
}

func (s *NotificationService) Clear(ctx context.Context, userID uuid.UUID) error {
	n, err := s.repo.DeleteAllNotifications(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("cleared notifications", zap.String("user_id", userID.String()), zap.Int64("count", n))
	return nil
}

func (s *NotificationService) RegisterDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	return s.repo.UpsertDeviceToken(ctx, userID, token, platform)
}

// Publish stores a notification, broadcasts it on the recipient's private
// channel and fans it out to the recipient's devices. Only the store step
// can fail the call.
func (s *NotificationService) Publish(ctx context.Context, params CreateNotificationParams) (*Notification, error) {
	n, err := s.repo.CreateNotification(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.hub != nil {
		channel := notify.ChannelName(n.UserID.String())
		delivered := s.hub.Publish(channel, notify.EventNotificationCreated, n.Wire())
		s.logger.Debug("notification broadcast",
			zap.String("id", n.ID.String()),
			zap.String("channel", channel),
			zap.Int("sockets", delivered),
		)
	}

	if s.push != nil {
		s.fanOut(ctx, n)
	}
	return n, nil
}

func (s *NotificationService) fanOut(ctx context.Context, n *Notification) {
	tokens, err := s.repo.GetDeviceTokens(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("failed to get device tokens", zap.String("user_id", n.UserID.String()), zap.Error(err))
		return
	}

	// Convert metadata to the string map FCM requires
	data := make(map[string]string, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		data[k] = fmt.Sprintf("%v", v)
	}
	data["type"] = n.Type
	data["notification_id"] = n.ID.String()

	for _, token := range tokens {
		if token == "" {
			continue
		}
		s.wg.Add(1)
		go func(token string) {
			defer s.wg.Done()
			pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			err := s.push.Send(pushCtx, token, n.Title, n.Message, data)
			if errors.Is(err, ErrDeviceTokenInvalid) {
				if delErr := s.repo.DeleteDeviceToken(pushCtx, token); delErr != nil {
					s.logger.Warn("failed to drop stale device token", zap.Error(delErr))
				}
				return
			}
			if err != nil {
				s.logger.Warn("push delivery failed", zap.String("id", n.ID.String()), zap.Error(err))
			}
		}(token)
	}
}

// Wait blocks until in-flight push deliveries finish.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}
