package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/locolive/notify/internal/notify"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrDeviceTokenInvalid   = errors.New("device token no longer valid")
)

type Notification struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Priority     string     `json:"priority,omitempty"`
	Category     string     `json:"category,omitempty"`
	ActionTarget string     `json:"action_target,omitempty"`
	Metadata     Map        `json:"metadata,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Map alias for JSONB data
type Map map[string]interface{}

// Wire is the representation sent to clients, both in history pages and
// on the live channel.
func (n *Notification) Wire() notify.Notification {
	return notify.Notification{
		ID: n.ID.String(),
		Payload: notify.Payload{
			Title:        n.Title,
			Message:      n.Message,
			Type:         n.Type,
			Priority:     n.Priority,
			Category:     n.Category,
			ActionTarget: n.ActionTarget,
			Metadata:     n.Metadata,
		},
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

type CreateNotificationParams struct {
	UserID       uuid.UUID `json:"user_id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Priority     string    `json:"priority,omitempty"`
	Category     string    `json:"category,omitempty"`
	ActionTarget string    `json:"action_target,omitempty"`
	Metadata     Map       `json:"metadata,omitempty"`
}

// HistoryPage is one page of a user's notifications, newest first.
type HistoryPage struct {
	Items       []notify.Notification `json:"items"`
	UnreadCount int                   `json:"unreadCount"`
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	GetNotificationStats(ctx context.Context, userID uuid.UUID) (*notify.Stats, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteNotification(ctx context.Context, userID, notificationID uuid.UUID) error
	DeleteAllNotifications(ctx context.Context, userID uuid.UUID) (int64, error)
	UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error
	GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	DeleteDeviceToken(ctx context.Context, token string) error
}
