package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/internal/notify"
)

// PostgresRepository implements domain.NotificationRepository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ domain.NotificationRepository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id       UUID NOT NULL,
	type          TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	message       TEXT NOT NULL,
	priority      TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	action_target TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	read_at       TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON notifications (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS notifications_user_unread_idx ON notifications (user_id) WHERE read_at IS NULL;

CREATE TABLE IF NOT EXISTS device_tokens (
	token      TEXT PRIMARY KEY,
	user_id    UUID NOT NULL,
	platform   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS device_tokens_user_idx ON device_tokens (user_id);
`

// Migrate creates the tables if they do not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

const notificationColumns = `id, user_id, type, title, message, priority, category, action_target, metadata, read_at, created_at`

// CreateNotification inserts a notification
func (r *PostgresRepository) CreateNotification(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if params.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO notifications (user_id, type, title, message, priority, category, action_target, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + notificationColumns

	row := r.db.QueryRow(ctx, query,
		params.UserID,
		params.Type,
		params.Title,
		params.Message,
		params.Priority,
		params.Category,
		params.ActionTarget,
		metadata,
	)
	return scanNotification(row)
}

// ListNotifications returns a user's notifications, newest first
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifs := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// CountUnread returns the number of unread notifications for a user
func (r *PostgresRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`
	var count int
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// GetNotificationStats aggregates a user's notifications
func (r *PostgresRepository) GetNotificationStats(ctx context.Context, userID uuid.UUID) (*notify.Stats, error) {
	stats := &notify.Stats{
		ByCategory: map[string]int{},
		ByType:     map[string]int{},
	}
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE read_at IS NULL)
		FROM notifications WHERE user_id = $1
	`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&stats.Total, &stats.Unread); err != nil {
		return nil, err
	}
	stats.Read = stats.Total - stats.Unread

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"category", stats.ByCategory},
		{"type", stats.ByType},
	}
	for _, g := range groups {
		rows, err := r.db.Query(ctx,
			`SELECT `+g.column+`, COUNT(*) FROM notifications WHERE user_id = $1 AND `+g.column+` <> '' GROUP BY `+g.column,
			userID,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, err
			}
			g.into[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// MarkNotificationRead stamps read_at once; repeating it is a no-op
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	query := `
		UPDATE notifications SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of a user read
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteNotification deletes one notification owned by the user
func (r *PostgresRepository) DeleteNotification(ctx context.Context, userID, notificationID uuid.UUID) error {
	query := `DELETE FROM notifications WHERE id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// DeleteAllNotifications deletes every notification of a user
func (r *PostgresRepository) DeleteAllNotifications(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertDeviceToken registers a push token, moving it to userID if it
// belonged to someone else
func (r *PostgresRepository) UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	query := `
		INSERT INTO device_tokens (token, user_id, platform, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, token, userID, platform)
	return err
}

// GetDeviceTokens returns the push tokens registered for a user
func (r *PostgresRepository) GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteDeviceToken removes a push token
func (r *PostgresRepository) DeleteDeviceToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	return err
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var metadata []byte
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Priority,
		&n.Category,
		&n.ActionTarget,
		&metadata,
		&n.ReadAt,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if len(n.Metadata) == 0 {
			n.Metadata = nil
		}
	}
	return &n, nil
}

// Prune removes read notifications older than retention and device tokens
// not refreshed within tokenTTL
func (r *PostgresRepository) Prune(ctx context.Context, retention, tokenTTL time.Duration) error {
	queries := []struct {
		sql string
		arg time.Time
	}{
		{`DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1`, time.Now().Add(-retention)},
		{`DELETE FROM device_tokens WHERE updated_at < $1`, time.Now().Add(-tokenTTL)},
	}
	for _, q := range queries {
		if _, err := r.db.Exec(ctx, q.sql, q.arg); err != nil {
			return err
		}
	}
	return nil
}

// StartCleanupWorker prunes old rows on every interval until ctx is done
func (r *PostgresRepository) StartCleanupWorker(ctx context.Context, interval, retention, tokenTTL time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Prune(ctx, retention, tokenTTL); err != nil {
					logger.Warn("notification cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}
