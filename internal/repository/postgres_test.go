package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locolive/notify/internal/domain"
)

// newTestRepo connects to NOTIFY_TEST_DATABASE_URL and skips when unset.
func newTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("NOTIFY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NOTIFY_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func TestNotificationLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	t.Cleanup(func() { _, _ = repo.DeleteAllNotifications(context.Background(), userID) })

	first, err := repo.CreateNotification(ctx, domain.CreateNotificationParams{
		UserID:   userID,
		Type:     "chat",
		Title:    "New message",
		Message:  "Hey",
		Category: "social",
		Metadata: domain.Map{"chat_id": "c1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", first.Metadata["chat_id"])
	assert.Nil(t, first.ReadAt)

	second, err := repo.CreateNotification(ctx, domain.CreateNotificationParams{
		UserID: userID, Type: "system", Title: "Welcome", Message: "Hi",
	})
	require.NoError(t, err)
	assert.Nil(t, second.Metadata)

	list, err := repo.ListNotifications(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	unread, err := repo.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, repo.MarkNotificationRead(ctx, userID, first.ID))
	require.NoError(t, repo.MarkNotificationRead(ctx, userID, first.ID))
	assert.ErrorIs(t, repo.MarkNotificationRead(ctx, uuid.New(), first.ID), domain.ErrNotificationNotFound)

	stats, err := repo.GetNotificationStats(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Unread)
	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, map[string]int{"social": 1}, stats.ByCategory)
	assert.Equal(t, map[string]int{"chat": 1, "system": 1}, stats.ByType)

	marked, err := repo.MarkAllNotificationsRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	require.NoError(t, repo.DeleteNotification(ctx, userID, second.ID))
	assert.ErrorIs(t, repo.DeleteNotification(ctx, userID, second.ID), domain.ErrNotificationNotFound)

	cleared, err := repo.DeleteAllNotifications(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}

func TestDeviceTokens(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	token := "tok-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.DeleteDeviceToken(context.Background(), token) })

	require.NoError(t, repo.UpsertDeviceToken(ctx, alice, token, "ios"))
	tokens, err := repo.GetDeviceTokens(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{token}, tokens)

	// Re-registering on another account moves the token.
	require.NoError(t, repo.UpsertDeviceToken(ctx, bob, token, "ios"))
	tokens, err = repo.GetDeviceTokens(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, repo.DeleteDeviceToken(ctx, token))
	tokens, err = repo.GetDeviceTokens(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
