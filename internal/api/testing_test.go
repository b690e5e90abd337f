package api

import (
	"context"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/internal/notify"
)

const (
	testAppKey      = "locolive"
	testCluster     = "mt1"
	testInternalKey = "internal-key"
	testWait        = 3 * time.Second
	testTick        = 10 * time.Millisecond
)

// memRepo is an in-memory domain.NotificationRepository.
type memRepo struct {
	mu     sync.Mutex
	items  []*domain.Notification
	tokens map[string]uuid.UUID
	clock  time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		tokens: map[string]uuid.UUID{},
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memRepo) CreateNotification(_ context.Context, p domain.CreateNotificationParams) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	n := &domain.Notification{
		ID:           uuid.New(),
		UserID:       p.UserID,
		Type:         p.Type,
		Title:        p.Title,
		Message:      p.Message,
		Priority:     p.Priority,
		Category:     p.Category,
		ActionTarget: p.ActionTarget,
		Metadata:     p.Metadata,
		CreatedAt:    m.clock,
	}
	m.items = append(m.items, n)
	cp := *n
	return &cp, nil
}

func (m *memRepo) owned(userID uuid.UUID) []*domain.Notification {
	var out []*domain.Notification
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memRepo) ListNotifications(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.owned(userID)
	if offset >= len(all) {
		return []*domain.Notification{}, nil
	}
	end := min(offset+limit, len(all))
	out := make([]*domain.Notification, 0, end-offset)
	for _, n := range all[offset:end] {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.owned(userID) {
		if n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) GetNotificationStats(_ context.Context, userID uuid.UUID) (*notify.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &notify.Stats{ByCategory: map[string]int{}, ByType: map[string]int{}}
	for _, n := range m.owned(userID) {
		st.Total++
		if n.ReadAt == nil {
			st.Unread++
		}
		if n.Category != "" {
			st.ByCategory[n.Category]++
		}
		if n.Type != "" {
			st.ByType[n.Type]++
		}
	}
	st.Read = st.Total - st.Unread
	return st, nil
}

func (m *memRepo) MarkNotificationRead(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.owned(userID) {
		if n.ID == id {
			if n.ReadAt == nil {
				now := m.clock
				n.ReadAt = &now
			}
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

func (m *memRepo) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.owned(userID) {
		if n.ReadAt == nil {
			now := m.clock
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memRepo) DeleteNotification(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.items {
		if n.ID == id && n.UserID == userID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

func (m *memRepo) DeleteAllNotifications(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var removed int64
	for _, n := range m.items {
		if n.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	m.items = kept
	return removed, nil
}

func (m *memRepo) UpsertDeviceToken(_ context.Context, userID uuid.UUID, token, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
	return nil
}

func (m *memRepo) GetDeviceTokens(_ context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for tok, owner := range m.tokens {
		if owner == userID {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteDeviceToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memRepo) seed(userID uuid.UUID, titles ...string) []*domain.Notification {
	var out []*domain.Notification
	for _, title := range titles {
		n, _ := m.CreateNotification(context.Background(), domain.CreateNotificationParams{
			UserID: userID, Type: "chat", Title: title, Message: title + " body", Category: "social",
		})
		out = append(out, n)
	}
	return out
}

type testServer struct {
	*httptest.Server
	repo    *memRepo
	hub     *Hub
	service *domain.NotificationService
	jwt     *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	repo := newMemRepo()
	jwt := auth.NewJWTManager("jwt-secret", time.Hour)
	signer := auth.NewChannelSigner("channel-secret", time.Minute)
	hub := NewHub(HubConfig{AppKey: testAppKey, Cluster: testCluster}, signer, logger)
	go hub.Run(ctx)

	service := domain.NewNotificationService(repo, hub, nil, logger)
	router := NewRouter(RouterDeps{
		Notifications: NewNotificationHandler(service, logger),
		Channels:      NewChannelHandler(signer, logger),
		Internal:      NewInternalHandler(service, jwt, logger),
		Health:        NewHealthHandler(nil, hub, "test"),
		Hub:           hub,
		JWTManager:    jwt,
		InternalKey:   testInternalKey,
		Logger:        logger,
	})
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, repo: repo, hub: hub, service: service, jwt: jwt}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(userID, "")
	require.NoError(t, err)
	return token
}

func (s *testServer) apiURL() string {
	return s.URL + "/api/v1"
}
