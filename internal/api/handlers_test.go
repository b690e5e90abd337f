package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locolive/notify/internal/apiclient"
	"github.com/locolive/notify/internal/middleware"
	"github.com/locolive/notify/internal/notify"
)

func doRequest(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestNotificationRoutes_ThroughClient(t *testing.T) {
	srv := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()
	seeded := srv.repo.seed(alice, "one", "two", "three")
	srv.repo.seed(bob, "not yours")

	client := apiclient.New(srv.apiURL(), srv.token(t, alice), nil, nil)
	ctx := context.Background()

	page, err := client.ListNotifications(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "three", page.Items[0].Payload.Title)
	assert.Equal(t, 3, page.UnreadCount)

	page, err = client.ListNotifications(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].Payload.Title)

	require.NoError(t, client.MarkRead(ctx, seeded[0].ID.String()))
	require.NoError(t, client.MarkRead(ctx, seeded[0].ID.String()), "marking twice succeeds")

	stats, err := client.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{
		Total: 3, Unread: 2, Read: 1,
		ByCategory: map[string]int{"social": 3},
		ByType:     map[string]int{"chat": 3},
	}, stats)

	require.NoError(t, client.MarkAllRead(ctx))
	require.NoError(t, client.Delete(ctx, seeded[1].ID.String()))

	var httpErr *apiclient.HTTPError
	err = client.Delete(ctx, seeded[1].ID.String())
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", httpErr.Code)

	require.NoError(t, client.RegisterDeviceToken(ctx, "fcm-token", "android"))
	tokens, _ := srv.repo.GetDeviceTokens(ctx, alice)
	assert.Equal(t, []string{"fcm-token"}, tokens)

	require.NoError(t, client.Clear(ctx))
	page, err = client.ListNotifications(ctx, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.UnreadCount)

	// Bob's history is untouched.
	bobPage, err := srv.service.List(ctx, bob, 1, 20)
	require.NoError(t, err)
	assert.Len(t, bobPage.Items, 1)
}

func TestNotificationRoutes_CannotTouchOtherUsers(t *testing.T) {
	srv := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()
	bobs := srv.repo.seed(bob, "private")

	token := srv.token(t, alice)
	status, body := doRequest(t, http.MethodPost, srv.apiURL()+"/notifications/"+bobs[0].ID.String()+"/read", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["ok"])

	status, _ = doRequest(t, http.MethodDelete, srv.apiURL()+"/notifications/"+bobs[0].ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	unread, _ := srv.repo.CountUnread(context.Background(), bob)
	assert.Equal(t, 1, unread)
}

func TestNotificationRoutes_BadInput(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, uuid.New())

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad page", http.MethodGet, "/notifications?page=0", nil, http.StatusBadRequest},
		{"non numeric perPage", http.MethodGet, "/notifications?perPage=x", nil, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/notifications/not-a-uuid/read", nil, http.StatusBadRequest},
		{"missing token", http.MethodPut, "/notifications/device-token", map[string]string{"platform": "ios"}, http.StatusUnprocessableEntity},
		{"bad platform", http.MethodPut, "/notifications/device-token", map[string]string{"token": "t", "platform": "palm"}, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPut, "/notifications/device-token", map[string]string{"token": "t", "extra": "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doRequest(t, tc.method, srv.apiURL()+tc.path, token, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, false, body["ok"])
		})
	}
}

func TestNotificationRoutes_RequireAuth(t *testing.T) {
	srv := newTestServer(t)
	status, body := doRequest(t, http.MethodGet, srv.apiURL()+"/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])

	status, _ = doRequest(t, http.MethodGet, srv.apiURL()+"/notifications", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestChannelAuth(t *testing.T) {
	srv := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()
	token := srv.token(t, alice)
	own := notify.ChannelName(alice.String())

	status, body := doRequest(t, http.MethodPost, srv.apiURL()+"/broadcasting/auth", token,
		map[string]string{"socket_id": "sock-1", "channel_name": own})
	require.Equal(t, http.StatusOK, status)
	auth, _ := body["auth"].(string)
	require.NotEmpty(t, auth)

	status, _ = doRequest(t, http.MethodPost, srv.apiURL()+"/broadcasting/auth", token,
		map[string]string{"socket_id": "sock-1", "channel_name": notify.ChannelName(bob.String())})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doRequest(t, http.MethodPost, srv.apiURL()+"/broadcasting/auth", token,
		map[string]string{"socket_id": "sock-1", "channel_name": "presence-lobby"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doRequest(t, http.MethodPost, srv.apiURL()+"/broadcasting/auth", token,
		map[string]string{"channel_name": own})
	assert.Equal(t, http.StatusBadRequest, status)

	form := url.Values{"socket_id": {"sock-2"}, "channel_name": {own}}
	req, err := http.NewRequest(http.MethodPost, srv.apiURL()+"/broadcasting/auth", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	status, body = send(t, req)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["auth"])
}

func internalRequest(t *testing.T, srv *testServer, path, key string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/internal"+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(middleware.InternalKeyHeader, key)
	}
	return send(t, req)
}

func TestInternalPublish(t *testing.T) {
	srv := newTestServer(t)
	userID := uuid.New()

	status, _ := internalRequest(t, srv, "/notifications", "wrong", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := internalRequest(t, srv, "/notifications", testInternalKey, map[string]any{
		"user_id": "nope", "title": "", "message": "m", "priority": "meh",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Len(t, body["fields"], 3)

	status, body = internalRequest(t, srv, "/notifications", testInternalKey, map[string]any{
		"user_id":  userID.String(),
		"title":    "  Appointment confirmed ",
		"message":  "See you at 10:00",
		"priority": "high",
		"metadata": map[string]any{"appointment_id": "a-1"},
	})
	require.Equal(t, http.StatusCreated, status)
	wire := body["notification"].(map[string]any)
	assert.NotEmpty(t, wire["id"])
	payload := wire["payload"].(map[string]any)
	assert.Equal(t, "Appointment confirmed", payload["title"])
	assert.Equal(t, defaultNotificationType, payload["type"])

	page, err := srv.service.List(context.Background(), userID, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a-1", page.Items[0].Payload.Metadata["appointment_id"])
}

func TestInternalIssueToken(t *testing.T) {
	srv := newTestServer(t)
	userID := uuid.New()

	status, body := internalRequest(t, srv, "/tokens", testInternalKey, map[string]string{"user_id": userID.String()})
	require.Equal(t, http.StatusCreated, status)
	claims, err := srv.jwt.ValidateAccessToken(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.NotEmpty(t, body["expiresAt"])

	status, _ = internalRequest(t, srv, "/tokens", testInternalKey, map[string]string{"user_id": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	for path, want := range map[string]string{"/health": "ok", "/health/ready": "ready", "/health/live": "alive"} {
		status, body := doRequest(t, http.MethodGet, srv.URL+path, "", nil)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, want, body["status"], path)
	}

	h := NewHealthHandler(failingPinger{errors.New("down")}, nil, "")
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
