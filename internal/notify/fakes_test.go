package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- fakes ---

type apiCall struct {
	Op string
	ID string
}

type fakeAPI struct {
	mu       sync.Mutex
	pages    map[int]Page
	pageErr  error
	stats    Stats
	statsErr error
	mutErr   error
	calls    []apiCall
	// gate, when set, blocks ListNotifications until closed
	gate chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: make(map[int]Page)}
}

func (f *fakeAPI) record(op, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Op: op, ID: id})
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apiCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAPI) countCalls(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *fakeAPI) setPage(page int, p Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = p
}

func (f *fakeAPI) ListNotifications(ctx context.Context, page, perPage int) (Page, error) {
	f.record("list", fmt.Sprint(page))
	// the response is fixed when the request arrives
	f.mu.Lock()
	gate, result, err := f.gate, f.pages[page], f.pageErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	if err != nil {
		return Page{}, err
	}
	return result, nil
}

func (f *fakeAPI) GetStats(ctx context.Context) (Stats, error) {
	f.record("stats", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

func (f *fakeAPI) mutation(op, id string) error {
	f.record(op, id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutErr
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error { return f.mutation("mark_read", id) }
func (f *fakeAPI) MarkAllRead(ctx context.Context) error         { return f.mutation("mark_all_read", "") }
func (f *fakeAPI) Delete(ctx context.Context, id string) error   { return f.mutation("delete", id) }
func (f *fakeAPI) Clear(ctx context.Context) error               { return f.mutation("clear", "") }

type fakeSubscription struct {
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeTransport records subscriptions and lets tests drive the handler
// directly, standing in for the transport's reader goroutine.
type fakeTransport struct {
	mu           sync.Mutex
	specs        []ChannelSpec
	handler      Handler
	sub          *fakeSubscription
	subscribeErr error
	autoConnect  bool
}

func (t *fakeTransport) Subscribe(ctx context.Context, spec ChannelSpec, h Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specs = append(t.specs, spec)
	if t.subscribeErr != nil {
		return nil, t.subscribeErr
	}
	t.handler = h
	t.sub = &fakeSubscription{closed: make(chan struct{})}
	if t.autoConnect {
		h.OnState(Connected, nil)
	}
	return t.sub, nil
}

func (t *fakeTransport) currentHandler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *fakeTransport) push(tb testing.TB, v any) {
	tb.Helper()
	raw, err := json.Marshal(v)
	require.NoError(tb, err)
	h := t.currentHandler()
	require.NotNil(tb, h, "no active subscription")
	h.OnEvent(EventNotificationCreated, raw)
}

type fakeSound struct {
	mu    sync.Mutex
	plays int
	err   error
}

func (s *fakeSound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.err
}

func (s *fakeSound) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

type fakeNotifier struct {
	mu         sync.Mutex
	shown      []string
	permission Permission
	requests   int
}

func (n *fakeNotifier) Show(ctx context.Context, notif Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notif.ID)
	return nil
}

func (n *fakeNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++
	return n.permission, nil
}

func (n *fakeNotifier) Shown() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.shown))
	copy(out, n.shown)
	return out
}

// --- helpers ---

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testChannel = ChannelConfig{
	Key:          "app-key",
	Cluster:      "eu",
	AuthEndpoint: "http://localhost:8080/api/v1/broadcasting/auth",
}

type harness struct {
	api       *fakeAPI
	transport *fakeTransport
	sound     *fakeSound
	notifier  *fakeNotifier
	session   *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:       newFakeAPI(),
		transport: &fakeTransport{autoConnect: true},
		sound:     &fakeSound{},
		notifier:  &fakeNotifier{permission: PermissionGranted},
	}
	dispatcher := NewDispatcher(h.sound, h.notifier, nil)
	_, err := dispatcher.RequestPermission(context.Background())
	require.NoError(t, err)

	seq := 0
	h.session = NewSession(SessionOptions{
		API:        h.api,
		Transport:  h.transport,
		Channel:    testChannel,
		Dispatcher: dispatcher,
		Clock:      func() time.Time { return testNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("local_%d", seq)
		},
	})
	t.Cleanup(h.session.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), "user-1"))
}

func unread(id, title string) Notification {
	return Notification{
		ID:        id,
		Payload:   Payload{Title: title, Message: title + " body", Type: "info"},
		CreatedAt: testNow.Add(-time.Hour),
	}
}

func read(id string) Notification {
	n := unread(id, id)
	at := testNow.Add(-30 * time.Minute)
	n.ReadAt = &at
	return n
}

func ids(items []Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}

func pageOf(prefix string, n int) []Notification {
	items := make([]Notification, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, unread(fmt.Sprintf("%s%02d", prefix, i), "n"))
	}
	return items
}
