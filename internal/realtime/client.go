package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/notify"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultMinBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second

	writeWait = 10 * time.Second
)

// AuthError is a rejection from the channel auth endpoint. 401 and 403
// are final; the subscription stops retrying.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("channel auth rejected: http %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Final() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ErrSubscriptionRejected is returned when the hub refuses a subscribe.
var ErrSubscriptionRejected = errors.New("realtime: subscription rejected")

// Options configures a Client. Token authenticates channel auth requests.
type Options struct {
	Token        string
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
	Logger       *zap.Logger
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// Client is a notify.Transport over the hub websocket protocol.
type Client struct {
	opts Options
}

var _ notify.Transport = (*Client)(nil)

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	return &Client{opts: opts}
}

// Subscribe starts a background connection for spec and returns at once.
// Connection progress is reported through h. The subscription outlives ctx
// and ends only on Close.
func (c *Client) Subscribe(ctx context.Context, spec notify.ChannelSpec, h notify.Handler) (notify.Subscription, error) {
	socketURL, err := SocketURL(spec.Config.Host, spec.Config.AuthEndpoint, spec.Config.Key, spec.Config.Cluster)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{
		client:    c,
		spec:      spec,
		socketURL: socketURL,
		handler:   h,
		logger:    c.opts.Logger.With(zap.String("channel", spec.Name)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

type subscription struct {
	client    *Client
	spec      notify.ChannelSpec
	socketURL string
	handler   notify.Handler
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// Close stops the connection loop and waits for it, so no handler callback
// runs after Close returns.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	opts := s.client.opts
	backoff := opts.MinBackoff
	var lastErr error
	for {
		s.handler.OnState(notify.Connecting, lastErr)
		connected, err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = opts.MinBackoff
		}
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Final() {
			s.logger.Error("channel auth rejected, giving up", zap.Error(err))
			s.handler.OnState(notify.Disconnected, err)
			return
		}
		s.logger.Warn("channel connection lost",
			zap.Error(err),
			zap.Duration("retry_in", backoff),
		)
		s.handler.OnState(notify.Disconnected, err)
		lastErr = err

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, opts.MaxBackoff)
	}
}

// connect runs one connection to completion. It reports whether the
// subscription was confirmed before the connection ended.
func (s *subscription) connect(ctx context.Context) (bool, error) {
	opts := s.client.opts
	conn, resp, err := opts.Dialer.DialContext(ctx, s.socketURL, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: http %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	readWait := opts.PingInterval * 2
	conn.SetReadDeadline(time.Now().Add(readWait))

	socketID, err := s.awaitEstablished(conn)
	if err != nil {
		return false, err
	}
	token, err := s.authorize(ctx, socketID)
	if err != nil {
		return false, err
	}
	sub, err := NewMessage(EventSubscribe, "", SubscribeData{Channel: s.spec.Name, Auth: token})
	if err != nil {
		return false, err
	}
	if err := s.write(conn, sub); err != nil {
		return false, err
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	connected := false
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		switch msg.Event {
		case EventSubscriptionSucceeded:
			if msg.Channel == s.spec.Name && !connected {
				connected = true
				s.logger.Info("channel subscribed")
				s.handler.OnState(notify.Connected, nil)
			}
		case EventSubscriptionError:
			var data ErrorData
			_ = json.Unmarshal(msg.Data, &data)
			return connected, fmt.Errorf("%w: %s", ErrSubscriptionRejected, data.Message)
		case EventPong:
		case EventPing:
			pong, _ := NewMessage(EventPong, "", nil)
			if err := s.write(conn, pong); err != nil {
				return connected, err
			}
		case EventError:
			var data ErrorData
			_ = json.Unmarshal(msg.Data, &data)
			s.logger.Warn("hub error", zap.Int("code", data.Code), zap.String("message", data.Message))
		default:
			if msg.Channel != s.spec.Name {
				s.logger.Debug("event for unknown channel", zap.String("event", msg.Event), zap.String("for", msg.Channel))
				continue
			}
			s.handler.OnEvent(msg.Event, msg.Data)
		}
	}
}

func (s *subscription) awaitEstablished(conn *websocket.Conn) (string, error) {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("read handshake: %w", err)
	}
	if msg.Event == EventError {
		var data ErrorData
		_ = json.Unmarshal(msg.Data, &data)
		return "", fmt.Errorf("hub refused connection: %s", data.Message)
	}
	if msg.Event != EventConnectionEstablished {
		return "", fmt.Errorf("unexpected handshake event %q", msg.Event)
	}
	var data ConnectionData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.SocketID == "" {
		return "", fmt.Errorf("handshake without socket id")
	}
	return data.SocketID, nil
}

func (s *subscription) authorize(ctx context.Context, socketID string) (string, error) {
	opts := s.client.opts
	body, err := json.Marshal(AuthRequest{SocketID: socketID, ChannelName: s.spec.Name})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.spec.Config.AuthEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("channel auth: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("channel auth: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	var out AuthResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("channel auth: decode: %w", err)
	}
	if out.Auth == "" {
		return "", fmt.Errorf("channel auth: empty token")
	}
	return out.Auth, nil
}

func (s *subscription) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.client.opts.PingInterval)
	defer ticker.Stop()
	ping, _ := NewMessage(EventPing, "", nil)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.write(conn, ping); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (s *subscription) write(conn *websocket.Conn, msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}
	return nil
}
