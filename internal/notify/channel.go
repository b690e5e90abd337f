package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ChannelState is the connectivity of the live channel.
type ChannelState int

const (
	Disconnected ChannelState = iota
	Connecting
	Connected
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventNotificationCreated is the only channel event routed to the store.
const EventNotificationCreated = "notification.created"

const channelPrefix = "private-notifications."

// ChannelName returns the private channel scoped to a single user.
func ChannelName(userID string) string {
	return channelPrefix + userID
}

// ChannelOwner returns the user id a channel name is scoped to.
func ChannelOwner(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	owner := strings.TrimPrefix(channel, channelPrefix)
	return owner, owner != ""
}

// ChannelConfig is the environment needed to open a channel.
type ChannelConfig struct {
	Key          string
	Cluster      string
	AuthEndpoint string
	// Host is optional; transports derive it from AuthEndpoint when empty.
	Host string
}

// Validate returns ErrChannelNotConfigured naming every missing field.
func (c ChannelConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(c.Cluster) == "" {
		missing = append(missing, "cluster")
	}
	if strings.TrimSpace(c.AuthEndpoint) == "" {
		missing = append(missing, "auth endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrChannelNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// ChannelSpec identifies the channel a transport should subscribe to.
type ChannelSpec struct {
	Name   string
	Config ChannelConfig
}

// Handler receives transport callbacks. Implementations of Transport call
// it from a single goroutine per subscription.
type Handler interface {
	OnState(state ChannelState, err error)
	OnEvent(event string, data []byte)
}

// Subscription is a live channel subscription. Close must not return
// while a Handler callback for it is still running, and no callbacks may
// follow it.
type Subscription interface {
	Close() error
}

// Transport opens channel subscriptions. Reconnecting after a transport
// failure is the transport's responsibility.
type Transport interface {
	Subscribe(ctx context.Context, spec ChannelSpec, h Handler) (Subscription, error)
}

type channelManager struct {
	transport Transport
	config    ChannelConfig
	store     *Store
	onEvent   func(raw []byte)
	logger    *zap.Logger

	mu     sync.RWMutex
	gen    uint64
	sub    Subscription
	closed bool
}

func (m *channelManager) setState(state ChannelState, setupErr error) {
	m.store.do(func(st *storeState) {
		st.channel = state
		if setupErr != nil {
			st.setupErr = setupErr
		}
	})
}

// open moves Disconnected -> Connecting and subscribes. Missing
// configuration is recorded as a persistent setup error.
func (m *channelManager) open(ctx context.Context, userID string) error {
	if err := m.config.Validate(); err != nil {
		m.logger.Error("live notifications disabled", zap.Error(err))
		m.setState(Disconnected, err)
		return err
	}
	if m.transport == nil {
		err := fmt.Errorf("%w: no transport", ErrChannelNotConfigured)
		m.logger.Error("live notifications disabled", zap.Error(err))
		m.setState(Disconnected, err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.setState(Connecting, nil)
	spec := ChannelSpec{Name: ChannelName(userID), Config: m.config}
	sub, err := m.transport.Subscribe(ctx, spec, &channelHandler{m: m, gen: gen})
	if err != nil {
		m.logger.Warn("live channel subscribe failed", zap.String("channel", spec.Name), zap.Error(err))
		m.mu.RLock()
		current := !m.closed && m.gen == gen
		m.mu.RUnlock()
		if current {
			m.setState(Disconnected, nil)
		}
		return fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	m.sub = sub
	m.mu.Unlock()
	m.logger.Debug("live channel subscribing", zap.String("channel", spec.Name))
	return nil
}

// close invalidates the subscription before releasing it: once the write
// lock is held no callback is in flight, and later ones see a stale
// generation.
func (m *channelManager) close() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			m.logger.Debug("live channel close", zap.Error(err))
		}
	}
	m.setState(Disconnected, nil)
}

type channelHandler struct {
	m   *channelManager
	gen uint64
}

func (h *channelHandler) OnState(state ChannelState, err error) {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	if h.m.closed || h.m.gen != h.gen {
		return
	}
	if err != nil {
		h.m.logger.Warn("live channel state", zap.Stringer("state", state), zap.Error(err))
	} else {
		h.m.logger.Info("live channel state", zap.Stringer("state", state))
	}
	h.m.setState(state, nil)
}

func (h *channelHandler) OnEvent(event string, data []byte) {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	if h.m.closed || h.m.gen != h.gen {
		return
	}
	if event != EventNotificationCreated {
		h.m.logger.Debug("ignoring channel event", zap.String("event", event))
		return
	}
	h.m.onEvent(data)
}
