package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionOptions wires a Session to its collaborators. API is required;
// a nil Transport or an incomplete Channel leaves the session pull-only.
type SessionOptions struct {
	API        API
	Transport  Transport
	Channel    ChannelConfig
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
	NewID      func() string
}

// Session is the notification state of one authenticated identity. It is
// created once and driven by Start/Stop as the identity comes and goes.
type Session struct {
	api        API
	transport  Transport
	channel    ChannelConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
	newID      func() string

	lifecycle sync.Mutex
	mu        sync.Mutex
	rt        *runtime

	updates  chan struct{}
	inflight sync.WaitGroup
}

type runtime struct {
	userID  string
	store   *Store
	history *historyFetcher
	channel *channelManager
}

func NewSession(opts SessionOptions) *Session {
	s := &Session{
		api:        opts.API,
		transport:  opts.Transport,
		channel:    opts.Channel,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		clock:      opts.Clock,
		newID:      opts.NewID,
		updates:    make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = NewLocalIDSource()
	}
	return s
}

// Start begins a session for userID: page 1 of history is fetched while
// the live channel opens. A page 1 result replaces the store whenever it
// lands, including over live items that arrived first.
//
// Starting again for the same identity is a no-op; a different identity
// stops the previous session first. Only the history error is returned;
// channel problems are reported through State.
func (s *Session) Start(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrNoIdentity
	}

	s.lifecycle.Lock()
	prev := s.current()
	if prev != nil && prev.userID == userID {
		s.lifecycle.Unlock()
		return nil
	}
	if prev != nil {
		s.teardown(prev)
	}
	rt := s.newRuntime(userID)
	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()
	s.lifecycle.Unlock()

	log := s.logger.With(zap.String("user_id", userID))
	log.Info("notification session started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.channel.open(ctx, userID); err != nil && !errors.Is(err, ErrChannelNotConfigured) {
			log.Warn("live channel not opened", zap.Error(err))
		}
	}()
	err := rt.history.fetchPage(ctx, 1)
	wg.Wait()
	return err
}

// Stop tears down the live channel and discards the store. Events the
// transport delivers afterwards are not processed.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	rt := s.current()
	if rt == nil {
		return
	}
	s.teardown(rt)
	s.logger.Info("notification session stopped", zap.String("user_id", rt.userID))
}

func (s *Session) teardown(rt *runtime) {
	s.mu.Lock()
	if s.rt == rt {
		s.rt = nil
	}
	s.mu.Unlock()
	rt.channel.close()
	rt.store.Close()
	s.signal()
}

func (s *Session) newRuntime(userID string) *runtime {
	store := newStore(userID, s.signal)
	rt := &runtime{
		userID: userID,
		store:  store,
		history: &historyFetcher{
			api:    s.api,
			store:  store,
			logger: s.logger,
		},
	}
	rt.channel = &channelManager{
		transport: s.transport,
		config:    s.channel,
		store:     store,
		logger:    s.logger,
		onEvent: func(raw []byte) {
			s.onLiveEvent(rt, raw)
		},
	}
	return rt
}

func (s *Session) current() *runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates delivers a coalesced signal after every state change.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// UserID returns the identity of the running session, or "".
func (s *Session) UserID() string {
	if rt := s.current(); rt != nil {
		return rt.userID
	}
	return ""
}

// State returns a snapshot; the zero State when the session is stopped.
func (s *Session) State() State {
	rt := s.current()
	if rt == nil {
		return State{}
	}
	return rt.store.Snapshot()
}

// FetchPage loads a page of history. See historyFetcher for merge rules.
func (s *Session) FetchPage(ctx context.Context, page int) error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	return rt.history.fetchPage(ctx, page)
}

// LoadMore fetches the page after the last one loaded when the previous
// page was full.
func (s *Session) LoadMore(ctx context.Context) error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	st := rt.store.Snapshot()
	if !st.HasMore {
		return nil
	}
	return rt.history.fetchPage(ctx, st.Page+1)
}

// FetchStats refreshes the aggregate snapshot in State.Stats.
func (s *Session) FetchStats(ctx context.Context) error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	return rt.history.fetchStats(ctx)
}

// onLiveEvent is the accept path for pushes: dedup by id, insert at the
// front, bump the counter, then fire side-effects once.
func (s *Session) onLiveEvent(rt *runtime, raw []byte) {
	n := Normalize(raw, s.clock(), s.newID)
	if err := n.Validate(); err != nil {
		s.logger.Warn("accepting malformed live notification", zap.String("id", n.ID), zap.Error(err))
	}

	accepted := false
	if !rt.store.do(func(st *storeState) {
		accepted = st.prepend(n)
	}) {
		return
	}
	if !accepted {
		s.logger.Debug("duplicate live notification dropped", zap.String("id", n.ID))
		return
	}
	s.logger.Debug("live notification accepted", zap.String("id", n.ID))
	s.dispatcher.Dispatch(n)
}

// Wait blocks until in-flight server mutations have completed.
func (s *Session) Wait() {
	s.inflight.Wait()
}
