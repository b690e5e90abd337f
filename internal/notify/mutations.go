package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MutationTimeout bounds each authoritative server call.
const MutationTimeout = 15 * time.Second

// Mutations apply locally first and then call the server without waiting.
// A server failure is logged; the local change is kept.

// MarkAsRead marks one entry read. Repeating it changes nothing.
func (s *Session) MarkAsRead(id string) error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	now := s.clock()
	rt.store.do(func(st *storeState) {
		st.markRead(id, now)
	})
	s.persist("mark_read", func(ctx context.Context) error {
		return s.api.MarkRead(ctx, id)
	}, zap.String("id", id))
	return nil
}

// MarkAllAsRead marks every loaded entry read and zeroes the counter.
func (s *Session) MarkAllAsRead() error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	now := s.clock()
	rt.store.do(func(st *storeState) {
		st.markAllRead(now)
	})
	s.persist("mark_all_read", s.api.MarkAllRead)
	return nil
}

// Delete removes one entry, decrementing the counter if it was unread.
func (s *Session) Delete(id string) error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	rt.store.do(func(st *storeState) {
		st.remove(id)
	})
	s.persist("delete", func(ctx context.Context) error {
		return s.api.Delete(ctx, id)
	}, zap.String("id", id))
	return nil
}

// ClearAll empties the store and zeroes the counter.
func (s *Session) ClearAll() error {
	rt := s.current()
	if rt == nil {
		return ErrNotStarted
	}
	rt.store.do(func(st *storeState) {
		st.clear()
	})
	s.persist("clear_all", s.api.Clear)
	return nil
}

func (s *Session) persist(op string, call func(context.Context) error, fields ...zap.Field) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), MutationTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			s.logger.Error("notification mutation not persisted",
				append(fields, zap.String("op", op), zap.Error(err))...,
			)
		}
	}()
}
