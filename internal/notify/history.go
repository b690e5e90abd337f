package notify

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// PageSize is the fixed history page length.
const PageSize = 20

// Page is one page of history as returned by the server.
type Page struct {
	Items       []Notification
	UnreadCount int
}

// API is the authoritative notification service.
type API interface {
	ListNotifications(ctx context.Context, page, perPage int) (Page, error)
	GetStats(ctx context.Context) (Stats, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type historyFetcher struct {
	api    API
	store  *Store
	logger *zap.Logger
	seq    atomic.Uint64
}

// fetchPage reads one page and merges it. Page 1 replaces the store,
// later pages append ids not yet present. Errors leave the items alone.
func (h *historyFetcher) fetchPage(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPage, page)
	}
	seq := h.seq.Add(1)

	result, err := h.api.ListNotifications(ctx, page, PageSize)
	if err != nil {
		h.logger.Warn("notification history fetch failed",
			zap.Int("page", page),
			zap.Error(err),
		)
		h.store.do(func(st *storeState) {
			st.applyFetchErr(seq, err)
		})
		return fmt.Errorf("fetch notifications page %d: %w", page, err)
	}

	applied := false
	h.store.do(func(st *storeState) {
		applied = st.applyPage(seq, page, result)
	})
	if !applied {
		h.logger.Debug("dropped superseded history page", zap.Int("page", page))
		return nil
	}
	h.logger.Debug("history page merged",
		zap.Int("page", page),
		zap.Int("items", len(result.Items)),
		zap.Int("unread", result.UnreadCount),
	)
	return nil
}

func (h *historyFetcher) fetchStats(ctx context.Context) error {
	seq := h.seq.Load()
	stats, err := h.api.GetStats(ctx)
	if err != nil {
		h.logger.Warn("notification stats fetch failed", zap.Error(err))
		h.store.do(func(st *storeState) {
			st.applyFetchErr(seq, err)
		})
		return fmt.Errorf("fetch notification stats: %w", err)
	}
	h.store.do(func(st *storeState) {
		st.stats = &stats
	})
	return nil
}
