package notify

import (
	"sync"
	"time"
)

// InboxSize bounds the number of queued store operations.
const InboxSize = 64

// Store owns the notification list and unread counter. Every mutation
// runs on a single goroutine in submission order, so no locking is needed
// around storeState.
type Store struct {
	inbox     chan func(*storeState)
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	onChange  func()
}

type storeState struct {
	userID   string
	items    []Notification
	index    map[string]struct{}
	unread   int
	hasMore  bool
	page     int
	fetchErr error
	stats    *Stats

	// sequence number of the newest history result applied
	appliedFetch uint64

	channel  ChannelState
	setupErr error
}

func newStore(userID string, onChange func()) *Store {
	s := &Store{
		inbox:    make(chan func(*storeState), InboxSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onChange: onChange,
	}
	st := &storeState{
		userID: userID,
		index:  make(map[string]struct{}),
	}
	go s.run(st)
	return s
}

func (s *Store) run(st *storeState) {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.inbox:
			fn(st)
			if s.onChange != nil {
				s.onChange()
			}
		}
	}
}

// do runs fn on the store goroutine and waits for it. It returns false if
// the store was closed before fn ran.
func (s *Store) do(fn func(*storeState)) bool {
	applied := make(chan struct{})
	op := func(st *storeState) {
		fn(st)
		close(applied)
	}
	select {
	case <-s.done:
		return false
	case s.inbox <- op:
	}
	select {
	case <-applied:
		return true
	case <-s.stopped:
		select {
		case <-applied:
			return true
		default:
			return false
		}
	}
}

// Snapshot returns a copy of the current state. A closed store yields the
// zero State.
func (s *Store) Snapshot() State {
	var out State
	s.do(func(st *storeState) {
		out = st.snapshot()
	})
	return out
}

// Close stops the store goroutine. Operations submitted afterwards are
// dropped.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}

func (st *storeState) snapshot() State {
	items := make([]Notification, len(st.items))
	copy(items, st.items)
	var stats *Stats
	if st.stats != nil {
		cp := *st.stats
		stats = &cp
	}
	return State{
		UserID:       st.userID,
		Items:        items,
		UnreadCount:  st.unread,
		HasMore:      st.hasMore,
		Page:         st.page,
		ChannelState: st.channel,
		Connected:    st.channel == Connected,
		FetchErr:     st.fetchErr,
		SetupErr:     st.setupErr,
		Stats:        stats,
	}
}

// decUnread is the only place the counter goes down.
func (st *storeState) decUnread() {
	if st.unread > 0 {
		st.unread--
	}
}

func (st *storeState) applyPage(seq uint64, page int, result Page) bool {
	if seq < st.appliedFetch {
		return false
	}
	st.appliedFetch = seq

	if page == 1 {
		st.items = make([]Notification, 0, len(result.Items))
		st.index = make(map[string]struct{}, len(result.Items))
	}
	for _, n := range result.Items {
		if n.ID == "" {
			continue
		}
		if _, dup := st.index[n.ID]; dup {
			continue
		}
		st.index[n.ID] = struct{}{}
		st.items = append(st.items, n)
	}
	st.unread = result.UnreadCount
	if st.unread < 0 {
		st.unread = 0
	}
	st.hasMore = len(result.Items) >= PageSize
	st.page = page
	st.fetchErr = nil
	return true
}

func (st *storeState) applyFetchErr(seq uint64, err error) {
	if seq < st.appliedFetch {
		return
	}
	st.fetchErr = err
}

// prepend inserts a live notification at the front. It reports false for
// an id that is already present.
func (st *storeState) prepend(n Notification) bool {
	if _, dup := st.index[n.ID]; dup {
		return false
	}
	st.index[n.ID] = struct{}{}
	items := make([]Notification, 0, len(st.items)+1)
	items = append(items, n)
	st.items = append(items, st.items...)
	st.unread++
	return true
}

func (st *storeState) markRead(id string, now time.Time) {
	for i := range st.items {
		if st.items[i].ID != id {
			continue
		}
		if st.items[i].ReadAt == nil {
			t := now
			st.items[i].ReadAt = &t
			st.decUnread()
		}
		return
	}
}

func (st *storeState) markAllRead(now time.Time) {
	for i := range st.items {
		if st.items[i].ReadAt == nil {
			t := now
			st.items[i].ReadAt = &t
		}
	}
	st.unread = 0
}

func (st *storeState) remove(id string) {
	if _, ok := st.index[id]; !ok {
		return
	}
	for i := range st.items {
		if st.items[i].ID != id {
			continue
		}
		wasUnread := st.items[i].ReadAt == nil
		items := make([]Notification, 0, len(st.items)-1)
		items = append(items, st.items[:i]...)
		st.items = append(items, st.items[i+1:]...)
		delete(st.index, id)
		if wasUnread {
			st.decUnread()
		}
		return
	}
}

func (st *storeState) clear() {
	st.items = nil
	st.index = make(map[string]struct{})
	st.unread = 0
}
