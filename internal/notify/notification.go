package notify

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformed            = errors.New("notify: malformed notification")
	ErrInvalidPage          = errors.New("notify: page must be >= 1")
	ErrChannelNotConfigured = errors.New("notify: live channel not configured")
	ErrNotStarted           = errors.New("notify: session not started")
	ErrNoIdentity           = errors.New("notify: empty user identity")
)

// Payload is the displayable content of a notification. Only Title and
// Message are interpreted by this package.
type Payload struct {
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Type         string         `json:"type"`
	Priority     string         `json:"priority,omitempty"`
	Category     string         `json:"category,omitempty"`
	ActionTarget string         `json:"actionTarget,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Notification is a single entry of the client store. ID is the dedup key
// and is identical whether the entry came from history or from the live
// channel.
type Notification struct {
	ID        string     `json:"id"`
	Payload   Payload    `json:"payload"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsRead reports whether the notification has been marked read.
func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}

// Validate reports whether n is well-formed. Live payloads that fail
// validation are still accepted; callers use this for logging only.
func (n Notification) Validate() error {
	switch {
	case n.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case n.Payload.Title == "":
		return fmt.Errorf("%w: missing title", ErrMalformed)
	case n.Payload.Message == "":
		return fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return nil
}

// Stats is an aggregate snapshot fetched independently of the store. It is
// not updated by live pushes or mutations.
type Stats struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	Read       int            `json:"read"`
	ByCategory map[string]int `json:"byCategory,omitempty"`
	ByType     map[string]int `json:"byType,omitempty"`
}

// State is a point-in-time copy of the session as seen by readers.
// Items is newest-first. Metadata maps inside items are shared and must
// not be modified.
type State struct {
	UserID       string
	Items        []Notification
	UnreadCount  int
	HasMore      bool
	Page         int
	ChannelState ChannelState
	Connected    bool
	FetchErr     error
	SetupErr     error
	Stats        *Stats
}

// Find returns the item with the given id.
func (s State) Find(id string) (Notification, bool) {
	for _, n := range s.Items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}
