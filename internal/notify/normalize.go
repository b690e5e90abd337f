package notify

import (
	"crypto/rand"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewLocalIDSource returns a generator for ids of live payloads that arrive
// without one. Ids are monotonic ULIDs and never collide with server ids.
func NewLocalIDSource() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return "local_" + ulid.MustNew(ulid.Now(), entropy).String()
	}
}

// Normalize converts a raw live payload into a Notification. It never
// fails: unparseable input becomes a notification carrying the raw text.
// The result is always unread.
//
// Accepted shapes are the stored form {id, payload:{...}, createdAt},
// an envelope using "data" instead of "payload", a flat object with the
// payload fields at the top level, and any of these encoded as a JSON
// string.
func Normalize(raw []byte, now time.Time, newID func() string) Notification {
	fields := decodeObject(raw)
	if fields == nil {
		return Notification{
			ID:        newID(),
			Payload:   Payload{Type: "unknown", Message: strings.TrimSpace(string(raw))},
			CreatedAt: now,
		}
	}

	body := fields
	for _, key := range []string{"payload", "data"} {
		if nested, ok := fields[key].(map[string]any); ok {
			body = nested
			break
		}
	}

	n := Notification{
		ID:        firstString(fields, "id", "notificationId", "notification_id"),
		Payload:   payloadFrom(body),
		CreatedAt: now,
	}
	if n.ID == "" && body != nil {
		n.ID = firstString(body, "id")
	}
	if n.ID == "" {
		n.ID = newID()
	}
	if ts, ok := firstTime(fields, "createdAt", "created_at"); ok {
		n.CreatedAt = ts
	} else if ts, ok := firstTime(body, "createdAt", "created_at"); ok {
		n.CreatedAt = ts
	}
	return n
}

func decodeObject(raw []byte) map[string]any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
	}
	obj, _ := v.(map[string]any)
	return obj
}

func payloadFrom(m map[string]any) Payload {
	p := Payload{
		Title:        firstString(m, "title"),
		Message:      firstString(m, "message", "body"),
		Type:         firstString(m, "type"),
		Priority:     firstString(m, "priority"),
		Category:     firstString(m, "category"),
		ActionTarget: firstString(m, "actionTarget", "action_target", "actionUrl", "action_url"),
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		p.Metadata = meta
	}
	return p
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts, true
				}
			}
		case float64:
			if v > 1e12 {
				return time.UnixMilli(int64(v)), true
			}
			return time.Unix(int64(v), 0), true
		}
	}
	return time.Time{}, false
}
