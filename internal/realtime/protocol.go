// Package realtime implements the channel protocol spoken between the
// notification hub and its clients: JSON text frames over a websocket.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Protocol events.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscribe             = "subscribe"
	EventUnsubscribe           = "unsubscribe"
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventSubscriptionError     = "subscription_error"
	EventPing                  = "ping"
	EventPong                  = "pong"
	EventError                 = "error"
)

// ProtocolVersion is sent as the protocol query parameter.
const ProtocolVersion = "1"

// Message is a single frame. Data is left raw so channel events reach the
// handler exactly as published.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data into a frame.
func NewMessage(event, channel string, data any) (Message, error) {
	msg := Message{Event: event, Channel: channel}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s data: %w", event, err)
	}
	msg.Data = raw
	return msg, nil
}

type ConnectionData struct {
	SocketID string `json:"socket_id"`
	// ActivityTimeout is the server's idle limit in seconds.
	ActivityTimeout int `json:"activity_timeout,omitempty"`
}

type SubscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

type ErrorData struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// AuthRequest is posted to the channel auth endpoint.
type AuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

// AuthResponse carries the channel token proving the socket may join.
type AuthResponse struct {
	Auth string `json:"auth"`
}

// AppPath is the websocket path for an application key.
func AppPath(key string) string {
	return "/app/" + key
}

// SocketURL builds the websocket URL for key and cluster. host may be a
// bare host:port or a ws(s)/http(s) URL; when empty it is derived from
// authEndpoint.
func SocketURL(host, authEndpoint, key, cluster string) (string, error) {
	base := strings.TrimSpace(host)
	if base == "" {
		base = strings.TrimSpace(authEndpoint)
	}
	if base == "" {
		return "", fmt.Errorf("realtime: no host or auth endpoint")
	}
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime: parse host: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("realtime: missing host in %q", base)
	}
	u.Path = AppPath(key)
	u.RawPath = ""
	q := url.Values{}
	q.Set("cluster", cluster)
	q.Set("protocol", ProtocolVersion)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
