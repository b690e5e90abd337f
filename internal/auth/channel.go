package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ChannelClaims bind a channel token to one socket and one channel.
type ChannelClaims struct {
	SocketID  string    `json:"socket_id"`
	Channel   string    `json:"channel"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// ChannelSigner issues the tokens a socket presents when subscribing to a
// private channel.
type ChannelSigner struct {
	secret []byte
	expiry time.Duration
}

func NewChannelSigner(secret string, expiry time.Duration) *ChannelSigner {
	return &ChannelSigner{secret: []byte(secret), expiry: expiry}
}

// Sign authorizes socketID to join channel.
func (s *ChannelSigner) Sign(socketID, channel string) (string, error) {
	now := time.Now()
	claims := &ChannelClaims{
		SocketID:  socketID,
		Channel:   channel,
		TokenType: ChannelToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks that token was issued for exactly socketID and channel.
func (s *ChannelSigner) Verify(token, socketID, channel string) error {
	claims := &ChannelClaims{}
	if err := parse(token, claims, s.secret); err != nil {
		return err
	}
	if claims.TokenType != ChannelToken || claims.SocketID != socketID || claims.Channel != channel {
		return ErrInvalidToken
	}
	return nil
}
