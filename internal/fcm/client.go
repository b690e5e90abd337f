package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/locolive/notify/internal/domain"
)

// sender is the subset of *messaging.Client used here.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client implements domain.PushSender over Firebase Cloud Messaging.
type Client struct {
	msgClient sender
	logger    *zap.Logger
}

var _ domain.PushSender = (*Client)(nil)

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("no firebase credentials file, using application default credentials")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// Send pushes one notification to a device. Tokens FCM reports as
// unregistered or malformed come back as domain.ErrDeviceTokenInvalid.
func (c *Client) Send(ctx context.Context, token string, title, body string, data map[string]string) error {
	if token == "" {
		return nil
	}

	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := c.msgClient.Send(ctx, message)
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return fmt.Errorf("%w: %v", domain.ErrDeviceTokenInvalid, err)
		}
		c.logger.Error("failed to send fcm message", zap.Error(err))
		return err
	}
	c.logger.Debug("fcm message sent", zap.String("message_id", id))
	return nil
}
