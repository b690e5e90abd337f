package fcm

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	got *messaging.Message
	err error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.got = m
	if f.err != nil {
		return "", f.err
	}
	return "projects/p/messages/1", nil
}

func TestSend_BuildsMessage(t *testing.T) {
	fs := &fakeSender{}
	c := &Client{msgClient: fs, logger: zap.NewNop()}

	err := c.Send(context.Background(), "tok", "Title", "Body", map[string]string{"type": "chat"})
	require.NoError(t, err)
	require.NotNil(t, fs.got)
	assert.Equal(t, "tok", fs.got.Token)
	assert.Equal(t, "Title", fs.got.Notification.Title)
	assert.Equal(t, "Body", fs.got.Notification.Body)
	assert.Equal(t, "chat", fs.got.Data["type"])
}

func TestSend_EmptyTokenSkipped(t *testing.T) {
	fs := &fakeSender{}
	c := &Client{msgClient: fs, logger: zap.NewNop()}

	require.NoError(t, c.Send(context.Background(), "", "t", "b", nil))
	assert.Nil(t, fs.got)
}

func TestSend_PassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("unavailable")
	c := &Client{msgClient: &fakeSender{err: boom}, logger: zap.NewNop()}

	err := c.Send(context.Background(), "tok", "t", "b", nil)
	assert.ErrorIs(t, err, boom)
}
