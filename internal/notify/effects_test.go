package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct {
	fakeNotifier
	err error
}

func (n *failingNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionDefault, n.err
}

func TestDispatcher_PermissionStartsDefault(t *testing.T) {
	d := NewDispatcher(&fakeSound{}, &fakeNotifier{permission: PermissionGranted}, nil)
	assert.Equal(t, PermissionDefault, d.Permission())

	d.Dispatch(unread("a", "A"))
	d.Wait()
}

func TestDispatcher_GrantedShowsNotification(t *testing.T) {
	sound := &fakeSound{}
	notifier := &fakeNotifier{permission: PermissionGranted}
	d := NewDispatcher(sound, notifier, nil)

	perm, err := d.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, perm)

	d.Dispatch(unread("a", "A"))
	d.Dispatch(unread("b", "B"))
	d.Wait()

	assert.Equal(t, 2, sound.Plays())
	assert.ElementsMatch(t, []string{"a", "b"}, notifier.Shown())
}

func TestDispatcher_DeniedOnlyPlaysSound(t *testing.T) {
	sound := &fakeSound{}
	notifier := &fakeNotifier{permission: PermissionDenied}
	d := NewDispatcher(sound, notifier, nil)
	_, err := d.RequestPermission(context.Background())
	require.NoError(t, err)

	d.Dispatch(unread("a", "A"))
	d.Wait()

	assert.Equal(t, 1, sound.Plays())
	assert.Empty(t, notifier.Shown())
}

func TestDispatcher_SoundFailureSwallowed(t *testing.T) {
	sound := &fakeSound{err: errors.New("no audio device")}
	notifier := &fakeNotifier{permission: PermissionGranted}
	d := NewDispatcher(sound, notifier, nil)
	_, _ = d.RequestPermission(context.Background())

	d.Dispatch(unread("a", "A"))
	d.Wait()

	assert.Equal(t, []string{"a"}, notifier.Shown())
}

func TestDispatcher_RequestErrorKeepsPermission(t *testing.T) {
	d := NewDispatcher(nil, &failingNotifier{err: errors.New("dbus unavailable")}, nil)
	perm, err := d.RequestPermission(context.Background())
	assert.Error(t, err)
	assert.Equal(t, PermissionDefault, perm)
}

func TestDispatcher_NilCollaborators(t *testing.T) {
	var nilDispatcher *Dispatcher
	nilDispatcher.Dispatch(unread("a", "A"))
	nilDispatcher.Wait()

	d := NewDispatcher(nil, nil, nil)
	perm, err := d.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, perm)
	d.Dispatch(unread("a", "A"))
	d.Wait()
}
