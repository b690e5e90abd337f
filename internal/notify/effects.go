package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Permission is the user's consent state for platform notifications.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// SoundCue plays a short alert. Play must not block; playing again while a
// cue is audible restarts it.
type SoundCue interface {
	Play() error
}

// Notifier shows platform notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	RequestPermission(ctx context.Context) (Permission, error)
}

const showTimeout = 10 * time.Second

// Dispatcher fires the alert side-effects for live arrivals. History
// loads never reach it.
type Dispatcher struct {
	sound    SoundCue
	notifier Notifier
	logger   *zap.Logger

	mu         sync.Mutex
	permission Permission
	wg         sync.WaitGroup
}

func NewDispatcher(sound SoundCue, notifier Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sound:    sound,
		notifier: notifier,
		logger:   logger,
	}
}

func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// RequestPermission asks the platform for consent. It is the only way the
// permission state changes.
func (d *Dispatcher) RequestPermission(ctx context.Context) (Permission, error) {
	if d.notifier == nil {
		return PermissionDenied, nil
	}
	perm, err := d.notifier.RequestPermission(ctx)
	if err != nil {
		d.logger.Warn("notification permission request failed", zap.Error(err))
		return d.Permission(), err
	}
	d.mu.Lock()
	d.permission = perm
	d.mu.Unlock()
	d.logger.Info("notification permission", zap.Stringer("permission", perm))
	return perm, nil
}

// Dispatch plays the sound cue and, with permission, shows a platform
// notification. Failures are logged and swallowed.
func (d *Dispatcher) Dispatch(n Notification) {
	if d == nil {
		return
	}
	if d.sound != nil {
		if err := d.sound.Play(); err != nil {
			d.logger.Debug("sound cue failed", zap.Error(err))
		}
	}
	if d.notifier == nil || d.Permission() != PermissionGranted {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), showTimeout)
		defer cancel()
		if err := d.notifier.Show(ctx, n); err != nil {
			d.logger.Warn("platform notification failed", zap.String("id", n.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until pending platform notifications have been handed off.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
