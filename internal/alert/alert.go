// Package alert provides the platform side-effects fired for live
// notifications: desktop notifications and audible cues.
package alert

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/notify"
)

// AppName is shown as the source of desktop notifications.
const AppName = "Locolive"

// DesktopNotifier shows notifications through the OS notification service.
type DesktopNotifier struct {
	notify func(title, message string) error
}

func NewDesktopNotifier() *DesktopNotifier {
	beeep.AppName = AppName
	return &DesktopNotifier{notify: func(title, message string) error {
		return beeep.Notify(title, message, "")
	}}
}

var _ notify.Notifier = (*DesktopNotifier)(nil)

// RequestPermission is granted: desktop sessions have no consent prompt,
// the OS settings decide whether notifications are displayed.
func (d *DesktopNotifier) RequestPermission(ctx context.Context) (notify.Permission, error) {
	return notify.PermissionGranted, nil
}

func (d *DesktopNotifier) Show(ctx context.Context, n notify.Notification) error {
	title, body := Render(n)
	errc := make(chan error, 1)
	go func() { errc <- d.notify(title, body) }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("desktop notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogNotifier writes notifications to a logger, for headless runs.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) RequestPermission(ctx context.Context) (notify.Permission, error) {
	return notify.PermissionGranted, nil
}

func (l *LogNotifier) Show(ctx context.Context, n notify.Notification) error {
	title, body := Render(n)
	l.logger.Info("notification",
		zap.String("id", n.ID),
		zap.String("title", title),
		zap.String("message", body),
		zap.String("type", n.Payload.Type),
	)
	return nil
}

// Render returns the title and body to display. Missing titles fall back
// to the notification type.
func Render(n notify.Notification) (string, string) {
	title := strings.TrimSpace(n.Payload.Title)
	if title == "" {
		title = strings.TrimSpace(n.Payload.Type)
	}
	if title == "" || title == "unknown" {
		title = "New notification"
	}
	return title, strings.TrimSpace(n.Payload.Message)
}

// BeepCue plays the system beep. A cue requested while one is sounding
// replaces it; the device cannot interrupt a beep, so the pending one
// plays as soon as the current one ends.
type BeepCue struct {
	beep    func() error
	mu      sync.Mutex
	playing bool
	pending bool
}

func NewBeepCue() *BeepCue {
	return &BeepCue{beep: func() error {
		return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
	}}
}

func (b *BeepCue) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playing {
		b.pending = true
		return nil
	}
	b.playing = true
	go b.loop()
	return nil
}

func (b *BeepCue) loop() {
	for {
		_ = b.beep()
		b.mu.Lock()
		if !b.pending {
			b.playing = false
			b.mu.Unlock()
			return
		}
		b.pending = false
		b.mu.Unlock()
	}
}

// BellCue writes the terminal bell.
type BellCue struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellCue(w io.Writer) *BellCue {
	return &BellCue{w: w}
}

func (b *BellCue) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}
