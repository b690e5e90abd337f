// Command notify follows one user's notifications from a terminal: it loads
// history over REST, listens on the user's private channel and raises a
// desktop notification and sound for every live arrival.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/locolive/notify/internal/alert"
	"github.com/locolive/notify/internal/apiclient"
	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/config"
	"github.com/locolive/notify/internal/notify"
	"github.com/locolive/notify/internal/realtime"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("notify exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, logger *zap.Logger) error {
	userID, err := auth.UserIDFromToken(cfg.Token)
	if err != nil {
		return fmt.Errorf("read identity from token: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var notifier notify.Notifier = alert.NewLogNotifier(logger.Named("alert"))
	if cfg.DesktopNotify {
		notifier = alert.NewDesktopNotifier()
	}
	var sound notify.SoundCue
	switch {
	case cfg.Sound && cfg.DesktopNotify:
		sound = alert.NewBeepCue()
	case cfg.Sound:
		// Headless terminals get the bell instead of the system beep.
		sound = alert.NewBellCue(os.Stdout)
	}
	dispatcher := notify.NewDispatcher(sound, notifier, logger.Named("alert"))
	if _, err := dispatcher.RequestPermission(ctx); err != nil {
		logger.Warn("notifications will be silent", zap.Error(err))
	}

	session := notify.NewSession(notify.SessionOptions{
		API: apiclient.New(cfg.APIURL, cfg.Token, nil, logger.Named("api")),
		Transport: realtime.New(realtime.Options{
			Token:  cfg.Token,
			Logger: logger.Named("realtime"),
		}),
		Channel: notify.ChannelConfig{
			Key:          cfg.ChannelKey,
			Cluster:      cfg.ChannelCluster,
			AuthEndpoint: cfg.ChannelAuthURL,
			Host:         cfg.ChannelHost,
		},
		Dispatcher: dispatcher,
		Logger:     logger.Named("session"),
	})

	if err := session.Start(ctx, userID); err != nil {
		logger.Warn("initial history fetch failed", zap.Error(err))
	}
	defer func() {
		session.Stop()
		session.Wait()
		dispatcher.Wait()
	}()

	c := &console{session: session, out: os.Stdout}
	c.list()
	go watchChannel(ctx, session, logger)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.execute(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stdout, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// watchChannel logs live channel transitions as the session reports them.
func watchChannel(ctx context.Context, session *notify.Session, logger *zap.Logger) {
	last := session.State().ChannelState
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Updates():
			st := session.State()
			if st.ChannelState != last {
				logger.Info("live channel", zap.Stringer("state", st.ChannelState))
				last = st.ChannelState
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.DisableStacktrace = true
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}
