package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"todocal/backend/remote"
	"todocal/internal/config"
	"todocal/internal/notification"
	"todocal/internal/scheduler"
	"todocal/internal/shutdown"
	"todocal/internal/utils"
	"todocal/internal/watcher"
)

// newNotifyCmd creates the 'notify' command group
func newNotifyCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Due-task notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newNotifyRunCmd(stdout, cfg))
	cmd.AddCommand(newNotifyTestCmd(stdout, cfg))
	cmd.AddCommand(newNotifyLogCmd(stdout, cfg))
	return cmd
}

// newNotifier builds the notification manager from config.
func newNotifier(appCfg *config.Config, cfg *Config) (notification.NotificationManager, error) {
	n := appCfg.Notification
	ncfg := &notification.Config{
		Enabled: n.Enabled,
		OSNotification: notification.OSNotificationConfig{
			Enabled:   n.OSNotification.Enabled,
			OnTaskDue: n.OSNotification.OnTaskDue,
			OnError:   n.OSNotification.OnError,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   n.LogNotification.Enabled,
			Path:      appCfg.GetNotificationLogPath(),
			MaxSizeMB: n.LogNotification.MaxSizeMB,
		},
	}
	var opts []notification.Option
	if cfg.NotifyExecutor != nil {
		opts = append(opts, notification.WithCommandExecutor(cfg.NotifyExecutor))
	}
	return notification.NewManager(ncfg, opts...)
}

// newNotifyRunCmd creates the 'notify run' command
func newNotifyRunCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch today's tasks and notify when they come due",
		Long:  "Run in the foreground, notifying once per task occurrence when its time arrives. With --once, check the current minute and exit (for cron).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if !a.config.Notification.Enabled {
				a.close()
				return utils.ErrNotificationsDisabled()
			}

			notifier, err := newNotifier(a.config, cfg)
			if err != nil {
				a.close()
				return err
			}
			bg, err := utils.OpenBackgroundLog(a.config.GetBackgroundLogPath(), a.config.IsBackgroundLoggingEnabled())
			if err != nil {
				utils.Debugf("background log unavailable: %v", err)
			}

			sched := scheduler.New(a.manager, notifier,
				scheduler.WithClock(cfg.now),
				scheduler.WithPollInterval(a.config.GetPollInterval()),
				scheduler.WithBackgroundLogger(bg),
			)

			if once {
				defer a.close()
				defer func() { _ = notifier.Close() }()
				defer bg.Close()
				return doNotifyOnce(sched, notifier, cfg, stdout)
			}
			return runScheduler(a, sched, notifier, bg, stdout)
		},
	}
	cmd.Flags().Bool("once", false, "Check once and exit")
	return cmd
}

func doNotifyOnce(sched *scheduler.Scheduler, notifier notification.NotificationManager, cfg *Config, stdout io.Writer) error {
	if notifier.RequestPermission() != notification.PermissionGranted {
		return utils.WrapWithSuggestion(fmt.Errorf("no notification channel is available"),
			"Install notify-send or enable notification.log_notification in your config file")
	}
	keys := sched.Check(cfg.now())

	if cfg.OutputFormat == "json" {
		if keys == nil {
			keys = []string{}
		}
		return writeJSON(stdout, map[string]any{"notified": keys, "result": ResultActionCompleted})
	}
	_, _ = fmt.Fprintf(stdout, "Notified %d task(s)\n", len(keys))
	resultCode(cfg, stdout, ResultActionCompleted)
	return nil
}

// runScheduler runs until SIGINT/SIGTERM. Another process changing the
// database (or the remote snapshot) triggers a refresh and an immediate check.
func runScheduler(a *app, sched *scheduler.Scheduler, notifier notification.NotificationManager, bg *utils.BackgroundLogger, stdout io.Writer) error {
	sm := shutdown.NewManager()
	sm.HandleSignals()
	ctx := sm.Context()

	sm.RegisterCleanup("store", func(context.Context) error {
		a.close()
		return nil
	})
	sm.RegisterCleanup("notifier", func(context.Context) error {
		return notifier.Close()
	})
	sm.RegisterCleanup("background log", func(context.Context) error {
		bg.Close()
		return nil
	})

	if perm := sched.Enable(ctx); perm != notification.PermissionGranted {
		_ = sm.Finish()
		return utils.WrapWithSuggestion(fmt.Errorf("notifications unavailable (permission %s)", perm),
			"Install notify-send or enable notification.log_notification in your config file")
	}

	refresh := func() {
		if err := a.manager.Refresh(ctx); err != nil {
			utils.Warnf("refresh: %v", err)
		}
		sched.Wake()
	}

	watchPath := a.config.GetDatabasePath()
	if a.config.Backend == config.BackendRemote {
		watchPath = a.config.GetCachePath()
		_ = os.MkdirAll(filepath.Dir(watchPath), 0755)
		go pollRemote(ctx, a.config.GetPollInterval(), refresh)
	}
	w, err := watcher.New(watcher.DefaultConfig(refresh, watchPath))
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		utils.Warnf("not watching %s for changes: %v", watchPath, err)
	} else {
		sm.RegisterCleanup("watcher", func(context.Context) error {
			w.Stop()
			return nil
		})
	}

	bg.Printf("notify run started (backend %s)", a.config.Backend)
	_, _ = fmt.Fprintln(stdout, "Watching for due tasks (Ctrl+C to stop)")

	<-ctx.Done()
	<-sched.Done()
	if rb, ok := a.store.(*remote.Backend); ok {
		bg.Printf("remote: %d rate-limited responses, circuit %s", rb.Stats().RateLimitCount(), rb.Circuit())
	}
	bg.Printf("notify run stopped")
	return sm.Finish()
}

// pollRemote refreshes a remote store every interval, since it cannot be watched.
func pollRemote(ctx context.Context, interval time.Duration, refresh func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// newNotifyTestCmd creates the 'notify test' command
func newNotifyTestCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			if !appCfg.Notification.Enabled {
				return utils.ErrNotificationsDisabled()
			}
			notifier, err := newNotifier(appCfg, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = notifier.Close() }()

			n := notification.Notification{
				Type:      notification.NotifyTest,
				Title:     "Todo Calendar",
				Message:   "Test notification from todocal",
				Timestamp: cfg.now(),
			}
			if err := notifier.Send(n); err != nil {
				return fmt.Errorf("failed to send test notification: %w", err)
			}
			_, _ = fmt.Fprintf(stdout, "Test notification sent through %d channel(s)\n", notifier.ChannelCount())
			resultCode(cfg, stdout, ResultActionCompleted)
			return nil
		},
	}
}

// newNotifyLogCmd creates the 'notify log' command
func newNotifyLogCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show or clear the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			path := appCfg.GetNotificationLogPath()

			if clearLog, _ := cmd.Flags().GetBool("clear"); clearLog {
				if err := notification.ClearLog(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to clear notification log: %w", err)
				}
				_, _ = fmt.Fprintln(stdout, "Notification log cleared")
				resultCode(cfg, stdout, ResultActionCompleted)
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := notification.ReadLog(path, limit)
			if err != nil {
				return fmt.Errorf("failed to read notification log: %w", err)
			}
			if cfg.OutputFormat == "json" {
				if entries == nil {
					entries = []string{}
				}
				return writeJSON(stdout, map[string]any{"entries": entries, "path": path, "result": ResultInfoOnly})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(stdout, "No notifications logged")
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(stdout, e)
			}
			resultCode(cfg, stdout, ResultInfoOnly)
			return nil
		},
	}
	cmd.Flags().Bool("clear", false, "Clear the log")
	cmd.Flags().IntP("limit", "n", 0, "Show only the newest N entries")
	return cmd
}
