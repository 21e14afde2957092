package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gamepanel/control-plane/internal/api"
	"github.com/gamepanel/control-plane/internal/auth"
	"github.com/gamepanel/control-plane/internal/backup"
	"github.com/gamepanel/control-plane/internal/config"
	"github.com/gamepanel/control-plane/internal/metrics"
	"github.com/gamepanel/control-plane/internal/notifier"
	"github.com/gamepanel/control-plane/internal/observability"
	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/scheduler"
	"github.com/gamepanel/control-plane/internal/store"
)

type app struct {
	cfg       config.Config
	logger    *slog.Logger
	st        *store.Store
	rt        runtime.Runtime
	sched     *scheduler.Scheduler
	backups   *backup.Engine
	notif     *notifier.Composite
	reg       *metrics.Registry
	authz     *auth.Resolver
}

func main() {
	cliApp := &cli.App{
		Name:  "gamepanel",
		Usage: "game-server control plane",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background reconciliation loops",
				Action: runServe,
			},
			{
				Name:   "reconcile",
				Usage:  "run auto-stop expiry and expired-session cleanup once, then exit",
				Action: runReconcile,
			},
			{
				Name:  "backup",
				Usage: "backup operations",
				Subcommands: []*cli.Command{
					{
						Name:      "run",
						Usage:     "create a backup for a single server and exit",
						ArgsUsage: "<server-id>",
						Action:    runBackupRun,
					},
				},
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel)

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}

	rt, err := runtime.New(cfg.Runtime.EngineHost)
	if err != nil {
		return nil, fmt.Errorf("runtime adapter: %w", err)
	}

	channel := notifier.NewChannelNotifier(st, cfg.Notifier.ChannelAPIBase, logger)
	webhook := notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL, logger)
	notif := notifier.NewComposite(channel, webhook, logger)

	sched := scheduler.New(st, rt, notif, cfg.Runtime.ManagedNamePrefix, logger)
	backups := backup.New(st, rt, cfg.Backup.Root, cfg.Backup.HostDataRoot, cfg.Runtime.ManagedNamePrefix, logger)

	reg := metrics.New()
	authz := auth.NewResolver(st, cfg.Auth.BotAPIKey)

	return &app{
		cfg:     cfg,
		logger:  logger,
		st:      st,
		rt:      rt,
		sched:   sched,
		backups: backups,
		notif:   notif,
		reg:     reg,
		authz:   authz,
	}, nil
}

func runServe(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.st.Close()

	srv := api.New(a.cfg, a.st, a.sched, a.backups, a.rt, a.notif, a.authz, a.reg, a.logger)
	routes := srv.Routes()

	rl := auth.NewRateLimiter(a.cfg.RateLimit, a.reg)
	var handler http.Handler = rl.Middleware(routes)
	handler = observability.Middleware(a.logger, a.reg, handler)

	httpSrv := &http.Server{
		Addr:         a.cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(a.cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()
	a.sched.StartAutoStopTicker(loopCtx)
	go a.backups.RunAutoBackupTicker(loopCtx, a.activeServerIDs)
	go a.runSessionCleanupTicker(loopCtx)

	go func() {
		a.logger.Info("gamepanel_start", slog.String("listen_addr", a.cfg.Server.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server_failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cancelLoops()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown_failed", slog.String("error", err.Error()))
	}
	a.logger.Info("gamepanel_stopped")
	return nil
}

// activeServerIDs reports the single running server, if any, for the auto
// backup ticker — the invariant that at most one run is ever open (I1) means
// this is at most a one-element slice.
func (a *app) activeServerIDs() []string {
	run, ok, err := a.st.AnyOpenRun()
	if err != nil || !ok {
		return nil
	}
	return []string{run.ServerID}
}

const sessionCleanupInterval = 30 * time.Minute

// runSessionCleanupTicker sweeps expired AuthSession rows (spec.md §4.1)
// on the same cooperative-loop shape as the auto-stop and auto-backup
// tickers.
func (a *app) runSessionCleanupTicker(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := a.st.CleanupExpiredSessions(store.Now().Unix())
		if err != nil {
			a.logger.Warn("session_cleanup_failed", slog.String("error", err.Error()))
			continue
		}
		if removed > 0 {
			a.logger.Info("session_cleanup_completed", slog.Int64("sessions_removed", removed))
		}
	}
}

func runReconcile(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.st.Close()

	ctx := context.Background()
	expired, err := a.sched.ExpireOverAgeRun(ctx)
	if err != nil {
		a.logger.Error("reconcile_failed", slog.String("error", err.Error()))
		return err
	}
	removed, err := a.st.CleanupExpiredSessions(store.Now().Unix())
	if err != nil {
		a.logger.Error("reconcile_session_cleanup_failed", slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("reconcile_completed", slog.Bool("expired_run", expired), slog.Int64("sessions_removed", removed))
	return nil
}

func runBackupRun(c *cli.Context) error {
	serverID := c.Args().First()
	if serverID == "" {
		return errors.New("usage: gamepanel backup run <server-id>")
	}
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.st.Close()

	rec, err := a.backups.Create(context.Background(), serverID)
	if err != nil {
		a.logger.Error("backup_run_failed", slog.String("server_id", serverID), slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("backup_run_completed", slog.String("server_id", serverID), slog.Int64("backup_id", rec.ID), slog.String("filename", rec.Filename))
	return nil
}
