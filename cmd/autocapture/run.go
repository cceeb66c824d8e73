package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/autocapture/internal/archive"
	"github.com/GriffinCanCode/autocapture/internal/config"
	"github.com/GriffinCanCode/autocapture/internal/delivery"
	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
	"github.com/GriffinCanCode/autocapture/internal/geo"
	"github.com/GriffinCanCode/autocapture/internal/health"
	"github.com/GriffinCanCode/autocapture/internal/ledger"
	"github.com/GriffinCanCode/autocapture/internal/logging"
	"github.com/GriffinCanCode/autocapture/internal/metrics"
	"github.com/GriffinCanCode/autocapture/internal/pipeline"
	"github.com/GriffinCanCode/autocapture/internal/resilience"
	"github.com/GriffinCanCode/autocapture/internal/screen"
	"github.com/GriffinCanCode/autocapture/internal/server"
	"github.com/GriffinCanCode/autocapture/internal/session"
	"github.com/GriffinCanCode/autocapture/internal/sysinfo"
)

type runOptions struct {
	ConfigPath string
	Init       bool
	Once       bool
}

func run(ctx context.Context, opts runOptions) error {
	defaults := config.Defaults()
	closer, err := logging.Setup(logging.Options{File: defaults.LogFile, Level: defaults.LogLevel})
	if err != nil {
		return cli.Exit(fmt.Sprintf("set up logging: %v", err), 1)
	}
	defer func() { _ = closer.Close() }()

	if opts.Init {
		if err := config.Init(opts.ConfigPath); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		slog.Info("wrote default config, set webhook_url and start again", "path", opts.ConfigPath)
		return cli.Exit("", 1)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return configError(opts.ConfigPath, err)
	}
	logging.SetLevel(cfg.LogLevel)

	if cfg.LogFile != defaults.LogFile {
		next, err := logging.Setup(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
		if err != nil {
			return cli.Exit(fmt.Sprintf("set up logging: %v", err), 1)
		}
		_ = closer.Close()
		closer = next
	}

	sess := session.New(cfg.SessionsDir, time.Now())
	banner(cfg, sess.ID())

	if !cfg.AutoStart && !opts.Once {
		slog.Info("auto start disabled, exiting")
		return nil
	}

	if err := ensureDirs(cfg); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	a, err := build(cfg, sess)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer a.close()

	if opts.Once {
		out, err := a.runner.RunSingle(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if !out.Delivered {
			return cli.Exit(fmt.Sprintf("capture %d not delivered: %s", out.Index, out.Err), 1)
		}
		return nil
	}

	return serve(ctx, cfg, a)
}

// configError reports a load failure. A missing webhook on first run leaves
// a placeholder document behind for the user to edit.
func configError(path string, err error) error {
	slog.Error("invalid configuration", "path", path, "error", err)
	if apperrors.IsCode(err, apperrors.CodeConfigMissing) {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			if initErr := config.Init(path); initErr == nil {
				slog.Info("created default config, set webhook_url and start again", "path", path)
			}
		}
	}
	if apperrors.IsFatal(err) {
		return cli.Exit("", 1)
	}
	return cli.Exit(err.Error(), 1)
}

func banner(cfg *config.Config, sessionID string) {
	slog.Info("auto image logger starting", "session", sessionID)
	slog.Info("configuration",
		"webhook", cfg.MaskedWebhook(),
		"interval", cfg.Interval(),
		"max_captures", cfg.MaxCaptures,
		"save_locally", cfg.SaveLocally,
		"location_capture", cfg.CaptureLocation,
		"location_service", cfg.LocationService,
	)
}

func ensureDirs(cfg *config.Config) error {
	dirs := []string{cfg.SessionsDir, filepath.Dir(cfg.LogFile)}
	if cfg.SaveLocally {
		dirs = append(dirs, cfg.LocalSavePath)
	}
	for _, d := range dirs {
		if d == "" || d == "." {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

type app struct {
	runner  *pipeline.Runner
	store   *ledger.Store
	closers []func()
}

// close releases the collaborators unless the loop goroutine outlived the
// join timeout and may still be using them.
func (a *app) close() {
	if a.runner != nil && a.runner.Busy() {
		slog.Warn("capture loop still running, leaving capturer and ledger open")
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires the pipeline. Optional stages that fail to initialize are
// logged and disabled.
func build(cfg *config.Config, sess *session.Session) (*app, error) {
	capturer := screen.New()
	a := &app{closers: []func(){capturer.Close}}

	deps := pipeline.Deps{
		Session:  sess,
		Capturer: capturer,
		Facts:    sysinfo.NewCollector(),
		Deliverer: delivery.New(delivery.Options{
			URL:               cfg.WebhookURL,
			Username:          cfg.Username,
			AvatarURL:         cfg.AvatarURL,
			Color:             cfg.EmbedColor,
			IncludeTimestamp:  cfg.IncludeTimestamp,
			IncludeSystemInfo: cfg.IncludeSystemInfo,
		}),
		Snapshot: redacted(cfg),
	}

	if cfg.CaptureLocation {
		deps.Locator = geo.New(locatorOptions(cfg))
	}

	if cfg.SaveLocally {
		saver, err := archive.New(cfg.LocalSavePath, cfg.ImageQuality)
		if err != nil {
			slog.Error("local saving disabled", "error", err)
		} else {
			deps.Archiver = saver
		}
	}

	if cfg.LedgerPath != "" {
		store, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			slog.Warn("capture ledger disabled", "error", err)
		} else {
			deps.Ledger = store
			a.store = store
			a.closers = append(a.closers, func() { _ = store.Close() })
		}
	}

	runner, err := pipeline.New(deps, pipeline.SettingsFrom(cfg))
	if err != nil {
		a.close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func locatorOptions(cfg *config.Config) geo.Options {
	opts := geo.Options{
		Enabled: true,
		Kind:    geo.KindFromName(string(cfg.LocationService)),
		Timeout: cfg.LocationTimeoutDuration(),
	}
	if cfg.LocationRateLimit {
		opts.Limit = geo.DefaultLimit
	}
	if cfg.LocationBreaker {
		opts.Breaker = resilience.New(resilience.LocationConfig()).WithHook(func(_, to resilience.State) {
			metrics.BreakerState.Set(float64(to))
		})
	}
	return opts
}

// redacted is the config snapshot stored in the session start record.
func redacted(cfg *config.Config) config.Config {
	snap := *cfg
	snap.WebhookURL = cfg.MaskedWebhook()
	return snap
}

// serve runs the loop alongside the optional status and health servers.
// Everything stops when the loop ends or ctx is cancelled. A server that
// fails is logged and left down; the loop keeps running.
func serve(ctx context.Context, cfg *config.Config, a *app) error {
	runner := a.runner
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})

	if cfg.StatusAddr != "" {
		var lister server.CaptureLister
		if a.store != nil {
			lister = a.store
		}
		srv := server.New(cfg.StatusAddr, runner, lister)
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				slog.Error("status server stopped", "addr", cfg.StatusAddr, "error", err)
			}
			return nil
		})
	}

	if cfg.HealthAddr != "" {
		hs := health.New(cfg.HealthAddr, runner)
		g.Go(func() error {
			if err := hs.Start(gctx); err != nil {
				slog.Error("health server stopped", "addr", cfg.HealthAddr, "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		notifySystemd(gctx, runner)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown with error", "error", err)
		return cli.Exit(err.Error(), 1)
	}
	slog.Info("stopped")
	return nil
}

// notifySystemd reports READY once the loop runs and STOPPING when it winds
// down. Outside systemd SdNotify is a no-op.
func notifySystemd(ctx context.Context, runner *pipeline.Runner) {
	var ready, stopping bool
	for {
		changed := runner.Changed()
		switch st := runner.State(); {
		case st == pipeline.Running && !ready:
			ready = true
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				slog.Debug("sd_notify failed", "error", err)
			}
		case st >= pipeline.Stopping && !stopping:
			stopping = true
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}
