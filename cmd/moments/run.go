package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/christophersiem/little-moments/internal/app"
	"github.com/christophersiem/little-moments/internal/config"
	"github.com/christophersiem/little-moments/internal/observe"
)

const shutdownTimeout = 15 * time.Second

// frontend runs next to the app until the user is done. Returning ends the
// whole command.
type frontend func(ctx context.Context, a *app.App) error

func newRecordCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record a moment interactively",
		Long: "Opens an interactive prompt: type \"start\" to record, \"stop\" when done, then \"save\" or \"discard\".\n" +
			"The status server from server.listen_addr runs alongside when configured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return app.NewConsole(a, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
			})
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status server and WebSocket feed without a terminal prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Server.ListenAddr == "" {
				return errors.New("serve: server.listen_addr is not configured")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving on %s, press Ctrl+C to stop\n", c.cfg.Server.ListenAddr)
			return c.runApp(cmd.Context(), nil)
		},
	}
}

// runApp builds the application, runs it together with fe until either ends
// or a signal arrives, then shuts everything down.
func (c *cli) runApp(parent context.Context, fe frontend) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "little-moments",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			c.log.Warn("moments: telemetry shutdown", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────
	mic, err := c.buildMicrophone()
	if err != nil {
		return err
	}
	application, err := app.New(ctx, c.cfg, mic, app.WithLogger(c.log))
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────
	var watcher *config.Watcher
	if c.configPath != "" {
		watcher, err = config.NewWatcher(c.configPath, c.onConfigChange, config.WithLogger(c.log))
		if err != nil {
			c.log.Warn("moments: config watcher disabled", "err", err)
			watcher = nil
		} else {
			defer watcher.Stop()
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	// A nil return from either side ends the other; errors cancel gctx.
	g.Go(func() error {
		err := application.Run(gctx)
		if err == nil {
			cancel()
		}
		return err
	})
	if watcher != nil {
		g.Go(func() error {
			reloadOnHangup(gctx, watcher)
			return nil
		})
	}
	if fe != nil {
		g.Go(func() error {
			err := fe(gctx, application)
			if err == nil {
				cancel()
			}
			return err
		})
	}
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := application.Shutdown(sctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	return runErr
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			w.Reload()
		}
	}
}

// onConfigChange applies the log level from an edited config file. Other
// changes take effect on the next start.
func (c *cli) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		c.level.Set(slogLevel(d.NewLogLevel))
		c.log.Info("moments: log level changed", "level", d.NewLogLevel)
	}
	if d.NeedsRestart() {
		c.log.Warn("moments: configuration change requires a restart",
			"api", d.BaseURLChanged,
			"capture", d.BackendsChanged,
			"server", d.ServerChanged,
		)
	}
}
