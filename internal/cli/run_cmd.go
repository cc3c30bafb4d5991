package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/watchload/internal/pipeline"
	"github.com/JonMunkholm/watchload/internal/watcher"
	"github.com/JonMunkholm/watchload/internal/web"
)

// drainTimeout bounds how long shutdown waits for in-flight files.
const drainTimeout = 2 * time.Minute

func newRunCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan the watched directory, then watch it and load new files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, o)
		},
	}
}

func runWatch(cmd *cobra.Command, o *rootOptions) error {
	cfg, closeLog, err := loadConfig(o)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	p := rt.pipeline
	w, err := watcher.New(p.Dir(), watcher.Options{
		Recursive: cfg.Watch.Recursive,
		Debounce:  cfg.Watch.Debounce,
		Ignore:    func(path string) bool { return !p.Accept(path) },
	})
	if err != nil {
		return err
	}
	defer w.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.Start(gctx) })

	// Events that arrive during the startup scan queue in the watcher.
	g.Go(func() error { return scanAndRun(gctx, p, w.Events()) })

	if cfg.Watch.RescanSchedule != "" {
		g.Go(func() error { return p.StartRescan(gctx, cfg.Watch.RescanSchedule) })
	}

	if cfg.Server.Enabled {
		srv := web.NewServer(cfg.Server, web.Deps{
			Outcomes: rt.recent,
			Records:  rt.tracker,
			Activity: p,
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := p.Drain(drainCtx); derr != nil {
		slog.Warn("shutdown before all files finished", "active", p.Active(), "error", derr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("watchload stopped")
	return nil
}

// scanAndRun runs the startup scan, then the receive loop. A scan that cannot
// read the directory is logged and the loop still starts.
func scanAndRun(ctx context.Context, p *pipeline.Pipeline, events <-chan watcher.Event) error {
	if _, err := p.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("startup scan failed, continuing with events", "dir", p.Dir(), "error", err)
	}
	slog.Info("watching for new files", "dir", p.Dir())
	return p.Run(ctx, events)
}
