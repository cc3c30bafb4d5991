package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/watchload/internal/config"
	"github.com/JonMunkholm/watchload/internal/loader"
	"github.com/JonMunkholm/watchload/internal/logging"
	"github.com/JonMunkholm/watchload/internal/normalize"
	"github.com/JonMunkholm/watchload/internal/pipeline"
	"github.com/JonMunkholm/watchload/internal/report"
	"github.com/JonMunkholm/watchload/internal/tracker"
)

// loadConfig reads the config file named by --config or $WATCHLOAD_CONFIG,
// then the environment, and sets up logging from the result.
func loadConfig(o *rootOptions) (*config.Config, func() error, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.FileEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	closeLog, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("configuration loaded", "config", cfg.String())
	return cfg, closeLog, nil
}

// openPool creates the destination pool and verifies it with a ping.
func openPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(db.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(db.MaxConns)
	poolConfig.MinConns = int32(db.MinConns)
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = db.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, db.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", db.MaskedConnString(), err)
	}

	slog.Info("connected to database", "name", db.Name, "host", db.Host, "max_conns", db.MaxConns)
	return pool, nil
}

// runtime holds everything an ingesting command needs.
type runtime struct {
	cfg      *config.Config
	tracker  *tracker.Tracker
	pool     *pgxpool.Pool
	pipeline *pipeline.Pipeline
	recent   *report.RingSink
	closers  []func() error
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildRuntime checks the watched directory and wires tracker, normalizer,
// loader, sinks and pipeline. console receives colored outcome lines when
// enabled in the config.
func buildRuntime(ctx context.Context, cfg *config.Config, console io.Writer) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	empty, err := pipeline.CheckDir(cfg.Watch.Dir)
	if err != nil {
		return nil, err
	}
	if empty {
		slog.Warn("watched directory is empty", "dir", cfg.Watch.Dir)
	}

	scope, err := pipeline.ParseScope(cfg.Watch.NormalizeScope)
	if err != nil {
		return nil, err
	}
	policy, err := loader.ParsePolicy(cfg.Load.ExistingTablePolicy)
	if err != nil {
		return nil, err
	}

	norm, err := normalize.New(normalize.Options{
		OutputDir:    cfg.Watch.OutputDir,
		IgnoreHidden: cfg.Watch.IgnoreHidden,
	})
	if err != nil {
		return nil, err
	}

	rt.tracker, err = tracker.Open(cfg.Tracker.Path)
	if err != nil {
		return nil, fmt.Errorf("open tracker %s: %w", cfg.Tracker.Path, err)
	}
	rt.closers = append(rt.closers, rt.tracker.Close)

	rt.pool, err = openPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error { rt.pool.Close(); return nil })

	ld := loader.New(rt.pool, loader.Options{Policy: policy, Timeout: cfg.Load.Timeout})

	rt.recent = report.NewRingSink(cfg.Server.RecentOutcomes)
	sinks := []report.Sink{report.NewLogSink(nil), rt.recent}
	if cfg.Logging.Console && console != nil {
		sinks = append(sinks, report.NewConsoleSink(console))
	}

	rt.pipeline, err = pipeline.New(pipeline.Options{
		Dir:          cfg.Watch.Dir,
		Scope:        scope,
		Workers:      cfg.Watch.Workers,
		IgnoreHidden: cfg.Watch.IgnoreHidden,
		Sink:         report.Multi(sinks...),
	}, rt.tracker, norm, ld)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
