package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/warp/delivery-tracker/cache"
	"github.com/warp/delivery-tracker/changefeed"
	"github.com/warp/delivery-tracker/config"
	"github.com/warp/delivery-tracker/engine"
	"github.com/warp/delivery-tracker/remote"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg    config.Config
	engine *engine.Engine
	remote *remote.SQL
	feed   changefeed.Publisher

	closeCache func() error
}

// openApp loads configuration and wires remote store, cache, change feed
// and engine. The engine is not initialized.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	mode, err := engine.ParseStartupMode(cfg.StartupMode)
	if err != nil {
		return nil, err
	}

	if cfg.Remote.Driver == remote.DriverSQLite {
		ensureDir(cfg.Remote.DSN)
	}
	client, err := remote.Open(cfg.Remote.Driver, cfg.Remote.DSN, cfg.Remote.Timeout)
	if err != nil {
		return nil, err
	}

	ensureDir(cfg.Cache.Path)
	c, closeCache := cache.Open(cfg.Cache.Path)

	var feed changefeed.Publisher = changefeed.Nop{}
	if len(cfg.Changefeed.Brokers) > 0 {
		feed = changefeed.NewKafka(cfg.Changefeed.Brokers, cfg.Changefeed.Topic)
		slog.Info("change feed enabled", "brokers", cfg.Changefeed.Brokers, "topic", cfg.Changefeed.Topic)
	}

	eng := engine.New(remote.NewHealing(client), c, engine.Options{
		Mode:      mode,
		Location:  loc,
		Publisher: feed,
	})

	return &app{
		cfg:        cfg,
		engine:     eng,
		remote:     client,
		feed:       feed,
		closeCache: closeCache,
	}, nil
}

// start initializes the engine.
func (a *app) start(ctx context.Context) error {
	if err := a.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	return errors.Join(a.feed.Close(), a.closeCache(), a.remote.Close())
}

// ensureDir creates the parent directory of a file path. In-memory and
// URI style paths are left alone.
func ensureDir(path string) {
	if path == "" || path == ":memory:" || filepath.Dir(path) == "." {
		return
	}
	if len(path) > 5 && path[:5] == "file:" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("could not create data directory", "path", path, "error", err)
	}
}
