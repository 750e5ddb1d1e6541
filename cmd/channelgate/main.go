package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/channelgate/channelgate/internal/gateway"
	"github.com/channelgate/channelgate/internal/hook"
	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/internal/offer"
	"github.com/channelgate/channelgate/internal/subscriber"
	"github.com/channelgate/channelgate/internal/sweeper"
	"github.com/channelgate/channelgate/internal/telegram"
	"github.com/channelgate/channelgate/internal/tunnel"
	"github.com/channelgate/channelgate/pkg/backoff"
	"github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/httpserver"
	"github.com/channelgate/channelgate/pkg/logger"
	"github.com/channelgate/channelgate/pkg/pg"
)

type appConfig struct {
	Environment   string        `env:"ENVIRONMENT" envDefault:"production"`
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	Storage       string        `env:"STORAGE" envDefault:"postgres"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`

	Hook     hook.Config
	Telegram telegram.Config
	Lava     gateway.LavaConfig
	Offer    offer.Config
	Tunnel   tunnel.Config
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Environment, "channelgate"))
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped", logger.Error(err))
		os.Exit(1)
	}
	log.Info("service stopped")
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	store, ready, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open subscriber store: %w", err)
	}
	defer cleanup()

	off, err := offer.Load(cfg.Offer)
	if err != nil {
		return fmt.Errorf("load offer: %w", err)
	}
	log.Info("offer loaded",
		slog.String("offer", off.Title),
		slog.Int64("price", off.Price), slog.String("currency", off.Currency))

	gw, err := gateway.NewLavaGateway(cfg.Lava)
	if err != nil {
		return fmt.Errorf("init payment gateway: %w", err)
	}

	coord := lifecycle.New(store, gw, off, lifecycle.WithLogger(log))

	bot, err := telegram.NewClient(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}
	exec := telegram.NewExecutor(bot, telegram.WithExecutorLogger(log))
	listener := telegram.NewListener(bot, coord, telegram.WithListenerLogger(log))

	handler := hook.NewHandler(coord, exec, cfg.Hook,
		hook.WithLogger(log),
		hook.WithReadiness(ready),
	)
	server := httpserver.New(
		httpserver.WithAddr(cfg.HTTPAddr),
		httpserver.WithLogger(log),
	)

	sweep := sweeper.New(coord, exec,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithLogger(log),
	)

	if cfg.Tunnel.PublicURL != "" {
		exposer, err := tunnel.NewStatic(cfg.Tunnel.PublicURL)
		if err != nil {
			return fmt.Errorf("init webhook exposure: %w", err)
		}
		publicURL, err := exposer.Expose(ctx, 0)
		if err != nil {
			return fmt.Errorf("expose webhook endpoint: %w", err)
		}
		log.Info("webhook reachable", slog.String("url", publicURL+"/webhook/lava"))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, handler.Router())
	})
	g.Go(func() error {
		return runWithRestart(ctx, log, "telegram listener", listener.Run)
	})
	g.Go(func() error {
		return runWithRestart(ctx, log, "expiry sweeper", sweep.Run)
	})

	log.Info("service started", slog.String("addr", cfg.HTTPAddr))
	return g.Wait()
}

// openStore opens the configured subscriber store and returns it with its
// readiness check and cleanup. The in-memory store is for local development
// only and must be asked for explicitly.
func openStore(ctx context.Context, cfg appConfig, log *slog.Logger) (subscriber.Store, func(context.Context) error, func(), error) {
	switch cfg.Storage {
	case "memory":
		log.Warn("using in-memory subscriber store, all state is lost on restart")
		return subscriber.NewMemoryStore(), nil, func() {}, nil

	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return subscriber.NewPGStore(pool), pg.Healthcheck(pool), pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unrecognized storage backend %q", cfg.Storage)
	}
}

// runWithRestart keeps a long-running component alive: a crash is logged
// and the component restarts after a backoff delay, until the context is
// canceled.
func runWithRestart(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) error {
	strategy := backoff.Default()
	attempt := 0

	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		delay := strategy.NextInterval(attempt)
		log.Error("component crashed, restarting",
			slog.String("component", name), logger.Error(err),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
