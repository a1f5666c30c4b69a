// Package bootstrap wires configuration into a running grid trader
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grid_trader/internal/alert"
	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/engine/gridengine"
	"grid_trader/internal/exchange"
	"grid_trader/internal/infrastructure/health"
	"grid_trader/internal/infrastructure/server"
	"grid_trader/internal/journal"
	"grid_trader/internal/trading/grid"
	"grid_trader/pkg/concurrency"

	"golang.org/x/sync/errgroup"
)

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// App holds the wired components of one grid trader process
type App struct {
	Cfg      *config.Config
	Logger   core.ILogger
	Exchange core.IExchange
	Engine   *gridengine.GridEngine
	Journal  core.IJournal
	Alerts   *alert.AlertManager
	Health   *health.HealthManager
	Server   *server.StatusServer // nil when the status server is disabled

	pool *concurrency.WorkerPool
}

// Option customizes NewApp
type Option func(*appOptions)

type appOptions struct {
	exchange core.IExchange
}

// WithExchange replaces the configured exchange
func WithExchange(ex core.IExchange) Option {
	return func(o *appOptions) { o.exchange = ex }
}

// NewApp builds every component from cfg. The caller owns telemetry setup.
func NewApp(cfg *config.Config, logger core.ILogger, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	ex := o.exchange
	if ex == nil {
		var err error
		if ex, err = exchange.NewExchange(cfg, logger); err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
	}

	spec, err := grid.NewSpec(grid.SpecConfig{
		Lower:         config.Decimal(cfg.Grid.LowerBound),
		Upper:         config.Decimal(cfg.Grid.UpperBound),
		LevelCount:    cfg.Grid.LevelCount,
		BandSize:      cfg.Grid.BandSize,
		PriceDecimals: cfg.Grid.PriceDecimals,
	})
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}

	investment := grid.NewInvestmentState(config.Decimal(cfg.Grid.InvestmentCap))
	inventory, err := grid.NewInventoryTracker(ex, cfg.Grid.Pair, investment, grid.SizingConfig{
		QtyDecimals:   cfg.Grid.QtyDecimals,
		MinOrderValue: config.Decimal(cfg.Grid.MinOrderValue),
		MaxOrderSize:  config.Decimal(cfg.Grid.MaxOrderSize),
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	sellAccounting, err := gridengine.ParseSellAccounting(cfg.Grid.SellAccounting)
	if err != nil {
		return nil, err
	}

	j, err := journal.New(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  cfg.Alerts.PoolSize,
		MaxCapacity: 64,
		NonBlocking: true,
	}, logger)
	alerts := alert.NewAlertManager(pool, logger)
	alerts.AddChannel(alert.NewLogChannel(logger))
	if webhook := cfg.Alerts.SlackWebhookURL; webhook.IsSet() {
		alerts.AddChannel(alert.NewSlackChannel(webhook.Reveal()))
		logger.Info("Slack alerts enabled", "webhook", webhook.String())
	}

	fees := grid.NewFeeModel(config.Decimal(cfg.Fees.MakerRate), config.Decimal(cfg.Fees.TakerRate))
	engine := gridengine.New(gridengine.Config{
		Pair:           cfg.Grid.Pair,
		TickInterval:   cfg.Grid.TickInterval(),
		SellAccounting: sellAccounting,
		CancelOnExit:   cfg.App.CancelOnExit,
		FetchFees:      cfg.Fees.FetchFromExchange,
	}, spec, ex, inventory, fees, logger,
		gridengine.WithJournal(j),
		gridengine.WithAlerter(alerts),
	)

	hm := health.NewHealthManager(logger)
	// A tick may take a while against a slow exchange; allow a few missed intervals
	maxAge := 3*cfg.Grid.TickInterval() + 30*time.Second
	hm.Register("engine", health.Heartbeat(func() time.Time { return engine.Snapshot().UpdatedAt }, maxAge, time.Now))

	app := &App{
		Cfg:      cfg,
		Logger:   logger,
		Exchange: ex,
		Engine:   engine,
		Journal:  j,
		Alerts:   alerts,
		Health:   hm,
		pool:     pool,
	}
	if cfg.Server.Enabled {
		app.Server = server.NewStatusServer(cfg.Server.Port, engine, j, hm, logger)
	}
	return app, nil
}

// Run starts the engine and the status server and blocks until a termination signal,
// ctx cancellation, or a fatal engine error.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runners := []Runner{a.Engine}
	if a.Server != nil {
		if err := a.Server.Listen(); err != nil {
			return err
		}
		runners = append(runners, a.Server)
	}

	a.Logger.Info("Starting application",
		"exchange", a.Exchange.GetName(),
		"pair", a.Cfg.Grid.Pair,
		"server_enabled", a.Server != nil)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	// The engine only returns early on a fatal error; take the rest down with it
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases the journal and drains pending alerts
func (a *App) Close() error {
	a.pool.Stop()
	return a.Journal.Close()
}
