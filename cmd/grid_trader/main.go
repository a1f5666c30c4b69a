package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"grid_trader/internal/bootstrap"
	"grid_trader/internal/config"
	"grid_trader/pkg/logging"
	"grid_trader/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with credentials")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("grid_trader version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "grid_trader: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Telemetry first so the logger bridge picks up the log provider
	tel, err := telemetry.Setup(cfg.Telemetry, telemetry.WithAttributes(
		telemetry.AttrPair.String(cfg.Grid.Pair),
		telemetry.AttrExchange.String(cfg.App.Exchange),
	))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting grid_trader",
		"version", version,
		"exchange", cfg.App.Exchange,
		"pair", cfg.Grid.Pair,
		"range", fmt.Sprintf("%v-%v", cfg.Grid.LowerBound, cfg.Grid.UpperBound),
		"levels", cfg.Grid.LevelCount)
	logger.Debug("Effective configuration\n" + cfg.String())

	app, err := bootstrap.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to close application", "error", err)
		}
	}()

	return app.Run(context.Background())
}
