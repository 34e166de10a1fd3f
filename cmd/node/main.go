// cmd/node/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/database"
	"feed_oracle/pkg/feedstore"
	"feed_oracle/pkg/oracle"
	"feed_oracle/pkg/registry"
	"feed_oracle/pkg/slashing"
	"feed_oracle/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir    = flag.String("data-dir", "./data", "Data directory path")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

// App wires the database, registry, feed store, slashing manager and the
// round engine into one node process.
type App struct {
	db          *database.Service
	registry    *registry.Registry
	store       *feedstore.Store
	engine      *oracle.Engine
	maintenance *registry.Maintenance
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func main() {
	flag.Parse()

	logger, err := initLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration",
			zap.String("path", *configFile),
			zap.Error(err),
		)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cancel, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	setupGracefulShutdown(ctx, cancel, app, logger)

	// Block until shutdown signal
	<-ctx.Done()
}

func initializeApp(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) (*App, error) {
	initCtx, initCancel := context.WithTimeout(ctx, 60*time.Second)
	defer initCancel()

	dbService, err := database.NewService(&cfg.Database, *dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database service: %w", err)
	}
	if err := dbService.Start(initCtx); err != nil {
		return nil, fmt.Errorf("starting database: %w", err)
	}
	repo := dbService.Repository()

	reg := registry.NewRegistry(&cfg.Registry, repo, logger)
	if err := reg.Load(initCtx); err != nil {
		dbService.Stop(ctx)
		return nil, fmt.Errorf("loading reporter registry: %w", err)
	}

	store := feedstore.NewStore(repo, logger)
	if err := store.Load(initCtx); err != nil {
		dbService.Stop(ctx)
		return nil, fmt.Errorf("loading feed states: %w", err)
	}

	sink := slashing.NewManager(&cfg.Slashing, reg, repo, logger)
	engine := oracle.NewEngine(&cfg.Engine, reg, store, repo, sink, logger)

	for _, fc := range cfg.Feeds {
		feed, err := feedFromConfig(fc, &cfg.Engine)
		if err != nil {
			dbService.Stop(ctx)
			return nil, fmt.Errorf("feed %q: %w", fc.ID, err)
		}
		if err := engine.RegisterFeed(initCtx, feed); err != nil {
			dbService.Stop(ctx)
			return nil, fmt.Errorf("registering feed %q: %w", fc.ID, err)
		}
	}

	maintenance := registry.NewMaintenance(reg, cfg.Registry.MaintenanceSchedule, logger)

	app := &App{
		db:          dbService,
		registry:    reg,
		store:       store,
		engine:      engine,
		maintenance: maintenance,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	engine.Start(ctx)
	if err := maintenance.Start(ctx); err != nil {
		app.stop(context.Background())
		return nil, fmt.Errorf("starting registry maintenance: %w", err)
	}

	logger.Info("All services started successfully",
		zap.Int("feeds", len(cfg.Feeds)),
		zap.Int("reporters", reg.Snapshot().Len()))
	return app, nil
}

// feedFromConfig resolves per-feed overrides against the engine defaults.
func feedFromConfig(fc config.FeedConfig, engineCfg *config.EngineConfig) (*data.Feed, error) {
	quorum := fc.Quorum
	if quorum == 0 {
		quorum = engineCfg.DefaultQuorum
	}
	minAgreement := fc.MinAgreement
	if minAgreement == 0 {
		minAgreement = engineCfg.DefaultMinAgreement
	}
	roundDuration := fc.RoundDuration
	if roundDuration == 0 {
		roundDuration = engineCfg.DefaultRoundDuration
	}
	tolerance := fc.Tolerance
	if tolerance == 0 {
		tolerance = engineCfg.DefaultTolerance
	}
	return data.NewFeed(fc.ID, quorum, minAgreement, roundDuration, tolerance)
}

func (a *App) stop(ctx context.Context) error {
	// Stop services in reverse order
	var errs []error

	a.engine.Stop()

	if err := a.db.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping database: %w", err))
	}

	for _, err := range errs {
		a.logger.Error("Shutdown error", zap.Error(err))
	}

	a.logger.Info("All services stopped")
	return nil
}

func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, app *App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
			os.Exit(1)
		}

		cancel()
	}()
}

func initLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := utils.DefaultLogConfig()
	cfg.Debug = debug
	return utils.NewLogger(cfg)
}
