package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zone-position-engine/config"
	"zone-position-engine/internal/api"
	"zone-position-engine/internal/auth"
	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/database"
	"zone-position-engine/internal/engine"
	"zone-position-engine/internal/events"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/metrics"
	"zone-position-engine/internal/orchestrator"
	"zone-position-engine/internal/source"
	"zone-position-engine/internal/vault"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to the JSON configuration file")
	envFile := flag.String("env", ".env", "path to a .env file (ignored when missing)")
	flag.Parse()

	config.LoadEnvFiles(*envFile)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// Resolve credentials before anything connects
	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			return err
		}
		n, err := vaultClient.ResolveSecrets(ctx, cfg)
		if err != nil {
			return fmt.Errorf("resolving secrets: %w", err)
		}
		logger.Info("secrets resolved from vault", "fields", n)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Plan registry mirror
	var store coordinator.Store
	var planStore *database.RedisPlanStore
	if cfg.Redis.Enabled {
		client := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		defer client.Close()
		planStore = database.NewRedisPlanStore(client, logger)
		store = planStore
	}

	// Decision journal
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.NewDB(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
	}
	var repo *database.DecisionRepository
	if db != nil {
		repo = database.NewDecisionRepository(db)
	}
	journal := database.NewJournal(repo, logger)

	eng, err := engine.New(cfg.Engine, engine.Options{
		Guard:  cfg.Gateway.Guard,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if n, err := eng.Registry.Restore(ctx); err != nil {
		logger.Warn("plan registry restore failed", "error", err)
	} else if n > 0 {
		logger.Info("plan registry restored", "plans", n)
	}

	eventBus := events.NewEventBus()
	metricsReg := metrics.NewRegistry()

	var jwtManager *auth.JWTManager
	if cfg.Auth.Enabled {
		jwtManager, err = auth.NewJWTManager(auth.Config{
			JWTSecret:           cfg.Auth.JWTSecret,
			Issuer:              cfg.Auth.Issuer,
			AccessTokenDuration: cfg.Auth.AccessTokenDuration,
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		server := api.NewServer(api.ServerConfig{
			Port:           cfg.Server.Port,
			Host:           cfg.Server.Host,
			ProductionMode: cfg.Logging.Level != "DEBUG",
			AllowedOrigins: cfg.Server.Origins(),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}, eng.Orchestrator, eventBus, metricsReg, jwtManager, logger)
		if repo != nil {
			server.SetJournal(repo)
			server.AddHealthCheck("postgres", repo.HealthCheck)
		}
		if planStore != nil {
			server.AddHealthCheck("redis", planStore.CheckRedisConnection)
		}
		if vaultClient.IsEnabled() {
			server.AddHealthCheck("vault", vaultClient.Health)
		}

		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.Loop.Enabled {
		src := source.NewFileSource(cfg.Loop.SnapshotPath, logger)
		runner := orchestrator.NewRunner(eng.Orchestrator, src, orchestrator.LoopConfig{
			Interval:    cfg.Loop.Interval,
			AutoExecute: cfg.Loop.AutoExecute,
		}, logger)
		eng.Attach(runner, engine.Observers{Bus: eventBus, Metrics: metricsReg, Journal: journal, Logger: logger})
		g.Go(func() error { return runner.Run(gctx) })
	}

	// Housekeeping: redis recovery, journal retention and close ledger expiry
	g.Go(func() error {
		housekeeping(gctx, cfg, eng, planStore, repo, logger)
		return nil
	})

	eventBus.PublishLifecycle(true, cfg.Gateway.Mode)
	logger.Info("zone engine started",
		"gateway", cfg.Gateway.Mode,
		"loop", cfg.Loop.Enabled,
		"api", cfg.Server.Enabled,
		"redis", cfg.Redis.Enabled,
		"journal", journal.Enabled())

	err = g.Wait()
	eventBus.PublishLifecycle(false, cfg.Gateway.Mode)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func housekeeping(ctx context.Context, cfg *config.Config, eng *engine.Engine, planStore *database.RedisPlanStore, repo *database.DecisionRepository, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.Housekeep(ctx)
			if planStore != nil && !planStore.IsRedisAvailable() {
				if err := planStore.CheckRedisConnection(ctx); err != nil {
					logger.Debug("redis still unavailable", "error", err)
				}
			}
			if repo != nil && cfg.Database.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -cfg.Database.RetentionDays)
				if n, err := repo.DeleteDecisionsBefore(ctx, cutoff); err != nil {
					logger.Warn("journal retention failed", "error", err)
				} else if n > 0 {
					logger.Info("journal retention removed decisions", "decisions", n)
				}
			}
		}
	}
}
