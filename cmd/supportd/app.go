package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/config"
	"github.com/tbourn/go-support-agent/internal/evidence"
	"github.com/tbourn/go-support-agent/internal/guardrail"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
	"github.com/tbourn/go-support-agent/internal/services"
)

// app bundles the long-lived dependencies built from Config.
type app struct {
	db       *gorm.DB
	provider *policy.Provider
	tools    *services.ToolService
	chat     *services.ChatService
	closers  []func() error
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// openDB opens the configured database, registers tracing and migrates.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// loadPolicy returns a provider over POLICY_FILE, or the built-in table.
func loadPolicy(cfg config.Config) (*policy.Provider, error) {
	prov := policy.NewProvider(nil)
	if cfg.Policy.File == "" {
		return prov, nil
	}
	if err := prov.ReloadFile(cfg.Policy.File); err != nil {
		return nil, fmt.Errorf("policy %s: %w", cfg.Policy.File, err)
	}
	return prov, nil
}

func newBlobStore(ctx context.Context, cfg config.EvidenceConfig) (evidence.BlobStore, error) {
	if cfg.Backend == "s3" {
		return evidence.NewS3Store(ctx, evidence.S3Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
	}
	return evidence.NewFSStore(cfg.StorageDir)
}

func newLocker(ctx context.Context, cfg config.Config) (services.SessionLocker, func() error, error) {
	if cfg.RedisURL == "" {
		return services.NewLocalLocker(), nil, nil
	}
	rl, err := services.NewRedisLocker(cfg.RedisURL, cfg.SessionLockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis locker: %w", err)
	}
	if err := rl.Ping(ctx); err != nil {
		_ = rl.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return rl, rl.Close, nil
}

// buildApp wires storage, policy, evidence, locks and the two services.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	if cfg.SeedDemoData {
		n, err := repo.SeedDemoData(ctx, db)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		log.Info().Int64("orders", n).Msg("demo data seeded")
	}

	if a.provider, err = loadPolicy(cfg); err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := newBlobStore(ctx, cfg.Evidence)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("evidence store: %w", err)
	}
	validator := evidence.NewValidator(cfg.Evidence.CatalogDir, cfg.Evidence.AnomalyDir,
		decimal.NewFromFloat(cfg.Evidence.PassThreshold))

	locks, closeLocks, err := newLocker(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeLocks != nil {
		a.closers = append(a.closers, closeLocks)
	}

	a.tools = services.NewToolService(db, a.provider, validator, blobs)
	a.tools.LabelBaseURL = cfg.LabelBaseURL
	a.tools.AllowTestOrders = cfg.AllowTestOrders
	a.tools.MaxUploadBytes = cfg.Evidence.MaxUploadBytes

	a.chat = services.NewChatService(db, a.tools,
		guardrail.New(cfg.Guardrail.Threshold, cfg.Guardrail.MaxStrikes), locks, cfg.AgentMode)

	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("evidence_backend", cfg.Evidence.Backend).
		Bool("redis_locks", cfg.RedisURL != "").
		Str("agent_mode", cfg.AgentMode).
		Msg("application wired")
	return a, nil
}
