package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rawblock/probefind/internal/api"
	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/discovery"
	"github.com/rawblock/probefind/internal/governor"
	"github.com/rawblock/probefind/internal/ingest"
	"github.com/rawblock/probefind/internal/knowledge"
	"github.com/rawblock/probefind/internal/rasterio"
	"github.com/rawblock/probefind/internal/session"
	"github.com/rawblock/probefind/internal/store"
	"github.com/rawblock/probefind/internal/telemetry"
)

// app bundles every component the CLI subcommands wire together, built
// once from the environment and probefind.yaml.
type app struct {
	settings   config.Settings
	store      *store.Store
	loader     *rasterio.Loader
	selector   *knowledge.Selector
	discoverer *discovery.Discoverer
	governor   *governor.Governor
	orch       *ingest.Orchestrator
	engine     *session.Engine
	hub        *telemetry.Hub
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values.", key)
	}
	return val
}

func loadApp(ctx context.Context) (*app, error) {
	settingsPath := config.GetEnvOrDefault("PROBEFIND_SETTINGS", "probefind.yaml")
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	settings.RandomComboCount = config.GetEnvIntOrDefault("RANDOM_COMBO_COUNT", settings.RandomComboCount)
	settings.MaxIngestWorkers = config.GetEnvIntOrDefault("MAX_INGEST_WORKERS", settings.MaxIngestWorkers)
	settings.DefaultMaxDBSizeGB = config.GetEnvFloatOrDefault("MAX_DB_SIZE_GB", settings.DefaultMaxDBSizeGB)

	dbURL := requireEnv("DATABASE_URL")
	st, err := store.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	maxDim := config.GetEnvIntOrDefault("MAX_IMAGE_DIMENSION", 4096)
	loader := rasterio.NewLoader(rasterio.Config{MaxDimension: maxDim})

	selector := knowledge.New(st, settings.RandomComboCount)
	discoverer := discovery.New(st)
	gov := governor.New(st, governor.Config{
		DefaultMaxDBSizeGB: settings.DefaultMaxDBSizeGB,
		MinSkipCount:       settings.MinSkipCount,
		MinGroupAgeMinutes: settings.MinGroupAgeMinutes,
		MaxGroupHitCount:   settings.MaxGroupHitCount,
	})

	orch := ingest.New(loader, st, selector, discoverer, gov, ingest.Config{
		RandomComboCount:           settings.RandomComboCount,
		RandomPerAug:               settings.RandomPerAugmentation,
		Cycles:                     settings.IngestCycles,
		GuidedPerCycle:             settings.GuidedPerCycle,
		MinGuidedSampleSize:        settings.MinGuidedSampleSize,
		MaxWorkers:                 settings.MaxIngestWorkers,
		DiscoverEveryNIngests:      settings.DiscoverEveryNIngests,
		DiscoverIterations:         settings.DiscoverIterationsPerBatch,
		RealtimePruneEveryNIngests: settings.RealtimePruneEveryNIngests,
		RealtimePruneMinInterval:   settings.RealtimePruneMinInterval(),
	})

	finder := &api.Finder{Store: st}
	advisor := &api.ConstellationAdvisor{Resolver: st, Selector: selector, RandomComboCount: settings.RandomComboCount}
	engine := session.NewEngine(finder, advisor, settings.SessionTTL())

	return &app{
		settings:   settings,
		store:      st,
		loader:     loader,
		selector:   selector,
		discoverer: discoverer,
		governor:   gov,
		orch:       orch,
		engine:     engine,
		hub:        telemetry.NewHub(),
	}, nil
}

func (a *app) Close() {
	a.engine.Stop()
	a.store.Close()
}
