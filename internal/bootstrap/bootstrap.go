// Package bootstrap wires config into the store, providers and analysis
// service shared by the api, worker and analyzerctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"analyzer/internal/adapter/memory"
	"analyzer/internal/adapter/repo"
	"analyzer/internal/analysis"
	"analyzer/internal/catalog"
	"analyzer/internal/domain"
	"analyzer/internal/infra"
	"analyzer/internal/infra/credentials"
	"analyzer/internal/orchestrator"
	"analyzer/internal/providers/analyze"
	"analyzer/internal/providers/extract"
	"analyzer/internal/quota"
	"analyzer/internal/storage"
)

// Options selects which parts of the runtime to build.
type Options struct {
	// Providers builds the extraction and analysis clients. Binaries that
	// never submit analyses leave it off and need no API keys.
	Providers bool
	// Migrate applies pending migrations before anything else touches the
	// database.
	Migrate bool
}

// Runtime is everything a binary needs. Close releases it.
type Runtime struct {
	Config  *infra.Config
	Logger  infra.Logger
	Pool    *pgxpool.Pool
	SQL     *infra.SQLRunner
	Store   domain.RequestStore
	Catalog *catalog.Catalog
	Tracker *quota.Tracker
	Service *analysis.Service

	closers []func()
}

// Open builds the runtime described by cfg.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.open(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, opts Options) error {
	cfg := rt.Config

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	rt.Catalog = cat

	switch cfg.StoreBackend {
	case "memory":
		rt.Store = memory.New()
		rt.Logger.Warn().Msg("bootstrap: using in-memory store, data is lost on exit")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		if opts.Migrate {
			if err := infra.ApplyMigrations(pool, rt.Logger); err != nil {
				return err
			}
		}
		rt.SQL = infra.NewSQLRunner(pool, rt.Logger)
		rt.Store = repo.NewRequestRepository(rt.SQL)
	}

	images, err := rt.imageStore()
	if err != nil {
		return err
	}

	var pipeline analysis.Pipeline = unavailablePipeline{}
	if opts.Providers {
		orch, err := rt.orchestrator(ctx)
		if err != nil {
			return err
		}
		pipeline = orch
	}

	rt.Tracker = quota.NewTracker(rt.Store, cfg.Location())
	rt.Service = analysis.NewService(rt.Store, images, cat, pipeline, rt.Tracker, analysis.Config{
		DailyMaxImages:        cfg.DailyMaxImages,
		MaxImagesPerRequest:   cfg.MaxImagesPerRequest,
		MaxImageBytes:         cfg.MaxImageBytes,
		CacheTTL:              cfg.CacheTTL,
		CacheHitConsumesQuota: cfg.CacheHitConsumesQuota,
		InflightWait:          cfg.InflightWait,
		PageSize:              cfg.HistoryPageSize,
		StaleAfter:            cfg.ReaperStaleAfter,
	}, rt.Logger)
	return nil
}

func (rt *Runtime) imageStore() (domain.ImageStore, error) {
	cfg := rt.Config
	switch cfg.StorageBackend {
	case "azure":
		return storage.NewAzureStore(cfg.AzureStorageAccount, cfg.AzureStorageKey, cfg.AzureStorageContainer)
	default:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		return storage.NewFileStore(path)
	}
}

func (rt *Runtime) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	cfg := rt.Config
	var creds *credentials.Store
	if rt.SQL != nil {
		creds = credentials.NewStore(rt.SQL)
	}

	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		rt.Logger.Warn().Err(err).Msg("bootstrap: failed to load gemini api key from store")
	}

	var extractor domain.Extractor = extract.Disabled{}
	if cfg.ExtractionProvider == "gemini" {
		ex, err := extract.NewGemini(ctx, geminiKey, cfg.GeminiVisionModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: extraction provider: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = ex.Close() })
		extractor = ex
	}

	var analyzer domain.Analyzer
	switch cfg.AnalysisProvider {
	case "openai":
		key, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: openai api key: %w", err)
		}
		analyzer, err = analyze.NewOpenAI(analyze.OpenAIOptions{
			APIKey:       key,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			HTTPClient:   &http.Client{Timeout: cfg.AnalysisTimeout + 5*time.Second},
			OnWarning: func(reason, detail string) {
				rt.Logger.Warn().Str("reason", reason).Str("detail", detail).Msg("openai provider warning")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: analysis provider: %w", err)
		}
	default:
		analyzer, err = analyze.NewGemini(ctx, analyze.GeminiOptions{
			APIKey: geminiKey,
			Model:  cfg.GeminiModel,
			Logger: rt.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: analysis provider: %w", err)
		}
	}

	rt.Logger.Info().
		Str("extraction", cfg.ExtractionProvider).
		Str("analysis", cfg.AnalysisProvider).
		Msg("bootstrap: providers ready")
	return orchestrator.New(extractor, analyzer, orchestrator.Options{
		ExtractionTimeout:     cfg.ExtractionTimeout,
		ExtractionConcurrency: cfg.ExtractionConcurrency,
		AnalysisTimeout:       cfg.AnalysisTimeout,
		MaxAttempts:           cfg.AnalysisMaxAttempts,
		Backoff:               cfg.AnalysisBackoff,
	}, rt.Logger), nil
}

// Ping checks the database when there is one.
func (rt *Runtime) Ping(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return rt.Pool.Ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

var errNoPipeline = errors.New("analysis pipeline is not configured in this process")

// unavailablePipeline backs runtimes opened without providers.
type unavailablePipeline struct{}

func (unavailablePipeline) Process(context.Context, orchestrator.Input, orchestrator.Hooks) (domain.Outputs, error) {
	return domain.Outputs{}, errNoPipeline
}
