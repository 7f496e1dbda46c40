package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/config"
	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/engine"
	"github.com/fiscalhub/apuracao-engine-go/internal/handler"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/cache"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/client"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/openai"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/resilience"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/rulefile"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/store"
	"github.com/fiscalhub/apuracao-engine-go/internal/port"
	"github.com/fiscalhub/apuracao-engine-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("normalizer_api_url", cfg.NormalizerAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("run_timeout", cfg.RunTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("batch_concurrency", cfg.BatchConcurrency),
		zap.Float64("confidence_threshold", cfg.ConfidenceThreshold),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "apuracao-engine")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	runCache := cache.New[*domain.ApuracaoRun](cfg.CacheTTL)
	docCache := cache.New[*domain.DocumentResult](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("external-apis")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	normalizer := client.NewNormalizerClient(httpClient, cfg.NormalizerAPIURL, cb, resilienceCfg)

	var extractor port.Extractor
	if cfg.OpenAIAPIKey != "" {
		extractor = openai.NewExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel, metrics, logger)
		logger.Info("rule extraction enabled", zap.String("model", cfg.OpenAIModel))
	} else {
		logger.Warn("rule extraction disabled: OPENAI_API_KEY not set")
	}

	// --- Stores ---
	var ruleStore port.RuleStore
	var runStore port.RunStore
	if cfg.StoreURL != "" {
		pg := store.NewPostgREST(httpClient, cfg.StoreURL, cfg.StoreAPIKey, cb, resilienceCfg, logger)
		ruleStore = pg
		runStore = pg
		logger.Info("using PostgREST store", zap.String("store_url", cfg.StoreURL))
	} else {
		mem := store.NewMemory()
		ruleStore = mem
		runStore = mem
		logger.Warn("using in-memory store, rules and runs are not durable")
	}

	// --- Engine ---
	registry := engine.NewRegistry(engine.Margins{
		Minimum: cfg.MarginMinimum,
		Ideal:   cfg.MarginIdeal,
		Maximum: cfg.MarginMaximum,
	})
	calculator := engine.NewCalculator(registry)

	// --- Services ---
	ruleSvc := service.NewRuleService(ruleStore, registry, cfg.ConfidenceThreshold, metrics, logger)
	extractionSvc := service.NewExtractionPipeline(extractor, ruleSvc, resilienceCfg, cfg.ExtractionTimeout, metrics, logger)
	apuracaoSvc := service.NewApuracaoService(ruleSvc, normalizer, runStore, calculator, runCache, cfg.RunTimeout, metrics, logger)
	batchSvc := service.NewBatchCoordinator(apuracaoSvc, docCache, cfg.BatchConcurrency, metrics, logger)

	// --- Seed rule packs ---
	if cfg.RulePackDir != "" {
		seedRulePacks(cfg.RulePackDir, ruleSvc, logger)
	}

	// --- Router ---
	router := handler.NewRouter(apuracaoSvc, batchSvc, ruleSvc, extractionSvc, metrics, logger, cfg.JWTSecret)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seedRulePacks admits every rule from the YAML packs in dir. Pack rules go
// through the same admission path as API submissions; a bad pack entry is
// logged and skipped.
func seedRulePacks(dir string, rules *service.RuleService, logger *zap.Logger) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		logger.Error("rule pack glob failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	yml, _ := filepath.Glob(filepath.Join(dir, "*.yml"))
	paths = append(paths, yml...)

	ctx := context.Background()
	for _, path := range paths {
		pack, err := rulefile.Load(path)
		if err != nil {
			logger.Error("rule pack not loaded", zap.String("path", path), zap.Error(err))
			continue
		}

		admitted := 0
		for _, c := range pack.Rules {
			if _, err := rules.Admit(ctx, pack.CompanyID, c, domain.ProvenanceManual); err != nil {
				logger.Warn("rule pack entry rejected",
					zap.String("path", path),
					zap.String("rule", c.Name),
					zap.Error(err),
				)
				continue
			}
			admitted++
		}
		logger.Info("rule pack loaded",
			zap.String("path", path),
			zap.String("company_id", pack.CompanyID),
			zap.Int("admitted", admitted),
		)
	}
}
