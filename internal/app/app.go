package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"AIFlash/internal/config"
	"AIFlash/internal/domain"
	"AIFlash/internal/infrastructure/index"
	"AIFlash/internal/infrastructure/llm"
	"AIFlash/internal/infrastructure/ml"
	"AIFlash/internal/infrastructure/parser"
	"AIFlash/internal/infrastructure/scheduler"
	"AIFlash/internal/infrastructure/storage"
	"AIFlash/internal/infrastructure/telegram"
	"AIFlash/internal/logging"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
	"AIFlash/internal/scanner"
	"AIFlash/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store    *storage.ItemStore
	index    ports.SearchIndex
	closeIdx func() error
	notifier ports.Notifier
	metrics  *metrics.Metrics

	pipeline    *usecase.Pipeline
	relevance   *usecase.RelevanceFilter
	synthesizer *usecase.Synthesizer
	indexSync   *usecase.IndexSync
	retrieval   *usecase.RetrievalEngine
	maintenance *usecase.Maintenance
	jobs        *usecase.JobScheduler
}

// New opens the store and index and builds every service once.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.New(nil)}

	db, dialect, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = storage.NewItemStore(storage.ItemStoreDeps{
		DB:              db,
		Dialect:         dialect,
		QuarantineLimit: cfg.Pipeline.QuarantineLimit,
		Logger:          baseLogger.With("component", "store"),
	})
	if err := a.store.Migrate(ctx); err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	if err := a.openIndex(); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	var reasoner ports.ReasoningClient
	if cfg.ChatGPT.APIKey != "" {
		reasoner = llm.NewChatGPTClient(cfg.ChatGPT)
	} else {
		baseLogger.Warn("no reasoning API key, relevance and synthesis jobs will fail")
	}

	var embedder ports.Embedder
	if cfg.ML.APIKey != "" {
		embedder = ml.NewClient(cfg.ML)
	}
	safeEmbedder := usecase.NewSafeEmbedder(embedder, cfg.ML.Dimension, a.metrics, baseLogger.With("component", "embedder"))

	if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Enabled() {
		a.notifier = tg
	}

	a.indexSync = usecase.NewIndexSync(usecase.IndexSyncDeps{
		Index:    a.index,
		Store:    a.store,
		Embedder: safeEmbedder,
		Metrics:  a.metrics,
		Logger:   baseLogger.With("component", "indexsync"),
	})

	a.maintenance = usecase.NewMaintenance(usecase.MaintenanceDeps{
		Store:         a.store,
		Index:         a.indexSync,
		Notifier:      a.notifier,
		Metrics:       a.metrics,
		Logger:        baseLogger.With("component", "maintenance"),
		RetentionDays: cfg.Pipeline.RetentionDays,
		StaleAfter:    cfg.Pipeline.StaleAfter,
	})

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Sources:           a.sources(),
		Store:             a.store,
		Maintenance:       a.maintenance,
		Metrics:           a.metrics,
		Logger:            baseLogger.With("component", "ingest"),
		ClearBeforeIngest: cfg.Pipeline.ClearBeforeIngest,
		Lookback:          cfg.Pipeline.IngestLookback,
	})

	a.relevance = usecase.NewRelevanceFilter(usecase.RelevanceDeps{
		Store:     a.store,
		Reasoner:  reasoner,
		Metrics:   a.metrics,
		Logger:    baseLogger.With("component", "relevance"),
		BatchSize: cfg.Pipeline.BatchSize,
		Threshold: cfg.Pipeline.RelevanceThreshold,
		MaxPerRun: cfg.Pipeline.MaxUncheckedPerRun,
		Model:     cfg.ChatGPT.Model,
	})

	a.synthesizer = usecase.NewSynthesizer(usecase.SynthesizerDeps{
		Store:        a.store,
		Reasoner:     reasoner,
		Embedder:     safeEmbedder,
		Index:        a.indexSync,
		Metrics:      a.metrics,
		Logger:       baseLogger.With("component", "synthesizer"),
		MaxPerRun:    cfg.Pipeline.MaxSummarizePerRun,
		ContentLimit: cfg.Pipeline.ContentLimit,
		Model:        cfg.ChatGPT.Model,
	})

	a.retrieval = usecase.NewRetrievalEngine(usecase.RetrievalDeps{
		Store:           a.store,
		Index:           a.index,
		Embedder:        safeEmbedder,
		Reasoner:        reasoner,
		Metrics:         a.metrics,
		Logger:          baseLogger.With("component", "retrieval"),
		SearchTimeout:   cfg.Index.SearchTimeout,
		ExcludedSources: cfg.Retrieval.ExcludedSources,
		BriefTopN:       cfg.Retrieval.MorningBriefTopN,
		BriefWindow:     time.Duration(cfg.Retrieval.BriefWindowDays) * 24 * time.Hour,
		TopicTopK:       cfg.Retrieval.TopicTopK,
		Model:           cfg.ChatGPT.Model,
	})

	a.jobs = usecase.NewJobScheduler(usecase.JobSchedulerDeps{
		Driver:   scheduler.NewTicker(cfg.Scheduler.Tick),
		Metrics:  a.metrics,
		Logger:   baseLogger.With("component", "scheduler"),
		Location: cfg.Scheduler.Location(),
	})
	if err := a.registerJobs(); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.maintenance.SetLastIngest(func() (time.Time, bool) {
		return a.jobs.LastSuccess(config.JobIngest)
	})
	a.checkIndexSchema(ctx)

	return a, nil
}

func (a *Application) openIndex() error {
	cfg := a.cfg.Index
	logger := a.logger.With("component", "index")

	switch strings.ToLower(cfg.Backend) {
	case "", "none", "disabled":
		logger.Info("search index disabled, retrieval uses the store only")
		return nil
	case "chromem":
		idx, err := index.NewChromemIndex(index.ChromemConfig{
			Path:       cfg.Path,
			Collection: cfg.Collection,
			Dimension:  a.cfg.ML.Dimension,
		}, logger)
		if err != nil {
			return fmt.Errorf("open chromem index: %w", err)
		}
		a.index, a.closeIdx = idx, idx.Close
	case "qdrant":
		idx, err := index.NewQdrantIndex(index.QdrantConfig{
			Host:        cfg.QdrantHost,
			Port:        cfg.QdrantPort,
			APIKey:      cfg.QdrantAPIKey,
			Collection:  cfg.Collection,
			Dimension:   a.cfg.ML.Dimension,
			CallTimeout: cfg.CallTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("open qdrant index: %w", err)
		}
		a.index, a.closeIdx = idx, idx.Close
	default:
		return fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
	return nil
}

func (a *Application) sources() []ports.RawSource {
	var sources []ports.RawSource
	if len(a.cfg.Feeds) > 0 {
		sources = append(sources, parser.NewFeedSource(a.cfg.Feeds, nil, a.logger.With("component", "source.feeds")))
	}
	if len(a.cfg.Sites) > 0 {
		registry := scanner.NewRegistry()
		registry.Register(parser.NewArxivScanner(nil, a.logger.With("component", "scanner.arxiv")))
		sources = append(sources, parser.NewStrategySource(registry, a.cfg.Sites, a.logger.With("component", "source.sites")))
	}
	return sources
}

func (a *Application) registerJobs() error {
	jobs := []struct {
		name string
		fn   usecase.JobFunc
	}{
		{config.JobIngest, a.pipeline.Ingest},
		{config.JobRelevance, a.relevance.Run},
		{config.JobSummarize, a.synthesizer.Run},
		{config.JobCleanup, a.maintenance.Cleanup},
		{config.JobHealth, a.maintenance.Health},
		{config.JobReindex, a.indexSync.Run},
	}
	for _, job := range jobs {
		if err := a.jobs.Register(job.name, a.cfg.Scheduler.Jobs[job.name], job.fn); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
	}
	return nil
}

// Serve runs the scheduler loop and the metrics endpoint until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	var srv *http.Server
	errCh := make(chan error, 1)
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if err := a.jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.jobs.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown", "error", err)
		}
	}
	return serveErr
}

// checkIndexSchema creates the index when missing and rebuilds it when its layout is stale.
func (a *Application) checkIndexSchema(ctx context.Context) {
	if a.index == nil {
		return
	}
	err := a.index.EnsureSchema(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrSchemaOutdated):
		a.logger.Warn("search index schema outdated, rebuilding")
		if _, err := a.jobs.Trigger(ctx, config.JobReindex); err != nil {
			a.logger.Error("index rebuild failed", "error", err)
		}
	default:
		a.logger.Error("search index unavailable", "error", err)
	}
}

// RunJob triggers one job synchronously.
func (a *Application) RunJob(ctx context.Context, name string) (domain.JobResult, error) {
	return a.jobs.Trigger(ctx, name)
}

// Retrieval exposes the read path.
func (a *Application) Retrieval() *usecase.RetrievalEngine { return a.retrieval }

// Maintenance exposes stats and bulk clear.
func (a *Application) Maintenance() *usecase.Maintenance { return a.maintenance }

// Jobs exposes the scheduler for status queries.
func (a *Application) Jobs() *usecase.JobScheduler { return a.jobs }

// Notifier returns the configured alert channel, or nil.
func (a *Application) Notifier() ports.Notifier { return a.notifier }

// Close releases the index and the database.
func (a *Application) Close() error {
	var errs []error
	if a.closeIdx != nil {
		errs = append(errs, a.closeIdx())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
