// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/analysis"
	"github.com/JakeFAU/topicwatch/internal/api"
	"github.com/JakeFAU/topicwatch/internal/broadcast"
	"github.com/JakeFAU/topicwatch/internal/clock/system"
	"github.com/JakeFAU/topicwatch/internal/config"
	"github.com/JakeFAU/topicwatch/internal/digest"
	"github.com/JakeFAU/topicwatch/internal/email"
	"github.com/JakeFAU/topicwatch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/topicwatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/topicwatch/internal/fetcher/headless"
	"github.com/JakeFAU/topicwatch/internal/hash/sha256"
	"github.com/JakeFAU/topicwatch/internal/headless/detector"
	"github.com/JakeFAU/topicwatch/internal/id/uuid"
	"github.com/JakeFAU/topicwatch/internal/logging"
	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/model"
	"github.com/JakeFAU/topicwatch/internal/orchestrator"
	"github.com/JakeFAU/topicwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/topicwatch/internal/policy/retry"
	"github.com/JakeFAU/topicwatch/internal/policy/simple"
	"github.com/JakeFAU/topicwatch/internal/progress"
	progresssinks "github.com/JakeFAU/topicwatch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/topicwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/topicwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/topicwatch/internal/scraper"
	gcsstorage "github.com/JakeFAU/topicwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/topicwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/topicwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/topicwatch/internal/storage/postgres"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/telemetry"
	"github.com/JakeFAU/topicwatch/internal/topic"
	"github.com/JakeFAU/topicwatch/internal/workflow"
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	orch        *orchestrator.Orchestrator
	registry    *topic.Registry
	progressHub *progress.Hub
	broadcaster *broadcast.Broadcaster

	repo      store.Repository
	pgStore   *pgstore.Store
	archive   store.BlobStore
	gcsStore  *gcsstorage.BlobStore
	publisher *gcppublisher.Publisher
	headless  *headlessfetcher.Fetcher

	modelClient *model.Client
	sender      *email.Resend

	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields are logged.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Orchestrator exposes the orchestrator, mainly for tests.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcastDone := make(chan struct{})
	go a.broadcaster.Run(broadcastDone)

	if err := a.orch.Start(); err != nil {
		close(broadcastDone)
		return fmt.Errorf("start orchestrator: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds))
	defer cancel()

	// Live event streams never finish on their own.
	a.broadcaster.Close()
	close(broadcastDone)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) error {
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			a.logger.Warn("orchestrator shutdown failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	if err := buildComponents(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func buildComponents(ctx context.Context, app *App) error {
	cfg := app.cfg
	metrics.Init()

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	clock := system.New()
	ids := uuid.New()

	if err := setupRepository(ctx, app); err != nil {
		return err
	}
	if err := setupArchive(ctx, app); err != nil {
		return err
	}

	app.broadcaster = broadcast.New(broadcast.Config{
		BufferSize:   cfg.Broadcast.BufferSize,
		PingInterval: config.Seconds(cfg.Broadcast.PingIntervalSeconds),
		Timeout:      config.Seconds(cfg.Broadcast.TimeoutSeconds),
		Logger:       app.logger.Named("broadcast"),
		Now:          clock.Now,
	})

	if err := setupProgress(ctx, app); err != nil {
		return err
	}

	app.registry = topic.NewRegistry(app.repo, clock.Now, app.logger.Named("registry"))
	loaded, err := app.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	app.logger.Info("topics loaded", zap.Int("count", loaded))

	daily, err := setupDaily(app, clock, ids)
	if err != nil {
		return err
	}
	weekly, err := setupWeekly(app, clock)
	if err != nil {
		return err
	}

	failureWindow, err := cfg.FailureWindow()
	if err != nil {
		return err
	}
	app.orch, err = orchestrator.New(orchestrator.Config{
		Defaults:      cfg.ScheduleDefaults(),
		FailureWindow: failureWindow,
		DegradedAfter: cfg.Schedule.DegradedAfter,
	}, orchestrator.Dependencies{
		Registry: app.registry,
		Daily:    daily,
		Weekly:   weekly,
		Emitter:  app.progressHub,
		IDs:      ids,
		Runs:     app.repo,
		Probes:   app.probes(),
		Now:      clock.Now,
		Logger:   app.logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	if err := seedTopics(ctx, app); err != nil {
		return err
	}

	app.apiServer = api.NewServer(app.orch, app.broadcaster, api.Options{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds),
	}, app.logger.Named("api"))
	return nil
}

func setupRepository(ctx context.Context, app *App) error {
	if app.cfg.Storage.Backend != config.BackendPostgres {
		app.logger.Info("using in-memory repository")
		app.repo = memorystorage.NewRepository()
		return nil
	}
	lifetime, err := time.ParseDuration(app.cfg.Storage.MaxConnLife)
	if err != nil {
		return fmt.Errorf("storage.max_conn_lifetime: %w", err)
	}
	app.pgStore, err = pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Storage.DSN,
		MaxConns:        app.cfg.Storage.MaxConns,
		MinConns:        app.cfg.Storage.MinConns,
		MaxConnLifetime: lifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	if err := app.pgStore.Ping(ctx); err != nil {
		return err
	}
	app.repo = app.pgStore
	app.logger.Info("using postgres repository", zap.Int32("max_conns", app.cfg.Storage.MaxConns))
	return nil
}

func setupArchive(ctx context.Context, app *App) error {
	switch app.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := gcsstorage.NewClient(ctx, app.cfg.Archive.GCSBucket, app.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsStore, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Archive.GCSBucket,
			Prefix: app.cfg.Archive.GCSPrefix,
		})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.archive = app.gcsStore
		app.logger.Info("archiving digests to GCS", zap.String("bucket", app.cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.archive = blobs
		app.logger.Info("archiving digests locally", zap.String("path", app.cfg.Archive.LocalDir))
	default:
		app.logger.Info("digest archive disabled")
	}
	return nil
}

func setupProgress(ctx context.Context, app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewBroadcastSink(app.broadcaster),
		progresssinks.NewRunStoreSink(app.repo, app.logger.Named("run_store")),
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}

	if app.cfg.PubSub.Enabled {
		client, err := gcppublisher.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.publisher = gcppublisher.New(client)
		sinkList = append(sinkList, progresssinks.NewPublishSink(app.publisher, app.cfg.PubSub.TopicName))
		app.logger.Info("run notices published to Pub/Sub",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	} else if app.cfg.Logging.Development {
		// Development publishes run notices in memory.
		sinkList = append(sinkList, progresssinks.NewPublishSink(memorypublisher.New(), app.cfg.PubSub.TopicName))
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   config.Millis(app.cfg.Progress.MaxBatchWaitMs),
		SinkTimeout:    config.Millis(app.cfg.Progress.SinkTimeoutMs),
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func setupDaily(app *App, clock *system.Clock, ids *uuid.Generator) (*workflow.Daily, error) {
	cfg := app.cfg
	retryPolicy := retryFromConfig(cfg.Scraper.Retry)
	fetchTimeout := config.Seconds(cfg.Scraper.FetchTimeoutSeconds)

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		RespectRobots: cfg.Scraper.RespectRobots,
		Timeout:       fetchTimeout,
		MaxBodySize:   cfg.Scraper.MaxBodyBytes,
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Scraper.UserAgent),
		zap.Bool("respect_robots", cfg.Scraper.RespectRobots),
	)

	var headless fetcher.Fetcher
	if cfg.Headless.Enabled {
		rendered, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: config.Seconds(cfg.Headless.NavTimeoutSec),
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed; promotions disabled", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			app.headless = rendered
			headless = rendered
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	scrape, err := scraper.New(scraper.Config{
		Concurrency:  cfg.Scraper.Concurrency,
		Retry:        retryPolicy,
		FetchTimeout: fetchTimeout,
		MaxItems:     cfg.Scraper.MaxItems,
		UserAgent:    cfg.Scraper.UserAgent,
	}, scraper.Dependencies{
		Fetcher:  probe,
		Headless: headless,
		Detector: detector.NewHeuristic(cfg.Headless.PromotionThreshold),
		Policy: simple.New(simple.Config{
			BlockedHosts:   cfg.Scraper.BlockedHosts,
			HeadlessPerRun: cfg.Headless.PerRun,
		}),
		Window: ratelimit.NewWindow(cfg.Scraper.RequestsPerMinute, time.Minute),
		Hosts: ratelimit.NewHostLimiter(ratelimit.HostConfig{
			RPS:   cfg.Scraper.PerHostRPS,
			Burst: cfg.Scraper.PerHostBurst,
		}),
		Hasher: sha256.New(),
		IDs:    ids,
		Now:    clock.Now,
		Logger: app.logger.Named("scraper"),
	})
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}

	app.modelClient = model.NewClient(model.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Model,
		Timeout: config.Seconds(cfg.Model.TimeoutSeconds),
		Retry:   retryPolicy,
	}, app.logger.Named("model"))
	if !app.modelClient.Available() {
		app.logger.Warn("model API key not configured; analysis and digests use fallbacks")
	}

	analyst := analysis.New(app.modelClient, analysis.Config{
		BatchSize:       cfg.Analysis.BatchSize,
		MinImportance:   cfg.Analysis.MinImportance,
		HighImportance:  cfg.Analysis.HighImportance,
		MaxArticles:     cfg.Analysis.MaxArticles,
		Temperature:     cfg.Analysis.Temperature,
		MaxOutputTokens: cfg.Analysis.MaxOutputTokens,
	}, app.logger.Named("analysis")).WithClock(clock.Now)

	daily, err := workflow.NewDaily(workflow.DailyDependencies{
		Sources:  app.repo,
		Articles: app.repo,
		Scraper:  scrape,
		Analyst:  analyst,
		MaxItems: cfg.Scraper.MaxItems,
		Now:      clock.Now,
		Logger:   app.logger.Named("daily"),
	})
	if err != nil {
		return nil, fmt.Errorf("daily workflow init failed: %w", err)
	}
	return daily, nil
}

func setupWeekly(app *App, clock *system.Clock) (*workflow.Weekly, error) {
	cfg := app.cfg
	writer := digest.NewWriter(app.modelClient, digest.Config{
		Temperature:     cfg.Digest.Temperature,
		MaxOutputTokens: cfg.Digest.MaxOutputTokens,
		TopStories:      cfg.Digest.TopStories,
		Brand:           cfg.Digest.Brand,
	}, app.logger.Named("digest")).WithClock(clock.Now)

	app.sender = email.NewResend(email.Config{
		APIKey:    cfg.Email.APIKey,
		BaseURL:   cfg.Email.BaseURL,
		From:      cfg.Email.From,
		ReplyTo:   cfg.Email.ReplyTo,
		Timeout:   config.Seconds(cfg.Email.TimeoutSeconds),
		Retry:     retryFromConfig(cfg.Scraper.Retry),
		PerSecond: cfg.Email.PerSecond,
	}, app.logger.Named("email"))
	if !app.sender.Available() {
		app.logger.Warn("email API key not configured; digests will not be delivered")
	}

	deps := workflow.WeeklyDependencies{
		Articles:       app.repo,
		Writer:         writer,
		Sender:         app.sender,
		Archive:        app.archive,
		TopStories:     cfg.Digest.TopStories,
		HighImportance: cfg.Digest.HighImportance,
		DashboardURL:   cfg.Digest.DashboardURL,
		Now:            clock.Now,
		Logger:         app.logger.Named("weekly"),
	}
	weekly, err := workflow.NewWeekly(deps)
	if err != nil {
		return nil, fmt.Errorf("weekly workflow init failed: %w", err)
	}
	return weekly, nil
}

// probes reports collaborator readiness for the health endpoint.
func (a *App) probes() map[string]orchestrator.Probe {
	return map[string]orchestrator.Probe{
		"storage": func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return a.repo.Ping(ctx) == nil
		},
		"model":   func(context.Context) bool { return a.modelClient != nil && a.modelClient.Available() },
		"email":   func(context.Context) bool { return a.sender != nil && a.sender.Available() },
		"archive": func(context.Context) bool { return a.archive != nil },
	}
}

func seedTopics(ctx context.Context, app *App) error {
	if app.cfg.SeedFile == "" {
		return nil
	}
	seeds, err := topic.LoadSeed(app.cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}
	created, err := app.orch.Seed(ctx, seeds)
	if err != nil {
		return err
	}
	app.logger.Info("seed topics applied", zap.String("path", app.cfg.SeedFile), zap.Int("created", created))
	return nil
}

func retryFromConfig(r config.RetryConfig) retry.Policy {
	base, maxDelay := r.RetryDelays()
	return retry.Policy{MaxRetries: r.MaxRetries, BaseDelay: base, MaxDelay: maxDelay}
}
