// Package server builds the application's dependency graph from config and
// runs it either as a one-shot crawl or as the ops/API server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	restfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/rest"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/catalog-crawler/internal/scrape"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
	"github.com/JakeFAU/catalog-crawler/internal/sites/bestpack"
	"github.com/JakeFAU/catalog-crawler/internal/sites/pulser"
	"github.com/JakeFAU/catalog-crawler/internal/sites/upack"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/catalog-crawler/internal/storage/mongo"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// Registry returns every site the binary knows about.
func Registry() *sites.Registry {
	return sites.NewRegistry(upack.New(), bestpack.New(), pulser.New())
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	service   *scrape.Service
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	ready     map[string]api.ReadyCheck

	progressHub     *progress.Hub
	headless        *headlessfetcher.Executor
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	pgPool          *pgxpool.Pool
	mongoClient     *mongo.Client
	telemetry       *telemetry.Providers
}

// storeSet is what a database backend provides.
type storeSet struct {
	rows    crawler.TableSinks
	sources crawler.SourceLookup
	runs    crawler.RunStore
}

// Build creates the application's dependencies. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, ready: make(map[string]api.ReadyCheck)}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Strings("sites", cfg.Crawler.Sites),
	)

	registry, err := Registry().Only(cfg.Crawler.Sites)
	if err != nil {
		return nil, fmt.Errorf("crawler.sites: %w", err)
	}

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	files, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	stores, err := app.setupDatabase(ctx, registry)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := app.setupFetchers()
	if err != nil {
		return nil, err
	}
	deps.Sinks = stores.rows
	deps.Sources = stores.sources
	deps.Files = files
	deps.Logger = logger.Named("site")
	deps.Concurrency = cfg.Crawler.Concurrency
	deps.Threshold = cfg.Crawler.InsertBatchSize

	clock := system.New()
	deps.Now = clock.Now
	app.service = scrape.New(
		registry,
		deps,
		stores.runs,
		publisher,
		uuid.New(),
		emitter,
		clock,
		scrape.Config{Topic: cfg.PubSub.TopicName, RunTimeout: cfg.RunTimeout()},
		logger,
	)

	app.queue = queueMemory.NewQueue(cfg.Server.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Server.Workers)
	for i := 0; i < cfg.Server.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.service,
			worker.Config{MaxAttempts: cfg.Crawler.MaxAttempts, RetryDelay: 30 * time.Second},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, app.service, stores.runs, workers)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.dispatch, app.service, api.Options{
		APIKey: apiKey,
		Ready:  app.ready,
	}, logger.Named("api"))

	return app, nil
}

// Sites lists the sites enabled by configuration.
func (a *App) Sites() []string {
	return a.service.Sites()
}

// Crawl runs one site to completion in the calling goroutine.
func (a *App) Crawl(ctx context.Context, site string) (crawler.Run, pipeline.Summary, error) {
	return a.service.Run(ctx, site)
}

// Serve starts the dispatcher and the HTTP server and blocks until ctx is
// canceled or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Server.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	// The hub drains into sinks, so it goes first.
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.FileStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		files, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs file store init failed: %w", err)
		}
		a.logger.Info("using GCS picture storage", zap.String("bucket", a.cfg.Storage.Bucket))
		return files, nil
	case config.StorageLocal:
		files, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local file store init failed: %w", err)
		}
		a.logger.Info("using local picture storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return files, nil
	default:
		a.logger.Info("using in-memory picture storage")
		return memoryStorage.NewFileStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context, registry *sites.Registry) (storeSet, error) {
	db := a.cfg.Database
	switch db.Backend {
	case config.DatabasePostgres:
		pool, err := pgstore.Open(ctx, pgstore.Config{
			DSN:      db.DSN,
			Schema:   db.Schema,
			MaxConns: int32(db.MaxConns), //nolint:gosec // validated small config value
		})
		if err != nil {
			return storeSet{}, fmt.Errorf("postgres init failed: %w", err)
		}
		a.pgPool = pool
		base, maxDelay := a.cfg.Backoff()
		retry := crawler.NewExponentialRetryPolicyFrom(crawler.RetryConfig{
			MaxAttempts: a.cfg.HTTP.MaxRetries,
			BaseDelay:   base,
			MaxDelay:    maxDelay,
		})
		sources, err := pgstore.NewSourceStore(pool, db.Schema)
		if err != nil {
			return storeSet{}, fmt.Errorf("source store init failed: %w", err)
		}
		runs, err := pgstore.NewRunStore(pool, db.Schema)
		if err != nil {
			return storeSet{}, fmt.Errorf("run store init failed: %w", err)
		}
		a.ready["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		a.logger.Info("postgres store initialized", zap.String("schema", db.Schema))
		return storeSet{
			rows:    pgstore.NewRowSinks(pool, db.Schema, retry, a.logger.Named("postgres")),
			sources: sources,
			runs:    runs,
		}, nil
	case config.DatabaseMongo:
		client, err := mongostore.Connect(ctx, db.MongoURI)
		if err != nil {
			return storeSet{}, fmt.Errorf("mongo init failed: %w", err)
		}
		a.mongoClient = client
		database := client.Database(db.MongoDatabase)
		a.ready["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		a.logger.Info("mongo store initialized", zap.String("database", db.MongoDatabase))
		return storeSet{
			rows:    mongostore.NewRowSinks(database, a.logger.Named("mongo")),
			sources: mongostore.NewSourceStore(database),
			runs:    memoryStorage.NewRunStore(),
		}, nil
	default:
		a.logger.Warn("using in-memory catalog store; rows are lost on exit")
		var sources memoryStorage.Sources
		for _, name := range registry.Names() {
			sources = append(sources, crawler.Source{ID: strings.ToLower(name), Name: name})
		}
		return storeSet{
			rows:    memoryStorage.NewRowSinks(),
			sources: sources,
			runs:    memoryStorage.NewRunStore(),
		}, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BufferSize: a.cfg.Progress.BufferSize,
		BatchSize:  a.cfg.Progress.Batch,
		Parent:     context.WithoutCancel(ctx),
		Logger:     a.logger,
	}, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", a.cfg.Progress.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return a.progressHub, nil
}

func (a *App) setupFetchers() (sites.Deps, error) {
	var limiter crawler.RateLimiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
		)
	}
	html := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.HTTPTimeout(),
		Limiter:       limiter,
		Logger:        a.logger.Named("colly"),
	})
	// Pictures get their own collector so large images are not truncated
	// at colly's default body limit.
	imageLimit := a.cfg.HTTP.MaxImageBytes
	if imageLimit <= 0 {
		imageLimit = -1
	}
	images := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.HTTPTimeout(),
		MaxBodySize:   imageLimit,
		Limiter:       limiter,
		Logger:        a.logger.Named("images"),
	})
	deps := sites.Deps{
		HTML:   html,
		Images: images,
		API: restfetcher.New(restfetcher.Config{
			UserAgent:        a.cfg.Crawler.UserAgent,
			Timeout:          a.cfg.HTTPTimeout(),
			CloudflareBypass: a.cfg.HTTP.CloudflareBypass,
			Limiter:          limiter,
			Logger:           a.logger.Named("rest"),
		}),
	}
	if a.cfg.Headless.Enabled {
		exec, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			WaitSelector:      a.cfg.Headless.WaitSelector,
			Limiter:           limiter,
			Logger:            a.logger.Named("headless"),
		})
		if err != nil {
			return sites.Deps{}, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = exec
		deps.HTML = exec
		a.logger.Info("rendering catalog pages with headless chrome", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	return deps, nil
}
