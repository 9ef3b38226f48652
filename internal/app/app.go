// Package app initializes and holds long-lived services, acting as the
// dependency injection container behind every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/api"
	"github.com/JakeFAU/pypi-harvester/internal/clock/system"
	"github.com/JakeFAU/pypi-harvester/internal/config"
	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/dispatcher"
	"github.com/JakeFAU/pypi-harvester/internal/hash/sha256"
	"github.com/JakeFAU/pypi-harvester/internal/id/uuid"
	"github.com/JakeFAU/pypi-harvester/internal/metrics"
	"github.com/JakeFAU/pypi-harvester/internal/pipeline"
	"github.com/JakeFAU/pypi-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/pypi-harvester/internal/progress"
	"github.com/JakeFAU/pypi-harvester/internal/progress/sinks"
	"github.com/JakeFAU/pypi-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/pypi-harvester/internal/registry"
	"github.com/JakeFAU/pypi-harvester/internal/storage/gcs"
	"github.com/JakeFAU/pypi-harvester/internal/storage/local"
	"github.com/JakeFAU/pypi-harvester/internal/store"
	"github.com/JakeFAU/pypi-harvester/internal/worker"
)

const (
	snapshotRuns      = 16
	readHeaderTimeout = 5 * time.Second
)

// Options select which services a command needs.
type Options struct {
	// Crawl builds the registry client, worker and dispatcher. Only the
	// crawl commands set it, so offline commands need no operator contact.
	Crawl bool
	// Registerer receives the progress collectors. Nil uses the default
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// App holds the shared, long-lived services of one command invocation.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Index     *store.Store[crawler.PackageRecord]
	Deps      *store.Store[crawler.DepsRecord]
	Hub       *progress.Hub
	Snapshots *sinks.SnapshotSink
	Pipeline  *pipeline.Pipeline
	Registry  *registry.Client

	server  *http.Server
	addr    string
	closers []func(context.Context) error
}

// New builds every service the command needs. It fails fast on fatal
// configuration such as a missing operator contact, before any crawling.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		return nil, fmt.Errorf("store options: %w", err)
	}
	storeOpts = append(storeOpts, store.WithLogger(logger.Named("store")))
	if a.Index, err = store.Open[crawler.PackageRecord](cfg.Store.IndexDir, storeOpts...); err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	if a.Deps, err = store.Open[crawler.DepsRecord](cfg.Store.DepsDir, storeOpts...); err != nil {
		return nil, fmt.Errorf("open deps store: %w", err)
	}

	clock := system.New()

	a.Snapshots = sinks.NewSnapshotSink(snapshotRuns)
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		BaseContext:    ctx,
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("progress")), promSink, a.Snapshots)
	a.closers = append(a.closers, a.Hub.Close)

	mirror, err := a.buildMirror(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Index:     a.Index,
		Deps:      a.Deps,
		Emitter:   a.Hub,
		Clock:     clock,
		IDs:       uuid.New(),
		Hasher:    sha256.New(),
		Mirror:    mirror,
		Publisher: publisher,
		Logger:    logger.Named("pipeline"),
	}
	if opts.Crawl {
		metadataRetry, artifactRetry := cfg.RetryPolicies()
		var limiter registry.Limiter
		if cfg.Registry.RequestsPerSecond > 0 {
			limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Registry.RequestsPerSecond, Burst: cfg.Registry.Burst})
		}
		a.Registry, err = registry.New(registry.Config{
			BaseURL:       cfg.Registry.BaseURL,
			IndexURL:      cfg.Registry.IndexURL,
			FilesURL:      cfg.Registry.FilesURL,
			Contact:       cfg.Registry.Contact,
			Timeout:       cfg.RegistryTimeout(),
			TempDir:       cfg.Registry.TempDir,
			MetadataRetry: metadataRetry,
			ArtifactRetry: artifactRetry,
			Limiter:       limiter,
		}, clock, logger.Named("registry"))
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		w := worker.New(a.Registry, clock, worker.Config{FilesBase: a.Registry.FilesURL()}, logger.Named("worker"))
		deps.Registry = a.Registry
		deps.Dispatcher = dispatcher.New(w, cfg.Crawler.Workers)
		logger.Info("registry client ready",
			zap.String("user_agent", a.Registry.UserAgent()),
			zap.Int("workers", cfg.Crawler.Workers),
		)
	}

	a.Pipeline, err = pipeline.New(deps, pipeline.Config{
		Buckets:      cfg.Buckets(),
		ShuffleSeed:  cfg.Crawler.ShuffleSeed,
		MirrorPrefix: cfg.Mirror.Prefix,
		Topic:        cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Server.Listen != "" {
		if err := a.startServer(cfg.Server.Listen); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) buildMirror(ctx context.Context) (crawler.BlobStore, error) {
	switch a.Config.Mirror.Kind {
	case config.MirrorLocal:
		a.Logger.Info("mirroring buckets to local directory", zap.String("dir", a.Config.Mirror.LocalDir))
		m, err := local.New(local.Config{BaseDir: a.Config.Mirror.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local mirror: %w", err)
		}
		return m, nil
	case config.MirrorGCS:
		a.Logger.Info("mirroring buckets to GCS", zap.String("bucket", a.Config.Mirror.GCSBucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create GCS client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		m, err := gcs.New(client, gcs.Config{Bucket: a.Config.Mirror.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs mirror: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.Config.PubSub.TopicName == "" {
		return nil, nil
	}
	a.Logger.Info("publishing bucket notifications",
		zap.String("project", a.Config.PubSub.ProjectID),
		zap.String("topic", a.Config.PubSub.TopicName),
	)
	client, err := gpubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsub.New(client)
	a.closers = append(a.closers, func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	return pub, nil
}

func (a *App) startServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := api.NewServer(a.Snapshots, a.ready, a.Logger.Named("api"))
	a.server = &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	a.addr = ln.Addr().String()
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("status server failed", zap.Error(err))
		}
	}()
	a.Logger.Info("status server listening", zap.String("addr", a.addr))
	return nil
}

// Addr returns the status server's listen address, or "" when disabled.
func (a *App) Addr() string { return a.addr }

// ready reports whether both store directories are still reachable.
func (a *App) ready(context.Context) error {
	for _, dir := range []string{a.Config.Store.IndexDir, a.Config.Store.DepsDir} {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("store dir: %w", err)
		}
	}
	return nil
}

// Close shuts the services down in reverse order of construction. Unsaved
// bucket changes are not flushed; an interrupted bucket is redone on the
// next run.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown status server: %w", err))
		}
	}
	for _, closeFn := range slices.Backward(a.closers) {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
