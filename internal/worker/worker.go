// Package worker executes single harvest jobs against the registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/metrics"
	"github.com/JakeFAU/pypi-harvester/internal/registry"
)

// Config controls Worker behavior.
type Config struct {
	// FilesBase is trimmed from stored source artifact URLs.
	FilesBase string
}

// Worker turns a crawler.Job into a terminal crawler.Result. It is safe for
// concurrent use; the dispatcher shares one Worker between goroutines.
type Worker struct {
	registry crawler.Registry
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

var _ crawler.Processor = (*Worker)(nil)

// New constructs a Worker.
func New(reg crawler.Registry, clock crawler.Clock, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		registry: reg,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs one job to completion. Job-scoped errors, including panics
// raised while handling the job, are folded into the result.
func (w *Worker) Process(ctx context.Context, job crawler.Job) (result crawler.Result) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	result = crawler.Result{Job: job, State: crawler.JobStateFetching, Attempts: 1}

	ctx = registry.WithRetryObserver(ctx, func(attempt int, err error, delay time.Duration) {
		result.Attempts = attempt + 1
		w.logger.Warn("job attempt failed, retrying",
			zap.Stringer("job", job),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})

	defer func() {
		if rec := recover(); rec != nil {
			result.State = crawler.JobStateFailed
			result.Err = fmt.Errorf("panic while processing %s: %v", job, rec)
			w.logger.Error("job panicked", zap.Stringer("job", job), zap.Any("panic", rec))
		}
		result.Duration = w.clock.Now().Sub(start)
		metrics.ObserveJob(string(job.Kind), string(result.State))
	}()

	var err error
	switch job.Kind {
	case crawler.JobKindMetadata:
		var doc crawler.PackageDocument
		doc, err = w.registry.FetchPackage(ctx, job.Name)
		if err == nil {
			result.Package = crawler.ShapePackage(doc, w.cfg.FilesBase)
		}
	case crawler.JobKindWheel:
		result.Wheel, err = w.registry.FetchWheelMetadata(ctx, job.URL)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	result.State, result.Err = w.classify(ctx, job, err)
	return result
}

func (w *Worker) classify(ctx context.Context, job crawler.Job, err error) (crawler.JobState, error) {
	switch {
	case err == nil:
		return crawler.JobStateSucceeded, nil
	case crawler.IsNotFound(err):
		w.logger.Debug("job target not found", zap.Stringer("job", job))
		return crawler.JobStateNotFound, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return crawler.JobStateFailed, err
	default:
		w.logger.Error("job failed", zap.Stringer("job", job), zap.Error(err))
		return crawler.JobStateFailed, err
	}
}
