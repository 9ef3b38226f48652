// Package pipeline drives a harvest run bucket by bucket: build jobs, fan
// them out through the dispatcher, fold the results into the stores, then
// persist, mirror and announce each bucket.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/dedup"
	"github.com/JakeFAU/pypi-harvester/internal/dispatcher"
	"github.com/JakeFAU/pypi-harvester/internal/metrics"
	"github.com/JakeFAU/pypi-harvester/internal/progress"
	"github.com/JakeFAU/pypi-harvester/internal/registry"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

// Run kinds.
const (
	KindIndex    = "index"
	KindWheels   = "wheels"
	KindCompress = "compress"
)

// Store names used in mirror paths, metrics and notifications.
const (
	StoreIndex = "index"
	StoreDeps  = "deps"
)

const defaultProgressEvery = 100

// Config controls a Pipeline.
type Config struct {
	// Buckets lists the buckets a run visits, in order.
	Buckets []store.BucketKey
	// ShuffleSeed seeds job shuffling. Zero picks a random seed.
	ShuffleSeed uint64
	// MirrorPrefix is prepended to mirrored object paths.
	MirrorPrefix string
	// Topic receives bucket-saved notifications when a Publisher is set.
	Topic string
	// ProgressEvery sets how many finished jobs separate progress log lines.
	ProgressEvery int
}

// Deps groups the collaborators of a Pipeline. Registry and Dispatcher are
// only needed by the crawl runs; Mirror and Publisher are optional.
type Deps struct {
	Registry   crawler.Registry
	Dispatcher *dispatcher.Dispatcher
	Index      *store.Store[crawler.PackageRecord]
	Deps       *store.Store[crawler.DepsRecord]
	Emitter    progress.Emitter
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Hasher     crawler.Hasher
	Mirror     crawler.BlobStore
	Publisher  crawler.Publisher
	Logger     *zap.Logger
}

// Pipeline coordinates harvest runs. Stores are only touched from the
// goroutine calling a run method; a Pipeline must not run two runs at once.
type Pipeline struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// New validates the collaborators and returns a Pipeline.
func New(d Deps, cfg Config) (*Pipeline, error) {
	switch {
	case d.Index == nil || d.Deps == nil:
		return nil, errors.New("pipeline: index and deps stores are required")
	case d.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case d.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	case d.Hasher == nil:
		return nil, errors.New("pipeline: hasher is required")
	}
	if d.Emitter == nil {
		d.Emitter = progress.NopEmitter{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = store.AllBucketKeys()
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	return &Pipeline{deps: d, cfg: cfg, log: d.Logger}, nil
}

// run carries per-invocation state.
type run struct {
	id    [16]byte
	idStr string
	kind  string
	rng   *rand.Rand
	log   *zap.Logger
}

func (p *Pipeline) emit(r *run, evt progress.Event) {
	evt.RunID = r.id
	evt.Kind = r.kind
	evt.TS = p.deps.Clock.Now()
	p.deps.Emitter.Emit(evt)
}

// execute wraps fn with run identity and RUN_* events.
func (p *Pipeline) execute(ctx context.Context, kind string, fn func(ctx context.Context, r *run) error) error {
	idStr, err := p.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("parse run id %q: %w", idStr, err)
	}
	r := &run{
		id:    progress.UUIDToBytes(id),
		idStr: idStr,
		kind:  kind,
		rng:   newRand(p.cfg.ShuffleSeed),
		log:   p.log.With(zap.String("run_id", idStr), zap.String("kind", kind)),
	}

	start := p.deps.Clock.Now()
	p.emit(r, progress.Event{Stage: progress.StageRunStart})
	r.log.Info("run started", zap.Int("buckets", len(p.cfg.Buckets)))

	err = fn(ctx, r)
	dur := p.deps.Clock.Now().Sub(start)
	if err != nil {
		p.emit(r, progress.Event{Stage: progress.StageRunError, Dur: dur, Note: err.Error()})
		r.log.Error("run failed", zap.Duration("duration", dur), zap.Error(err))
		return err
	}
	p.emit(r, progress.Event{Stage: progress.StageRunDone, Dur: dur})
	r.log.Info("run finished", zap.Duration("duration", dur))
	return nil
}

// CrawlIndex lists the registry and stores the shaped metadata of every
// package, bucket by bucket.
func (p *Pipeline) CrawlIndex(ctx context.Context) error {
	if err := p.requireCrawl(); err != nil {
		return err
	}
	return p.execute(ctx, KindIndex, func(ctx context.Context, r *run) error {
		listCtx := registry.WithRetryObserver(ctx, func(attempt int, err error, delay time.Duration) {
			r.log.Warn("package listing failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		})
		listed, err := p.deps.Registry.ListPackages(listCtx)
		if err != nil {
			return fmt.Errorf("list packages: %w", err)
		}
		r.log.Info("package listing fetched", zap.Int("packages", len(listed)))

		for _, key := range p.cfg.Buckets {
			if err := ctx.Err(); err != nil {
				return err
			}
			jobs := IndexJobs(listed, key)
			if err := p.crawlBucket(ctx, r, key, jobs, func(results []crawler.Result) error {
				return p.foldIndex(r, results)
			}); err != nil {
				return err
			}
			if err := persist(ctx, p, r, StoreIndex, p.deps.Index, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// CrawlWheels fetches dependency metadata for every wheel in the index
// store that has no result in the deps store yet.
func (p *Pipeline) CrawlWheels(ctx context.Context) error {
	if err := p.requireCrawl(); err != nil {
		return err
	}
	return p.execute(ctx, KindWheels, func(ctx context.Context, r *run) error {
		for _, key := range p.cfg.Buckets {
			if err := ctx.Err(); err != nil {
				return err
			}
			jobs := WheelJobs(p.deps.Index, p.deps.Deps, key, p.deps.Registry.ArtifactURL)
			if err := p.crawlBucket(ctx, r, key, jobs, func(results []crawler.Result) error {
				return p.foldWheels(r, key, results)
			}); err != nil {
				return err
			}
			if err := persist(ctx, p, r, StoreDeps, p.deps.Deps, key); err != nil {
				return err
			}
			// The index bucket was only read.
			if err := p.deps.Index.Unload(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompressAll re-runs deduplication over every deps bucket. Buckets that
// are already compressed are left untouched on disk.
func (p *Pipeline) CompressAll(ctx context.Context) error {
	return p.execute(ctx, KindCompress, func(ctx context.Context, r *run) error {
		for _, key := range p.cfg.Buckets {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.emit(r, progress.Event{
				Stage:  progress.StageBucketStart,
				Bucket: string(key),
				Jobs:   int64(p.deps.Deps.Len(key)),
			})
			if err := p.compressBucket(r, key); err != nil {
				return err
			}
			if err := persist(ctx, p, r, StoreDeps, p.deps.Deps, key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pipeline) requireCrawl() error {
	if p.deps.Registry == nil || p.deps.Dispatcher == nil {
		return errors.New("pipeline: registry and dispatcher are required to crawl")
	}
	return nil
}

// crawlBucket runs the jobs of one bucket to completion and folds the
// results in sorted job order. A cancelled context stops before the fold so
// the bucket is never saved half done.
func (p *Pipeline) crawlBucket(
	ctx context.Context,
	r *run,
	key store.BucketKey,
	jobs []crawler.Job,
	fold func([]crawler.Result) error,
) error {
	log := r.log.With(zap.String("bucket", string(key)))
	total := len(jobs)
	log.Info("bucket started", zap.Int("jobs", total))
	p.emit(r, progress.Event{Stage: progress.StageBucketStart, Bucket: string(key), Jobs: int64(total)})

	Shuffle(r.rng, jobs)

	var done atomic.Int64
	results := p.deps.Dispatcher.Gather(ctx, jobs, func(_ int, res crawler.Result) {
		evt := progress.Event{
			Stage:    progress.StageJobDone,
			Bucket:   string(key),
			Package:  res.Job.Key(),
			Job:      res.Job.String(),
			State:    string(res.State),
			Attempts: res.Attempts,
			Dur:      res.Duration,
		}
		if res.Err != nil {
			evt.Note = res.Err.Error()
		}
		p.emit(r, evt)
		if n := done.Add(1); n%int64(p.cfg.ProgressEvery) == 0 {
			log.Info("bucket progress", zap.Int64("done", n), zap.Int("jobs", total))
		}
	})
	if err := ctx.Err(); err != nil {
		log.Warn("bucket aborted, discarding results", zap.Error(err))
		return fmt.Errorf("bucket %s: %w", key, err)
	}

	slices.SortFunc(results, func(a, b crawler.Result) int { return compareJobs(a.Job, b.Job) })
	counts := make(map[crawler.JobState]int)
	for _, res := range results {
		counts[res.State]++
	}
	log.Info("bucket fetched",
		zap.Int("succeeded", counts[crawler.JobStateSucceeded]),
		zap.Int("not_found", counts[crawler.JobStateNotFound]),
		zap.Int("failed", counts[crawler.JobStateFailed]),
	)
	return fold(results)
}

func (p *Pipeline) foldIndex(r *run, results []crawler.Result) error {
	for _, res := range results {
		if res.State != crawler.JobStateSucceeded {
			continue
		}
		if len(res.Package) == 0 {
			r.log.Debug("package has no artifacts", zap.String("package", res.Job.Key()))
			continue
		}
		if err := p.deps.Index.Set(res.Job.Key(), res.Package); err != nil {
			return err
		}
	}
	return nil
}

// foldWheels stores new wheel results inline into a decompressed bucket and
// compresses it again. A bucket without new results is left untouched.
func (p *Pipeline) foldWheels(r *run, key store.BucketKey, results []crawler.Result) error {
	if !slices.ContainsFunc(results, func(res crawler.Result) bool {
		return res.State == crawler.JobStateSucceeded
	}) {
		return nil
	}
	if _, err := dedup.DecompressBucket(p.deps.Deps, key); err != nil {
		r.log.Warn("deps bucket has broken references", zap.String("bucket", string(key)), zap.Error(err))
	}

	updated := make(map[string]crawler.DepsRecord)
	var order []string
	for _, res := range results {
		if res.State != crawler.JobStateSucceeded {
			continue
		}
		name := res.Job.Key()
		rec, ok := updated[name]
		if !ok {
			existing, _ := p.deps.Deps.Get(name)
			rec = existing.Clone()
			updated[name] = rec
			order = append(order, name)
		}
		rec.Put(res.Job.PyVer, res.Job.Version, res.Job.Filename, crawler.InlineEntry(res.Wheel))
	}
	for _, name := range order {
		if err := p.deps.Deps.Set(name, updated[name]); err != nil {
			return err
		}
	}
	return p.compressBucket(r, key)
}

func (p *Pipeline) compressBucket(r *run, key store.BucketKey) error {
	stats, err := dedup.CompressBucket(p.deps.Deps, key)
	if err != nil {
		r.log.Warn("deps bucket has broken references", zap.String("bucket", string(key)), zap.Error(err))
	}
	metrics.ObserveDedupReferences(stats.References)
	r.log.Info("bucket compressed",
		zap.String("bucket", string(key)),
		zap.Int("records", stats.Records),
		zap.Int("changed", stats.Changed),
		zap.Int("references", stats.References),
	)
	return nil
}

// persist saves one bucket if dirty, then mirrors, announces and unloads
// it. Mirror and notification failures are logged and do not fail the run;
// the bucket is already durable locally.
func persist[T any](
	ctx context.Context,
	p *Pipeline,
	r *run,
	storeName string,
	s *store.Store[T],
	key store.BucketKey,
) error {
	log := r.log.With(zap.String("store", storeName), zap.String("bucket", string(key)))
	start := p.deps.Clock.Now()
	written, err := s.SaveBucket(key)
	if err != nil {
		return fmt.Errorf("save %s bucket %s: %w", storeName, key, err)
	}
	if !written {
		log.Info("bucket unchanged")
		p.emit(r, progress.Event{Stage: progress.StageBucketSaved, Bucket: string(key), Note: "unchanged"})
		return s.Unload(key)
	}

	file := s.Path(key)
	// #nosec G304 -- path is derived from the configured store directory.
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read saved bucket %s: %w", file, err)
	}
	size := int64(len(data))
	metrics.ObserveBucketSaved(storeName, string(key), size)

	digest, err := p.deps.Hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash bucket %s: %w", file, err)
	}

	uri := "file://" + file
	if p.deps.Mirror != nil {
		objectPath := path.Join(p.cfg.MirrorPrefix, storeName, filepath.Base(file))
		mirrored, err := p.deps.Mirror.PutObject(ctx, objectPath, contentType(file), bytes.NewReader(data))
		if err != nil {
			log.Error("bucket mirror failed", zap.String("path", objectPath), zap.Error(err))
		} else {
			uri = mirrored
		}
	}
	if p.deps.Publisher != nil && p.cfg.Topic != "" {
		payload := map[string]any{
			"run_id": r.idStr,
			"kind":   r.kind,
			"store":  storeName,
			"bucket": string(key),
			"sha256": digest,
			"uri":    uri,
			"bytes":  size,
		}
		if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
			log.Error("bucket notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		}
	}

	dur := p.deps.Clock.Now().Sub(start)
	p.emit(r, progress.Event{Stage: progress.StageBucketSaved, Bucket: string(key), Bytes: size, Dur: dur})
	log.Info("bucket saved", zap.Int64("bytes", size), zap.String("sha256", digest), zap.String("uri", uri))
	return s.Unload(key)
}

func contentType(file string) string {
	if strings.HasSuffix(file, ".zst") {
		return "application/zstd"
	}
	return "application/json"
}
