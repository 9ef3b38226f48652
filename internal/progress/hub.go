package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the JOB_DONE queue (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: upper bound on how long the oldest queued event waits (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls.
//   - Logger: receives drop and sink warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	milestoneBuffer       = 64
	dropLogInterval       = 5 * time.Second
)

// Hub fans progress events out to sinks in batches. JOB_DONE events are
// lossy: when their queue is full they are counted and dropped so a slow
// sink never stalls the workers. Run and bucket milestones are never
// dropped; Emit waits for them to be queued. Sinks observe every job event
// of a bucket before the milestone that follows it.
type Hub struct {
	cfg        Config
	sinks      []Sink
	jobs       chan Event
	milestones chan Event
	stopCh     chan struct{}
	doneCh     chan struct{}
	logger     *zap.Logger

	dropped  atomic.Int64
	dropWarn rate.Sometimes

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:        cfg,
		sinks:      append([]Sink(nil), sinks...),
		jobs:       make(chan Event, cfg.BufferSize),
		milestones: make(chan Event, milestoneBuffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     cfg.Logger,
		dropWarn:   rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if evt.Stage != StageJobDone {
		select {
		case h.milestones <- evt:
		case <-h.stopCh:
		}
		return
	}
	select {
	case h.jobs <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("progress job events dropped due to backpressure", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped returns the number of JOB_DONE events discarded so far.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close flushes queued events, closes the sinks and waits for the batching
// goroutine to exit. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batcher accumulates events and tracks the deadline of the oldest one.
type batcher struct {
	h     *Hub
	batch []Event
	timer *time.Timer
	armed bool
}

func (b *batcher) add(evt Event) {
	b.batch = append(b.batch, evt)
	if len(b.batch) >= b.h.cfg.MaxBatchEvents {
		b.flush()
		return
	}
	if !b.armed {
		b.timer.Reset(b.h.cfg.MaxBatchWait)
		b.armed = true
	}
}

// drainJobs moves already queued job events into the batch so they precede
// the milestone being added next.
func (b *batcher) drainJobs() {
	for {
		select {
		case evt := <-b.h.jobs:
			b.add(evt)
		default:
			return
		}
	}
}

func (b *batcher) flush() {
	if b.armed {
		if !b.timer.Stop() {
			select {
			case <-b.timer.C:
			default:
			}
		}
		b.armed = false
	}
	if len(b.batch) == 0 {
		return
	}
	b.h.deliver(b.batch)
	b.batch = make([]Event, 0, b.h.cfg.MaxBatchEvents)
}

func (h *Hub) run() {
	defer close(h.doneCh)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	b := &batcher{h: h, batch: make([]Event, 0, h.cfg.MaxBatchEvents), timer: timer}
	for {
		select {
		case evt := <-h.jobs:
			b.add(evt)
		case evt := <-h.milestones:
			b.drainJobs()
			b.add(evt)
		case <-timer.C:
			b.armed = false
			b.flush()
		case <-h.stopCh:
			h.drain(b)
			b.flush()
			h.closeSinks()
			return
		}
	}
}

// drain empties both queues after Close, keeping job events ahead of
// milestones.
func (h *Hub) drain(b *batcher) {
	for {
		b.drainJobs()
		select {
		case evt := <-h.milestones:
			b.add(evt)
		default:
			return
		}
	}
}

// deliver hands batch to every sink. Sinks may keep the slice.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
