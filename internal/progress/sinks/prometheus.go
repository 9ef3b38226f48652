package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pypi-harvester/internal/progress"
)

// PrometheusSink exports harvest progress via Prometheus. It owns the
// collectors for runs started/completed/running, bucket completion and job
// outcomes.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	bucketsSaved   *prometheus.CounterVec
	bucketDuration *prometheus.HistogramVec
	bucketJobs     *prometheus.GaugeVec

	jobsDone    *prometheus.CounterVec
	jobRetries  *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Total harvest runs that have started, by kind.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Total harvest runs completed, by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_running",
			Help: "Current number of running harvest runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}, []string{"kind", "result"}),
		bucketsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_buckets_saved_total",
			Help: "Buckets persisted, by kind.",
		}, []string{"kind"}),
		bucketDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_bucket_duration_seconds",
			Help:    "Wall time per bucket cycle.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"kind"}),
		bucketJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_bucket_jobs",
			Help: "Jobs planned for the bucket currently in progress, by kind.",
		}, []string{"kind"}),
		jobsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_jobs_done_total",
			Help: "Jobs reaching a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_job_retries_total",
			Help: "Job fetch attempts that were retried, by kind.",
		}, []string{"kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_job_duration_seconds",
			Help:    "Job duration including retries, by kind and state.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
		}, []string{"kind", "state"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.bucketsSaved,
		s.bucketDuration,
		s.bucketJobs,
		s.jobsDone,
		s.jobRetries,
		s.jobDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	kind := labelOr(evt.Kind, "unknown")
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone, progress.StageRunError:
		result := "success"
		if evt.Stage == progress.StageRunError {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(kind, result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageBucketStart:
		s.bucketJobs.WithLabelValues(kind).Set(float64(evt.Jobs))
	case progress.StageBucketSaved:
		s.bucketsSaved.WithLabelValues(kind).Inc()
		if evt.Dur > 0 {
			s.bucketDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
		}
	case progress.StageJobDone:
		state := labelOr(evt.State, "unknown")
		s.jobsDone.WithLabelValues(kind, state).Inc()
		if evt.Dur > 0 {
			s.jobDuration.WithLabelValues(kind, state).Observe(evt.Dur.Seconds())
		}
		if evt.Attempts > 1 {
			s.jobRetries.WithLabelValues(kind).Add(float64(evt.Attempts - 1))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func labelOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
