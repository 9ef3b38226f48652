package sinks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pypi-harvester/internal/progress"
)

// Run statuses reported by snapshots.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// BucketSnapshot is the progress of one bucket within a run.
type BucketSnapshot struct {
	Bucket     string           `json:"bucket"`
	Jobs       int64            `json:"jobs"`
	Done       map[string]int64 `json:"done"`
	Retries    int64            `json:"retries"`
	SavedBytes int64            `json:"saved_bytes,omitempty"`
	SavedAt    *time.Time       `json:"saved_at,omitempty"`
}

// RunSnapshot is the aggregated progress of one run.
type RunSnapshot struct {
	RunID      uuid.UUID        `json:"run_id"`
	Kind       string           `json:"kind"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
	Jobs       map[string]int64 `json:"jobs"`
	Buckets    []BucketSnapshot `json:"buckets"`
}

type runState struct {
	snap    RunSnapshot
	buckets map[string]*BucketSnapshot
}

// SnapshotSink folds progress events into per-run snapshots kept in memory
// for the status API. Only the most recent runs are retained.
type SnapshotSink struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*runState
	order   []uuid.UUID
	maxRuns int
}

// NewSnapshotSink constructs a SnapshotSink retaining up to maxRuns runs.
func NewSnapshotSink(maxRuns int) *SnapshotSink {
	if maxRuns <= 0 {
		maxRuns = 16
	}
	return &SnapshotSink{
		runs:    make(map[uuid.UUID]*runState),
		maxRuns: maxRuns,
	}
}

// Consume applies the batch to the snapshots.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	run := s.run(evt)
	switch evt.Stage {
	case progress.StageRunStart:
		run.snap.StartedAt = evt.TS
	case progress.StageRunDone, progress.StageRunError:
		ts := evt.TS
		run.snap.FinishedAt = &ts
		run.snap.Status = RunSuccess
		if evt.Stage == progress.StageRunError {
			run.snap.Status = RunError
			run.snap.Error = evt.Note
		}
	case progress.StageBucketStart:
		run.bucket(evt.Bucket).Jobs = evt.Jobs
	case progress.StageBucketSaved:
		b := run.bucket(evt.Bucket)
		ts := evt.TS
		b.SavedAt = &ts
		b.SavedBytes = evt.Bytes
	case progress.StageJobDone:
		b := run.bucket(evt.Bucket)
		b.Done[evt.State]++
		if evt.Attempts > 1 {
			b.Retries += int64(evt.Attempts - 1)
		}
		run.snap.Jobs[evt.State]++
	}
}

func (s *SnapshotSink) run(evt progress.Event) *runState {
	id := evt.RunUUID()
	if r, ok := s.runs[id]; ok {
		if r.snap.Kind == "" {
			r.snap.Kind = evt.Kind
		}
		return r
	}
	r := &runState{
		snap: RunSnapshot{
			RunID:     id,
			Kind:      evt.Kind,
			Status:    RunRunning,
			StartedAt: evt.TS,
			Jobs:      make(map[string]int64),
		},
		buckets: make(map[string]*BucketSnapshot),
	}
	s.runs[id] = r
	s.order = append(s.order, id)
	if len(s.order) > s.maxRuns {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, evicted)
	}
	return r
}

func (r *runState) bucket(key string) *BucketSnapshot {
	b, ok := r.buckets[key]
	if !ok {
		b = &BucketSnapshot{Bucket: key, Done: make(map[string]int64)}
		r.buckets[key] = b
	}
	return b
}

func (r *runState) copySnapshot() RunSnapshot {
	out := r.snap
	out.Jobs = make(map[string]int64, len(r.snap.Jobs))
	for k, v := range r.snap.Jobs {
		out.Jobs[k] = v
	}
	out.Buckets = make([]BucketSnapshot, 0, len(r.buckets))
	for _, b := range r.buckets {
		cp := *b
		cp.Done = make(map[string]int64, len(b.Done))
		for k, v := range b.Done {
			cp.Done[k] = v
		}
		out.Buckets = append(out.Buckets, cp)
	}
	slices.SortFunc(out.Buckets, func(a, b BucketSnapshot) int {
		if a.Bucket < b.Bucket {
			return -1
		}
		if a.Bucket > b.Bucket {
			return 1
		}
		return 0
	})
	return out
}

// ListRuns returns up to limit runs, most recent first.
func (s *SnapshotSink) ListRuns(limit int) []RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.runs[s.order[i]].copySnapshot())
	}
	return out
}

// GetRun returns the snapshot of one run.
func (s *SnapshotSink) GetRun(id uuid.UUID) (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return RunSnapshot{}, false
	}
	return r.copySnapshot(), true
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
