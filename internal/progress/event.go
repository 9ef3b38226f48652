package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageBucketStart Stage = "BUCKET_START"
	StageBucketSaved Stage = "BUCKET_SAVED"
	StageJobDone     Stage = "JOB_DONE"
)

// Event captures a single component of harvest progress.
type Event struct {
	// RunID identifies one command invocation using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Kind is the crawl kind ("index", "wheels", "compress").
	Kind string
	// Bucket scopes bucket and job events to a shard.
	Bucket string
	// Package is the normalised package name of a job event.
	Package string
	// Job is the job identity, detailed enough to reproduce the request.
	Job string
	// State is the terminal job state of JOB_DONE events.
	State string
	// Jobs carries the job count of BUCKET_START events.
	Jobs int64
	// Attempts is the number of fetch attempts a job took; every attempt
	// beyond the first was a retry.
	Attempts int
	// Bytes carries the size of a saved bucket file.
	Bytes int64
	// Dur captures job, bucket or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageBucketStart, StageBucketSaved:
		if e.Bucket == "" {
			return fmt.Errorf("%s requires bucket", e.Stage)
		}
	case StageJobDone:
		if e.Bucket == "" || e.Job == "" {
			return errors.New("job done requires bucket and job")
		}
		if e.State == "" {
			return errors.New("job done requires state")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
