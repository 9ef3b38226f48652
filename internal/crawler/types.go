package crawler

import (
	"fmt"
	"time"
)

// JobKind distinguishes the two kinds of fetch work.
type JobKind string

// Job kinds.
const (
	JobKindMetadata JobKind = "metadata"
	JobKindWheel    JobKind = "wheel"
)

// JobState is the lifecycle state of a single job.
type JobState string

// Job states. A job moves pending -> fetching -> one terminal state; retries
// happen inside fetching and are invisible at this level.
const (
	JobStatePending   JobState = "pending"
	JobStateFetching  JobState = "fetching"
	JobStateSucceeded JobState = "succeeded"
	JobStateNotFound  JobState = "not_found"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state ends the job.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateNotFound, JobStateFailed:
		return true
	default:
		return false
	}
}

// Job is one immutable unit of fetch work. It carries everything needed to
// be retried independently of any other job.
type Job struct {
	Kind JobKind
	// Name is the package name as listed by the registry for metadata jobs
	// and the normalised store key for wheel jobs.
	Name     string
	Version  string
	Filename string
	PyVer    string
	URL      string
}

// Key returns the normalised package name the job's result is stored under.
func (j Job) Key() string {
	return NormalizeName(j.Name)
}

// String renders the job identity for logs, detailed enough to reproduce
// the request by hand.
func (j Job) String() string {
	if j.Kind == JobKindWheel {
		return fmt.Sprintf("%s %s==%s %s (%s)", j.Kind, j.Name, j.Version, j.Filename, j.URL)
	}
	return fmt.Sprintf("%s %s", j.Kind, j.Name)
}

// Result is the terminal outcome of a job.
type Result struct {
	Job      Job
	State    JobState
	Package  PackageRecord
	Wheel    WheelMetadata
	Attempts int
	Duration time.Duration
	Err      error
}

// ListedPackage is one entry of the registry's package listing.
type ListedPackage struct {
	Name   string
	Serial int64
}

// Registry package types.
const (
	PackageTypeSdist = "sdist"
	PackageTypeWheel = "bdist_wheel"
)

// ReleaseFile is one artifact of a release as described by the registry.
type ReleaseFile struct {
	Filename      string  `json:"filename"`
	PackageType   string  `json:"packagetype"`
	Digests       Digests `json:"digests"`
	URL           string  `json:"url"`
	PythonVersion string  `json:"python_version"`
}

// Digests carries the content hashes published for a file.
type Digests struct {
	Sha256 string `json:"sha256"`
}

// PackageDocument is the per-package metadata document served by the
// registry, reduced to the fields the harvester consumes.
type PackageDocument struct {
	Info     PackageInfo              `json:"info"`
	Releases map[string][]ReleaseFile `json:"releases"`
}

// PackageInfo is the info block of a PackageDocument.
type PackageInfo struct {
	Name string `json:"name"`
}
