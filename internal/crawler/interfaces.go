package crawler

import (
	"context"
	"io"
	"time"
)

// Registry is the remote package index.
type Registry interface {
	ListPackages(ctx context.Context) ([]ListedPackage, error)
	FetchPackage(ctx context.Context, name string) (PackageDocument, error)
	FetchWheelMetadata(ctx context.Context, url string) (WheelMetadata, error)
	ArtifactURL(name, pyver, filename string) string
}

// Processor executes one job to a terminal result. Implementations must
// never let a job-scoped error escape as a panic or abort.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// RetryPolicy decides whether and when a failed attempt is repeated.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// BlobStore writes saved bucket files to a mirror and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes bucket-saved notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests of saved bucket files.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps; tests substitute it to count
// retry delays without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
