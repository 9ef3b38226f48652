package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/metrics"
)

// Default registry endpoints.
const (
	DefaultBaseURL  = "https://pypi.org/pypi"
	DefaultIndexURL = "https://pypi.org/simple/"
	DefaultFilesURL = "https://files.pythonhosted.org/packages"
)

const simpleJSONMediaType = "application/vnd.pypi.simple.v1+json"

// ErrMissingContact is returned when no operator contact is configured. The
// registry asks bulk clients to identify themselves.
var ErrMissingContact = errors.New("registry contact address is required")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Config holds everything a Client needs. There is no package level state.
type Config struct {
	BaseURL  string
	IndexURL string
	FilesURL string
	// Contact is embedded in the User-Agent header.
	Contact string
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration
	// TempDir receives downloaded artifacts. Empty uses os.TempDir.
	TempDir string

	MetadataRetry crawler.RetryPolicy
	ArtifactRetry crawler.RetryPolicy

	// Limiter, when set, is waited on before every request attempt.
	Limiter Limiter
}

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// Client is a crawler.Registry over HTTP.
type Client struct {
	cfg       Config
	userAgent string
	http      *http.Client
	clock     crawler.Clock
	logger    *zap.Logger
}

var _ crawler.Registry = (*Client)(nil)

// New builds a Client. Missing endpoints and policies fall back to the
// public index and fixed-delay retries.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Contact) == "" {
		return nil, ErrMissingContact
	}
	if clock == nil {
		return nil, errors.New("registry: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.FilesURL == "" {
		cfg.FilesURL = DefaultFilesURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.FilesURL = strings.TrimSuffix(cfg.FilesURL, "/")
	if cfg.MetadataRetry == nil {
		cfg.MetadataRetry = crawler.NewFixedRetryPolicy(crawler.DefaultMetadataRetryDelay)
	}
	if cfg.ArtifactRetry == nil {
		cfg.ArtifactRetry = crawler.NewFixedRetryPolicy(crawler.DefaultArtifactRetryDelay)
	}
	return &Client{
		cfg:       cfg,
		userAgent: fmt.Sprintf("pypi-harvester (Contact: %s)", strings.TrimSpace(cfg.Contact)),
		http:      &http.Client{Timeout: cfg.Timeout, Transport: newHTTPTransport()},
		clock:     clock,
		logger:    logger,
	}, nil
}

// FilesURL returns the artifact host prefix, used to shorten stored URLs.
func (c *Client) FilesURL() string { return c.cfg.FilesURL }

// UserAgent returns the identification header sent with every request.
func (c *Client) UserAgent() string { return c.userAgent }

type simpleIndex struct {
	Projects []struct {
		Name       string `json:"name"`
		LastSerial int64  `json:"_last-serial"`
	} `json:"projects"`
}

// ListPackages enumerates every project on the index.
func (c *Client) ListPackages(ctx context.Context) ([]crawler.ListedPackage, error) {
	var index simpleIndex
	err := c.retry(ctx, "list", c.cfg.IndexURL, c.cfg.MetadataRetry, func(ctx context.Context) error {
		return c.getJSON(ctx, "list", c.cfg.IndexURL, simpleJSONMediaType, &index)
	})
	if err != nil {
		return nil, err
	}
	out := make([]crawler.ListedPackage, 0, len(index.Projects))
	for _, p := range index.Projects {
		if p.Name == "" {
			continue
		}
		out = append(out, crawler.ListedPackage{Name: p.Name, Serial: p.LastSerial})
	}
	return out, nil
}

// FetchPackage downloads the JSON document of one package.
func (c *Client) FetchPackage(ctx context.Context, name string) (crawler.PackageDocument, error) {
	target := c.cfg.BaseURL + "/" + url.PathEscape(name) + "/json"
	var doc crawler.PackageDocument
	err := c.retry(ctx, "package", target, c.cfg.MetadataRetry, func(ctx context.Context) error {
		doc = crawler.PackageDocument{}
		return c.getJSON(ctx, "package", target, "application/json", &doc)
	})
	if err != nil {
		return crawler.PackageDocument{}, err
	}
	return doc, nil
}

// ArtifactURL builds the download URL of a wheel on the files host.
func (c *Client) ArtifactURL(name, pyver, filename string) string {
	first := ""
	if name != "" {
		first = name[:1]
	}
	return strings.Join([]string{c.cfg.FilesURL, pyver, first, name, filename}, "/")
}

// FetchArtifact downloads rawURL into a temporary file and hands it to fn.
// The file is removed on every exit path. Errors from fn are returned as is
// and never retried.
func (c *Client) FetchArtifact(ctx context.Context, rawURL string, fn func(r io.ReaderAt, size int64) error) error {
	f, err := os.CreateTemp(c.cfg.TempDir, "artifact-*")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	var size int64
	err = c.retry(ctx, "artifact", rawURL, c.cfg.ArtifactRetry, func(ctx context.Context) error {
		n, err := c.download(ctx, rawURL, f)
		size = n
		return err
	})
	if err != nil {
		return err
	}
	metrics.ObserveArtifactBytes(size)
	return fn(f, size)
}

// FetchWheelMetadata downloads a wheel and extracts its dependency metadata.
func (c *Client) FetchWheelMetadata(ctx context.Context, rawURL string) (crawler.WheelMetadata, error) {
	var m crawler.WheelMetadata
	err := c.FetchArtifact(ctx, rawURL, func(r io.ReaderAt, size int64) error {
		var err error
		m, err = ExtractWheelMetadata(r, size)
		return err
	})
	return m, err
}

func (c *Client) retry(
	ctx context.Context,
	endpoint, target string,
	policy crawler.RetryPolicy,
	fn func(ctx context.Context) error,
) error {
	observer := RetryObserverFrom(ctx)
	notify := func(attempt int, err error, delay time.Duration) {
		metrics.ObserveRetry(endpoint)
		if observer != nil {
			observer(attempt, err, delay)
		}
		c.logger.Debug("registry request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	_, err := crawler.Retry(ctx, policy, c.clock, notify, fn)
	return err
}

type retryObserverKey struct{}

// WithRetryObserver returns a context whose registry calls report every
// retried attempt to fn. Workers use it to count attempts per job.
func WithRetryObserver(ctx context.Context, fn crawler.RetryNotifier) context.Context {
	return context.WithValue(ctx, retryObserverKey{}, fn)
}

// RetryObserverFrom returns the observer installed by WithRetryObserver, or
// nil.
func RetryObserverFrom(ctx context.Context) crawler.RetryNotifier {
	fn, _ := ctx.Value(retryObserverKey{}).(crawler.RetryNotifier)
	return fn
}

func (c *Client) newRequest(ctx context.Context, target, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", target, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req, nil
}

// do issues a GET and maps the status code. A 404 becomes ErrNotFound.
func (c *Client) do(ctx context.Context, endpoint, target, accept string) (*http.Response, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, target); err != nil {
			return nil, err
		}
	}
	req, err := c.newRequest(ctx, target, accept)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRegistryRequest(endpoint, "error", time.Since(start))
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	metrics.ObserveRegistryRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if resp.StatusCode == http.StatusNotFound {
		drain(resp)
		return nil, fmt.Errorf("GET %s: %w", target, crawler.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, target, accept string, v any) error {
	resp, err := c.do(ctx, endpoint, target, accept)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, target string, f *os.File) (int64, error) {
	if err := f.Truncate(0); err != nil {
		return 0, fmt.Errorf("reset artifact temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("reset artifact temp file: %w", err)
	}
	resp, err := c.do(ctx, "artifact", target, "")
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", target, err)
	}
	return n, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
