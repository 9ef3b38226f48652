package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
store:
  index_dir: /data/index
  deps_dir: /data/deps
  compression: zstd
registry:
  contact: ops@example.com
  timeout_seconds: 30
retry:
  policy: exponential
  metadata_delay: 1s
  artifact_delay: 2s
  max_delay: 1m
  max_attempts: 7
crawler:
  workers: 16
  skip: c
  shuffle_seed: 42
server:
  listen: ":9090"
mirror:
  kind: local
  local_dir: /mirror
pubsub:
  project_id: proj
  topic_name: buckets
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/data/index", cfg.Store.IndexDir)
	require.Equal(t, "zstd", cfg.Store.Compression)
	require.Equal(t, "ops@example.com", cfg.Registry.Contact)
	require.Equal(t, 30*time.Second, cfg.RegistryTimeout())
	require.Equal(t, "https://pypi.org/pypi", cfg.Registry.BaseURL)
	require.Equal(t, time.Second, cfg.Retry.MetadataDelay)
	require.Equal(t, 7, cfg.Retry.MaxAttempts)
	require.Equal(t, 16, cfg.Crawler.Workers)
	require.Equal(t, uint64(42), cfg.Crawler.ShuffleSeed)
	require.Equal(t, ":9090", cfg.Server.Listen)
	require.False(t, cfg.Logging.Development)

	require.Equal(t, []store.BucketKey{"c", "d", "e", "f"}, cfg.Buckets())

	metadata, artifact := cfg.RetryPolicies()
	require.IsType(t, &crawler.ExponentialRetryPolicy{}, metadata)
	require.IsType(t, &crawler.ExponentialRetryPolicy{}, artifact)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Crawler.Workers)
	require.Equal(t, PolicyFixed, cfg.Retry.Policy)
	require.Equal(t, crawler.DefaultMetadataRetryDelay, cfg.Retry.MetadataDelay)
	require.Equal(t, crawler.DefaultArtifactRetryDelay, cfg.Retry.ArtifactDelay)
	require.Equal(t, store.AllBucketKeys(), cfg.Buckets())
	require.Equal(t, 500*time.Millisecond, cfg.Progress.MaxBatchWait)

	metadata, artifact := cfg.RetryPolicies()
	require.Equal(t, crawler.DefaultMetadataRetryDelay, metadata.Backoff(10))
	require.Equal(t, crawler.DefaultArtifactRetryDelay, artifact.Backoff(10))

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	require.Len(t, opts, 1)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("EMAIL", "legacy@example.com")
	t.Setenv("WORKERS", "9")
	t.Setenv("pypi_fetcher", "/legacy/index")
	t.Setenv("dump_dir", "/legacy/deps")
	t.Setenv("HARVEST_CRAWLER_BUCKET", "A")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "legacy@example.com", cfg.Registry.Contact)
	require.Equal(t, 9, cfg.Crawler.Workers)
	require.Equal(t, "/legacy/index", cfg.Store.IndexDir)
	require.Equal(t, "/legacy/deps", cfg.Store.DepsDir)
	require.Equal(t, []store.BucketKey{"a"}, cfg.Buckets())

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	require.Len(t, opts, 2)
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("EMAIL", "legacy@example.com")
	t.Setenv("HARVEST_REGISTRY_CONTACT", "new@example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "new@example.com", cfg.Registry.Contact)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid workers", func(c *Config) { c.Crawler.Workers = 0 }, "crawler.workers"},
		{"invalid bucket", func(c *Config) { c.Crawler.Bucket = "g" }, "crawler.bucket"},
		{"invalid skip", func(c *Config) { c.Crawler.Skip = "10" }, "crawler.skip"},
		{"unknown compression", func(c *Config) { c.Store.Compression = "lz4" }, "compression"},
		{"unknown policy", func(c *Config) { c.Retry.Policy = "linear" }, "retry.policy"},
		{"zero delay", func(c *Config) { c.Retry.MetadataDelay = 0 }, "retry delays"},
		{"local mirror without dir", func(c *Config) { c.Mirror.Kind = MirrorLocal }, "mirror.local_dir"},
		{"gcs mirror without bucket", func(c *Config) { c.Mirror.Kind = MirrorGCS }, "mirror.gcs_bucket"},
		{"unknown mirror", func(c *Config) { c.Mirror.Kind = "s3" }, "mirror.kind"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"negative request rate", func(c *Config) { c.Registry.RequestsPerSecond = -1 }, "registry.requests_per_second"},
		{"missing store dirs", func(c *Config) { c.Store.IndexDir = "" }, "store.index_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "expected error containing %q, got %v", tt.want, err)
		})
	}
}
