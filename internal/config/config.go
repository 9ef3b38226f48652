// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Progress ProgressConfig `mapstructure:"progress"`
	Server   ServerConfig   `mapstructure:"server"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StoreConfig locates the two bucketed stores.
type StoreConfig struct {
	IndexDir    string `mapstructure:"index_dir"`
	DepsDir     string `mapstructure:"deps_dir"`
	Compression string `mapstructure:"compression"`
}

// RegistryConfig points the client at the package index.
type RegistryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	IndexURL       string `mapstructure:"index_url"`
	FilesURL       string `mapstructure:"files_url"`
	Contact        string `mapstructure:"contact"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	TempDir        string `mapstructure:"temp_dir"`
	// RequestsPerSecond caps requests per host. Zero disables the cap.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RetryConfig selects the retry policy for registry requests.
type RetryConfig struct {
	Policy        string        `mapstructure:"policy"`
	MetadataDelay time.Duration `mapstructure:"metadata_delay"`
	ArtifactDelay time.Duration `mapstructure:"artifact_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// CrawlerConfig governs bucket selection and parallelism.
type CrawlerConfig struct {
	Workers     int    `mapstructure:"workers"`
	Bucket      string `mapstructure:"bucket"`
	Skip        string `mapstructure:"skip"`
	ShuffleSeed uint64 `mapstructure:"shuffle_seed"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// MirrorConfig selects where saved bucket files are copied.
type MirrorConfig struct {
	Kind      string `mapstructure:"kind"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for bucket-saved notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level"`
}

// Retry policy names.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// Mirror kinds.
const (
	MirrorNone  = "none"
	MirrorLocal = "local"
	MirrorGCS   = "gcs"
)

// legacyEnv maps keys to the bare environment variables older deployments
// of the harvester were driven by.
var legacyEnv = map[string]string{
	"registry.contact": "EMAIL",
	"crawler.workers":  "WORKERS",
	"crawler.skip":     "skip",
	"store.index_dir":  "pypi_fetcher",
	"store.deps_dir":   "dump_dir",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := "HARVEST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.index_dir", "index")
	v.SetDefault("store.deps_dir", "deps")
	v.SetDefault("store.compression", "none")
	v.SetDefault("registry.base_url", "https://pypi.org/pypi")
	v.SetDefault("registry.index_url", "https://pypi.org/simple/")
	v.SetDefault("registry.files_url", "https://files.pythonhosted.org/packages")
	v.SetDefault("registry.contact", "")
	v.SetDefault("registry.timeout_seconds", 0)
	v.SetDefault("registry.temp_dir", "")
	v.SetDefault("registry.requests_per_second", 0)
	v.SetDefault("registry.burst", 1)
	v.SetDefault("retry.policy", PolicyFixed)
	v.SetDefault("retry.metadata_delay", crawler.DefaultMetadataRetryDelay)
	v.SetDefault("retry.artifact_delay", crawler.DefaultArtifactRetryDelay)
	v.SetDefault("retry.max_delay", 5*time.Minute)
	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.bucket", "")
	v.SetDefault("crawler.skip", "")
	v.SetDefault("crawler.shuffle_seed", 0)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("server.listen", "")
	v.SetDefault("mirror.kind", MirrorNone)
	v.SetDefault("mirror.prefix", "buckets")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Store.IndexDir == "" || c.Store.DepsDir == "" {
		errs = append(errs, errors.New("store.index_dir and store.deps_dir must be set"))
	}
	if _, err := store.CodecFor(c.Store.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.Bucket != "" {
		if _, err := store.ParseBucketKey(c.Crawler.Bucket); err != nil {
			errs = append(errs, fmt.Errorf("crawler.bucket: %w", err))
		}
	}
	if c.Crawler.Skip != "" {
		if _, err := store.ParseBucketKey(c.Crawler.Skip); err != nil {
			errs = append(errs, fmt.Errorf("crawler.skip: %w", err))
		}
	}
	if c.Registry.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("registry.timeout_seconds must be >= 0"))
	}
	if c.Registry.RequestsPerSecond < 0 || c.Registry.Burst < 0 {
		errs = append(errs, errors.New("registry.requests_per_second and registry.burst must be >= 0"))
	}
	switch c.Retry.Policy {
	case PolicyFixed, PolicyExponential:
	default:
		errs = append(errs, fmt.Errorf("retry.policy %q must be %q or %q", c.Retry.Policy, PolicyFixed, PolicyExponential))
	}
	if c.Retry.MetadataDelay <= 0 || c.Retry.ArtifactDelay <= 0 {
		errs = append(errs, errors.New("retry delays must be > 0"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 0"))
	}
	switch c.Mirror.Kind {
	case "", MirrorNone:
	case MirrorLocal:
		if c.Mirror.LocalDir == "" {
			errs = append(errs, errors.New("mirror.local_dir must be set for the local mirror"))
		}
	case MirrorGCS:
		if c.Mirror.GCSBucket == "" {
			errs = append(errs, errors.New("mirror.gcs_bucket must be set for the gcs mirror"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mirror.kind %q", c.Mirror.Kind))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is"))
	}
	return errors.Join(errs...)
}

// RetryPolicies builds the metadata and artifact retry policies.
func (c Config) RetryPolicies() (metadata, artifact crawler.RetryPolicy) {
	if c.Retry.Policy == PolicyExponential {
		return crawler.NewExponentialRetryPolicy(c.Retry.MetadataDelay, c.Retry.MaxDelay, c.Retry.MaxAttempts),
			crawler.NewExponentialRetryPolicy(c.Retry.ArtifactDelay, c.Retry.MaxDelay, c.Retry.MaxAttempts)
	}
	return crawler.NewFixedRetryPolicy(c.Retry.MetadataDelay), crawler.NewFixedRetryPolicy(c.Retry.ArtifactDelay)
}

// RegistryTimeout converts the per-request timeout.
func (c Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}

// Buckets returns the buckets a run processes: the restricted bucket alone,
// or every bucket from the skip bucket on.
func (c Config) Buckets() []store.BucketKey {
	if c.Crawler.Bucket != "" {
		key, err := store.ParseBucketKey(c.Crawler.Bucket)
		if err != nil {
			return nil
		}
		return []store.BucketKey{key}
	}
	if c.Crawler.Skip != "" {
		key, err := store.ParseBucketKey(c.Crawler.Skip)
		if err != nil {
			return nil
		}
		return store.KeysFrom(key)
	}
	return store.AllBucketKeys()
}

// StoreOptions returns the options shared by both stores.
func (c Config) StoreOptions() ([]store.Option, error) {
	codec, err := store.CodecFor(c.Store.Compression)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{store.WithCodec(codec)}
	if c.Crawler.Bucket != "" {
		key, err := store.ParseBucketKey(c.Crawler.Bucket)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithBucket(key))
	}
	return opts, nil
}
