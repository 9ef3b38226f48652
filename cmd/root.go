package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/app"
	"github.com/JakeFAU/pypi-harvester/internal/config"
	"github.com/JakeFAU/pypi-harvester/internal/logging"
)

// Command annotations read by the root hooks.
const (
	annotationCrawl   = "harvest/crawl"
	annotationOffline = "harvest/offline"
)

const closeTimeout = 30 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject a
// Prometheus registry per invocation.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts)
}

type rootFlags struct {
	configFile string
	bucket     string
	skip       string
	workers    int
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "pypi-harvester",
		Short: "Harvests package and wheel dependency metadata from a Python package index.",
		Long: `pypi-harvester mirrors the metadata of every package on a Python package
index into two bucketed JSON stores: the index store (sdist and wheels per
release) and the deps store (Requires-Dist and friends per wheel).`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationOffline] == "true" {
				return nil
			}
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger.Named(cmd.Name()), app.Options{
				Crawl: cmd.Annotations[annotationCrawl] == "true",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := appInstance.Close(ctx); err != nil {
				appInstance.Logger.Warn("error shutting down services", zap.Error(err))
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (YAML, TOML or JSON)")
	pf.StringVar(&flags.bucket, "bucket", "", "restrict the run to one bucket (0-f)")
	pf.StringVar(&flags.skip, "skip", "", "start at this bucket (0-f) and continue to f")
	pf.IntVar(&flags.workers, "workers", 0, "number of parallel fetch workers")

	cmd.AddCommand(newIndexCmd(), newWheelsCmd(), newCompressCmd(), newBucketCmd())
	return cmd
}

// loadConfig reads configuration and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, err
	}
	pf := cmd.Flags()
	if pf.Changed("bucket") {
		cfg.Crawler.Bucket = flags.bucket
	}
	if pf.Changed("skip") {
		cfg.Crawler.Skip = flags.skip
	}
	if pf.Changed("workers") {
		cfg.Crawler.Workers = flags.workers
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, logErr := logging.New(false, "")
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		os.Exit(1)
	}
	logger.Fatal("command execution failed", zap.Error(err))
}
