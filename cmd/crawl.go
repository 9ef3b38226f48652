package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newIndexCmd creates the 'index' subcommand, which lists the registry and
// stores the shaped metadata of every package.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Crawl package metadata into the index store",
		Long: `Lists every package on the registry and fetches its JSON metadata,
keeping the preferred sdist and all wheels of each release. Packages are
processed bucket by bucket; each bucket is saved before the next starts.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationCrawl: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Pipeline.CrawlIndex(cmd.Context()); err != nil {
				return err
			}
			appInstance.Logger.Info("index crawl finished")
			return nil
		},
	}
}

// newWheelsCmd creates the 'wheels' subcommand, which fetches dependency
// metadata for every wheel in the index store without a stored result.
func newWheelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wheels",
		Short: "Crawl wheel dependency metadata into the deps store",
		Long: `Downloads every wheel listed in the index store that has no entry in the
deps store yet and extracts Requires-Dist, Provides-Extra and
Requires-External from its METADATA file. Identical documents within a
package and python tag are stored once and referenced.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationCrawl: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Pipeline.CrawlWheels(cmd.Context()); err != nil {
				return err
			}
			appInstance.Logger.Info("wheel crawl finished")
			return nil
		},
	}
}

// newCompressCmd creates the 'compress' maintenance subcommand.
func newCompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compress",
		Short: "Re-run deduplication over the deps store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Pipeline.CompressAll(cmd.Context()); err != nil {
				return err
			}
			appInstance.Logger.Info("compression finished", zap.Int("buckets", len(appInstance.Config.Buckets())))
			return nil
		},
	}
}
