package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

// newBucketCmd creates the 'bucket' subcommand, which prints the normalised
// name and bucket key of each argument. It needs neither config nor stores.
func newBucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "bucket <name>...",
		Short:       "Print the bucket a package name is stored in",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationOffline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				name := crawler.NormalizeName(arg)
				if name == "" {
					return fmt.Errorf("empty package name %q", arg)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, store.BucketOf(name)); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
			return nil
		},
	}
}
