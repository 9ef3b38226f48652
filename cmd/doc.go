// Package cmd defines the CLI commands of the pypi-harvester executable.
//
// Architecture overview:
//   - Commands: index crawls package metadata into the index store, wheels
//     crawls wheel dependency metadata into the deps store, compress re-runs
//     deduplication over the deps store, and bucket prints the bucket a
//     package name maps to.
//   - Container: the root command's PersistentPreRunE loads configuration
//     (viper, HARVEST_* env and legacy aliases), builds the zap logger and an
//     app.App holding both stores, the registry client, the dispatcher, the
//     progress hub and the optional mirror, publisher and status server.
//     PersistentPostRun closes it.
//   - Buckets: every run walks the sixteen buckets in order (or one bucket
//     with --bucket, or from --skip on). Each bucket is fetched in parallel,
//     folded sequentially, saved atomically, mirrored and announced before
//     the next one starts.
//
// Operational notes:
//   - SIGINT/SIGTERM cancel the command context. The bucket in flight is not
//     saved and is redone on the next run; finished buckets stay on disk.
//   - Transient registry failures are retried forever with a fixed delay and
//     logged at WARN with the job; set HARVEST_RETRY_POLICY=exponential to
//     bound them.
//   - Several processes can share one store by each taking a --bucket.
package cmd
