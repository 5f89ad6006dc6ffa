// Package cmd provides the root command and CLI setup for pgl-mirror.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"pixelgardenlabs.io/pgl-mirror/pkg/buildinfo"
	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/preflight"
	"pixelgardenlabs.io/pgl-mirror/pkg/watch"
)

// Root-level flags shared by the mirroring commands.
var (
	configFlag   string
	logLevelFlag string
	logFileFlag  string
	quietFlag    bool
	dryRunFlag   bool
	workersFlag  int
	failFastFlag bool
)

const rootLongDescription = `pgl-mirror keeps a destination directory tree consistent with a source
tree. It supports one-shot full reconciliation passes (sync) and continuous,
event-driven mirroring (watch), with declarative exclusion rules for folder
names, file names and file extensions.

A full pass is additive: it creates directories and copies files whose
source is newer than or absent from the destination, and never deletes.
Deletions in the source are only mirrored by the live watcher.`

var rootCmd = &cobra.Command{
	Use:           "pgl-mirror",
	Short:         "Directory mirroring with live filesystem watching",
	Long:          rootLongDescription,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", config.DefaultConfigFileName, "path to the JSON configuration file")
	pf.StringVar(&logLevelFlag, "log-level", "", "override the logging level: 'debug', 'notice', 'info', 'warn' or 'error'")
	pf.StringVar(&logFileFlag, "log-file", "", "additionally write logs to this rotating file")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "suppress per-file operation logging")
	pf.BoolVar(&dryRunFlag, "dry-run", false, "show what would be done without making any changes")
	pf.IntVar(&workersFlag, "workers", 1, "number of concurrent apply workers for reconciliation passes")
	pf.BoolVar(&failFastFlag, "fail-fast", false, "abort a reconciliation pass on the first copy error")
}

// ExecuteContext runs the root command under the given context. It is
// called by main.main().
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		plog.Error(buildinfo.Name+" failed", "error", err)
		os.Exit(1)
	}
}

// loadRunConfig loads and validates the configuration file, applying
// flag overrides, and configures logging from the result.
func loadRunConfig() (config.SyncConfig, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return config.SyncConfig{}, err
	}

	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}

	if err := cfg.Validate(); err != nil {
		return config.SyncConfig{}, err
	}

	plog.SetQuiet(quietFlag)
	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	if cfg.LogFile != "" {
		plog.SetFile(cfg.LogFile)
	}

	cfg.LogSummary()
	return cfg, nil
}

// runPreflight verifies that both roots are real, accessible locations
// before any pass touches them.
func runPreflight(cfg config.SyncConfig) error {
	if err := preflight.CheckSourceAccessible(cfg.SourceRoot); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if err := preflight.CheckDestinationAccessible(cfg.DestRoot); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if dryRunFlag {
		return nil
	}
	if err := preflight.CheckDestinationWritable(cfg.DestRoot); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	return nil
}

// newEngine wires a sync engine over the real filesystem, with an fsnotify
// notification source that skips excluded folders.
func newEngine(cfg config.SyncConfig, metrics mirror.Metrics) (*mirror.SyncEngine, error) {
	policy := mirror.NewExclusionPolicy(cfg)
	notify := func(root string) (mirror.Notifier, error) {
		w, err := watch.New(root, watch.WithSkipDir(policy.PrunesDirectory))
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	return mirror.New(cfg, afero.NewOsFs(), notify,
		mirror.WithMetrics(metrics),
		mirror.WithWorkers(workersFlag),
		mirror.WithDryRun(dryRunFlag),
		mirror.WithFailFast(failFastFlag),
	)
}
