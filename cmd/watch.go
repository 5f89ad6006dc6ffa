package cmd

import (
	"github.com/spf13/cobra"

	"pixelgardenlabs.io/pgl-mirror/pkg/lockfile"
	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

var noInitialSyncFlag bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror continuously until interrupted",
	Long: `Run an initial full reconciliation pass, then watch the source tree for
changes and mirror them live until the process receives an interrupt.
Creations, modifications, deletions and renames in the source are applied
to the destination as they happen.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&noInitialSyncFlag, "no-initial-sync", false, "skip the full reconciliation pass at startup")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	if err := runPreflight(cfg); err != nil {
		return err
	}

	if !dryRunFlag {
		lock, err := lockfile.Acquire(ctx, cfg.DestRoot)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	metrics := mirror.NewSyncMetrics()
	engine, err := newEngine(cfg, metrics)
	if err != nil {
		return err
	}

	// Watch first so changes during the initial pass are not lost; the
	// apply point serializes the two paths per destination path.
	if err := engine.StartWatching(ctx); err != nil {
		return err
	}

	if !noInitialSyncFlag {
		if _, err := engine.RunFullSync(ctx); err != nil {
			if stopErr := engine.StopWatching(); stopErr != nil {
				plog.Warn("Failed to stop watching", "error", stopErr)
			}
			return err
		}
	}

	<-ctx.Done()
	plog.Notice("Shutting down")

	if err := engine.StopWatching(); err != nil {
		return err
	}

	metrics.LogSummary("SUM")
	return nil
}
