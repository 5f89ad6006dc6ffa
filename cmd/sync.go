package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"pixelgardenlabs.io/pgl-mirror/pkg/lockfile"
	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full reconciliation pass",
	Long: `Run one full reconciliation pass: traverse the source tree and copy every
included file whose destination is absent or older. The pass never deletes
destination entries and is safe to re-run at any time.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
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

	startTime := time.Now()
	result, err := engine.RunFullSync(ctx)
	if err != nil {
		return err
	}

	metrics.LogSummary("SUM")
	plog.Info("Sync finished",
		"files_copied", result.CopiedCount(),
		"failed", result.Failed,
		"duration", time.Since(startTime).Round(time.Millisecond),
	)
	return nil
}
