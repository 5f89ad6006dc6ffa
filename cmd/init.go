package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
)

var (
	initSrcFlag  string
	initDestFlag string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a configuration file",
	Long: `Generate a configuration file at the --config path. When --src and --dest
are given they are written into the file; otherwise edit the generated file
before running sync or watch.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initSrcFlag, "src", "", "source directory to mirror from")
	initCmd.Flags().StringVar(&initDestFlag, "dest", "", "destination directory to mirror into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := config.NewDefault()
	cfg.SourceRoot = initSrcFlag
	cfg.DestRoot = initDestFlag

	if cfg.SourceRoot != "" && cfg.DestRoot != "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if err := config.Generate(configFlag, cfg); err != nil {
		return err
	}

	if cfg.SourceRoot == "" || cfg.DestRoot == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Edit %s and set backup-src and backup-dest before running sync or watch.\n", configFlag)
	}
	return nil
}
