package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/devloop-dev/devloop/internal/build"
	"github.com/devloop-dev/devloop/internal/config"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the project once and exit",
	Long: `Build runs a single bundler invocation without watching or serving.
With --release the output is minified, sourcemaps are external, and the
live-reload client is not injected.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().Bool("release", false, "build with production settings")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if release, _ := cmd.Flags().GetBool("release"); release {
		cfg.Build.Release = true
	}
	// A one-shot build has no clients to notify.
	cfg.Build.HMR = false

	logger := newLogger(cfg)
	ctx := context.Background()

	bundler := build.NewExecBundler(cfg.Build.Command, ".")
	orchestrator := build.NewOrchestrator(cfg, bundler, "", nil, logger)

	if err := orchestrator.Trigger(ctx); err != nil {
		logger.Error(ctx, err, "build failed")
		os.Exit(1)
	}

	logger.Info(ctx, "build complete", "out_dir", cfg.Build.OutDir)
	return nil
}
