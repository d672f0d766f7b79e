package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ivlev/pupilstim/internal/config"
)

var (
	verbose    bool
	configPath string
	screen     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pupilstim",
	Short: "Timed light stimulation with pupil recording",
	Long: `pupilstim presents chromatic and long-duration light stimuli at fixed
visual-field locations, keeps them anchored to the viewer while visible and
publishes time-stamped event markers next to a continuous pupil diameter
stream.

Without --config the built-in world-space protocol is used; --screen selects
the screen-space variant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Session config (YAML); missing keys fall back to the defaults")
	rootCmd.PersistentFlags().BoolVar(&screen, "screen", false, "Use the screen-space default protocol when no --config is given")

	runCmd.Flags().StringVar(&planPath, "plan", "", `Exported plan to execute, or "latest" for the newest one in plan_dir`)
	runCmd.Flags().Float64Var(&timeScale, "time-scale", 0, "Override runtime.time_scale (>1 compresses nominal time)")
	runCmd.Flags().StringVarP(&outDir, "out", "o", "", "Override runtime.output_dir")

	planCmd.Flags().StringVarP(&outPath, "out", "o", "", "Plan file (default: <plan_dir>/plan_<timestamp>.yaml)")

	previewCmd.Flags().StringVar(&planPath, "plan", "", `Exported plan to render, or "latest"`)
	previewCmd.Flags().StringVarP(&outPath, "out", "o", "", "PNG file (default: <output_dir>/preview_<fingerprint>.png)")
	previewCmd.Flags().IntVar(&columns, "columns", 4, "Tiles per row")
	previewCmd.Flags().IntVar(&tileWidth, "tile-width", 240, "Tile width in pixels")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(defaultsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[-] %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the --config file on top of the defaults, or the
// built-in protocol selected by --screen.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if screen {
		return config.ScreenDefault(), nil
	}
	return config.Default(), nil
}
