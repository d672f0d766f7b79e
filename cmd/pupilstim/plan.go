package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/pupilstim/internal/preview"
	"github.com/ivlev/pupilstim/internal/protocol"
)

var (
	outPath   string
	columns   int
	tileWidth int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Export the sequence plan to a YAML file",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render a PNG contact sheet with one tile per phase",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults [path]",
	Short: "Print the default config, or write it to path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDefaults,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := protocol.Build(cfg.Protocol)
	if err != nil {
		return err
	}

	path := outPath
	if path == "" {
		path = protocol.GeneratePlanPath(cfg.Runtime.PlanDir)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := protocol.WritePlan(plan, path); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}

	logger.Info("plan exported", zap.String("path", path), zap.String("fingerprint", plan.Fingerprint()))
	fmt.Fprintf(cmd.OutOrStdout(), "[+++] Plan %s (%d phases, %.1fs) written to %s\n",
		plan.Fingerprint(), plan.Len(), plan.TotalDuration().Seconds(), path)
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	plan, err := resolvePlan(out, cfg)
	if err != nil {
		return err
	}

	sheet, err := preview.Render(plan, cfg.Runtime.Canvas, preview.Options{
		Columns:   columns,
		TileWidth: tileWidth,
		Logger:    logger.Named("preview"),
	})
	if err != nil {
		return err
	}
	for _, t := range sheet.Missing() {
		fmt.Fprintf(out, "[!] Phase %d (%s) is not visible on a %dx%d canvas (projected to %v)\n",
			t.Phase, t.Label, cfg.Runtime.Canvas.Width, cfg.Runtime.Canvas.Height, t.Expected)
	}

	path := outPath
	if path == "" {
		path = filepath.Join(cfg.Runtime.OutputDir, fmt.Sprintf("preview_%s.png", plan.Fingerprint()))
	}
	if err := preview.WritePNG(sheet.Image, path); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	fmt.Fprintf(out, "[+++] Preview written to %s\n", path)
	return nil
}

func runDefaults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := cfg.Save(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[+++] Config written to %s\n", args[0])
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
