package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neheller/DICOM-DeID/internal/deid"
	"github.com/neheller/DICOM-DeID/internal/ocr/tesseract"
	"github.com/neheller/DICOM-DeID/internal/pixel"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		inputDir     string
		outputDir    string
		rosterPath   string
		manifestPath string
		mode         string
		logLevel     string
		logFormat    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "De-identify every DICOM file under the input directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfigOrDefault()
			if err != nil {
				return err
			}
			if inputDir != "" {
				cfg.InputDir = inputDir
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if rosterPath != "" {
				cfg.RosterPath = rosterPath
			}
			if manifestPath != "" {
				cfg.ManifestPath = manifestPath
			}
			if mode != "" {
				cfg.RedactionMode = mode
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := ctx.newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			stats, err := deid.Run(runCtx, deid.RunOptions{
				InputRoot:    cfg.InputDir,
				OutputRoot:   cfg.OutputDir,
				RosterPath:   cfg.RosterPath,
				ManifestPath: cfg.ManifestPath,
				Mode:         pixel.Mode(cfg.RedactionMode),
				Languages:    cfg.OCR.Languages,
			}, tesseract.New(), logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Outcome", "Files"},
				[][]string{
					{"Processed", strconv.Itoa(stats.Processed)},
					{"Skipped", strconv.Itoa(stats.Skipped)},
					{"Failed", strconv.Itoa(stats.Failed)},
				},
				1,
			))
			fmt.Fprintf(cmd.OutOrStdout(), "Manifest: %s\n", cfg.ManifestPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input", "", "Input directory (overrides config)")
	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory (overrides config)")
	cmd.Flags().StringVar(&rosterPath, "roster", "", "Accession roster CSV (overrides config)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest output path (overrides config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Redaction mode: Full or Selective (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	return cmd
}
