package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/neheller/DICOM-DeID/internal/config"
)

var (
	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively write a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Input directory").
						Placeholder("/data/studies").
						Value(&cfg.InputDir).
						Validate(required("input directory")),

					huh.NewInput().
						Title("Output directory").
						Placeholder("/data/deid").
						Value(&cfg.OutputDir).
						Validate(required("output directory")),

					huh.NewInput().
						Title("Accession roster CSV").
						Placeholder("roster.csv").
						Value(&cfg.RosterPath).
						Validate(required("roster path")),

					huh.NewInput().
						Title("Manifest output CSV").
						Placeholder("manifest.csv").
						Value(&cfg.ManifestPath).
						Validate(required("manifest path")),

					huh.NewSelect[string]().
						Title("Redaction mode").
						Options(
							huh.NewOption("Selective - keep orientation and laterality labels", config.RedactionSelective),
							huh.NewOption("Full - mask every detected text region", config.RedactionFull),
						).
						Value(&cfg.RedactionMode),

					huh.NewSelect[string]().
						Title("Log format").
						Options(
							huh.NewOption("console", "console"),
							huh.NewOption("json", "json"),
						).
						Value(&cfg.LogFormat),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			path := ctx.configPath()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
				doneStyle.Render("Configuration written to"),
				pathStyle.Render(path))
			return nil
		},
	}
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
