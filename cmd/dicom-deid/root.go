package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neheller/DICOM-DeID/internal/config"
	"github.com/neheller/DICOM-DeID/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultConfigPath is tried when --config is not given.
const defaultConfigPath = "de_id_config.yaml"

// commandContext carries the shared flag state and lazily loaded config.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// loadConfig reads the configuration once per invocation.
func (c *commandContext) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := strings.TrimSpace(*c.configFlag)
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// loadConfigOrDefault behaves like loadConfig but substitutes defaults when
// the config file does not exist, so batch-zip and upload run without one.
func (c *commandContext) loadConfigOrDefault() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if _, err := os.Stat(c.configPath()); errors.Is(err, fs.ErrNotExist) {
		c.cfg = config.Default()
		return c.cfg, nil
	}
	return c.loadConfig()
}

// configPath returns the path loadConfig will read.
func (c *commandContext) configPath() string {
	if path := strings.TrimSpace(*c.configFlag); path != "" {
		return path
	}
	return defaultConfigPath
}

// newLogger builds the run logger from config plus command-line overrides.
func (c *commandContext) newLogger(levelOverride, formatOverride string) (*slog.Logger, error) {
	cfg, err := c.loadConfigOrDefault()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if levelOverride != "" {
		level = levelOverride
	}
	format := cfg.LogFormat
	if formatOverride != "" {
		format = formatOverride
	}
	return logging.New(logging.Options{Level: level, Format: format})
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "dicom-deid",
		Short:         "De-identify DICOM studies and prepare them for transfer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newBatchZipCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "dicom-deid %s\n", version)
			return nil
		},
	}
}
