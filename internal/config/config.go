// Package config loads and validates the de-identification run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Redaction modes accepted by the pixel redactor.
const (
	RedactionFull      = "Full"
	RedactionSelective = "Selective"
)

// Config is the YAML-backed run configuration.
type Config struct {
	// InputDir is the root of the identified study tree.
	InputDir string `yaml:"input_dir"`
	// OutputDir receives the de-identified tree.
	OutputDir string `yaml:"output_dir"`
	// RosterPath is the accession-to-subject CSV (accession_num,subject_id).
	RosterPath string `yaml:"roster_path"`
	// ManifestPath is where the audit manifest CSV is written at run end.
	ManifestPath string `yaml:"manifest_path"`
	// RedactionMode selects Full or Selective burned-in text masking.
	RedactionMode string `yaml:"redaction_mode"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	OCR    OCRConfig    `yaml:"ocr"`
	Batch  BatchConfig  `yaml:"batch"`
	Upload UploadConfig `yaml:"upload"`
}

// OCRConfig tunes the text-detection engine.
type OCRConfig struct {
	// Languages are trained-data hints passed to the engine (e.g. "eng").
	Languages []string `yaml:"languages"`
}

// BatchConfig tunes the batch-zip command.
type BatchConfig struct {
	// MaxBatchGB caps each archive's payload size.
	MaxBatchGB float64 `yaml:"max_batch_gb"`
	// CompressionLevel is the deflate level, 0 to 9.
	CompressionLevel int `yaml:"compression_level"`
}

// UploadConfig tunes the S3 upload command.
type UploadConfig struct {
	// Workers is the number of parallel uploads.
	Workers int `yaml:"workers"`
	// ACL optionally sets a canned ACL such as private or public-read.
	ACL string `yaml:"acl"`
	// StorageClass optionally sets a storage class such as STANDARD_IA.
	StorageClass string `yaml:"storage_class"`
}

// Default returns a configuration with defaults applied and no paths set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RedactionMode == "" {
		c.RedactionMode = RedactionSelective
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}
	if c.Batch.MaxBatchGB == 0 {
		c.Batch.MaxBatchGB = 10.0
	}
	if c.Batch.CompressionLevel == 0 {
		c.Batch.CompressionLevel = 6
	}
	if c.Upload.Workers == 0 {
		c.Upload.Workers = 8
	}

	c.InputDir = expandPath(c.InputDir)
	c.OutputDir = expandPath(c.OutputDir)
	c.RosterPath = expandPath(c.RosterPath)
	c.ManifestPath = expandPath(c.ManifestPath)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("config: input_dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir is required")
	}
	if c.RosterPath == "" {
		return fmt.Errorf("config: roster_path is required")
	}
	if c.ManifestPath == "" {
		return fmt.Errorf("config: manifest_path is required")
	}
	switch c.RedactionMode {
	case RedactionFull, RedactionSelective:
	default:
		return fmt.Errorf("config: redaction_mode must be %q or %q, got %q",
			RedactionFull, RedactionSelective, c.RedactionMode)
	}
	if c.Batch.CompressionLevel < 0 || c.Batch.CompressionLevel > 9 {
		return fmt.Errorf("config: batch.compression_level must be between 0 and 9")
	}
	if c.Upload.Workers < 1 {
		return fmt.Errorf("config: upload.workers must be at least 1")
	}
	return nil
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if trimmed == "~" {
				return home
			}
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}
