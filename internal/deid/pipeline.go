package deid

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neheller/DICOM-DeID/internal/logging"
	"github.com/neheller/DICOM-DeID/internal/ocr"
	"github.com/neheller/DICOM-DeID/internal/pixel"
)

// RunOptions are the resolved inputs of one de-identification run. The
// caller translates its configuration surface into this struct; nothing
// here knows about config files.
type RunOptions struct {
	InputRoot    string
	OutputRoot   string
	RosterPath   string
	ManifestPath string
	Mode         pixel.Mode
	Languages    []string
}

// Stats summarize a completed run. Every regular file under the input root
// lands in exactly one bucket.
type Stats struct {
	Processed int
	Skipped   int
	Failed    int
}

// Run walks the input tree in lexical order and de-identifies every file
// it can. Only a roster that fails to load or an unusable input root aborts
// the run; per-file trouble is logged and skipped. The manifest is written
// once, after traversal completes, and rows exist only for files that
// produced output.
func Run(ctx context.Context, opts RunOptions, engine ocr.Engine, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logging.ForComponent(logger, "pipeline")

	roster, err := LoadRoster(opts.RosterPath)
	if err != nil {
		return Stats{}, fmt.Errorf("load roster: %w", err)
	}
	rootInfo, err := os.Stat(opts.InputRoot)
	if err != nil {
		return Stats{}, fmt.Errorf("input root: %w", err)
	}
	if !rootInfo.IsDir() {
		return Stats{}, fmt.Errorf("input root %s is not a directory", opts.InputRoot)
	}

	identity := NewIdentityMapper(roster, nil)
	redactor := pixel.NewRedactor(engine, opts.Mode, opts.Languages, logger)
	manifest := NewManifestRecorder()
	transformer := NewTransformer(opts.InputRoot, opts.OutputRoot, identity, redactor, manifest, logger)

	log.Info("starting run",
		slog.String("input", opts.InputRoot),
		slog.String("output", opts.OutputRoot),
		slog.String("mode", string(opts.Mode)),
		slog.Int("roster_entries", len(roster)))

	var stats Stats
	walkErr := filepath.WalkDir(opts.InputRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("cannot read entry", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := transformer.TransformFile(ctx, path); err != nil {
			if errors.Is(err, ErrNotDICOM) || errors.Is(err, ErrUnknownAccession) || errors.Is(err, ErrPixelDecode) {
				stats.Skipped++
				log.Warn("skipping file", slog.String("path", path), slog.Any("reason", err))
			} else {
				stats.Failed++
				log.Error("file failed", slog.String("path", path), slog.Any("error", err))
			}
			return nil
		}
		stats.Processed++
		return nil
	})
	if walkErr != nil {
		return stats, walkErr
	}

	if err := manifest.WriteCSV(opts.ManifestPath); err != nil {
		return stats, fmt.Errorf("write manifest: %w", err)
	}

	log.Info("run complete",
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.String("manifest", opts.ManifestPath))
	return stats, nil
}
