package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neheller/DICOM-DeID/internal/batch"
)

func newBatchZipCommand(ctx *commandContext) *cobra.Command {
	var (
		batchSizeGB      float64
		compressionLevel int
		dryRun           bool
		logLevel         string
		logFormat        string
	)

	cmd := &cobra.Command{
		Use:   "batch-zip SOURCE DEST",
		Short: "Pack a directory's children into size-capped zip archives",
		Long: `Pack the immediate children of SOURCE into zip archives under DEST,
keeping each archive's payload below the batch size. Children larger than
the batch size get an archive of their own.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfigOrDefault()
			if err != nil {
				return err
			}
			sizeGB := cfg.Batch.MaxBatchGB
			if cmd.Flags().Changed("batch-size-gb") {
				sizeGB = batchSizeGB
			}
			level := cfg.Batch.CompressionLevel
			if cmd.Flags().Changed("compression-level") {
				level = compressionLevel
			}
			if sizeGB <= 0 {
				return fmt.Errorf("batch size must be positive, got %v", sizeGB)
			}
			capacity := int64(sizeGB * float64(1<<30))

			logger, err := ctx.newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}

			packer, err := batch.NewPacker(args[0], args[1], capacity, level, logger)
			if err != nil {
				return err
			}
			plan, err := packer.Plan()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(plan.Batches))
			for i, b := range plan.Batches {
				names := make([]string, 0, len(b.Items))
				for _, item := range b.Items {
					names = append(names, item.Name)
				}
				note := ""
				if b.Oversize(plan.Capacity) {
					note = "exceeds batch size"
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					strconv.Itoa(len(b.Items)),
					humanize.IBytes(uint64(b.Size())),
					strings.Join(names, ", "),
					note,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Batch", "Items", "Payload", "Children", "Note"},
				rows, 0, 1, 2,
			))
			fmt.Fprintf(out, "Total payload %s in %d batches, capacity %s each\n",
				humanize.IBytes(uint64(plan.Total)),
				len(plan.Batches),
				humanize.IBytes(uint64(plan.Capacity)))

			if dryRun {
				fmt.Fprintln(out, "Dry run, no archives written")
				return nil
			}

			archives, err := packer.Execute(plan)
			if err != nil {
				return err
			}
			written := make([][]string, 0, len(archives))
			for _, a := range archives {
				written = append(written, []string{
					a.Path,
					strconv.Itoa(a.Items),
					humanize.IBytes(uint64(a.Payload)),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Archive", "Items", "Payload"}, written, 1, 2))
			return nil
		},
	}

	cmd.Flags().Float64Var(&batchSizeGB, "batch-size-gb", 10.0, "Maximum payload per archive in GiB")
	cmd.Flags().IntVar(&compressionLevel, "compression-level", 6, "Deflate level, 0 to 9")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without writing archives")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	return cmd
}
