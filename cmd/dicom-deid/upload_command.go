package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neheller/DICOM-DeID/internal/upload"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var (
		workers      int
		acl          string
		storageClass string
		dryRun       bool
		logLevel     string
		logFormat    string
	)

	cmd := &cobra.Command{
		Use:   "upload LOCAL_DIR S3_URI",
		Short: "Upload a directory tree to an S3 prefix",
		Long: `Upload every file under LOCAL_DIR to S3_URI (s3://bucket/prefix),
preserving each file's relative path below the local root. Credentials come
from the standard AWS environment and profile chain.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfigOrDefault()
			if err != nil {
				return err
			}
			opts := upload.Options{
				Workers:      cfg.Upload.Workers,
				ACL:          cfg.Upload.ACL,
				StorageClass: cfg.Upload.StorageClass,
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}
			if cmd.Flags().Changed("acl") {
				opts.ACL = acl
			}
			if cmd.Flags().Changed("storage-class") {
				opts.StorageClass = storageClass
			}

			target, err := upload.ParseURI(args[1])
			if err != nil {
				return err
			}
			files, total, err := upload.ListFiles(args[0], target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d files, %s, destination %s\n",
				len(files), humanize.IBytes(uint64(total)), target)

			if dryRun {
				rows := make([][]string, 0, len(files))
				for _, f := range files {
					rows = append(rows, []string{
						f.Path,
						"s3://" + target.Bucket + "/" + f.Key,
						humanize.IBytes(uint64(f.Size)),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Local", "Destination", "Size"}, rows, 2))
				fmt.Fprintln(out, "Dry run, nothing uploaded")
				return nil
			}

			logger, err := ctx.newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			uploader, err := upload.New(runCtx, target, opts, logger)
			if err != nil {
				return err
			}
			uploaded, failures := uploader.Upload(runCtx, files)
			fmt.Fprintf(out, "Uploaded %d of %d files\n", uploaded, len(files))
			if len(failures) > 0 {
				rows := make([][]string, 0, len(failures))
				for _, r := range failures {
					rows = append(rows, []string{r.Key, r.Err.Error()})
				}
				fmt.Fprintln(out, renderTable([]string{"Key", "Error"}, rows))
				return fmt.Errorf("%d of %d uploads failed", len(failures), len(files))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 8, "Parallel upload workers")
	cmd.Flags().StringVar(&acl, "acl", "", "Canned ACL applied to each object (e.g. private)")
	cmd.Flags().StringVar(&storageClass, "storage-class", "", "Storage class applied to each object (e.g. STANDARD_IA)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List planned uploads without sending anything")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	return cmd
}
