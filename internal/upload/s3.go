// Package upload copies a local tree into an S3 prefix, preserving every
// file's relative path below the root.
package upload

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/neheller/DICOM-DeID/internal/logging"
)

// Target is a parsed s3://bucket/prefix destination.
type Target struct {
	Bucket string
	Prefix string
}

// String renders the target back as an S3 URI.
func (t Target) String() string {
	return "s3://" + t.Bucket + "/" + t.Prefix
}

// ParseURI splits an s3://bucket/prefix URI. The prefix keeps a trailing
// slash if one was given and never starts with one.
func ParseURI(uri string) (Target, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Target{}, fmt.Errorf("S3 path must start with s3://, got %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Target{}, fmt.Errorf("S3 path %q has no bucket", uri)
	}
	return Target{Bucket: bucket, Prefix: strings.TrimLeft(prefix, "/")}, nil
}

// BuildKey maps a local file to its object key: prefix plus the
// forward-slash relative path under the local root.
func BuildKey(prefix, localRoot, file string) (string, error) {
	rel, err := filepath.Rel(localRoot, file)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", file, err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + filepath.ToSlash(rel), nil
}

// File is one planned upload.
type File struct {
	Path string
	Key  string
	Size int64
}

// ListFiles walks the root and plans a key for every regular file. Returns
// the files and their total byte count.
func ListFiles(root string, target Target) ([]File, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("local folder: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("local folder %s is not a directory", root)
	}

	var files []File
	var total int64
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		key, err := BuildKey(target.Prefix, root, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Key: key, Size: fi.Size()})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// Result reports one failed upload.
type Result struct {
	Key string
	Err error
}

// Options tune an uploader. Zero values mean eight workers, no canned ACL,
// and the bucket's default storage class.
type Options struct {
	Workers      int
	ACL          string
	StorageClass string
}

// uploadAPI is the slice of manager.Uploader this package calls.
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader pushes files to one target with a bounded worker pool.
type Uploader struct {
	api     uploadAPI
	target  Target
	options Options
	logger  *slog.Logger
}

// New builds an uploader on the ambient AWS credential chain.
func New(ctx context.Context, target Target, options Options, logger *slog.Logger) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newWithAPI(manager.NewUploader(s3.NewFromConfig(cfg)), target, options, logger), nil
}

func newWithAPI(api uploadAPI, target Target, options Options, logger *slog.Logger) *Uploader {
	if options.Workers <= 0 {
		options.Workers = 8
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Uploader{
		api:     api,
		target:  target,
		options: options,
		logger:  logging.ForComponent(logger, "upload"),
	}
}

// Upload pushes every file, at most Workers at a time. A failed file never
// stops the others; failures come back for the caller to report.
func (u *Uploader) Upload(ctx context.Context, files []File) (int, []Result) {
	jobs := make(chan File)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < u.options.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				results <- Result{Key: f.Key, Err: u.uploadOne(ctx, f)}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	uploaded := 0
	var failures []Result
	for r := range results {
		if r.Err != nil {
			failures = append(failures, r)
			u.logger.Error("upload failed",
				slog.String("key", r.Key),
				slog.Any("error", r.Err))
			continue
		}
		uploaded++
		u.logger.Debug("uploaded", slog.String("key", r.Key))
	}
	return uploaded, failures
}

func (u *Uploader) uploadOne(ctx context.Context, f File) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.target.Bucket),
		Key:    aws.String(f.Key),
		Body:   file,
	}
	if ctype := mime.TypeByExtension(filepath.Ext(f.Path)); ctype != "" {
		input.ContentType = aws.String(ctype)
	}
	if u.options.ACL != "" {
		input.ACL = types.ObjectCannedACL(u.options.ACL)
	}
	if u.options.StorageClass != "" {
		input.StorageClass = types.StorageClass(u.options.StorageClass)
	}

	_, err = u.api.Upload(ctx, input)
	return err
}
