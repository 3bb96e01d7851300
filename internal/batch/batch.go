// Package batch groups the immediate children of a directory into zip
// archives whose payload stays under a target size, using best-fit
// decreasing bin packing. Children larger than the capacity get an archive
// of their own.
package batch

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/neheller/DICOM-DeID/internal/logging"
)

// Item is one immediate child of the source directory with its deep size.
type Item struct {
	Path string
	Name string
	Size int64
}

// Batch is one planned archive.
type Batch struct {
	Items []Item
}

// Size returns the summed payload size of the batch.
func (b Batch) Size() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.Size
	}
	return total
}

// Oversize reports whether the batch holds an item larger than the capacity
// it was planned against.
func (b Batch) Oversize(capacity int64) bool {
	for _, item := range b.Items {
		if item.Size > capacity {
			return true
		}
	}
	return false
}

// Plan is the outcome of sizing and packing, ready to execute or print.
type Plan struct {
	Source   string
	Capacity int64
	Total    int64
	Batches  []Batch
}

// Archive describes one written zip file.
type Archive struct {
	Path    string
	Payload int64
	Items   int
}

// Packer plans and writes batched archives.
type Packer struct {
	Source           string
	Dest             string
	Capacity         int64
	CompressionLevel int

	logger *slog.Logger
}

// NewPacker validates the source directory and returns a packer.
func NewPacker(source, dest string, capacity int64, compressionLevel int, logger *slog.Logger) (*Packer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", source)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if compressionLevel < 0 || compressionLevel > 9 {
		return nil, fmt.Errorf("compression level %d outside 0..9", compressionLevel)
	}
	return &Packer{
		Source:           source,
		Dest:             dest,
		Capacity:         capacity,
		CompressionLevel: compressionLevel,
		logger:           logging.ForComponent(logger, "batch"),
	}, nil
}

// Plan sizes every immediate child and packs them into batches. An empty
// source yields a plan with no batches.
func (p *Packer) Plan() (*Plan, error) {
	children, err := listChildren(p.Source)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	items := make([]Item, 0, len(children))
	var total int64
	for _, name := range children {
		path := filepath.Join(p.Source, name)
		size := walkSize(path)
		items = append(items, Item{Path: path, Name: name, Size: size})
		total += size
		p.logger.Debug("sized child",
			slog.String("name", name),
			slog.String("size", humanize.IBytes(uint64(size))))
	}

	plan := &Plan{
		Source:   p.Source,
		Capacity: p.Capacity,
		Total:    total,
		Batches:  bestFitDecreasing(items, p.Capacity),
	}
	p.logger.Info("plan ready",
		slog.Int("children", len(items)),
		slog.String("total", humanize.IBytes(uint64(total))),
		slog.Int("batches", len(plan.Batches)))
	return plan, nil
}

// Execute writes one zip per planned batch into the destination directory.
func (p *Packer) Execute(plan *Plan) ([]Archive, error) {
	if err := os.MkdirAll(p.Dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	archives := make([]Archive, 0, len(plan.Batches))
	for i, b := range plan.Batches {
		path, err := p.writeBatch(i+1, b)
		if err != nil {
			return archives, fmt.Errorf("batch %d: %w", i+1, err)
		}
		archives = append(archives, Archive{Path: path, Payload: b.Size(), Items: len(b.Items)})
		p.logger.Info("archive written",
			slog.String("path", path),
			slog.Int("items", len(b.Items)),
			slog.String("payload", humanize.IBytes(uint64(b.Size()))))
	}
	return archives, nil
}

// listChildren returns the names of the source's immediate children,
// sorted case-insensitively.
func listChildren(source string) ([]string, error) {
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}

// walkSize computes the deep size of a file or directory. A symlinked child
// is followed once at the top; everything below is walked without following
// links, and files that vanish mid-walk count as zero.
func walkSize(path string) int64 {
	info, err := os.Lstat(path)
	if err != nil {
		return 0
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return 0
		}
		path = resolved
		if info, err = os.Stat(path); err != nil {
			return 0
		}
	}
	if !info.IsDir() {
		return info.Size()
	}

	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		total += fi.Size()
		return nil
	})
	return total
}

// bestFitDecreasing packs items largest first, placing each into the open
// batch that leaves the least free space. Ties keep the lowest batch index;
// items over capacity are isolated in their own batch.
func bestFitDecreasing(items []Item, capacity int64) []Batch {
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	var batches []Batch
	var freeSpace []int64
	for _, item := range sorted {
		if item.Size > capacity {
			batches = append(batches, Batch{Items: []Item{item}})
			freeSpace = append(freeSpace, 0)
			continue
		}

		best := -1
		var bestAfter int64
		for i, space := range freeSpace {
			if item.Size > space {
				continue
			}
			after := space - item.Size
			if best == -1 || after < bestAfter {
				best = i
				bestAfter = after
			}
		}
		if best == -1 {
			batches = append(batches, Batch{Items: []Item{item}})
			freeSpace = append(freeSpace, capacity-item.Size)
			continue
		}
		batches[best].Items = append(batches[best].Items, item)
		freeSpace[best] -= item.Size
	}
	return batches
}

// writeBatch creates one archive. File children sit at the archive root
// under their bare name; directory children keep their relative layout,
// with empty leaf directories preserved as explicit entries.
func (p *Packer) writeBatch(index int, b Batch) (string, error) {
	name := fmt.Sprintf("batch_%03d_%s.zip", index, time.Now().Format("20060102_150405"))
	path := filepath.Join(p.Dest, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	level := p.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, item := range b.Items {
		info, err := os.Stat(item.Path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", item.Path, err)
		}
		if !info.IsDir() {
			if err := addFile(zw, item.Path, item.Name); err != nil {
				return "", err
			}
			continue
		}
		if err := p.addTree(zw, item.Path); err != nil {
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func (p *Packer) addTree(zw *zip.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(p.Source, path)
		if err != nil {
			return err
		}
		arcname := filepath.ToSlash(rel)

		if d.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, err := zw.Create(arcname + "/")
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return addFile(zw, path, arcname)
	})
}

func addFile(zw *zip.Writer, path, arcname string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = arcname
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)
	return err
}
