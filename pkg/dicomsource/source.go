// Package dicomsource reads DICOM image series from a directory. It
// implements geometry.SeriesSource on top of github.com/suyashkumar/dicom.
package dicomsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/h2non/filetype"
	"github.com/suyashkumar/dicom"
	"golang.org/x/sync/errgroup"

	"pencilbeam/internal/models"
	"pencilbeam/pkg/transform"
)

// headerSniffSize is the number of leading bytes inspected to recognise a
// DICOM Part 10 file (128-byte preamble followed by "DICM").
const headerSniffSize = 262

// Options configures a Source.
type Options struct {
	// Workers bounds the number of files parsed concurrently.
	// Defaults to runtime.NumCPU().
	Workers int
	// Logger receives per-file warnings. Defaults to discarding them.
	Logger *slog.Logger
}

// Source enumerates and loads DICOM series.
type Source struct {
	workers int
	log     *slog.Logger
}

// New creates a Source.
func New(opts Options) *Source {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{workers: opts.Workers, log: opts.Logger}
}

// Scan lists the DICOM files directly inside dir, parses their headers and
// groups them into series. Series are keyed by SeriesInstanceUID, suffixed
// with SeriesDate when present, and returned in lexical key order. Files
// that are not DICOM, or whose header cannot be parsed, are skipped.
func (s *Source) Scan(ctx context.Context, dir string) (models.Catalog, error) {
	files, err := listDICOMFiles(ctx, dir)
	if err != nil {
		return models.Catalog{}, err
	}
	if len(files) == 0 {
		return models.Catalog{Dir: dir}, nil
	}

	headers := make([]*sliceRecord, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
			if err != nil {
				s.log.Warn("skipping unreadable file", "file", path, "error", err)
				return nil
			}
			rec, err := readHeader(ds, path)
			if err != nil {
				s.log.Warn("skipping file without image geometry", "file", path, "error", err)
				return nil
			}
			headers[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Catalog{}, err
	}

	bySeries := make(map[string]*models.SeriesEntry)
	for _, rec := range headers {
		if rec == nil {
			continue
		}
		entry, ok := bySeries[rec.seriesKey]
		if !ok {
			entry = &models.SeriesEntry{ID: rec.seriesKey, Description: rec.description}
			bySeries[rec.seriesKey] = entry
		}
		entry.Slices = append(entry.Slices, rec.header)
	}

	keys := make([]string, 0, len(bySeries))
	for k := range bySeries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	catalog := models.Catalog{Dir: dir}
	for _, k := range keys {
		entry := bySeries[k]
		sortSlices(entry.Slices)
		catalog.Series = append(catalog.Series, *entry)
	}
	return catalog, nil
}

// Load reads every slice of entry and assembles the series grid. Stored
// values are mapped through RescaleSlope and RescaleIntercept, so the
// returned samples are in Hounsfield units for CT.
func (s *Source) Load(ctx context.Context, dir string, entry models.SeriesEntry) (*models.RawSeries, error) {
	if len(entry.Slices) == 0 {
		return nil, fmt.Errorf("series %s has no slices", entry.ID)
	}
	raw, err := seriesGeometry(entry.Slices)
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", entry.ID, err)
	}

	plane := raw.Dim[0] * raw.Dim[1]
	raw.Samples = make([]int16, raw.VoxelCount())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for z, h := range entry.Slices {
		z, h := z, h
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := readSlice(h, raw.Samples[z*plane:(z+1)*plane]); err != nil {
				return fmt.Errorf("slice %d (%s): %w", z, h.Filename, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return raw, nil
}

// listDICOMFiles returns the regular files in dir that carry a DICOM
// preamble, in name order. It stops early when ctx is cancelled.
func listDICOMFiles(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ok, err := isDICOM(path)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, path)
		}
	}
	return files, nil
}

func isDICOM(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, headerSniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return filetype.Is(head[:n], "dcm"), nil
}

// sortSlices orders slices along the slice normal, breaking ties by
// instance number.
func sortSlices(slices []models.SliceHeader) {
	if len(slices) == 0 {
		return
	}
	normal := slices[0].Normal()
	sort.SliceStable(slices, func(i, j int) bool {
		di := slices[i].Position.Dot(normal)
		dj := slices[j].Position.Dot(normal)
		if di != dj {
			return di < dj
		}
		return slices[i].InstanceNumber < slices[j].InstanceNumber
	})
}

// seriesGeometry derives the grid size, direction, spacing and origin of
// a spatially ordered series. All slices must share size and orientation.
func seriesGeometry(slices []models.SliceHeader) (*models.RawSeries, error) {
	first := slices[0]
	for i, h := range slices[1:] {
		if h.Rows != first.Rows || h.Columns != first.Columns {
			return nil, fmt.Errorf("slice %d is %dx%d, expected %dx%d", i+1, h.Columns, h.Rows, first.Columns, first.Rows)
		}
		if !sameDirection(h.RowDirection, first.RowDirection) || !sameDirection(h.ColumnDirection, first.ColumnDirection) {
			return nil, fmt.Errorf("slice %d has a different orientation", i+1)
		}
	}
	if first.Rows <= 0 || first.Columns <= 0 {
		return nil, fmt.Errorf("invalid slice size %dx%d", first.Columns, first.Rows)
	}

	normal := first.Normal()
	if n := normal.Norm(); n > 0 {
		normal = normal.Scale(1 / n)
	} else {
		return nil, errors.New("row and column directions are parallel")
	}

	zSpacing := first.Thickness
	if len(slices) > 1 {
		last := slices[len(slices)-1]
		zSpacing = last.Position.Sub(first.Position).Dot(normal) / float64(len(slices)-1)
	}
	if zSpacing <= 0 || math.IsNaN(zSpacing) {
		zSpacing = first.Thickness
	}
	if zSpacing <= 0 {
		zSpacing = 1
	}

	return &models.RawSeries{
		Dim:       [3]int{first.Columns, first.Rows, len(slices)},
		Direction: transform.FromColumns(first.RowDirection, first.ColumnDirection, normal),
		Spacing:   transform.Vec3{X: first.PixelSpacing.X, Y: first.PixelSpacing.Y, Z: zSpacing},
		Origin:    first.Position,
	}, nil
}

func sameDirection(a, b transform.Vec3) bool {
	const eps = 1e-4
	d := a.Sub(b)
	return math.Abs(d.X) < eps && math.Abs(d.Y) < eps && math.Abs(d.Z) < eps
}

// readSlice parses the file of h and writes its rescaled samples to dst,
// which holds exactly one slice plane.
func readSlice(h models.SliceHeader, dst []int16) error {
	ds, err := dicom.ParseFile(h.Filename, nil)
	if err != nil {
		return err
	}
	px, err := readPixels(ds)
	if err != nil {
		return err
	}
	if px.rows != h.Rows || px.cols != h.Columns {
		return fmt.Errorf("pixel data is %dx%d, header says %dx%d", px.cols, px.rows, h.Columns, h.Rows)
	}
	if len(px.values) != len(dst) {
		return fmt.Errorf("pixel data has %d samples, expected %d", len(px.values), len(dst))
	}

	for i, v := range px.values {
		dst[i] = clampInt16(math.Round(px.slope*float64(v) + px.intercept))
	}
	return nil
}

func clampInt16(v float64) int16 {
	switch {
	case v < math.MinInt16:
		return math.MinInt16
	case v > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(v)
}
