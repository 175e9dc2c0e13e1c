package geometry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pencilbeam/internal/models"
	"pencilbeam/pkg/transform"
)

// SeriesSource is the image-reading collaborator. Scan enumerates the
// candidate series of a directory; Load reads one of them into a raw
// sample grid with its direction, spacing and origin.
//
// Implementations hide any global state of the underlying reader, so tests
// can substitute a deterministic fake.
type SeriesSource interface {
	Scan(ctx context.Context, dir string) (models.Catalog, error)
	Load(ctx context.Context, dir string, entry models.SeriesEntry) (*models.RawSeries, error)
}

// Selector picks the series to import from the candidate identifiers,
// given in enumeration order.
type Selector func(candidates []string) (string, error)

// ErrNoSeries is returned by selectors when there is nothing to select.
var ErrNoSeries = errors.New("no image series found")

// SelectFirst picks the first enumerated series.
func SelectFirst(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoSeries
	}
	return candidates[0], nil
}

// SelectSeries returns a selector that picks the series with the given
// identifier and fails if it is not among the candidates.
func SelectSeries(id string) Selector {
	return func(candidates []string) (string, error) {
		if len(candidates) == 0 {
			return "", ErrNoSeries
		}
		for _, c := range candidates {
			if c == id {
				return c, nil
			}
		}
		return "", fmt.Errorf("series %q not among %d candidates", id, len(candidates))
	}
}

// Options configures a Resolver.
type Options struct {
	// Select chooses among candidate series. Defaults to SelectFirst.
	Select Selector
	// Logger receives informational output. Defaults to discarding it.
	Logger *slog.Logger
	// TracerProvider creates the read and convert spans. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Resolution is the result of importing one series.
type Resolution struct {
	// Geometry is the imported image.
	Geometry *ImageGeometry
	// SeriesID is the selected series.
	SeriesID string
	// Candidates lists every series found, in enumeration order, so the
	// caller can disambiguate and retry with another one.
	Candidates []string
	// Files are the slice files of the selected series in spatial order.
	Files []string
	// ReadTime and ConvertTime are the durations of the two phases.
	ReadTime, ConvertTime time.Duration
}

// Resolver converts image series into ImageGeometry values.
type Resolver struct {
	source SeriesSource
	opts   Options
	tracer trace.Tracer
}

// cancelCheckInterval is the number of voxels converted between context checks.
const cancelCheckInterval = 1 << 16

// NewResolver creates a resolver reading through source.
func NewResolver(source SeriesSource, opts Options) *Resolver {
	if opts.Select == nil {
		opts.Select = SelectFirst
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	return &Resolver{
		source: source,
		opts:   opts,
		tracer: opts.TracerProvider.Tracer("pencilbeam/pkg/geometry"),
	}
}

// Resolve imports one series from dir:
//  1. enumerate the candidate series and pick one with the selector
//  2. load the slices of that series into a signed 16-bit grid
//  3. convert every sample to float with v' = v + HUOffset
//  4. build the index-to-physical transform direction·diag(spacing), origin
//
// Every failure, including cancellation of ctx, is returned as an
// *ImportError.
func (r *Resolver) Resolve(ctx context.Context, dir string) (*Resolution, error) {
	log := r.opts.Logger

	// Step 1: enumerate and select
	catalog, err := r.source.Scan(ctx, dir)
	if err != nil {
		return nil, &ImportError{Dir: dir, Op: "scan", Err: err}
	}
	candidates := catalog.IDs()
	log.Info("directory contains image series", "dir", dir, "count", len(candidates))
	for _, id := range candidates {
		log.Info("available series", "series", id)
	}

	id, err := r.opts.Select(candidates)
	if err != nil {
		return nil, &ImportError{Dir: dir, Op: "select", Err: err}
	}
	entry, ok := catalog.Find(id)
	if !ok {
		return nil, &ImportError{Dir: dir, SeriesID: id, Op: "select", Err: errors.New("selector returned an unknown series")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ImportError{Dir: dir, SeriesID: id, Op: "load", Err: err}
	}

	// Step 2: read
	log.Info("reading series", "series", id, "slices", len(entry.Slices))
	start := time.Now()
	raw, err := r.load(ctx, dir, entry)
	if err != nil {
		return nil, &ImportError{Dir: dir, SeriesID: id, Op: "load", Err: err}
	}
	readTime := time.Since(start)
	log.Info("read image", "series", id, "seconds", readTime.Seconds())

	// Steps 3 and 4: convert
	start = time.Now()
	geom, err := r.convert(ctx, raw)
	if err != nil {
		return nil, &ImportError{Dir: dir, SeriesID: id, Op: "convert", Err: err}
	}
	convertTime := time.Since(start)
	log.Info("converted image to float", "series", id, "voxels", geom.N, "seconds", convertTime.Seconds())

	return &Resolution{
		Geometry:    geom,
		SeriesID:    id,
		Candidates:  candidates,
		Files:       entry.FileNames(),
		ReadTime:    readTime,
		ConvertTime: convertTime,
	}, nil
}

func (r *Resolver) load(ctx context.Context, dir string, entry models.SeriesEntry) (*models.RawSeries, error) {
	ctx, span := r.tracer.Start(ctx, "geometry.read", trace.WithAttributes(
		attribute.String("series", entry.ID),
		attribute.Int("slices", len(entry.Slices)),
	))
	defer span.End()

	raw, err := r.source.Load(ctx, dir, entry)
	if err == nil && raw == nil {
		err = errors.New("source returned no data")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	return raw, nil
}

func (r *Resolver) convert(ctx context.Context, raw *models.RawSeries) (*ImageGeometry, error) {
	_, span := r.tracer.Start(ctx, "geometry.convert")
	defer span.End()

	geom, err := r.toGeometry(ctx, raw, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "convert failed")
		return nil, err
	}
	return geom, nil
}

func (r *Resolver) toGeometry(ctx context.Context, raw *models.RawSeries, span trace.Span) (*ImageGeometry, error) {
	for i, d := range raw.Dim {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d is %d", i, d)
		}
	}
	n := raw.VoxelCount()
	if len(raw.Samples) != n {
		return nil, fmt.Errorf("grid %v needs %d samples, got %d", raw.Dim, n, len(raw.Samples))
	}
	span.SetAttributes(attribute.Int("voxels", n))

	voxels := make([]float32, n)
	for i, v := range raw.Samples {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		voxels[i] = float32(int32(v) + HUOffset)
	}

	tr := transform.ImageToPhysical(raw.Direction, raw.Spacing, raw.Origin)
	if !tr.IsFinite() {
		return nil, fmt.Errorf("non-finite image transform %+v", tr)
	}
	dim := [3]uint32{uint32(raw.Dim[0]), uint32(raw.Dim[1]), uint32(raw.Dim[2])}
	return NewImageGeometry(dim, voxels, tr)
}
