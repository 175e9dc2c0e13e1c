package dicomsource

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"pencilbeam/internal/models"
	"pencilbeam/pkg/transform"
)

// sliceRecord is the header information of one file needed to group it
// into a series.
type sliceRecord struct {
	seriesKey   string
	description string
	header      models.SliceHeader
}

var errMissingTag = errors.New("missing tag")

func findValue(ds dicom.Dataset, t tag.Tag) (dicom.Value, error) {
	e, err := ds.FindElementByTag(t)
	if err != nil || e == nil || e.Value == nil {
		return nil, fmt.Errorf("%w %v", errMissingTag, t)
	}
	return e.Value, nil
}

// stringsOf returns the string values of t, splitting on the DICOM value
// delimiter.
func stringsOf(ds dicom.Dataset, t tag.Tag) ([]string, error) {
	v, err := findValue(ds, t)
	if err != nil {
		return nil, err
	}
	raw, ok := v.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("tag %v is %v, not a string", t, v.ValueType())
	}
	var out []string
	for _, s := range raw {
		for _, part := range strings.Split(s, `\`) {
			out = append(out, strings.Trim(part, " \x00"))
		}
	}
	return out, nil
}

func stringOf(ds dicom.Dataset, t tag.Tag) string {
	s, err := stringsOf(ds, t)
	if err != nil || len(s) == 0 {
		return ""
	}
	return s[0]
}

// floatsOf parses decimal-string (DS) values.
func floatsOf(ds dicom.Dataset, t tag.Tag, want int) ([]float64, error) {
	s, err := stringsOf(ds, t)
	if err != nil {
		return nil, err
	}
	if len(s) < want {
		return nil, fmt.Errorf("tag %v has %d values, want %d", t, len(s), want)
	}
	out := make([]float64, want)
	for i := range out {
		f, err := strconv.ParseFloat(s[i], 64)
		if err != nil {
			return nil, fmt.Errorf("tag %v: %w", t, err)
		}
		out[i] = f
	}
	return out, nil
}

func floatOr(ds dicom.Dataset, t tag.Tag, def float64) float64 {
	f, err := floatsOf(ds, t, 1)
	if err != nil {
		return def
	}
	return f[0]
}

func intOf(ds dicom.Dataset, t tag.Tag) (int, error) {
	v, err := findValue(ds, t)
	if err != nil {
		return 0, err
	}
	switch x := v.GetValue().(type) {
	case []int:
		if len(x) > 0 {
			return x[0], nil
		}
	case []string:
		// IS values arrive as strings.
		if len(x) > 0 {
			return strconv.Atoi(strings.TrimSpace(x[0]))
		}
	}
	return 0, fmt.Errorf("tag %v has no integer value", t)
}

// readHeader extracts the series key and slice geometry from a parsed
// dataset. Files without position, orientation or size are rejected.
func readHeader(ds dicom.Dataset, path string) (*sliceRecord, error) {
	uid := stringOf(ds, tag.SeriesInstanceUID)
	if uid == "" {
		return nil, fmt.Errorf("%w %v", errMissingTag, tag.SeriesInstanceUID)
	}
	key := uid
	if date := stringOf(ds, tag.SeriesDate); date != "" {
		key = uid + "." + date
	}

	pos, err := floatsOf(ds, tag.ImagePositionPatient, 3)
	if err != nil {
		return nil, err
	}
	orient, err := floatsOf(ds, tag.ImageOrientationPatient, 6)
	if err != nil {
		return nil, err
	}
	spacing, err := floatsOf(ds, tag.PixelSpacing, 2)
	if err != nil {
		return nil, err
	}
	rows, err := intOf(ds, tag.Rows)
	if err != nil {
		return nil, err
	}
	cols, err := intOf(ds, tag.Columns)
	if err != nil {
		return nil, err
	}
	instance, _ := intOf(ds, tag.InstanceNumber)

	return &sliceRecord{
		seriesKey:   key,
		description: stringOf(ds, tag.SeriesDescription),
		header: models.SliceHeader{
			Filename:        path,
			InstanceNumber:  instance,
			Rows:            rows,
			Columns:         cols,
			Position:        transform.Vec3{X: pos[0], Y: pos[1], Z: pos[2]},
			RowDirection:    transform.Vec3{X: orient[0], Y: orient[1], Z: orient[2]},
			ColumnDirection: transform.Vec3{X: orient[3], Y: orient[4], Z: orient[5]},
			// PixelSpacing is (row spacing, column spacing): the distance
			// between columns comes second.
			PixelSpacing: transform.Vec2{X: spacing[1], Y: spacing[0]},
			Thickness:    floatOr(ds, tag.SliceThickness, 0),
		},
	}, nil
}

// pixels holds the stored samples of one frame with their rescale rule.
type pixels struct {
	rows, cols       int
	values           []int
	slope, intercept float64
}

// readPixels returns the first native frame of ds. Stored values are
// reinterpreted as two's complement when PixelRepresentation is 1.
func readPixels(ds dicom.Dataset) (*pixels, error) {
	v, err := findValue(ds, tag.PixelData)
	if err != nil {
		return nil, err
	}
	if v.ValueType() != dicom.PixelData {
		return nil, fmt.Errorf("pixel data has value type %v", v.ValueType())
	}
	info := dicom.MustGetPixelDataInfo(v)
	if len(info.Frames) == 0 {
		return nil, errors.New("no frames in pixel data")
	}
	if len(info.Frames) > 1 {
		return nil, fmt.Errorf("multi-frame slice with %d frames", len(info.Frames))
	}
	fr := info.Frames[0]
	nf, err := fr.GetNativeFrame()
	if err != nil {
		return nil, fmt.Errorf("compressed pixel data is not supported: %w", err)
	}

	signed := false
	if rep, err := intOf(ds, tag.PixelRepresentation); err == nil && rep == 1 {
		signed = true
	}

	values := make([]int, len(nf.Data))
	for i, px := range nf.Data {
		if len(px) == 0 {
			return nil, fmt.Errorf("pixel %d has no samples", i)
		}
		s := px[0]
		if signed && s > math.MaxInt16 {
			s = int(int16(uint16(s)))
		}
		values[i] = s
	}

	slope := floatOr(ds, tag.RescaleSlope, 1)
	if slope == 0 {
		slope = 1
	}
	return &pixels{
		rows:      nf.Rows,
		cols:      nf.Cols,
		values:    values,
		slope:     slope,
		intercept: floatOr(ds, tag.RescaleIntercept, 0),
	}, nil
}
