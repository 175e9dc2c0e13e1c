package dicomsource

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"pencilbeam/internal/models"
	"pencilbeam/pkg/transform"
)

// writePreamble writes a file that only carries the Part 10 preamble.
func writePreamble(t *testing.T, path string) {
	t.Helper()
	buf := make([]byte, 200)
	copy(buf[128:], "DICM")
	require.NoError(t, os.WriteFile(path, buf, 0644))
}

func axial(z float64, instance int) models.SliceHeader {
	return models.SliceHeader{
		Filename:        filepath.Join("ct", "slice.dcm"),
		InstanceNumber:  instance,
		Rows:            4,
		Columns:         3,
		Position:        transform.Vec3{X: -100, Y: -80, Z: z},
		RowDirection:    transform.Vec3{X: 1},
		ColumnDirection: transform.Vec3{Y: 1},
		PixelSpacing:    transform.Vec2{X: 0.5, Y: 0.75},
		Thickness:       2,
	}
}

func TestIsDICOM(t *testing.T) {
	dir := t.TempDir()

	dcm := filepath.Join(dir, "a.dcm")
	writePreamble(t, dcm)
	ok, err := isDICOM(dcm)
	require.NoError(t, err)
	assert.True(t, ok)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("not an image"), 0644))
	ok, err = isDICOM(txt)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	ok, err = isDICOM(empty)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDICOMFiles(t *testing.T) {
	dir := t.TempDir()
	writePreamble(t, filepath.Join(dir, "b.dcm"))
	writePreamble(t, filepath.Join(dir, "a"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# ct"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	files, err := listDICOMFiles(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a"), filepath.Join(dir, "b.dcm")}, files)

	_, err = listDICOMFiles(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestListDICOMFilesCancelled(t *testing.T) {
	dir := t.TempDir()
	writePreamble(t, filepath.Join(dir, "a.dcm"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := listDICOMFiles(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = New(Options{}).Scan(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

// ctSlice describes one 2x2 slice written by writeCTSlice.
type ctSlice struct {
	series   string
	instance int
	z        string
	stored   []int
}

func element(t *testing.T, tg tag.Tag, value any) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, value)
	require.NoError(t, err)
	return e
}

// writeCTSlice writes a signed 16-bit axial CT slice with a -1024
// intercept and a (row, column) pixel spacing of (0.75, 0.5).
func writeCTSlice(t *testing.T, path string, s ctSlice) {
	t.Helper()
	data := make([][]int, len(s.stored))
	for i, v := range s.stored {
		data[i] = []int{v}
	}
	pixels := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{
			NativeData: frame.NativeFrame{Data: data, Rows: 2, Cols: 2, BitsPerSample: 16},
		}},
	}

	ds := dicom.Dataset{Elements: []*dicom.Element{
		element(t, tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		element(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		element(t, tag.MediaStorageSOPInstanceUID, []string{s.series + "." + s.z}),
		element(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		element(t, tag.SeriesDate, []string{"20200101"}),
		element(t, tag.SliceThickness, []string{"2.5"}),
		element(t, tag.SeriesInstanceUID, []string{s.series}),
		element(t, tag.InstanceNumber, []string{strconv.Itoa(s.instance)}),
		element(t, tag.ImagePositionPatient, []string{"-10", "-20", s.z}),
		element(t, tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
		element(t, tag.SamplesPerPixel, []int{1}),
		element(t, tag.Rows, []int{2}),
		element(t, tag.Columns, []int{2}),
		element(t, tag.PixelSpacing, []string{"0.75", "0.5"}),
		element(t, tag.BitsAllocated, []int{16}),
		element(t, tag.BitsStored, []int{16}),
		element(t, tag.PixelRepresentation, []int{1}),
		element(t, tag.RescaleIntercept, []string{"-1024"}),
		element(t, tag.RescaleSlope, []string{"1"}),
		element(t, tag.PixelData, pixels),
	}}

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, dicom.Write(f, ds, dicom.SkipVRVerification()))
	require.NoError(t, f.Close())
}

func TestScanAndLoadCTSeries(t *testing.T) {
	dir := t.TempDir()
	// File names do not follow the spatial order.
	writeCTSlice(t, filepath.Join(dir, "a.dcm"), ctSlice{series: "1.2.8", instance: 2, z: "2.5", stored: []int{0, 24, 0xFFE8, 1024}})
	writeCTSlice(t, filepath.Join(dir, "b.dcm"), ctSlice{series: "1.2.8", instance: 1, z: "0", stored: []int{1, 2, 3, 4}})
	writeCTSlice(t, filepath.Join(dir, "0.dcm"), ctSlice{series: "1.2.9", instance: 1, z: "0", stored: []int{0, 0, 0, 0}})

	src := New(Options{Workers: 2})
	catalog, err := src.Scan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.8.20200101", "1.2.9.20200101"}, catalog.IDs())

	entry, ok := catalog.Find("1.2.8.20200101")
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "b.dcm"), filepath.Join(dir, "a.dcm")}, entry.FileNames())

	raw, err := src.Load(context.Background(), dir, entry)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 2}, raw.Dim)
	assert.Equal(t, transform.Vec3{X: 0.5, Y: 0.75, Z: 2.5}, raw.Spacing)
	assert.Equal(t, transform.Vec3{X: -10, Y: -20, Z: 0}, raw.Origin)
	assert.Equal(t, transform.Identity3(), raw.Direction)

	// 0xFFE8 is -24 as a signed sample; every value is shifted by the intercept.
	assert.Equal(t, []int16{-1023, -1022, -1021, -1020, -1024, -1000, -1048, 0}, raw.Samples)
}

func TestScanSkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	writePreamble(t, filepath.Join(dir, "broken.dcm"))

	catalog, err := New(Options{Workers: 2}).Scan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, catalog.Dir)
	assert.Empty(t, catalog.Series)
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := New(Options{}).Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSortSlices(t *testing.T) {
	slices := []models.SliceHeader{axial(10, 3), axial(-5, 1), axial(2.5, 2), axial(2.5, 0)}
	sortSlices(slices)

	var got []int
	for _, s := range slices {
		got = append(got, s.InstanceNumber)
	}
	assert.Equal(t, []int{1, 0, 2, 3}, got)
}

func TestSeriesGeometry(t *testing.T) {
	raw, err := seriesGeometry([]models.SliceHeader{axial(-5, 1), axial(-2, 2), axial(1, 3)})
	require.NoError(t, err)

	assert.Equal(t, [3]int{3, 4, 3}, raw.Dim)
	assert.Equal(t, transform.Identity3(), raw.Direction)
	assert.Equal(t, transform.Vec3{X: 0.5, Y: 0.75, Z: 3}, raw.Spacing)
	assert.Equal(t, transform.Vec3{X: -100, Y: -80, Z: -5}, raw.Origin)

	// Index (0, 0, 2) must land on the third slice position.
	tr := transform.ImageToPhysical(raw.Direction, raw.Spacing, raw.Origin)
	assert.Equal(t, transform.Vec3{X: -100, Y: -80, Z: 1}, tr.Apply(transform.Vec3{Z: 2}))
}

func TestSeriesGeometrySingleSliceUsesThickness(t *testing.T) {
	raw, err := seriesGeometry([]models.SliceHeader{axial(0, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2.0, raw.Spacing.Z)
}

func TestSeriesGeometryRejectsInconsistentSlices(t *testing.T) {
	odd := axial(3, 2)
	odd.Rows = 8
	_, err := seriesGeometry([]models.SliceHeader{axial(0, 1), odd})
	assert.Error(t, err)

	tilted := axial(3, 2)
	tilted.RowDirection = transform.Vec3{Y: 1}
	tilted.ColumnDirection = transform.Vec3{X: 1}
	_, err = seriesGeometry([]models.SliceHeader{axial(0, 1), tilted})
	assert.Error(t, err)

	flat := axial(0, 1)
	flat.ColumnDirection = flat.RowDirection
	_, err = seriesGeometry([]models.SliceHeader{flat})
	assert.Error(t, err)
}

func TestClampInt16(t *testing.T) {
	assert.Equal(t, int16(-1024), clampInt16(-1024))
	assert.Equal(t, int16(math.MinInt16), clampInt16(-40000))
	assert.Equal(t, int16(math.MaxInt16), clampInt16(70000))
}

func TestLoadEmptySeries(t *testing.T) {
	_, err := New(Options{}).Load(context.Background(), "dir", models.SeriesEntry{ID: "x"})
	assert.Error(t, err)
}
