package models

import (
	"pencilbeam/pkg/transform"
)

// SliceHeader represents the geometry metadata of a single image slice file
type SliceHeader struct {
	// Filename is the path of the slice file
	Filename string

	// InstanceNumber is the acquisition number of the slice within its series
	InstanceNumber int

	// Rows and Columns are the in-plane dimensions in pixels
	Rows, Columns int

	// Position is the patient-space position of the first transmitted pixel
	Position transform.Vec3

	// RowDirection and ColumnDirection are the direction cosines of the
	// first row and the first column
	RowDirection, ColumnDirection transform.Vec3

	// PixelSpacing is the physical distance between pixel centres in mm,
	// X along a row and Y along a column
	PixelSpacing transform.Vec2

	// Thickness is the nominal slice thickness in mm, zero when absent
	Thickness float64
}

// Normal returns the slice normal, RowDirection × ColumnDirection
func (h SliceHeader) Normal() transform.Vec3 {
	return h.RowDirection.Cross(h.ColumnDirection)
}

// SeriesEntry is one candidate series found in a directory
type SeriesEntry struct {
	// ID is the series grouping key
	ID string

	// Description is the free-text series description, if any
	Description string

	// Slices holds the slice headers in spatial order
	Slices []SliceHeader
}

// FileNames returns the slice files of the series in spatial order
func (e SeriesEntry) FileNames() []string {
	names := make([]string, len(e.Slices))
	for i, s := range e.Slices {
		names[i] = s.Filename
	}
	return names
}

// Catalog lists the series available in a directory in enumeration order
type Catalog struct {
	// Dir is the scanned directory
	Dir string

	// Series holds the candidate series
	Series []SeriesEntry
}

// IDs returns the series identifiers in enumeration order
func (c Catalog) IDs() []string {
	ids := make([]string, len(c.Series))
	for i, s := range c.Series {
		ids[i] = s.ID
	}
	return ids
}

// Find returns the entry with the given identifier
func (c Catalog) Find(id string) (SeriesEntry, bool) {
	for _, s := range c.Series {
		if s.ID == id {
			return s, true
		}
	}
	return SeriesEntry{}, false
}

// RawSeries represents a loaded image series before conversion
type RawSeries struct {
	// Dim is the grid size (columns, rows, slices)
	Dim [3]int

	// Samples holds Dim[0]*Dim[1]*Dim[2] signed samples, x fastest then y then z
	Samples []int16

	// Direction holds the axis direction cosines as columns
	Direction transform.Matrix3x3

	// Spacing is the physical voxel size in mm along each index axis
	Spacing transform.Vec3

	// Origin is the patient-space position of voxel (0, 0, 0)
	Origin transform.Vec3
}

// VoxelCount returns the number of voxels implied by Dim
func (r *RawSeries) VoxelCount() int {
	return r.Dim[0] * r.Dim[1] * r.Dim[2]
}
