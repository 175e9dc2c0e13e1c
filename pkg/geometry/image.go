// Package geometry turns an image series into an ImageGeometry: a dense
// float voxel array plus the affine transform from voxel indices to
// physical patient coordinates.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pencilbeam/pkg/transform"
)

// HUOffset is added to every sample on import. It shifts the Hounsfield
// baseline of -1000 (air) to 0 so the internal scale is non-negative.
const HUOffset = 1000

// ImageGeometry is an imported image series. It is immutable once built
// and may be shared between goroutines.
type ImageGeometry struct {
	// Dim is the grid size (dimX, dimY, dimZ).
	Dim [3]uint32
	// N is dimX·dimY·dimZ.
	N uint32
	// Voxels holds N values in acquisition order, x fastest.
	Voxels []float32
	// Transform maps voxel indices to patient coordinates in mm.
	Transform transform.AffineTransform3
}

// NewImageGeometry checks that voxels holds exactly dimX·dimY·dimZ values
// and returns the geometry.
func NewImageGeometry(dim [3]uint32, voxels []float32, tr transform.AffineTransform3) (*ImageGeometry, error) {
	n := uint64(dim[0]) * uint64(dim[1]) * uint64(dim[2])
	if n == 0 {
		return nil, fmt.Errorf("empty image grid %v", dim)
	}
	if n > uint64(^uint32(0)) {
		return nil, fmt.Errorf("image grid %v exceeds %d voxels", dim, ^uint32(0))
	}
	if uint64(len(voxels)) != n {
		return nil, fmt.Errorf("image grid %v needs %d voxels, got %d", dim, n, len(voxels))
	}
	return &ImageGeometry{
		Dim:       dim,
		N:         uint32(n),
		Voxels:    voxels,
		Transform: tr,
	}, nil
}

// Index returns the flat offset of voxel (x, y, z).
func (g *ImageGeometry) Index(x, y, z int) int {
	return (z*int(g.Dim[1])+y)*int(g.Dim[0]) + x
}

// Contains reports whether (x, y, z) lies inside the grid.
func (g *ImageGeometry) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < int(g.Dim[0]) && y < int(g.Dim[1]) && z < int(g.Dim[2])
}

// ContainsIndex reports whether the fractional index idx falls in a voxel
// of the grid. Each component is floored, so -0.4 lies outside.
func (g *ImageGeometry) ContainsIndex(idx transform.Vec3) bool {
	if !idx.IsFinite() {
		return false
	}
	return g.Contains(int(math.Floor(idx.X)), int(math.Floor(idx.Y)), int(math.Floor(idx.Z)))
}

// At returns the value of voxel (x, y, z). It panics when the voxel is
// outside the grid.
func (g *ImageGeometry) At(x, y, z int) float32 {
	if !g.Contains(x, y, z) {
		panic(fmt.Sprintf("geometry: voxel (%d,%d,%d) outside grid %v", x, y, z, g.Dim))
	}
	return g.Voxels[g.Index(x, y, z)]
}

// PhysicalPoint returns the patient-space position of a (possibly
// fractional) voxel index.
func (g *ImageGeometry) PhysicalPoint(idx transform.Vec3) transform.Vec3 {
	return g.Transform.Apply(idx)
}

// Stats summarises the voxel values of an image.
type Stats struct {
	Min, Max     float64
	Mean, StdDev float64
}

// Stats returns the minimum, maximum, mean and standard deviation of the
// voxel values.
func (g *ImageGeometry) Stats() Stats {
	if len(g.Voxels) == 0 {
		return Stats{}
	}
	values := make([]float64, len(g.Voxels))
	for i, v := range g.Voxels {
		values[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(values, nil)
	return Stats{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
	}
}
