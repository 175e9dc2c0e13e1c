package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pencilbeam/pkg/transform"
)

func TestContainsIndex(t *testing.T) {
	g, err := NewImageGeometry([3]uint32{4, 3, 2}, make([]float32, 24), transform.Identity())
	require.NoError(t, err)

	assert.True(t, g.ContainsIndex(transform.Vec3{}))
	assert.True(t, g.ContainsIndex(transform.Vec3{X: 3.9, Y: 2.5, Z: 1.99}))
	assert.False(t, g.ContainsIndex(transform.Vec3{X: -0.4, Y: 1, Z: 1}))
	assert.False(t, g.ContainsIndex(transform.Vec3{X: 1, Y: 1, Z: -0.01}))
	assert.False(t, g.ContainsIndex(transform.Vec3{X: 4, Y: 0, Z: 0}))
	assert.False(t, g.ContainsIndex(transform.Vec3{X: math.NaN()}))
}

func TestNewImageGeometry(t *testing.T) {
	g, err := NewImageGeometry([3]uint32{3, 2, 2}, make([]float32, 12), transform.Identity())
	require.NoError(t, err)
	assert.Equal(t, uint32(12), g.N)

	_, err = NewImageGeometry([3]uint32{3, 2, 2}, make([]float32, 11), transform.Identity())
	assert.Error(t, err)

	_, err = NewImageGeometry([3]uint32{3, 0, 2}, nil, transform.Identity())
	assert.Error(t, err)
}

func TestImageGeometryIndexing(t *testing.T) {
	voxels := make([]float32, 24)
	for i := range voxels {
		voxels[i] = float32(i)
	}
	g, err := NewImageGeometry([3]uint32{4, 3, 2}, voxels, transform.Identity())
	require.NoError(t, err)

	// x runs fastest, then y, then z.
	assert.Equal(t, 0, g.Index(0, 0, 0))
	assert.Equal(t, 1, g.Index(1, 0, 0))
	assert.Equal(t, 4, g.Index(0, 1, 0))
	assert.Equal(t, 12, g.Index(0, 0, 1))
	assert.Equal(t, float32(23), g.At(3, 2, 1))

	assert.True(t, g.Contains(3, 2, 1))
	assert.False(t, g.Contains(4, 0, 0))
	assert.False(t, g.Contains(0, -1, 0))
	assert.Panics(t, func() { g.At(0, 0, 2) })
}

func TestImageGeometryPhysicalPoint(t *testing.T) {
	tr := transform.ImageToPhysical(transform.Identity3(), transform.Vec3{X: 1, Y: 2, Z: 3}, transform.Vec3{X: 10, Y: 0, Z: 0})
	g, err := NewImageGeometry([3]uint32{1, 1, 1}, []float32{0}, tr)
	require.NoError(t, err)
	assert.Equal(t, transform.Vec3{X: 11, Y: 2, Z: 3}, g.PhysicalPoint(transform.Vec3{X: 1, Y: 1, Z: 1}))
}

func TestImageGeometryStats(t *testing.T) {
	g, err := NewImageGeometry([3]uint32{4, 1, 1}, []float32{0, 1000, 1000, 2000}, transform.Identity())
	require.NoError(t, err)

	s := g.Stats()
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 2000.0, s.Max)
	assert.InDelta(t, 1000.0, s.Mean, 1e-9)
	// Sample standard deviation of {0, 1000, 1000, 2000}.
	assert.InDelta(t, 816.4965809, s.StdDev, 1e-6)
}
