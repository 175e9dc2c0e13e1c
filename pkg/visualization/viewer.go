// Package visualization extracts 2D slices from an imported image so the
// geometry of a series can be inspected before it is used for dose
// calculation.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"pencilbeam/pkg/geometry"
	"pencilbeam/pkg/transform"
)

// WindowMax is the upper end of the display window on the HU+1000 scale.
// Values from 0 (air) to WindowMax (dense bone) map to the full 16-bit range.
const WindowMax = 4095

// Viewer extracts slices from an ImageGeometry
type Viewer struct {
	geom *geometry.ImageGeometry

	// dimensions of the volume
	width  int
	height int
	depth  int
}

// NewViewer creates a new viewer over geom
func NewViewer(geom *geometry.ImageGeometry) *Viewer {
	return &Viewer{
		geom:   geom,
		width:  int(geom.Dim[0]),
		height: int(geom.Dim[1]),
		depth:  int(geom.Dim[2]),
	}
}

// gray maps a voxel value to a display intensity
func gray(v float32) color.Gray16 {
	switch {
	case v <= 0:
		return color.Gray16{Y: 0}
	case v >= WindowMax:
		return color.Gray16{Y: 0xffff}
	}
	return color.Gray16{Y: uint16(float64(v) / WindowMax * 0xffff)}
}

// axisSize returns the number of slices along axis
func (v *Viewer) axisSize(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	size, err := v.axisSize(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= size {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, size, axis)
	}

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, gray(v.geom.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, gray(v.geom.At(x, position, z)))
			}
		}

	default:
		// XY plane
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, gray(v.geom.At(x, y, position)))
			}
		}
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion of voxel values from the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float32, error) {
	// Validate parameters
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float32, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			// Rows are contiguous in both layouts
			src := v.geom.Index(startX, startY+y, startZ+z)
			dst := (z*sizeY + y) * sizeX
			copy(region[dst:dst+sizeX], v.geom.Voxels[src:src+sizeX])
		}
	}

	return region, nil
}

// PhysicalCenter returns the patient-space position of the centre of the
// slice at position along axis
func (v *Viewer) PhysicalCenter(axis string, position int) (transform.Vec3, error) {
	size, err := v.axisSize(axis)
	if err != nil {
		return transform.Vec3{}, err
	}
	if position < 0 || position >= size {
		return transform.Vec3{}, fmt.Errorf("position %d outside [0, %d) along %s", position, size, axis)
	}

	c := transform.Vec3{
		X: float64(v.width-1) / 2,
		Y: float64(v.height-1) / 2,
		Z: float64(v.depth-1) / 2,
	}
	switch axis {
	case "x", "X":
		c.X = float64(position)
	case "y", "Y":
		c.Y = float64(position)
	default:
		c.Z = float64(position)
	}
	return v.geom.PhysicalPoint(c), nil
}

// SaveSlice saves an extracted slice as a lossless 16-bit TIFF image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := v.axisSize(axis)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.tiff", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
