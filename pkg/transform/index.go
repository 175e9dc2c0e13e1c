package transform

import (
	"errors"
	"fmt"
)

// LayerRaster overrides the transverse spot raster of one energy layer.
// Pitch is the distance between neighbouring spots (X along columns, Y along
// rows) and Origin the gantry-space position of spot (0, 0).
type LayerRaster struct {
	Pitch  Vec2 `yaml:"pitch"`
	Origin Vec2 `yaml:"origin"`
}

// IndexTransform3 maps a spot index (row, col) in energy layer l to a point
// in gantry space:
//
//	x = origin.X + col·pitch.X
//	y = origin.Y + row·pitch.Y
//	z = Offset.Z + l·Delta.Z
//
// where pitch and origin come from the layer's LayerRaster when one was
// given and from Delta and Offset otherwise.
type IndexTransform3 struct {
	delta  Vec3
	offset Vec3
	layers []LayerRaster
}

// NewIndexTransform returns an index transform with default spot pitch delta
// and offset, optionally overriding the transverse raster of the first
// len(layers) energy layers. Every pitch component must be finite and
// non-zero so the mapping stays bijective.
func NewIndexTransform(delta, offset Vec3, layers ...LayerRaster) (IndexTransform3, error) {
	if !delta.IsFinite() || !offset.IsFinite() {
		return IndexTransform3{}, errors.New("transform: index transform has non-finite parameters")
	}
	if delta.X == 0 || delta.Y == 0 || delta.Z == 0 {
		return IndexTransform3{}, fmt.Errorf("transform: index transform pitch %v has a zero component", delta)
	}
	for i, l := range layers {
		if !l.Pitch.IsFinite() || !l.Origin.IsFinite() {
			return IndexTransform3{}, fmt.Errorf("transform: layer %d raster has non-finite parameters", i)
		}
		if l.Pitch.X == 0 || l.Pitch.Y == 0 {
			return IndexTransform3{}, fmt.Errorf("transform: layer %d pitch %v has a zero component", i, l.Pitch)
		}
	}

	t := IndexTransform3{delta: delta, offset: offset}
	if len(layers) > 0 {
		t.layers = append([]LayerRaster(nil), layers...)
	}
	return t, nil
}

// Delta returns the default per-axis spot pitch.
func (t IndexTransform3) Delta() Vec3 { return t.delta }

// Offset returns the gantry position of spot (0, 0) in layer 0.
func (t IndexTransform3) Offset() Vec3 { return t.offset }

// Layers returns the number of layers with an explicit raster override.
func (t IndexTransform3) Layers() int { return len(t.layers) }

// Valid reports whether t was built by NewIndexTransform; the zero value
// has zero pitch and is not bijective.
func (t IndexTransform3) Valid() bool {
	return t.delta.X != 0 && t.delta.Y != 0 && t.delta.Z != 0
}

func (t IndexTransform3) raster(layer int) LayerRaster {
	if layer >= 0 && layer < len(t.layers) {
		return t.layers[layer]
	}
	return LayerRaster{
		Pitch:  Vec2{t.delta.X, t.delta.Y},
		Origin: Vec2{t.offset.X, t.offset.Y},
	}
}

// Apply returns the gantry-space point of spot (row, col) in the given
// energy layer. Fractional indices are allowed.
func (t IndexTransform3) Apply(row, col float64, layer int) Vec3 {
	r := t.raster(layer)
	return Vec3{
		X: r.Origin.X + col*r.Pitch.X,
		Y: r.Origin.Y + row*r.Pitch.Y,
		Z: t.offset.Z + float64(layer)*t.delta.Z,
	}
}

// Invert returns the (fractional) spot index of gantry point p within the
// given layer. The Z component of p is ignored.
func (t IndexTransform3) Invert(p Vec3, layer int) (row, col float64, err error) {
	if !t.Valid() {
		return 0, 0, &SingularTransformError{}
	}
	r := t.raster(layer)
	col = (p.X - r.Origin.X) / r.Pitch.X
	row = (p.Y - r.Origin.Y) / r.Pitch.Y
	return row, col, nil
}

// LayerAffine returns the affine form of the layer's mapping, taking the
// index vector (col, row, layer) to gantry space. It lets a spot raster be
// chained with image and dose-grid transforms.
func (t IndexTransform3) LayerAffine(layer int) AffineTransform3 {
	r := t.raster(layer)
	// Only valid for index vectors whose Z equals layer.
	return AffineTransform3{
		M: Diag(Vec3{r.Pitch.X, r.Pitch.Y, t.delta.Z}),
		T: Vec3{r.Origin.X, r.Origin.Y, t.offset.Z},
	}
}
