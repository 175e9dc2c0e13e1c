package beam

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"pencilbeam/pkg/transform"
)

// Plan describes one beam as read from a YAML plan file.
type Plan struct {
	// Name identifies the beam in reports.
	Name string `yaml:"name"`

	// GantryAngle and CouchAngle are in degrees.
	GantryAngle float64 `yaml:"gantryAngle"`
	CouchAngle  float64 `yaml:"couchAngle"`

	// Isocenter is the patient-space origin of the gantry frame in mm.
	Isocenter transform.Vec3 `yaml:"isocenter"`

	// SpotGrid describes the spot raster in gantry space.
	SpotGrid SpotGrid `yaml:"spotGrid"`

	// Layers lists the energy layers in delivery order.
	Layers []Layer `yaml:"layers"`

	RaySpacing     transform.Vec2 `yaml:"raySpacing"`
	Steps          uint32         `yaml:"steps"`
	SourceDistance transform.Vec2 `yaml:"sourceDistance"`

	// DoseGrid is the axis-aligned dose accumulation grid.
	DoseGrid DoseGrid `yaml:"doseGrid"`
}

// SpotGrid holds the parameters of the spot index transform.
type SpotGrid struct {
	Delta  transform.Vec3          `yaml:"delta"`
	Offset transform.Vec3          `yaml:"offset"`
	Layers []transform.LayerRaster `yaml:"layers,omitempty"`
}

// Layer is one energy layer with its spot weights given row by row.
type Layer struct {
	Energy  float64        `yaml:"energy"`
	Sigma   transform.Vec2 `yaml:"sigma"`
	Weights [][]float32    `yaml:"weights"`
}

// DoseGrid is a dose grid aligned with the patient axes.
type DoseGrid struct {
	Dims    [3]int         `yaml:"dims"`
	Spacing transform.Vec3 `yaml:"spacing"`
	Origin  transform.Vec3 `yaml:"origin"`
}

// IndexToPhysical returns the dose-index to patient transform of the grid.
func (d DoseGrid) IndexToPhysical() transform.AffineTransform3 {
	return transform.ImageToPhysical(transform.Identity3(), d.Spacing, d.Origin)
}

// LoadPlan reads a plan from a YAML file and validates it.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("error parsing plan file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// RasterSize returns the (columns, rows) of the spot weight maps, taken
// from the first layer.
func (p *Plan) RasterSize() (cols, rows int) {
	if len(p.Layers) == 0 || len(p.Layers[0].Weights) == 0 {
		return 0, 0
	}
	return len(p.Layers[0].Weights[0]), len(p.Layers[0].Weights)
}

// Validate checks the parts of the plan that BeamSettings cannot: the
// shape of the weight maps, the angles and the dose grid.
func (p *Plan) Validate() error {
	if len(p.Layers) == 0 {
		return configErr("layers", "no energy layers")
	}
	cols, rows := p.RasterSize()
	if cols == 0 || rows == 0 {
		return configErr("layers", "layer 0 has an empty weight map")
	}
	for i, l := range p.Layers {
		if len(l.Weights) != rows {
			return configErr("layers", "layer %d has %d rows, expected %d", i, len(l.Weights), rows)
		}
		for r, row := range l.Weights {
			if len(row) != cols {
				return configErr("layers", "layer %d row %d has %d columns, expected %d", i, r, len(row), cols)
			}
			for c, w := range row {
				if w < 0 || math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
					return configErr("layers", "layer %d spot (%d,%d) has weight %g", i, r, c, w)
				}
			}
		}
	}
	if math.IsNaN(p.GantryAngle) || math.IsInf(p.GantryAngle, 0) ||
		math.IsNaN(p.CouchAngle) || math.IsInf(p.CouchAngle, 0) {
		return configErr("angles", "gantry %g and couch %g must be finite", p.GantryAngle, p.CouchAngle)
	}
	if !p.Isocenter.IsFinite() {
		return configErr("isocenter", "%v is not finite", p.Isocenter)
	}
	d := p.DoseGrid
	if d.Dims[0] <= 0 || d.Dims[1] <= 0 || d.Dims[2] <= 0 {
		return configErr("doseGrid", "dimensions %v must be positive", d.Dims)
	}
	if !d.Spacing.IsFinite() || d.Spacing.X <= 0 || d.Spacing.Y <= 0 || d.Spacing.Z <= 0 {
		return configErr("doseGrid", "spacing %v must be positive", d.Spacing)
	}
	if !d.Origin.IsFinite() {
		return configErr("doseGrid", "origin %v is not finite", d.Origin)
	}
	return nil
}

// beamAxes maps gantry axes to patient axes at gantry and couch angle 0:
// gantry x to patient x, gantry y to patient -z and the beam direction
// (gantry z) to patient +y, i.e. a beam entering from the anterior side.
var beamAxes = transform.FromColumns(
	transform.Vec3{X: 1},
	transform.Vec3{Z: -1},
	transform.Vec3{Y: 1},
)

// GantryToPhysical returns the gantry to patient transform for the given
// angles in degrees: the gantry rotates about the patient z axis, the
// couch about the vertical y axis, and the gantry origin sits on the
// isocenter.
func GantryToPhysical(gantryDeg, couchDeg float64, isocenter transform.Vec3) transform.AffineTransform3 {
	g := gantryDeg * math.Pi / 180
	c := couchDeg * math.Pi / 180
	m := transform.RotationY(c).Mul(transform.RotationZ(g)).Mul(beamAxes)
	return transform.NewAffine(m, isocenter)
}

// Transforms returns the gantry to image-index and gantry to dose-index
// transforms of the plan, given the image's index to patient transform.
func (p *Plan) Transforms(imageToPhysical transform.AffineTransform3) (toImage, toDose transform.AffineTransform3, err error) {
	ganToPhys := GantryToPhysical(p.GantryAngle, p.CouchAngle, p.Isocenter)

	physToIm, err := imageToPhysical.Invert()
	if err != nil {
		return toImage, toDose, &ConfigurationError{Field: "imageTransform", Reason: "image transform is not invertible", Err: err}
	}
	physToDose, err := p.DoseGrid.IndexToPhysical().Invert()
	if err != nil {
		return toImage, toDose, &ConfigurationError{Field: "doseGrid", Reason: "dose grid transform is not invertible", Err: err}
	}
	return transform.Compose(physToIm, ganToPhys), transform.Compose(physToDose, ganToPhys), nil
}

// Build allocates the weight image through alloc, fills it from the plan
// and returns validated BeamSettings. The image stays owned by alloc; it
// is released again only if construction fails.
func (p *Plan) Build(alloc Allocator, imageToPhysical transform.AffineTransform3) (*BeamSettings, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	spotToGan, err := transform.NewIndexTransform(p.SpotGrid.Delta, p.SpotGrid.Offset, p.SpotGrid.Layers...)
	if err != nil {
		return nil, &ConfigurationError{Field: "spotGrid", Reason: "invalid spot raster", Err: err}
	}
	toImage, toDose, err := p.Transforms(imageToPhysical)
	if err != nil {
		return nil, err
	}

	cols, rows := p.RasterSize()
	img, err := alloc.Alloc([3]int{cols, rows, len(p.Layers)})
	if err != nil {
		return nil, fmt.Errorf("allocating weight image: %w", err)
	}
	energies := make([]float64, len(p.Layers))
	sigmas := make([]transform.Vec2, len(p.Layers))
	for l, layer := range p.Layers {
		energies[l] = layer.Energy
		sigmas[l] = layer.Sigma
		for y, row := range layer.Weights {
			for x, w := range row {
				img.Set(x, y, l, w)
			}
		}
	}

	settings, err := New(Params{
		Weights:         Borrow(img),
		Energies:        energies,
		SpotSigmas:      sigmas,
		RaySpacing:      p.RaySpacing,
		Steps:           p.Steps,
		SourceDist:      p.SourceDistance,
		SpotIdxToGantry: spotToGan,
		GantryToImIdx:   toImage,
		GantryToDoseIdx: toDose,
	})
	if err != nil {
		if ferr := alloc.Free(img); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return nil, err
	}
	return settings, nil
}
