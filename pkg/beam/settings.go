// Package beam defines the per-beam delivery geometry handed to the dose
// engine: the spot weight map, per-energy-layer parameters and the
// transforms tying the spot raster to image and dose-grid index spaces.
package beam

import (
	"math"

	"pencilbeam/pkg/transform"
)

// Params holds the constructor arguments of BeamSettings.
type Params struct {
	// Weights is the borrowed spot-weight image, one layer per energy.
	Weights WeightImage
	// Energies lists the beam energy of each layer in MeV.
	Energies []float64
	// SpotSigmas lists the lateral spot sigma (x, y) of each layer in mm.
	SpotSigmas []transform.Vec2
	// RaySpacing is the spot grid pitch in mm.
	RaySpacing transform.Vec2
	// Steps is the number of transport steps along the beam.
	Steps uint32
	// SourceDist is the virtual source distance per transverse axis in mm.
	SourceDist transform.Vec2
	// SpotIdxToGantry maps spot indices to gantry space.
	SpotIdxToGantry transform.IndexTransform3
	// GantryToImIdx maps gantry space to image voxel indices.
	GantryToImIdx transform.AffineTransform3
	// GantryToDoseIdx maps gantry space to dose-grid indices.
	GantryToDoseIdx transform.AffineTransform3
}

// BeamSettings is the immutable delivery geometry of one beam. It is built
// once per beam and may then be shared by any number of readers.
//
// The energy and sigma slices returned by the accessors are the settings'
// own storage. Callers must not modify them and must not keep them beyond
// the lifetime of the settings.
type BeamSettings struct {
	weights    WeightImage
	energies   []float64
	sigmas     []transform.Vec2
	raySpacing transform.Vec2
	steps      uint32
	sourceDist transform.Vec2
	spotToGan  transform.IndexTransform3
	ganToIm    transform.AffineTransform3
	ganToDose  transform.AffineTransform3
}

// New validates p and returns the settings. Any violated invariant is
// reported as a *ConfigurationError:
//   - at least one energy layer, and one sigma pair per energy
//   - finite, positive energies and sigmas
//   - positive ray spacing and step count
//   - finite, non-zero source distances
//   - a weight image with one layer per energy
//   - a bijective spot index transform and invertible affine transforms
func New(p Params) (*BeamSettings, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	return &BeamSettings{
		weights:    p.Weights,
		energies:   append([]float64(nil), p.Energies...),
		sigmas:     append([]transform.Vec2(nil), p.SpotSigmas...),
		raySpacing: p.RaySpacing,
		steps:      p.Steps,
		sourceDist: p.SourceDist,
		spotToGan:  p.SpotIdxToGantry,
		ganToIm:    p.GantryToImIdx,
		ganToDose:  p.GantryToDoseIdx,
	}, nil
}

func validate(p Params) error {
	if len(p.Energies) == 0 {
		return configErr("energies", "no energy layers")
	}
	if len(p.Energies) != len(p.SpotSigmas) {
		return configErr("spotSigmas", "%d sigma pairs for %d energy layers", len(p.SpotSigmas), len(p.Energies))
	}
	for i, e := range p.Energies {
		if math.IsNaN(e) || math.IsInf(e, 0) || e <= 0 {
			return configErr("energies", "layer %d energy %g is not positive", i, e)
		}
	}
	for i, s := range p.SpotSigmas {
		if !s.IsFinite() || s.X <= 0 || s.Y <= 0 {
			return configErr("spotSigmas", "layer %d sigma %v is not positive", i, s)
		}
	}
	if !p.RaySpacing.IsFinite() || p.RaySpacing.X <= 0 || p.RaySpacing.Y <= 0 {
		return configErr("raySpacing", "%v is not positive", p.RaySpacing)
	}
	if p.Steps == 0 {
		return configErr("steps", "must be positive")
	}
	if !p.SourceDist.IsFinite() || p.SourceDist.X == 0 || p.SourceDist.Y == 0 {
		return configErr("sourceDist", "%v must be finite and non-zero", p.SourceDist)
	}

	if !p.Weights.Valid() {
		return configErr("weights", "no weight image")
	}
	img := p.Weights.Image()
	if img.Layers() != len(p.Energies) {
		return configErr("weights", "image has %d layers for %d energy layers", img.Layers(), len(p.Energies))
	}
	if len(img.Data) != img.Dims[0]*img.Dims[1]*img.Dims[2] {
		return configErr("weights", "image buffer holds %d values for dimensions %v", len(img.Data), img.Dims)
	}

	if !p.SpotIdxToGantry.Valid() {
		return configErr("spotIdxToGantry", "spot raster has zero pitch")
	}
	if err := checkAffine(p.GantryToImIdx); err != nil {
		err.Field = "gantryToImIdx"
		return err
	}
	if err := checkAffine(p.GantryToDoseIdx); err != nil {
		err.Field = "gantryToDoseIdx"
		return err
	}
	return nil
}

func checkAffine(t transform.AffineTransform3) *ConfigurationError {
	if !t.IsFinite() {
		return &ConfigurationError{Reason: "non-finite coefficients"}
	}
	if _, err := t.Invert(); err != nil {
		return &ConfigurationError{Reason: "linear part is not invertible", Err: err}
	}
	return nil
}

// Weights returns the borrowed spot-weight image. The dose engine reads
// and writes the buffer in place.
func (b *BeamSettings) Weights() WeightImage { return b.weights }

// Energies returns the per-layer beam energies.
func (b *BeamSettings) Energies() []float64 { return b.energies }

// SpotSigmas returns the per-layer lateral spot sigmas.
func (b *BeamSettings) SpotSigmas() []transform.Vec2 { return b.sigmas }

// RaySpacing returns the spot grid pitch.
func (b *BeamSettings) RaySpacing() transform.Vec2 { return b.raySpacing }

// Steps returns the number of transport steps.
func (b *BeamSettings) Steps() uint32 { return b.steps }

// SourceDist returns the virtual source distance per transverse axis.
func (b *BeamSettings) SourceDist() transform.Vec2 { return b.sourceDist }

// SpotIdxToGantry returns the spot-index to gantry transform.
func (b *BeamSettings) SpotIdxToGantry() transform.IndexTransform3 { return b.spotToGan }

// GantryToImIdx returns the gantry to image-index transform.
func (b *BeamSettings) GantryToImIdx() transform.AffineTransform3 { return b.ganToIm }

// GantryToDoseIdx returns the gantry to dose-grid-index transform.
func (b *BeamSettings) GantryToDoseIdx() transform.AffineTransform3 { return b.ganToDose }
