package transform

import "math"

// AffineTransform3 maps x to M·x + T.
//
// Composition is associative but not commutative; see Compose for the
// argument order.
type AffineTransform3 struct {
	M Matrix3x3
	T Vec3
}

// NewAffine returns the transform x ↦ m·x + t.
func NewAffine(m Matrix3x3, t Vec3) AffineTransform3 {
	return AffineTransform3{M: m, T: t}
}

// Identity returns the identity transform.
func Identity() AffineTransform3 {
	return AffineTransform3{M: Identity3()}
}

// Translation returns the pure translation x ↦ x + t.
func Translation(t Vec3) AffineTransform3 {
	return AffineTransform3{M: Identity3(), T: t}
}

// ImageToPhysical builds the voxel-index to patient-space transform of an
// image series: M = direction·diag(spacing), T = origin.
func ImageToPhysical(direction Matrix3x3, spacing, origin Vec3) AffineTransform3 {
	return AffineTransform3{M: direction.ScaleColumns(spacing), T: origin}
}

// Apply returns M·x + T.
func (t AffineTransform3) Apply(x Vec3) Vec3 {
	return t.M.MulVec(x).Add(t.T)
}

// Compose returns the transform that applies b first and then a:
// x ↦ a.M·(b.M·x + b.T) + a.T.
func Compose(a, b AffineTransform3) AffineTransform3 {
	return AffineTransform3{
		M: a.M.Mul(b.M),
		T: a.M.MulVec(b.T).Add(a.T),
	}
}

// Chain composes ts so that the last transform is applied first, i.e.
// Chain(a, b, c) == Compose(a, Compose(b, c)). Chain() is the identity.
func Chain(ts ...AffineTransform3) AffineTransform3 {
	r := Identity()
	for _, t := range ts {
		r = Compose(r, t)
	}
	return r
}

// Invert returns the inverse transform x ↦ M⁻¹·x - M⁻¹·T, or a
// *SingularTransformError if M is not invertible.
func (t AffineTransform3) Invert() (AffineTransform3, error) {
	inv, err := t.M.Inverse()
	if err != nil {
		return AffineTransform3{}, err
	}
	return AffineTransform3{M: inv, T: inv.MulVec(t.T).Scale(-1)}, nil
}

// Invertible reports whether Invert would succeed.
func (t AffineTransform3) Invertible() bool {
	return t.M.Invertible()
}

// IsFinite reports whether every coefficient of t is finite.
func (t AffineTransform3) IsFinite() bool {
	return t.M.IsFinite() && t.T.IsFinite()
}

// ApproxEqual reports whether every coefficient of a and b differs by at
// most tol.
func ApproxEqual(a, b AffineTransform3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a.M[i][j]-b.M[i][j]) > tol {
				return false
			}
		}
	}
	d := a.T.Sub(b.T)
	return math.Abs(d.X) <= tol && math.Abs(d.Y) <= tol && math.Abs(d.Z) <= tol
}
