// Package transform provides the coordinate algebra shared by the image
// geometry and beam configuration layers: 3-vectors, 3x3 matrices, general
// affine transforms and the spot-raster index transform.
//
// All values are small immutable structs and every operation is a pure
// function, so transforms may be shared freely between goroutines.
package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vec2 is a 2-component vector, used for per-axis quantities such as ray
// spacing, spot sigmas and source distances.
type Vec2 struct {
	X, Y float64
}

// Vec3 is a point or direction in 3D space.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns s·v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the scalar product of v and w.
func (v Vec3) Dot(w Vec3) float64 { return v.X*w.X + v.Y*w.Y + v.Z*w.Z }

// Cross returns v × w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v.Y*w.Z - v.Z*w.Y,
		v.Z*w.X - v.X*w.Z,
		v.X*w.Y - v.Y*w.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// IsFinite reports whether no component is NaN or infinite.
func (v Vec3) IsFinite() bool { return finite(v.X) && finite(v.Y) && finite(v.Z) }

// IsFinite reports whether no component is NaN or infinite.
func (v Vec2) IsFinite() bool { return finite(v.X) && finite(v.Y) }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Matrix3x3 is a row-major 3x3 matrix: m[row][col].
type Matrix3x3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Matrix3x3 {
	return Diag(Vec3{1, 1, 1})
}

// Diag returns the diagonal matrix with d on its diagonal.
func Diag(d Vec3) Matrix3x3 {
	return Matrix3x3{
		{d.X, 0, 0},
		{0, d.Y, 0},
		{0, 0, d.Z},
	}
}

// FromColumns builds a matrix whose columns are c0, c1 and c2.
func FromColumns(c0, c1, c2 Vec3) Matrix3x3 {
	return Matrix3x3{
		{c0.X, c1.X, c2.X},
		{c0.Y, c1.Y, c2.Y},
		{c0.Z, c1.Z, c2.Z},
	}
}

// Column returns column j of m.
func (m Matrix3x3) Column(j int) Vec3 {
	return Vec3{m[0][j], m[1][j], m[2][j]}
}

// Mul returns m·n.
func (m Matrix3x3) Mul(n Matrix3x3) Matrix3x3 {
	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

// MulVec returns m·v.
func (m Matrix3x3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// ScaleColumns returns m·diag(s), scaling column j of m by the j-th
// component of s. This is how voxel spacing is folded into direction cosines.
func (m Matrix3x3) ScaleColumns(s Vec3) Matrix3x3 {
	f := [3]float64{s.X, s.Y, s.Z}
	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] * f[j]
		}
	}
	return r
}

// Transpose returns the transpose of m.
func (m Matrix3x3) Transpose() Matrix3x3 {
	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Det returns the determinant of m.
func (m Matrix3x3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// IsFinite reports whether every entry of m is finite.
func (m Matrix3x3) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !finite(m[i][j]) {
				return false
			}
		}
	}
	return true
}

// SingularTolerance bounds the normalised determinant below which a matrix is
// treated as singular. The determinant is divided by the product of the
// column norms, which puts it in [-1, 1] regardless of voxel size.
const SingularTolerance = 1e-12

// normalisedDet returns det(m) / (|c0|·|c1|·|c2|), or 0 if a column is zero.
func (m Matrix3x3) normalisedDet() float64 {
	scale := m.Column(0).Norm() * m.Column(1).Norm() * m.Column(2).Norm()
	if scale == 0 {
		return 0
	}
	return m.Det() / scale
}

// Invertible reports whether m can be inverted within SingularTolerance.
func (m Matrix3x3) Invertible() bool {
	return m.IsFinite() && math.Abs(m.normalisedDet()) > SingularTolerance
}

// Inverse returns m⁻¹. It fails with a *SingularTransformError when m is
// singular within SingularTolerance or gonum reports it as ill-conditioned.
func (m Matrix3x3) Inverse() (Matrix3x3, error) {
	if !m.Invertible() {
		return Matrix3x3{}, &SingularTransformError{Det: m.Det()}
	}

	a := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		// mat.Condition is returned for ill-conditioned input; anything else
		// is an exact singularity. Both mean the transform cannot be undone.
		return Matrix3x3{}, &SingularTransformError{Det: m.Det(), Err: err}
	}

	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = inv.At(i, j)
		}
	}
	return r, nil
}

// RotationX returns the right-handed rotation by rad radians about the X axis.
func RotationX(rad float64) Matrix3x3 {
	s, c := math.Sincos(rad)
	return Matrix3x3{
		{1, 0, 0},
		{0, c, -s},
		{0, s, c},
	}
}

// RotationY returns the right-handed rotation by rad radians about the Y axis.
func RotationY(rad float64) Matrix3x3 {
	s, c := math.Sincos(rad)
	return Matrix3x3{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}
}

// RotationZ returns the right-handed rotation by rad radians about the Z axis.
func RotationZ(rad float64) Matrix3x3 {
	s, c := math.Sincos(rad)
	return Matrix3x3{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}
