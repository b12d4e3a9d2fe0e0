package core

import (
	"fmt"
	"math"
)

// Vec3 is a position or difference vector in kilometres. The origin and
// axis frame are always implied by whoever produced it.
type Vec3 struct {
	X, Y, Z float64
}

// VecFromSlice converts untyped input (CSV rows, JSON arrays) into a Vec3.
func VecFromSlice(v []float64) (Vec3, error) {
	if len(v) != 3 {
		return Vec3{}, fmt.Errorf("%w: expected a 3-element vector, got %d elements", ErrInvalidArgument, len(v))
	}
	return Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v multiplied by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// Neg returns -v.
func (v Vec3) Neg() Vec3 {
	return Vec3{X: -v.X, Y: -v.Y, Z: -v.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Unit returns v scaled to length one.
func (v Vec3) Unit() (Vec3, error) {
	n := v.Norm()
	if n == 0 {
		return Vec3{}, fmt.Errorf("%w: cannot normalise a zero-length vector", ErrInvalidArgument)
	}
	return v.Scale(1 / n), nil
}

// IsCloser reports whether a is shorter than b.
func IsCloser(a, b Vec3) bool {
	return a.Norm() < b.Norm()
}

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m·v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns m·o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

// Sub returns m - o.
func (m Mat3) Sub(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] - o[i][j]
		}
	}
	return r
}

// Transpose returns mᵀ.
func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Outer returns the outer product a·bᵀ.
func Outer(a, b Vec3) Mat3 {
	av := [3]float64{a.X, a.Y, a.Z}
	bv := [3]float64{b.X, b.Y, b.Z}
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = av[i] * bv[j]
		}
	}
	return r
}

// ProjectionMatrix returns I - n·nᵀ with n = basis/‖basis‖, the matrix that
// projects points onto the plane through the origin orthogonal to basis.
func ProjectionMatrix(basis Vec3) (Mat3, error) {
	n, err := basis.Unit()
	if err != nil {
		return Mat3{}, fmt.Errorf("projection basis: %w", err)
	}
	return Identity3().Sub(Outer(n, n)), nil
}

// ProjectionMatrixFromSlice is ProjectionMatrix for untyped input.
func ProjectionMatrixFromSlice(basis []float64) (Mat3, error) {
	b, err := VecFromSlice(basis)
	if err != nil {
		return Mat3{}, fmt.Errorf("projection basis: %w", err)
	}
	return ProjectionMatrix(b)
}

// Project applies the projection matrix to point.
func Project(m Mat3, point Vec3) Vec3 {
	return m.MulVec(point)
}

// ProjectSlice is Project for untyped input.
func ProjectSlice(m Mat3, point []float64) (Vec3, error) {
	p, err := VecFromSlice(point)
	if err != nil {
		return Vec3{}, fmt.Errorf("projected point: %w", err)
	}
	return Project(m, p), nil
}

// PointWithinSphere reports whether point lies strictly inside the sphere.
// Points on the surface are outside.
func PointWithinSphere(point, centre Vec3, radius float64) bool {
	d := centre.Sub(point)
	return d.Dot(d) < radius*radius
}

// ResizeToRadius scales vector to the given length along its own direction.
func ResizeToRadius(vector Vec3, radius float64) (Vec3, error) {
	n := vector.Norm()
	if n == 0 {
		return Vec3{}, fmt.Errorf("%w: cannot resize a zero-length vector", ErrInvalidArgument)
	}
	return vector.Scale(radius / n), nil
}

// ElevationAngle returns the elevation (radians) of a vector expressed in a
// local frame whose z axis is "up" and whose x/y axes span the horizon.
func ElevationAngle(local Vec3) float64 {
	return math.Atan2(local.Z, math.Hypot(local.X, local.Y))
}

// Rotation returns the right-handed rotation of angle radians about axis
// (Rodrigues' formula). The axis need not be normalised.
func Rotation(axis Vec3, angle float64) (Mat3, error) {
	k, err := axis.Unit()
	if err != nil {
		return Mat3{}, fmt.Errorf("rotation axis: %w", err)
	}
	c := math.Cos(angle)
	s := math.Sin(angle)
	t := 1 - c
	return Mat3{
		{t*k.X*k.X + c, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y},
		{t*k.X*k.Y + s*k.Z, t*k.Y*k.Y + c, t*k.Y*k.Z - s*k.X},
		{t*k.X*k.Z - s*k.Y, t*k.Y*k.Z + s*k.X, t*k.Z*k.Z + c},
	}, nil
}

// rotationBetween returns the minimal rotation taking the direction of from
// onto the direction of to.
func rotationBetween(from, to Vec3) (Mat3, error) {
	f, err := from.Unit()
	if err != nil {
		return Mat3{}, err
	}
	t, err := to.Unit()
	if err != nil {
		return Mat3{}, err
	}
	axis := f.Cross(t)
	cos := clamp(f.Dot(t), -1, 1)
	if axis.Norm() < parallelTolerance {
		if cos > 0 {
			return Identity3(), nil
		}
		// Antiparallel: any axis orthogonal to from works.
		return Rotation(anyOrthogonal(f), math.Pi)
	}
	return Rotation(axis, math.Acos(cos))
}

const parallelTolerance = 1e-12

func anyOrthogonal(v Vec3) Vec3 {
	if math.Abs(v.X) < 0.9 {
		return v.Cross(Vec3{X: 1})
	}
	return v.Cross(Vec3{Y: 1})
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
