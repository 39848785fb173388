package kinematics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a unit quaternion orientation. The zero value is the identity.
type Rotation struct {
	q quat.Number
}

// Identity returns the identity rotation.
func Identity() Rotation {
	return Rotation{q: quat.Number{Real: 1}}
}

// FromQuat builds a rotation from a (not necessarily normalised) quaternion.
// A quaternion too close to zero yields the identity; a non-finite one
// stays non-finite so that Kinematics.IsFinite can report it.
func FromQuat(q quat.Number) Rotation {
	n := quat.Abs(q)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Rotation{q: quat.Number{Real: math.NaN()}}
	}
	if n < 1e-12 {
		return Identity()
	}
	q = quat.Scale(1/n, q)
	// Keep the scalar part non-negative so that equal rotations compare equal.
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return Rotation{q: q}
}

// FromAxisAngle returns the rotation of angle radians about axis.
// A zero axis yields the identity.
func FromAxisAngle(axis r3.Vec, angle float64) Rotation {
	n := r3.Norm(axis)
	if n < 1e-12 {
		return Identity()
	}
	u := r3.Scale(math.Sin(angle/2)/n, axis)
	return FromQuat(quat.Number{Real: math.Cos(angle / 2), Imag: u.X, Jmag: u.Y, Kmag: u.Z})
}

// FromRotationVector is the exponential map: the rotation of |v| radians about v.
func FromRotationVector(v r3.Vec) Rotation {
	return FromAxisAngle(v, r3.Norm(v))
}

// FromMatrix converts a 3x3 rotation matrix into a Rotation.
func FromMatrix(m mat.Matrix) Rotation {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return FromQuat(q)
}

func (r Rotation) quat() quat.Number {
	if r.q == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return r.q
}

// Quat returns the unit quaternion (w, x, y, z) of the rotation.
func (r Rotation) Quat() quat.Number {
	return r.quat()
}

// Apply rotates v.
func (r Rotation) Apply(v r3.Vec) r3.Vec {
	q := r.quat()
	u := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	t := r3.Scale(2, r3.Cross(u, v))
	return r3.Add(r3.Add(v, r3.Scale(q.Real, t)), r3.Cross(u, t))
}

// Inverse returns the transpose rotation.
func (r Rotation) Inverse() Rotation {
	return Rotation{q: quat.Conj(r.quat())}
}

// Mul returns r∘o: o is applied first.
func (r Rotation) Mul(o Rotation) Rotation {
	return FromQuat(quat.Mul(r.quat(), o.quat()))
}

// AxisAngle returns a unit axis and an angle in [0, π]. The identity
// returns the z axis and a zero angle.
func (r Rotation) AxisAngle() (r3.Vec, float64) {
	q := r.quat()
	u := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := r3.Norm(u)
	if s < 1e-12 {
		return r3.Vec{Z: 1}, 0
	}
	return r3.Scale(1/s, u), 2 * math.Atan2(s, q.Real)
}

// RotationVector is the logarithm map, inverse of FromRotationVector.
func (r Rotation) RotationVector() r3.Vec {
	axis, angle := r.AxisAngle()
	return r3.Scale(angle, axis)
}

// Matrix returns the 3x3 rotation matrix.
func (r Rotation) Matrix() *mat.Dense {
	ex := r.Apply(r3.Vec{X: 1})
	ey := r.Apply(r3.Vec{Y: 1})
	ez := r.Apply(r3.Vec{Z: 1})
	return mat.NewDense(3, 3, []float64{
		ex.X, ey.X, ez.X,
		ex.Y, ey.Y, ez.Y,
		ex.Z, ey.Z, ez.Z,
	})
}

// Yaw returns the heading of the rotated x axis, falling back to the
// rotated y axis when x is nearly vertical.
func (r Rotation) Yaw() float64 {
	ex := r.Apply(r3.Vec{X: 1})
	if math.Hypot(ex.X, ex.Y) > 1e-6 {
		return math.Atan2(ex.Y, ex.X)
	}
	ey := r.Apply(r3.Vec{Y: 1})
	return math.Atan2(-ey.X, ey.Y)
}

// Angle returns the angle of the relative rotation between r and o.
func (r Rotation) Angle(o Rotation) float64 {
	_, a := r.Inverse().Mul(o).AxisAngle()
	return a
}
