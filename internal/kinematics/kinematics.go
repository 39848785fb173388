// Package kinematics holds the rigid-body kinematics record shared by the
// estimators and conversions to and from transform/velocity pairs.
//
// A Kinematics value describes a frame B inside a frame A: the position and
// orientation of B, and the linear/angular velocity and acceleration of B's
// origin, all expressed in A. Composition A∘B maps a record expressed in B
// into A, so chains read left to right from the outermost frame.
package kinematics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Flags marks which fields of a Kinematics record are meaningful.
type Flags uint8

const (
	FlagPosition Flags = 1 << iota
	FlagOrientation
	FlagLinVel
	FlagAngVel
	FlagLinAcc
	FlagAngAcc

	FlagPose = FlagPosition | FlagOrientation
	FlagVel  = FlagLinVel | FlagAngVel
	FlagAcc  = FlagLinAcc | FlagAngAcc
	FlagAll  = FlagPose | FlagVel | FlagAcc
)

// Kinematics is a pose plus its first and second derivatives.
// Fields whose flag is unset are kept at zero (identity orientation).
type Kinematics struct {
	Position    r3.Vec
	Orientation Rotation
	LinVel      r3.Vec
	AngVel      r3.Vec
	LinAcc      r3.Vec
	AngAcc      r3.Vec

	Flags Flags
}

// Zero returns the identity kinematics with the given fields flagged valid.
func Zero(flags Flags) Kinematics {
	return Kinematics{Orientation: Identity(), Flags: flags}
}

// Has reports whether every field in f is flagged valid.
func (k Kinematics) Has(f Flags) bool {
	return k.Flags&f == f
}

// Only returns a copy of k restricted to the fields in f.
func (k Kinematics) Only(f Flags) Kinematics {
	out := Zero(k.Flags & f)
	if out.Has(FlagPosition) {
		out.Position = k.Position
	}
	if out.Has(FlagOrientation) {
		out.Orientation = k.Orientation
	}
	if out.Has(FlagLinVel) {
		out.LinVel = k.LinVel
	}
	if out.Has(FlagAngVel) {
		out.AngVel = k.AngVel
	}
	if out.Has(FlagLinAcc) {
		out.LinAcc = k.LinAcc
	}
	if out.Has(FlagAngAcc) {
		out.AngAcc = k.AngAcc
	}
	return out
}

// Compose returns k∘b: b is expressed in the frame described by k and the
// result is expressed in k's parent frame. Fields absent from an operand
// count as zero, and the result carries the union of both flag sets.
func (k Kinematics) Compose(b Kinematics) Kinematics {
	R := k.Orientation
	w := k.AngVel
	rb := R.Apply(b.Position)
	rvb := R.Apply(b.LinVel)
	rwb := R.Apply(b.AngVel)

	out := Kinematics{Flags: k.Flags | b.Flags}
	out.Position = r3.Add(k.Position, rb)
	out.Orientation = R.Mul(b.Orientation)
	out.AngVel = r3.Add(w, rwb)
	out.LinVel = r3.Add(r3.Add(k.LinVel, r3.Cross(w, rb)), rvb)
	out.AngAcc = r3.Add(r3.Add(k.AngAcc, r3.Cross(w, rwb)), R.Apply(b.AngAcc))

	out.LinAcc = k.LinAcc
	out.LinAcc = r3.Add(out.LinAcc, r3.Cross(k.AngAcc, rb))
	out.LinAcc = r3.Add(out.LinAcc, r3.Cross(w, r3.Cross(w, rb)))
	out.LinAcc = r3.Add(out.LinAcc, r3.Scale(2, r3.Cross(w, rvb)))
	out.LinAcc = r3.Add(out.LinAcc, R.Apply(b.LinAcc))
	return out.Only(out.Flags)
}

// Inverse returns the kinematics of the parent frame expressed in k's frame,
// so that k.Compose(k.Inverse()) is the zero kinematics.
func (k Kinematics) Inverse() Kinematics {
	Rt := k.Orientation.Inverse()
	p, v, w, a, al := k.Position, k.LinVel, k.AngVel, k.LinAcc, k.AngAcc

	out := Kinematics{Flags: k.Flags}
	out.Orientation = Rt
	out.Position = Rt.Apply(r3.Scale(-1, p))
	out.AngVel = Rt.Apply(r3.Scale(-1, w))
	out.LinVel = Rt.Apply(r3.Sub(r3.Cross(w, p), v))
	out.AngAcc = Rt.Apply(r3.Scale(-1, al))

	acc := r3.Cross(al, p)
	acc = r3.Sub(acc, r3.Cross(w, r3.Cross(w, p)))
	acc = r3.Add(acc, r3.Scale(2, r3.Cross(w, v)))
	acc = r3.Sub(acc, a)
	out.LinAcc = Rt.Apply(acc)
	return out.Only(out.Flags)
}

// IsFinite reports whether no field contains a NaN or an infinity.
func (k Kinematics) IsFinite() bool {
	q := k.Orientation.Quat()
	for _, v := range []r3.Vec{k.Position, k.LinVel, k.AngVel, k.LinAcc, k.AngAcc, {X: q.Real, Y: q.Imag, Z: q.Jmag}, {X: q.Kmag}} {
		if !finiteVec(v) {
			return false
		}
	}
	return true
}

func finiteVec(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Yaw is the heading of the orientation, see Rotation.Yaw.
func (k Kinematics) Yaw() float64 {
	return k.Orientation.Yaw()
}
