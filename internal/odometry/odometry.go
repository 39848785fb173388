// Package odometry recovers the rest (undeformed) pose of a contact from its
// estimated deformed pose and the wrench it transmits, by inverting a linear
// visco-elastic contact model.
package odometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

// Mode selects how contact rest poses are obtained.
type Mode string

const (
	// ModeNone uses the control model pose of the contact directly.
	ModeNone Mode = "none"
	// Mode6D inverts the contact model on all six degrees of freedom.
	Mode6D Mode = "6d"
	// ModeFlat is Mode6D with the rest height pinned to the ground height.
	ModeFlat Mode = "flat"
)

var (
	ErrUnknownMode = errors.New("odometry: unknown mode")
	ErrBadGains    = errors.New("odometry: stiffness must be positive and damping non-negative")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNone, Mode6D, ModeFlat:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Enabled reports whether the mode performs odometry.
func (m Mode) Enabled() bool { return m == Mode6D || m == ModeFlat }

// Gains are the diagonals of the contact stiffness and damping matrices.
type Gains struct {
	LinStiffness r3.Vec
	LinDamping   r3.Vec
	AngStiffness r3.Vec
	AngDamping   r3.Vec
}

// Validate checks every stiffness is strictly positive.
func (g Gains) Validate() error {
	for _, v := range []r3.Vec{g.LinStiffness, g.AngStiffness} {
		if !(v.X > 0 && v.Y > 0 && v.Z > 0) {
			return fmt.Errorf("%w: stiffness %v", ErrBadGains, v)
		}
	}
	for _, v := range []r3.Vec{g.LinDamping, g.AngDamping} {
		if v.X < 0 || v.Y < 0 || v.Z < 0 {
			return fmt.Errorf("%w: damping %v", ErrBadGains, v)
		}
	}
	return nil
}

func mulDiag(d, v r3.Vec) r3.Vec { return r3.Vec{X: d.X * v.X, Y: d.Y * v.Y, Z: d.Z * v.Z} }

func divDiag(d, v r3.Vec) r3.Vec { return r3.Vec{X: v.X / d.X, Y: v.Y / d.Y, Z: v.Z / d.Z} }

func vel(k kinematics.Kinematics) (lin, ang r3.Vec) {
	if k.Has(kinematics.FlagLinVel) {
		lin = k.LinVel
	}
	if k.Has(kinematics.FlagAngVel) {
		ang = k.AngVel
	}
	return lin, ang
}

// Resolver computes contact rest poses.
type Resolver struct {
	Mode          Mode
	Gains         Gains
	NominalHeight float64
}

// Rest inverts the contact model. deformed is the estimated world pose of
// the contact (with velocities when available) and w the wrench measured in
// the contact frame. A zero corrected torque yields no rotational
// deformation.
func (r Resolver) Rest(deformed kinematics.Kinematics, w measurements.Wrench) kinematics.Kinematics {
	R := deformed.Orientation
	Rt := R.Inverse()
	v, omega := vel(deformed)

	rest := kinematics.Zero(kinematics.FlagPose)
	rest.Position = r3.Add(
		R.Apply(divDiag(r.Gains.LinStiffness, r3.Add(w.Force, Rt.Apply(mulDiag(r.Gains.LinDamping, v))))),
		deformed.Position,
	)

	tq := r3.Add(w.Torque, Rt.Apply(mulDiag(r.Gains.AngDamping, omega)))
	diff := r3.Scale(-2, R.Apply(divDiag(r.Gains.AngStiffness, tq)))
	n := r3.Norm(diff)
	if n == 0 || math.IsNaN(n) {
		rest.Orientation = R
	} else {
		s := math.Max(-1, math.Min(1, n/2))
		flex := kinematics.FromAxisAngle(r3.Scale(1/n, diff), math.Asin(s))
		rest.Orientation = flex.Inverse().Mul(R)
	}

	if r.Mode == ModeFlat {
		rest.Position.Z = r.NominalHeight
	}
	return rest
}

// Wrench is the forward contact model: the wrench, in the contact frame, a
// contact resting at rest produces when deformed to deformed. Rest and
// Wrench are inverse of each other for rotational deformations below a
// quarter turn.
func (g Gains) Wrench(rest, deformed kinematics.Kinematics) measurements.Wrench {
	R := deformed.Orientation
	Rt := R.Inverse()
	v, omega := vel(deformed)

	f := r3.Sub(
		mulDiag(g.LinStiffness, Rt.Apply(r3.Sub(rest.Position, deformed.Position))),
		Rt.Apply(mulDiag(g.LinDamping, v)),
	)

	flex := R.Mul(rest.Orientation.Inverse())
	axis, angle := flex.AxisAngle()
	d := r3.Scale(math.Sin(angle), axis)
	tq := r3.Sub(
		r3.Scale(-1, mulDiag(g.AngStiffness, Rt.Apply(d))),
		Rt.Apply(mulDiag(g.AngDamping, omega)),
	)
	return measurements.Wrench{Force: f, Torque: tq}
}
