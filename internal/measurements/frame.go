// Package measurements defines the per-cycle sensor snapshot consumed by the
// estimator. The robot kinematic model is external: every kinematics value
// in a Frame has already been computed by forward kinematics.
//
// Two reference frames appear throughout:
//   - "Fb" values are expressed in the floating-base frame, i.e. the robot
//     configuration with its base brought back to the origin;
//   - "World" values are expressed in the world frame of the control model
//     and are used as contact references when no odometry is performed.
package measurements

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
)

// Wrench is a force and a torque expressed in a given frame.
type Wrench struct {
	Force  r3.Vec
	Torque r3.Vec
}

// Add returns the component-wise sum.
func (w Wrench) Add(o Wrench) Wrench {
	return Wrench{Force: r3.Add(w.Force, o.Force), Torque: r3.Add(w.Torque, o.Torque)}
}

// Vector returns the wrench as (fx, fy, fz, tx, ty, tz).
func (w Wrench) Vector() [6]float64 {
	return [6]float64{w.Force.X, w.Force.Y, w.Force.Z, w.Torque.X, w.Torque.Y, w.Torque.Z}
}

// Express moves the wrench measured in a frame S into the frame C given
// the kinematics of S in C: F_c = R·F, τ_c = R·τ + p × F_c.
func (w Wrench) Express(sensorInContact kinematics.Kinematics) Wrench {
	f := sensorInContact.Orientation.Apply(w.Force)
	tq := r3.Add(sensorInContact.Orientation.Apply(w.Torque), r3.Cross(sensorInContact.Position, f))
	return Wrench{Force: f, Torque: tq}
}

// IMUReading is one inertial sensor sample.
type IMUReading struct {
	Name   string
	Accel  r3.Vec // specific force in the IMU frame (m/s²)
	Gyro   r3.Vec // angular velocity in the IMU frame (rad/s)
	FbKine kinematics.Kinematics
}

// CenterOfMass holds the CoM kinematics in the floating-base frame.
type CenterOfMass struct {
	Position     r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
}

// Kinematics returns the CoM as a kinematics record with identity orientation.
func (c CenterOfMass) Kinematics() kinematics.Kinematics {
	k := kinematics.Zero(kinematics.FlagPosition | kinematics.FlagLinVel | kinematics.FlagLinAcc)
	k.Position = c.Position
	k.LinVel = c.Velocity
	k.LinAcc = c.Acceleration
	return k
}

// ForceSensorReading is a gravity-compensated wrench measurement together
// with the kinematics of the sensor frame.
type ForceSensorReading struct {
	Wrench    Wrench // in the sensor frame
	FbKine    kinematics.Kinematics
	WorldKine kinematics.Kinematics
}

// ForceNorm returns the norm of the measured force.
func (r ForceSensorReading) ForceNorm() float64 {
	return r3.Norm(r.Wrench.Force)
}

// SurfaceReading holds the kinematics of a candidate contact surface and an
// optional externally computed contact signal (solver normal force or
// geometric test). When Signal is NaN the detector falls back to the force
// norm of the surface's sensor.
type SurfaceReading struct {
	Sensor    string
	FbKine    kinematics.Kinematics
	WorldKine kinematics.Kinematics
	Signal    float64
}

// HasSignal reports whether an external contact signal was supplied.
func (r SurfaceReading) HasSignal() bool {
	return !math.IsNaN(r.Signal)
}

// SolverEventKind tells whether a planner added or removed a contact.
type SolverEventKind string

const (
	SolverAdd    SolverEventKind = "add"
	SolverRemove SolverEventKind = "remove"
)

// SolverEvent is a contact change requested by the trajectory/contact planner.
type SolverEvent struct {
	Kind    SolverEventKind
	Surface string
	Sensor  string
}

// Frame is everything the estimator consumes during one control cycle.
type Frame struct {
	Tick         int64
	Time         time.Time
	IMUs         []IMUReading
	CoM          CenterOfMass
	ForceSensors map[string]ForceSensorReading
	Surfaces     map[string]SurfaceReading
	SolverEvents []SolverEvent

	// BaseWorldKine is the floating base of the control model in its world
	// frame. It seeds the estimators on the first cycle; a zero Flags value
	// starts them at the origin.
	BaseWorldKine kinematics.Kinematics
}
