// Package estimator defines the call contract of the primary floating-base
// estimator and ships two implementations: LegOdometry, a contact-anchored
// filter, and Scripted, a deterministic double for exercising callers.
package estimator

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/odometry"
)

var (
	ErrContactExists     = errors.New("estimator: contact already set")
	ErrContactNotSet     = errors.New("estimator: contact not set")
	ErrContactIndex      = errors.New("estimator: contact index out of range")
	ErrContactUpdated    = errors.New("estimator: contact already updated this cycle")
	ErrContactNotUpdated = errors.New("estimator: set contact received no input this cycle")
	ErrIMUIndex          = errors.New("estimator: IMU index out of range")
)

// ContactParams are given once when a contact is registered. Covariances
// are 12x12 over (position, orientation, force, torque).
type ContactParams struct {
	InitCovariance    *mat.SymDense
	ProcessCovariance *mat.SymDense
	Gains             odometry.Gains
}

// ContactEstimate is the estimator's view of one contact.
type ContactEstimate struct {
	Rest           kinematics.Kinematics
	Wrench         measurements.Wrench
	PoseVariance   [6]float64
	WrenchVariance [6]float64
}

// IMUInput is one inertial measurement with its noise and its kinematics
// in the floating-base frame.
type IMUInput struct {
	Accel    r3.Vec
	Gyro     r3.Vec
	AccelCov *mat.SymDense
	GyroCov  *mat.SymDense
	Kine     kinematics.Kinematics
}

// Estimator is the primary estimator contract. Contact inputs must be
// given exactly once per set contact and per cycle, before Update.
// Numerical failure is reported through Faulted, never through errors.
type Estimator interface {
	AddContact(id int, rest kinematics.Kinematics, p ContactParams) error
	UpdateContactWithSensor(id int, w measurements.Wrench, sensorCov *mat.SymDense, input kinematics.Kinematics) error
	UpdateContactWithoutSensor(id int, input kinematics.Kinematics) error
	RemoveContact(id int) error
	NumberOfSetContacts() int
	ContactEstimate(id int) (ContactEstimate, bool)

	SetIMU(index int, in IMUInput) error
	SetCenterOfMass(c measurements.CenterOfMass)
	SetAdditionalWrench(w measurements.Wrench)

	// Update advances the filter one cycle and returns its state vector.
	Update() (*mat.VecDense, error)
	Faulted() bool
	ClearFault()

	// GlobalKinematicsOf maps kinematics expressed in the floating-base
	// frame to the world frame.
	GlobalKinematicsOf(local kinematics.Kinematics) kinematics.Kinematics

	SetWorldCentroidStateKinematics(k kinematics.Kinematics, resetCovariance bool)
	SetStateUnmodeledWrench(w measurements.Wrench, resetCovariance bool)
	SetGyroBias(index int, bias r3.Vec, resetCovariance bool) error
	SetStateContact(id int, rest kinematics.Kinematics, w measurements.Wrench, resetCovariance bool) error
}
