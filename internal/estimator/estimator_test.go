package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/odometry"
)

func testCovariances() Covariances {
	return Covariances{
		PositionInit: 1e-4, OrientationInit: 1e-4, LinVelInit: 1e-4, AngVelInit: 1e-4,
		GyroBiasInit: 1e-8, UnmodeledForceInit: 1e2, UnmodeledTorqueInit: 1e2,
		PositionProcess: 1e-8, OrientationProcess: 1e-8, LinVelProcess: 1e-6, AngVelProcess: 1e-6,
		GyroBiasProcess: 1e-12, UnmodeledForceProcess: 1e-2, UnmodeledTorqueProcess: 1e-2,
		ContactPositionInitFirst: 1e-8, ContactOrientationInitFirst: 1e-8,
		ContactPositionInitNew: 1e-4, ContactOrientationInitNew: 1e-4,
		ContactForceInit: 1e2, ContactTorqueInit: 1e1,
		ContactPositionProcess: 1e-8, ContactOrientationProcess: 1e-8,
		ContactForceProcess: 1e-2, ContactTorqueProcess: 1e-2,
		AccelSensor: 1e-4, GyroSensor: 1e-6, ForceSensor: 1, TorqueSensor: 0.1,
	}
}

func testGains() odometry.Gains {
	return odometry.Gains{
		LinStiffness: r3.Vec{X: 4e4, Y: 4e4, Z: 4e4},
		LinDamping:   r3.Vec{X: 200, Y: 200, Z: 200},
		AngStiffness: r3.Vec{X: 400, Y: 400, Z: 400},
		AngDamping:   r3.Vec{X: 20, Y: 20, Z: 20},
	}
}

func newLegOdometry(t *testing.T) *LegOdometry {
	t.Helper()
	l, err := NewLegOdometry(LegOdometryConfig{
		DT: 0.005, IMUs: 1, MaxContacts: 2, Mass: 40,
		Covariances: testCovariances(),
	})
	require.NoError(t, err)
	return l
}

func TestContactTableContract(t *testing.T) {
	s := NewScripted(2)
	rest := kinematics.Zero(kinematics.FlagPose)

	require.NoError(t, s.AddContact(0, rest, ContactParams{}))
	assert.ErrorIs(t, s.AddContact(0, rest, ContactParams{}), ErrContactExists)
	assert.ErrorIs(t, s.AddContact(2, rest, ContactParams{}), ErrContactIndex)
	assert.ErrorIs(t, s.AddContact(-1, rest, ContactParams{}), ErrContactIndex)
	assert.ErrorIs(t, s.UpdateContactWithoutSensor(1, rest), ErrContactNotSet)

	require.NoError(t, s.UpdateContactWithoutSensor(0, rest))
	assert.ErrorIs(t, s.UpdateContactWithSensor(0, measurements.Wrench{}, nil, rest), ErrContactUpdated)
	_, err := s.Update()
	require.NoError(t, err)

	// A set contact left without input is reported after the cycle.
	_, err = s.Update()
	assert.ErrorIs(t, err, ErrContactNotUpdated)

	require.NoError(t, s.RemoveContact(0))
	assert.ErrorIs(t, s.RemoveContact(0), ErrContactNotSet)
	assert.ErrorIs(t, s.UpdateContactWithoutSensor(0, rest), ErrContactNotSet)
	assert.Equal(t, 0, s.NumberOfSetContacts())
}

func TestAdapterInitCovarianceSelection(t *testing.T) {
	l := newLegOdometry(t)
	a := NewAdapter(l, testCovariances(), testGains())

	first := &contacts.Contact{ID: 0, Name: "LeftFoot", RestKine: kinematics.Zero(kinematics.FlagPose)}
	second := &contacts.Contact{ID: 1, Name: "RightFoot", RestKine: kinematics.Zero(kinematics.FlagPose)}
	require.NoError(t, a.Register(first, false))
	require.NoError(t, a.Register(second, true))

	e0, ok := l.ContactEstimate(0)
	require.True(t, ok)
	assert.Equal(t, 1e-8, e0.PoseVariance[0])
	assert.Equal(t, 1e-8, e0.PoseVariance[2])

	e1, ok := l.ContactEstimate(1)
	require.True(t, ok)
	assert.Equal(t, 1e-4, e1.PoseVariance[0])
	assert.Equal(t, 0.0, e1.PoseVariance[2], "flat odometry knows the rest height")
	assert.Equal(t, 1e2, e1.WrenchVariance[0])

	assert.ErrorIs(t, a.Register(first, false), ErrContactExists)
}

func TestAdapterFeedRespectsSensorFlag(t *testing.T) {
	s := NewScripted(2)
	a := NewAdapter(s, testCovariances(), testGains())
	on := &contacts.Contact{ID: 0, Name: "A", SensorEnabled: true}
	off := &contacts.Contact{ID: 1, Name: "B"}
	require.NoError(t, a.Register(on, false))
	require.NoError(t, a.Register(off, false))
	require.NoError(t, a.Feed(on, kinematics.Zero(kinematics.FlagPose)))
	require.NoError(t, a.Feed(off, kinematics.Zero(kinematics.FlagPose)))
	assert.Equal(t, []string{"add 0", "add 1", "sensor 0", "nosensor 1"}, s.Calls)
}

// placeAt moves the base to height z above the world origin.
func placeAt(l *LegOdometry, z float64) {
	k := kinematics.Zero(kinematics.FlagAll)
	k.Position = r3.Vec{Z: z}
	l.SetWorldCentroidStateKinematics(k, true)
}

// standing feeds a single contact whose rest pose is the world origin while
// the base is 0.8 m above it.
func standing(t *testing.T, l *LegOdometry, cycles int) {
	t.Helper()
	input := kinematics.Zero(kinematics.FlagPose)
	input.Position = r3.Vec{Z: -0.8}
	for i := 0; i < cycles; i++ {
		require.NoError(t, l.SetIMU(0, IMUInput{Kine: kinematics.Zero(kinematics.FlagPose)}))
		require.NoError(t, l.UpdateContactWithoutSensor(0, input))
		_, err := l.Update()
		require.NoError(t, err)
	}
}

func TestLegOdometryConvergesOnContactAnchor(t *testing.T) {
	l := newLegOdometry(t)
	require.NoError(t, l.AddContact(0, kinematics.Zero(kinematics.FlagPose), ContactParams{Gains: testGains()}))
	placeAt(l, 0.79)
	standing(t, l, 50)

	out := l.GlobalKinematicsOf(kinematics.Zero(kinematics.FlagAll))
	assert.InDelta(t, 0.8, out.Position.Z, 1e-3)
	assert.InDelta(t, 0, r3.Norm(out.LinVel), 1e-2)
	assert.False(t, l.Faulted())
	assert.Equal(t, 1, l.NumberOfSetContacts())
}

func TestLegOdometryIntegratesGyro(t *testing.T) {
	l := newLegOdometry(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.SetIMU(0, IMUInput{Gyro: r3.Vec{Z: 0.2}, Kine: kinematics.Zero(kinematics.FlagPose)}))
		_, err := l.Update()
		require.NoError(t, err)
	}
	out := l.GlobalKinematicsOf(kinematics.Zero(kinematics.FlagAll))
	assert.InDelta(t, 0.1, out.Yaw(), 1e-9)
	assert.InDelta(t, 0.2, out.AngVel.Z, 1e-9)
}

func TestLegOdometryFaultsOnNonFiniteInput(t *testing.T) {
	l := newLegOdometry(t)
	require.NoError(t, l.SetIMU(0, IMUInput{Gyro: r3.Vec{X: math.NaN()}, Kine: kinematics.Zero(kinematics.FlagPose)}))
	_, err := l.Update()
	require.NoError(t, err)
	assert.True(t, l.Faulted())

	// Resetting the state and clearing the flag brings it back.
	l.SetWorldCentroidStateKinematics(kinematics.Zero(kinematics.FlagAll), true)
	require.NoError(t, l.SetIMU(0, IMUInput{Kine: kinematics.Zero(kinematics.FlagPose)}))
	l.ClearFault()
	_, err = l.Update()
	require.NoError(t, err)
	assert.False(t, l.Faulted())
}

func TestLegOdometryCentroidReset(t *testing.T) {
	l := newLegOdometry(t)
	l.SetCenterOfMass(measurements.CenterOfMass{Position: r3.Vec{X: 0.05, Z: 0.1}})
	centroid := kinematics.Zero(kinematics.FlagPose)
	centroid.Position = r3.Vec{X: 1, Y: 2, Z: 0.9}
	l.SetWorldCentroidStateKinematics(centroid, true)

	out := l.GlobalKinematicsOf(kinematics.Zero(kinematics.FlagPose))
	assert.InDelta(t, 0.95, out.Position.X, 1e-12)
	assert.InDelta(t, 0.8, out.Position.Z, 1e-12)

	require.NoError(t, l.SetGyroBias(0, r3.Vec{Z: 0.01}, true))
	assert.Equal(t, r3.Vec{Z: 0.01}, l.GyroBias(0))
	assert.ErrorIs(t, l.SetGyroBias(3, r3.Vec{}, true), ErrIMUIndex)
}

func TestLegOdometryGyroBiasEstimation(t *testing.T) {
	l, err := NewLegOdometry(LegOdometryConfig{
		DT: 0.005, IMUs: 1, MaxContacts: 1, Mass: 40,
		Covariances:      testCovariances(),
		EstimateGyroBias: true,
		GyroBiasGain:     0.05,
	})
	require.NoError(t, err)
	require.NoError(t, l.AddContact(0, kinematics.Zero(kinematics.FlagPose), ContactParams{}))
	placeAt(l, 0.8)
	input := kinematics.Zero(kinematics.FlagPose)
	input.Position = r3.Vec{Z: -0.8}
	for i := 0; i < 2000; i++ {
		require.NoError(t, l.SetIMU(0, IMUInput{Gyro: r3.Vec{Z: 0.02}, Kine: kinematics.Zero(kinematics.FlagPose)}))
		require.NoError(t, l.UpdateContactWithoutSensor(0, input))
		_, err := l.Update()
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.02, l.GyroBias(0).Z, 2e-3)
}

func TestLegOdometryStateVectorLayout(t *testing.T) {
	l := newLegOdometry(t)
	// 12 centroid + 3 bias + 6 unmodeled + 2*12 contacts
	assert.Equal(t, 45, l.StateSize())
	require.NoError(t, l.SetIMU(0, IMUInput{Kine: kinematics.Zero(kinematics.FlagPose)}))
	x, err := l.Update()
	require.NoError(t, err)
	assert.Equal(t, 45, x.Len())
	assert.Len(t, l.Covariance(), 45)
}

func TestLegOdometryAccelerationEstimation(t *testing.T) {
	run := func(enabled bool) r3.Vec {
		l, err := NewLegOdometry(LegOdometryConfig{
			DT: 0.01, IMUs: 1, MaxContacts: 1, Mass: 40,
			Covariances:          testCovariances(),
			EstimateAcceleration: enabled,
		})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, l.SetIMU(0, IMUInput{Gyro: r3.Vec{Z: 0.1 * float64(i)}, Kine: kinematics.Zero(kinematics.FlagPose)}))
			_, err := l.Update()
			require.NoError(t, err)
		}
		return l.GlobalKinematicsOf(kinematics.Zero(kinematics.FlagAll)).AngAcc
	}
	// Angular velocity steps by 0.1 rad/s every 10 ms.
	assert.InDelta(t, 10, run(true).Z, 1e-6)
	assert.Equal(t, r3.Vec{}, run(false))
}

func TestContactProcessAdaptive(t *testing.T) {
	c := testCovariances()
	fixed := DiagonalOf(c.ContactProcess())
	assert.Equal(t, 0.0, fixed[0])
	assert.Equal(t, 0.0, fixed[5])
	assert.Equal(t, 1e-2, fixed[6])

	c.AdaptiveContactProcess = true
	adaptive := DiagonalOf(c.ContactProcess())
	assert.Equal(t, 1e-8, adaptive[0])
	assert.Equal(t, 1e-8, adaptive[5])
}
