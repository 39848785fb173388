package estimator

import (
	"fmt"

	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/odometry"
)

// Adapter turns registry contacts and frame readings into Estimator calls.
type Adapter struct {
	est   Estimator
	cov   Covariances
	gains odometry.Gains
}

func NewAdapter(est Estimator, cov Covariances, gains odometry.Gains) *Adapter {
	return &Adapter{est: est, cov: cov, gains: gains}
}

// Estimator returns the wrapped estimator.
func (a *Adapter) Estimator() Estimator { return a.est }

// Register adds c with its cached rest pose. The first contact set gets the
// tighter "first contact" prior.
func (a *Adapter) Register(c *contacts.Contact, flat bool) error {
	first := a.est.NumberOfSetContacts() == 0
	err := a.est.AddContact(c.ID, c.RestKine, ContactParams{
		InitCovariance:    a.cov.ContactInit(first, flat),
		ProcessCovariance: a.cov.ContactProcess(),
		Gains:             a.gains,
	})
	if err != nil {
		return fmt.Errorf("register contact %s: %w", c.Name, err)
	}
	return nil
}

// Feed gives the per-cycle input of c. input is the contact kinematics in
// the floating-base frame.
func (a *Adapter) Feed(c *contacts.Contact, input kinematics.Kinematics) error {
	var err error
	if c.SensorEnabled {
		err = a.est.UpdateContactWithSensor(c.ID, c.Wrench, a.cov.WrenchSensor(), input)
	} else {
		err = a.est.UpdateContactWithoutSensor(c.ID, input)
	}
	if err != nil {
		return fmt.Errorf("feed contact %s: %w", c.Name, err)
	}
	return nil
}

// FeedWithoutSensor gives c its per-cycle input from kinematics alone, for
// cycles where the contact reading is missing.
func (a *Adapter) FeedWithoutSensor(c *contacts.Contact, input kinematics.Kinematics) error {
	if err := a.est.UpdateContactWithoutSensor(c.ID, input); err != nil {
		return fmt.Errorf("feed contact %s: %w", c.Name, err)
	}
	return nil
}

// Remove deregisters c.
func (a *Adapter) Remove(c *contacts.Contact) error {
	if err := a.est.RemoveContact(c.ID); err != nil {
		return fmt.Errorf("remove contact %s: %w", c.Name, err)
	}
	return nil
}

// SetInputs pushes the IMU, CoM and additional wrench inputs of a cycle.
func (a *Adapter) SetInputs(imus []measurements.IMUReading, com measurements.CenterOfMass, additional measurements.Wrench) error {
	for i, imu := range imus {
		err := a.est.SetIMU(i, IMUInput{
			Accel:    imu.Accel,
			Gyro:     imu.Gyro,
			AccelCov: a.cov.Accel(),
			GyroCov:  a.cov.Gyro(),
			Kine:     imu.FbKine,
		})
		if err != nil {
			return fmt.Errorf("imu %s: %w", imu.Name, err)
		}
	}
	a.est.SetCenterOfMass(com)
	a.est.SetAdditionalWrench(additional)
	return nil
}

// Output is the world kinematics of the floating base.
func (a *Adapter) Output() kinematics.Kinematics {
	return a.est.GlobalKinematicsOf(kinematics.Zero(kinematics.FlagAll))
}
