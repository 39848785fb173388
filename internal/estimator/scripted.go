package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

// Scripted is a deterministic Estimator for tests. Its world kinematics
// follow Trajectory (indexed by the 1-based Update count) and it raises its
// fault flag on the cycles listed in FaultAt. Every call is appended to
// Calls.
type Scripted struct {
	Trajectory func(cycle int) kinematics.Kinematics
	FaultAt    map[int]bool
	Calls      []string

	table   contactTable
	cycle   int
	world   kinematics.Kinematics
	com     measurements.CenterOfMass
	faulted bool
}

// NewScripted returns a double accepting up to maxContacts contacts.
func NewScripted(maxContacts int) *Scripted {
	return &Scripted{
		FaultAt: map[int]bool{},
		table:   newContactTable(maxContacts),
		world:   kinematics.Zero(kinematics.FlagAll),
	}
}

func (s *Scripted) record(format string, v ...interface{}) {
	s.Calls = append(s.Calls, fmt.Sprintf(format, v...))
}

// Cycle returns the number of Update calls so far.
func (s *Scripted) Cycle() int { return s.cycle }

// World returns the current world kinematics of the floating base.
func (s *Scripted) World() kinematics.Kinematics { return s.world }

// Rest returns the rest pose currently registered for id.
func (s *Scripted) Rest(id int) (kinematics.Kinematics, bool) {
	sl, err := s.table.get(id)
	if err != nil {
		return kinematics.Kinematics{}, false
	}
	return sl.rest, true
}

func (s *Scripted) AddContact(id int, rest kinematics.Kinematics, p ContactParams) error {
	s.record("add %d", id)
	_, err := s.table.add(id, rest, p)
	return err
}

func (s *Scripted) UpdateContactWithSensor(id int, w measurements.Wrench, _ *mat.SymDense, input kinematics.Kinematics) error {
	s.record("sensor %d", id)
	sl, err := s.table.update(id, input)
	if err != nil {
		return err
	}
	sl.withSensor = true
	sl.wrench = w
	return nil
}

func (s *Scripted) UpdateContactWithoutSensor(id int, input kinematics.Kinematics) error {
	s.record("nosensor %d", id)
	_, err := s.table.update(id, input)
	return err
}

func (s *Scripted) RemoveContact(id int) error {
	s.record("remove %d", id)
	return s.table.remove(id)
}

func (s *Scripted) NumberOfSetContacts() int { return s.table.count() }

func (s *Scripted) ContactEstimate(id int) (ContactEstimate, bool) {
	sl, err := s.table.get(id)
	if err != nil {
		return ContactEstimate{}, false
	}
	return ContactEstimate{Rest: sl.rest, Wrench: sl.wrench}, true
}

func (s *Scripted) SetIMU(index int, _ IMUInput) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrIMUIndex, index)
	}
	return nil
}

func (s *Scripted) SetCenterOfMass(c measurements.CenterOfMass) { s.com = c }

func (s *Scripted) SetAdditionalWrench(measurements.Wrench) {}

func (s *Scripted) Update() (*mat.VecDense, error) {
	s.cycle++
	s.record("update")
	if s.Trajectory != nil {
		s.world = s.Trajectory(s.cycle)
	}
	if s.FaultAt[s.cycle] {
		s.faulted = true
	}
	err := s.table.endCycle()
	p := s.world.Position
	return mat.NewVecDense(3, []float64{p.X, p.Y, p.Z}), err
}

func (s *Scripted) Faulted() bool { return s.faulted }

func (s *Scripted) ClearFault() {
	s.record("clear")
	s.faulted = false
}

func (s *Scripted) GlobalKinematicsOf(local kinematics.Kinematics) kinematics.Kinematics {
	return s.world.Compose(local)
}

func (s *Scripted) SetWorldCentroidStateKinematics(k kinematics.Kinematics, resetCovariance bool) {
	s.record("centroid reset=%t", resetCovariance)
	s.world = k.Compose(s.com.Kinematics().Inverse())
}

func (s *Scripted) SetStateUnmodeledWrench(_ measurements.Wrench, resetCovariance bool) {
	s.record("unmodeled reset=%t", resetCovariance)
}

func (s *Scripted) SetGyroBias(index int, _ r3.Vec, resetCovariance bool) error {
	s.record("bias %d reset=%t", index, resetCovariance)
	return nil
}

func (s *Scripted) SetStateContact(id int, rest kinematics.Kinematics, w measurements.Wrench, resetCovariance bool) error {
	s.record("contact %d reset=%t", id, resetCovariance)
	sl, err := s.table.get(id)
	if err != nil {
		return err
	}
	sl.rest = rest
	sl.wrench = w
	return nil
}

var _ Estimator = (*Scripted)(nil)
