package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

// Gravity is the standard gravity norm (m/s²).
const Gravity = 9.80665

// LegOdometryConfig sizes and tunes a LegOdometry.
type LegOdometryConfig struct {
	DT          float64
	IMUs        int
	MaxContacts int
	Mass        float64
	Covariances Covariances

	EstimateGyroBias        bool
	EstimateUnmodeledWrench bool
	// EstimateAcceleration enables the finite-difference accelerations;
	// otherwise they stay zero.
	EstimateAcceleration bool

	// GyroBiasGain is the fraction of the orientation correction fed back
	// into the gyro bias each cycle.
	GyroBiasGain float64
	// UnmodeledWrenchGain low-pass filters the unmodeled wrench residual.
	UnmodeledWrenchGain float64
	// MaxLinVel (m/s) beyond which the estimate is declared divergent.
	MaxLinVel float64
}

// state vector layout
const (
	idxPos    = 0
	idxOri    = 3
	idxLinVel = 6
	idxAngVel = 9
	idxBias   = 12
)

// LegOdometry estimates the floating base by integrating the gyrometers and
// correcting the result with the rest poses of the set contacts. Each state
// component has its own scalar Kalman gain computed from a diagonal
// covariance.
type LegOdometry struct {
	cfg   LegOdometryConfig
	table contactTable

	pos    r3.Vec
	ori    kinematics.Rotation
	linVel r3.Vec
	angVel r3.Vec
	linAcc r3.Vec
	angAcc r3.Vec

	bias      []r3.Vec
	unmodeled measurements.Wrench
	cov       *mat.SymDense

	imus       []IMUInput
	imuSet     []bool
	com        measurements.CenterOfMass
	additional measurements.Wrench

	cycles  int
	faulted bool
}

// NewLegOdometry returns an estimator at the world origin.
func NewLegOdometry(cfg LegOdometryConfig) (*LegOdometry, error) {
	if cfg.DT <= 0 {
		return nil, fmt.Errorf("estimator: sampling period must be positive, got %g", cfg.DT)
	}
	if cfg.IMUs < 1 {
		cfg.IMUs = 1
	}
	if cfg.MaxContacts < 1 {
		cfg.MaxContacts = 1
	}
	if cfg.MaxLinVel <= 0 {
		cfg.MaxLinVel = 50
	}
	l := &LegOdometry{
		cfg:    cfg,
		table:  newContactTable(cfg.MaxContacts),
		bias:   make([]r3.Vec, cfg.IMUs),
		imus:   make([]IMUInput, cfg.IMUs),
		imuSet: make([]bool, cfg.IMUs),
	}
	l.cov = mat.NewSymDense(l.StateSize(), nil)
	l.resetCentroidCovariance()
	for i := range l.bias {
		l.setBlock(l.idxBias(i), 3, cfg.Covariances.GyroBiasInit)
	}
	c := cfg.Covariances
	l.setBlock(l.idxUnmodeled(), 3, c.UnmodeledForceInit)
	l.setBlock(l.idxUnmodeled()+3, 3, c.UnmodeledTorqueInit)
	return l, nil
}

func (l *LegOdometry) idxBias(i int) int     { return idxBias + 3*i }
func (l *LegOdometry) idxUnmodeled() int     { return idxBias + 3*l.cfg.IMUs }
func (l *LegOdometry) idxContact(id int) int { return l.idxUnmodeled() + 6 + 12*id }

// StateSize is the length of the vector returned by Update.
func (l *LegOdometry) StateSize() int { return l.idxContact(l.cfg.MaxContacts) }

func (l *LegOdometry) setBlock(start, n int, v float64) {
	for i := start; i < start+n; i++ {
		l.cov.SetSym(i, i, v)
	}
}

func (l *LegOdometry) addBlock(start, n int, v float64) {
	for i := start; i < start+n; i++ {
		l.cov.SetSym(i, i, l.cov.At(i, i)+v)
	}
}

func (l *LegOdometry) copyBlock(start int, src []float64) {
	for i, v := range src {
		l.cov.SetSym(start+i, start+i, v)
	}
}

func (l *LegOdometry) block(start, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = l.cov.At(start+i, start+i)
	}
	return out
}

func (l *LegOdometry) resetCentroidCovariance() {
	c := l.cfg.Covariances
	l.setBlock(idxPos, 3, c.PositionInit)
	l.setBlock(idxOri, 3, c.OrientationInit)
	l.setBlock(idxLinVel, 3, c.LinVelInit)
	l.setBlock(idxAngVel, 3, c.AngVelInit)
}

func (l *LegOdometry) AddContact(id int, rest kinematics.Kinematics, p ContactParams) error {
	first := l.table.count() == 0
	s, err := l.table.add(id, rest, p)
	if err != nil {
		return err
	}
	if s.params.InitCovariance == nil {
		s.params.InitCovariance = l.cfg.Covariances.ContactInit(first, false)
	}
	if s.params.ProcessCovariance == nil {
		s.params.ProcessCovariance = l.cfg.Covariances.ContactProcess()
	}
	l.copyBlock(l.idxContact(id), DiagonalOf(s.params.InitCovariance))
	return nil
}

func (l *LegOdometry) UpdateContactWithSensor(id int, w measurements.Wrench, sensorCov *mat.SymDense, input kinematics.Kinematics) error {
	s, err := l.table.update(id, input)
	if err != nil {
		return err
	}
	s.withSensor = true
	s.wrench = w
	s.sensorCov = sensorCov
	return nil
}

func (l *LegOdometry) UpdateContactWithoutSensor(id int, input kinematics.Kinematics) error {
	s, err := l.table.update(id, input)
	if err != nil {
		return err
	}
	s.withSensor = false
	return nil
}

func (l *LegOdometry) RemoveContact(id int) error {
	if err := l.table.remove(id); err != nil {
		return err
	}
	l.setBlock(l.idxContact(id), 12, 0)
	return nil
}

func (l *LegOdometry) NumberOfSetContacts() int { return l.table.count() }

func (l *LegOdometry) ContactEstimate(id int) (ContactEstimate, bool) {
	s, err := l.table.get(id)
	if err != nil {
		return ContactEstimate{}, false
	}
	var est ContactEstimate
	est.Rest = s.rest
	est.Wrench = s.wrench
	b := l.block(l.idxContact(id), 12)
	copy(est.PoseVariance[:], b[:6])
	copy(est.WrenchVariance[:], b[6:])
	return est, true
}

func (l *LegOdometry) SetIMU(index int, in IMUInput) error {
	if index < 0 || index >= len(l.imus) {
		return fmt.Errorf("%w: %d", ErrIMUIndex, index)
	}
	l.imus[index] = in
	l.imuSet[index] = true
	return nil
}

func (l *LegOdometry) SetCenterOfMass(c measurements.CenterOfMass) { l.com = c }

func (l *LegOdometry) SetAdditionalWrench(w measurements.Wrench) { l.additional = w }

func (l *LegOdometry) Faulted() bool { return l.faulted }

func (l *LegOdometry) ClearFault() { l.faulted = false }

func (l *LegOdometry) world() kinematics.Kinematics {
	return kinematics.Kinematics{
		Position:    l.pos,
		Orientation: l.ori,
		LinVel:      l.linVel,
		AngVel:      l.angVel,
		LinAcc:      l.linAcc,
		AngAcc:      l.angAcc,
		Flags:       kinematics.FlagAll,
	}
}

func (l *LegOdometry) GlobalKinematicsOf(local kinematics.Kinematics) kinematics.Kinematics {
	return l.world().Compose(local)
}

// SetWorldCentroidStateKinematics overwrites the state from the world
// kinematics of the centroid frame (at the CoM, base orientation).
func (l *LegOdometry) SetWorldCentroidStateKinematics(k kinematics.Kinematics, resetCovariance bool) {
	fb := k.Compose(l.com.Kinematics().Inverse())
	l.pos = fb.Position
	l.ori = fb.Orientation
	l.linVel, l.angVel, l.linAcc, l.angAcc = r3.Vec{}, r3.Vec{}, r3.Vec{}, r3.Vec{}
	if fb.Has(kinematics.FlagLinVel) {
		l.linVel = fb.LinVel
	}
	if fb.Has(kinematics.FlagAngVel) {
		l.angVel = fb.AngVel
	}
	if fb.Has(kinematics.FlagLinAcc) {
		l.linAcc = fb.LinAcc
	}
	if fb.Has(kinematics.FlagAngAcc) {
		l.angAcc = fb.AngAcc
	}
	if resetCovariance {
		l.resetCentroidCovariance()
	}
}

func (l *LegOdometry) SetStateUnmodeledWrench(w measurements.Wrench, resetCovariance bool) {
	l.unmodeled = w
	if resetCovariance {
		c := l.cfg.Covariances
		l.setBlock(l.idxUnmodeled(), 3, c.UnmodeledForceInit)
		l.setBlock(l.idxUnmodeled()+3, 3, c.UnmodeledTorqueInit)
	}
}

func (l *LegOdometry) SetGyroBias(index int, bias r3.Vec, resetCovariance bool) error {
	if index < 0 || index >= len(l.bias) {
		return fmt.Errorf("%w: %d", ErrIMUIndex, index)
	}
	l.bias[index] = bias
	if resetCovariance {
		l.setBlock(l.idxBias(index), 3, l.cfg.Covariances.GyroBiasInit)
	}
	return nil
}

func (l *LegOdometry) SetStateContact(id int, rest kinematics.Kinematics, w measurements.Wrench, resetCovariance bool) error {
	s, err := l.table.get(id)
	if err != nil {
		return err
	}
	s.rest = rest
	s.wrench = w
	if resetCovariance {
		l.copyBlock(l.idxContact(id), DiagonalOf(s.params.InitCovariance))
	}
	return nil
}

// bodyRate is the mean bias-corrected angular velocity of the IMUs, in the
// floating-base frame.
func (l *LegOdometry) bodyRate() (r3.Vec, bool) {
	var sum r3.Vec
	n := 0
	for i, in := range l.imus {
		if !l.imuSet[i] {
			continue
		}
		sum = r3.Add(sum, in.Kine.Orientation.Apply(r3.Sub(in.Gyro, l.bias[i])))
		n++
	}
	if n == 0 {
		return r3.Vec{}, false
	}
	return r3.Scale(1/float64(n), sum), true
}

// anchor returns the floating-base pose implied by one contact: the contact
// sits at its rest pose, displaced by the elastic deflection its measured
// force causes.
func anchor(s *contactSlot) (r3.Vec, kinematics.Rotation) {
	worldContact := s.rest.Position
	if s.withSensor {
		kp := s.params.Gains.LinStiffness
		if kp.X > 0 && kp.Y > 0 && kp.Z > 0 {
			f := s.wrench.Force
			defl := r3.Vec{X: f.X / kp.X, Y: f.Y / kp.Y, Z: f.Z / kp.Z}
			worldContact = r3.Sub(worldContact, s.rest.Orientation.Apply(defl))
		}
	}
	ori := s.rest.Orientation.Mul(s.input.Orientation.Inverse())
	pos := r3.Sub(worldContact, ori.Apply(s.input.Position))
	return pos, ori
}

func (l *LegOdometry) Update() (*mat.VecDense, error) {
	dt := l.cfg.DT
	c := l.cfg.Covariances
	prevPos, prevOri := l.pos, l.ori
	prevLinVel, prevAngVel := l.linVel, l.angVel

	omega, ok := l.bodyRate()
	if !ok {
		omega = l.ori.Inverse().Apply(l.angVel)
	}
	predOri := l.ori.Mul(kinematics.FromRotationVector(r3.Scale(dt, omega)))
	predPos := r3.Add(l.pos, r3.Scale(dt, l.linVel))

	l.addBlock(idxPos, 3, c.PositionProcess)
	l.addBlock(idxOri, 3, c.OrientationProcess)
	l.addBlock(idxLinVel, 3, c.LinVelProcess)
	l.addBlock(idxAngVel, 3, c.AngVelProcess)
	for i := range l.bias {
		l.addBlock(l.idxBias(i), 3, c.GyroBiasProcess)
	}
	l.addBlock(l.idxUnmodeled(), 3, c.UnmodeledForceProcess)
	l.addBlock(l.idxUnmodeled()+3, 3, c.UnmodeledTorqueProcess)

	var posInnov, oriInnov r3.Vec
	posVar := make([]float64, 3)
	oriVar := make([]float64, 3)
	n := 0
	for id := range l.table.slots {
		s := &l.table.slots[id]
		if !s.set || !s.updated {
			continue
		}
		start := l.idxContact(id)
		proc := DiagonalOf(s.params.ProcessCovariance)
		for k := 0; k < 12; k++ {
			l.cov.SetSym(start+k, start+k, l.cov.At(start+k, start+k)+proc[k])
		}
		if s.withSensor && s.sensorCov != nil {
			l.copyBlock(start+6, DiagonalOf(s.sensorCov))
		}

		p, o := anchor(s)
		posInnov = r3.Add(posInnov, r3.Sub(p, predPos))
		oriInnov = r3.Add(oriInnov, predOri.Inverse().Mul(o).RotationVector())
		pose := l.block(start, 6)
		floats.Add(posVar, pose[:3])
		floats.Add(oriVar, pose[3:])
		n++
	}

	l.pos, l.ori = predPos, predOri
	if n > 0 {
		inv := 1 / float64(n)
		posInnov = r3.Scale(inv, posInnov)
		oriInnov = r3.Scale(inv, oriInnov)
		// Averaging n anchors divides their variance by n.
		floats.Scale(inv*inv, posVar)
		floats.Scale(inv*inv, oriVar)

		l.pos = r3.Add(predPos, l.correct(idxPos, posInnov, posVar))
		corr := l.correct(idxOri, oriInnov, oriVar)
		l.ori = predOri.Mul(kinematics.FromRotationVector(corr))

		if l.cfg.EstimateGyroBias && l.cfg.GyroBiasGain > 0 {
			for i := range l.bias {
				if !l.imuSet[i] {
					continue
				}
				local := l.imus[i].Kine.Orientation.Inverse().Apply(corr)
				l.bias[i] = r3.Sub(l.bias[i], r3.Scale(l.cfg.GyroBiasGain/dt, local))
			}
		}
	}

	l.linVel = r3.Scale(1/dt, r3.Sub(l.pos, prevPos))
	l.angVel = l.ori.Apply(r3.Scale(1/dt, prevOri.Inverse().Mul(l.ori).RotationVector()))
	if l.cfg.EstimateAcceleration && l.cycles > 0 {
		l.linAcc = r3.Scale(1/dt, r3.Sub(l.linVel, prevLinVel))
		l.angAcc = r3.Scale(1/dt, r3.Sub(l.angVel, prevAngVel))
	}
	l.cycles++

	if l.cfg.EstimateUnmodeledWrench {
		l.updateUnmodeledWrench()
	}

	err := l.table.endCycle()
	x := l.stateVector()
	if floats.HasNaN(x.RawVector().Data) || !l.world().IsFinite() || r3.Norm(l.linVel) > l.cfg.MaxLinVel {
		l.faulted = true
	}
	return x, err
}

// correct applies an independent scalar Kalman update on three consecutive
// state components and returns the correction.
func (l *LegOdometry) correct(start int, innov r3.Vec, measVar []float64) r3.Vec {
	in := [3]float64{innov.X, innov.Y, innov.Z}
	var out [3]float64
	for k := 0; k < 3; k++ {
		p := l.cov.At(start+k, start+k)
		gain := 1.0
		if p+measVar[k] > 0 {
			gain = p / (p + measVar[k])
		}
		out[k] = gain * in[k]
		l.cov.SetSym(start+k, start+k, (1-gain)*p)
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

// updateUnmodeledWrench filters the Newton-Euler residual at the CoM:
// whatever the contacts and additional inputs do not explain.
func (l *LegOdometry) updateUnmodeledWrench() {
	comWorld := l.ori.Apply(l.com.Position)
	var force, torque r3.Vec
	for id := range l.table.slots {
		s := &l.table.slots[id]
		if !s.set || !s.withSensor {
			continue
		}
		rot := l.ori.Mul(s.input.Orientation)
		f := rot.Apply(s.wrench.Force)
		arm := r3.Sub(l.ori.Apply(s.input.Position), comWorld)
		force = r3.Add(force, f)
		torque = r3.Add(torque, r3.Add(rot.Apply(s.wrench.Torque), r3.Cross(arm, f)))
	}
	af := l.ori.Apply(l.additional.Force)
	force = r3.Add(force, af)
	torque = r3.Add(torque, r3.Add(l.ori.Apply(l.additional.Torque), r3.Cross(r3.Scale(-1, comWorld), af)))

	comAcc := r3.Add(l.linAcc, l.ori.Apply(l.com.Acceleration))
	needed := r3.Scale(l.cfg.Mass, r3.Add(comAcc, r3.Vec{Z: Gravity}))
	target := measurements.Wrench{
		Force:  r3.Sub(needed, force),
		Torque: r3.Scale(-1, torque),
	}
	g := l.cfg.UnmodeledWrenchGain
	l.unmodeled = measurements.Wrench{
		Force:  r3.Add(l.unmodeled.Force, r3.Scale(g, r3.Sub(target.Force, l.unmodeled.Force))),
		Torque: r3.Add(l.unmodeled.Torque, r3.Scale(g, r3.Sub(target.Torque, l.unmodeled.Torque))),
	}
}

// UnmodeledWrench returns the current unmodeled wrench state (world frame).
func (l *LegOdometry) UnmodeledWrench() measurements.Wrench { return l.unmodeled }

// GyroBias returns the bias estimate of IMU i.
func (l *LegOdometry) GyroBias(i int) r3.Vec { return l.bias[i] }

// Covariance returns the diagonal of the state covariance.
func (l *LegOdometry) Covariance() []float64 { return DiagonalOf(l.cov) }

func (l *LegOdometry) stateVector() *mat.VecDense {
	x := mat.NewVecDense(l.StateSize(), nil)
	put := func(i int, v r3.Vec) {
		x.SetVec(i, v.X)
		x.SetVec(i+1, v.Y)
		x.SetVec(i+2, v.Z)
	}
	put(idxPos, l.pos)
	put(idxOri, l.ori.RotationVector())
	put(idxLinVel, l.linVel)
	put(idxAngVel, l.angVel)
	for i, b := range l.bias {
		put(l.idxBias(i), b)
	}
	put(l.idxUnmodeled(), l.unmodeled.Force)
	put(l.idxUnmodeled()+3, l.unmodeled.Torque)
	for id := range l.table.slots {
		s := &l.table.slots[id]
		if !s.set {
			continue
		}
		start := l.idxContact(id)
		put(start, s.rest.Position)
		put(start+3, s.rest.Orientation.RotationVector())
		put(start+6, s.wrench.Force)
		put(start+9, s.wrench.Torque)
	}
	return x
}

var _ Estimator = (*LegOdometry)(nil)
