package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/backup"
	"github.com/banshee-data/floatbase/internal/config"
	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/estimator"
	"github.com/banshee-data/floatbase/internal/odometry"
)

// Config is the typed configuration of an Observer.
type Config struct {
	DT   float64 // cycle period (s)
	Mass float64 // robot mass (kg)
	IMUs []string

	Detector      contacts.DetectorConfig
	Odometry      odometry.Mode
	NominalHeight float64
	Gains         odometry.Gains
	Covariances   estimator.Covariances

	// RecoveryWindow and HistorySize are in cycles.
	RecoveryWindow int
	HistorySize    int

	BackupKp float64
	BackupTi float64

	EstimateGyroBias        bool
	EstimateUnmodeledWrench bool
	EstimateAcceleration    bool
	GyroBiasGain            float64
	UnmodeledWrenchGain     float64
}

func (c Config) Validate() error {
	if c.DT <= 0 {
		return fmt.Errorf("fusion: cycle period must be positive, got %g", c.DT)
	}
	if c.Mass <= 0 {
		return fmt.Errorf("fusion: mass must be positive, got %g", c.Mass)
	}
	if len(c.IMUs) == 0 {
		return fmt.Errorf("fusion: at least one IMU is required")
	}
	if c.RecoveryWindow < 1 {
		return fmt.Errorf("fusion: recovery window must be at least one cycle, got %d", c.RecoveryWindow)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("fusion: history must hold at least one cycle, got %d", c.HistorySize)
	}
	if _, err := odometry.ParseMode(string(c.Odometry)); err != nil {
		return err
	}
	if c.Odometry.Enabled() {
		if err := c.Gains.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LegOdometryConfig derives the configuration of the bundled primary
// estimator.
func (c Config) LegOdometryConfig() estimator.LegOdometryConfig {
	return estimator.LegOdometryConfig{
		DT:                      c.DT,
		IMUs:                    len(c.IMUs),
		MaxContacts:             c.Detector.MaxContacts,
		Mass:                    c.Mass,
		Covariances:             c.Covariances,
		EstimateGyroBias:        c.EstimateGyroBias,
		EstimateUnmodeledWrench: c.EstimateUnmodeledWrench,
		EstimateAcceleration:    c.EstimateAcceleration,
		GyroBiasGain:            c.GyroBiasGain,
		UnmodeledWrenchGain:     c.UnmodeledWrenchGain,
	}
}

// BackupConfig derives the backup filter configuration. Its history holds
// one more entry than the fusion history so both fronts refer to the same
// cycle.
func (c Config) BackupConfig() backup.Config {
	return backup.Config{DT: c.DT, Kp: c.BackupKp, Ti: c.BackupTi, Capacity: c.HistorySize + 1}
}

func vec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// FromConfig converts a validated file configuration.
func FromConfig(cfg *config.EstimatorConfig) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	kind, err := contacts.ParseKind(cfg.GetContactsDetection())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", config.ErrUnknownDetection, err)
	}
	mode, err := odometry.ParseMode(cfg.GetOdometryType())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", config.ErrUnknownOdometry, err)
	}

	var surfaces []contacts.SurfaceCandidate
	for _, s := range cfg.GetSurfaces() {
		surfaces = append(surfaces, contacts.SurfaceCandidate{Surface: s.Surface, Sensor: s.Sensor})
	}
	mass := cfg.GetRobotMass()
	det := contacts.DetectorConfig{
		Kind:            kind,
		MaxContacts:     cfg.GetMaxContacts(),
		Sensors:         cfg.GetForceSensors(),
		Surfaces:        surfaces,
		PureInputs:      cfg.ForceSensorsAsInput,
		DisabledSensors: cfg.ContactSensorsDisabledInit,
		Weight:          mass * estimator.Gravity,
		LowerProp:       cfg.GetSchmittLowerPropThreshold(),
		UpperProp:       cfg.GetSchmittUpperPropThreshold(),
		Threshold:       cfg.GetContactForceThreshold(),
		LowerThreshold:  cfg.ContactForceLowerThreshold,
	}

	v := cfg.GetVariance
	cov := estimator.Covariances{
		PositionInit:        v("position_init"),
		OrientationInit:     v("orientation_init"),
		LinVelInit:          v("lin_vel_init"),
		AngVelInit:          v("ang_vel_init"),
		GyroBiasInit:        v("gyro_bias_init"),
		UnmodeledForceInit:  v("unmodeled_force_init"),
		UnmodeledTorqueInit: v("unmodeled_torque_init"),

		PositionProcess:        v("position_process"),
		OrientationProcess:     v("orientation_process"),
		LinVelProcess:          v("lin_vel_process"),
		AngVelProcess:          v("ang_vel_process"),
		GyroBiasProcess:        v("gyro_bias_process"),
		UnmodeledForceProcess:  v("unmodeled_force_process"),
		UnmodeledTorqueProcess: v("unmodeled_torque_process"),

		ContactPositionInitFirst:    v("contact_position_init_first"),
		ContactOrientationInitFirst: v("contact_orientation_init_first"),
		ContactPositionInitNew:      v("contact_position_init_new"),
		ContactOrientationInitNew:   v("contact_orientation_init_new"),
		ContactForceInit:            v("contact_force_init"),
		ContactTorqueInit:           v("contact_torque_init"),

		ContactPositionProcess:    v("contact_position_process"),
		ContactOrientationProcess: v("contact_orientation_process"),
		ContactForceProcess:       v("contact_force_process"),
		ContactTorqueProcess:      v("contact_torque_process"),

		AccelSensor:  v("accel_sensor"),
		GyroSensor:   v("gyro_sensor"),
		ForceSensor:  v("force_sensor"),
		TorqueSensor: v("torque_sensor"),

		AdaptiveContactProcess: cfg.GetWithAdaptiveContactProcessCov(),
	}

	out := Config{
		DT:            cfg.GetCyclePeriod().Seconds(),
		Mass:          mass,
		IMUs:          cfg.GetIMUNames(),
		Detector:      det,
		Odometry:      mode,
		NominalHeight: cfg.GetFlatNominalHeight(),
		Gains: odometry.Gains{
			LinStiffness: vec(cfg.GetLinStiffness()),
			AngStiffness: vec(cfg.GetAngStiffness()),
			LinDamping:   vec(cfg.GetLinDamping()),
			AngDamping:   vec(cfg.GetAngDamping()),
		},
		Covariances:             cov,
		RecoveryWindow:          cfg.GetRecoveryTicks(),
		HistorySize:             cfg.GetHistoryTicks(),
		BackupKp:                cfg.GetBackupKp(),
		BackupTi:                cfg.GetBackupTi(),
		EstimateGyroBias:        cfg.GetWithGyroBias(),
		EstimateUnmodeledWrench: cfg.GetWithUnmodeledWrench(),
		EstimateAcceleration:    cfg.GetWithAccelerationEstimation(),
		GyroBiasGain:            0.05,
		UnmodeledWrenchGain:     0.05,
	}
	return out, out.Validate()
}
