package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultConfigPath is the path to the canonical estimator defaults file.
const DefaultConfigPath = "config/estimator.defaults.json"

var (
	ErrUnknownDetection = errors.New("unknown contacts_detection")
	ErrUnknownOdometry  = errors.New("unknown odometry_type")
	ErrUnknownVariance  = errors.New("unknown variance")
)

var detectionMethods = map[string]bool{"surfaces": true, "sensors": true, "threshold": true, "solver": true}

var odometryTypes = map[string]bool{"none": true, "6d": true, "flat": true}

// SurfaceConfig binds a candidate contact surface to its force sensor.
type SurfaceConfig struct {
	Surface string `json:"surface"`
	Sensor  string `json:"sensor"`
}

// EstimatorConfig is the root configuration of the floating-base estimator.
// Every field is optional: the Get* accessors fall back to defaults.
type EstimatorConfig struct {
	// Robot
	RobotMass    *float64 `json:"robot_mass,omitempty"`
	CyclePeriod  *string  `json:"cycle_period,omitempty"` // duration string like "5ms"
	IMUNames     []string `json:"imu_names,omitempty"`
	ForceSensors []string `json:"force_sensors,omitempty"`

	// Contacts
	ContactsDetection          *string         `json:"contacts_detection,omitempty"`
	Surfaces                   []SurfaceConfig `json:"surfaces,omitempty"`
	ForceSensorsAsInput        []string        `json:"force_sensors_as_input,omitempty"`
	ContactSensorsDisabledInit []string        `json:"contact_sensors_disabled_init,omitempty"`
	SchmittLowerPropThreshold  *float64        `json:"schmitt_lower_prop_threshold,omitempty"`
	SchmittUpperPropThreshold  *float64        `json:"schmitt_upper_prop_threshold,omitempty"`
	ContactForceThreshold      *float64        `json:"contact_force_threshold,omitempty"`
	ContactForceLowerThreshold *float64        `json:"contact_force_lower_threshold,omitempty"`
	MaxContacts                *int            `json:"max_contacts,omitempty"`

	// Odometry
	OdometryType      *string  `json:"odometry_type,omitempty"`
	FlatNominalHeight *float64 `json:"flat_nominal_height,omitempty"`

	// Estimated sub-states
	WithGyroBias                  *bool `json:"with_gyro_bias,omitempty"`
	WithUnmodeledWrench           *bool `json:"with_unmodeled_wrench,omitempty"`
	WithAccelerationEstimation    *bool `json:"with_acceleration_estimation,omitempty"`
	WithAdaptiveContactProcessCov *bool `json:"with_adaptive_contact_process_cov,omitempty"`

	// Visco-elastic contact model diagonals
	LinStiffness *[3]float64 `json:"lin_stiffness,omitempty"`
	AngStiffness *[3]float64 `json:"ang_stiffness,omitempty"`
	LinDamping   *[3]float64 `json:"lin_damping,omitempty"`
	AngDamping   *[3]float64 `json:"ang_damping,omitempty"`

	// Variances overrides, keyed by VarianceNames.
	Variances map[string]float64 `json:"variances,omitempty"`

	// Recovery
	RecoveryWindowS *float64 `json:"recovery_window_s,omitempty"`
	BackupIntervalS *float64 `json:"backup_interval_s,omitempty"`
	BackupKp        *float64 `json:"backup_kp,omitempty"`
	BackupTi        *float64 `json:"backup_ti,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var defaultVariances = map[string]float64{
	"position_init":         1e-4,
	"orientation_init":      1e-4,
	"lin_vel_init":          1e-4,
	"ang_vel_init":          1e-4,
	"gyro_bias_init":        1e-8,
	"unmodeled_force_init":  1e2,
	"unmodeled_torque_init": 1e1,

	"position_process":         1e-8,
	"orientation_process":      1e-8,
	"lin_vel_process":          1e-6,
	"ang_vel_process":          1e-6,
	"gyro_bias_process":        1e-12,
	"unmodeled_force_process":  1e-2,
	"unmodeled_torque_process": 1e-2,

	"contact_position_init_first":    1e-8,
	"contact_orientation_init_first": 1e-8,
	"contact_position_init_new":      1e-4,
	"contact_orientation_init_new":   1e-4,
	"contact_force_init":             1e2,
	"contact_torque_init":            1e1,

	"contact_position_process":    1e-8,
	"contact_orientation_process": 1e-8,
	"contact_force_process":       1e-2,
	"contact_torque_process":      1e-2,

	"accel_sensor":  1e-4,
	"gyro_sensor":   1e-6,
	"force_sensor":  1,
	"torque_sensor": 0.1,
}

// VarianceNames lists the accepted keys of the variances object.
func VarianceNames() []string {
	names := make([]string, 0, len(defaultVariances))
	for k := range defaultVariances {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// EmptyEstimatorConfig returns a config with every field unset.
func EmptyEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{}
}

// LoadEstimatorConfig loads an EstimatorConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadEstimatorConfig(path string) (*EstimatorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEstimatorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EstimatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/<pkg>/
		"../../../" + DefaultConfigPath,    // from cmd/<bin>/ subpackages
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func positive3(name string, v *[3]float64, strict bool) error {
	if v == nil {
		return nil
	}
	for _, x := range v {
		if math.IsNaN(x) || x < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", name, *v)
		}
		if strict && x == 0 {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *EstimatorConfig) Validate() error {
	if c.RobotMass != nil && *c.RobotMass <= 0 {
		return fmt.Errorf("robot_mass must be positive, got %f", *c.RobotMass)
	}
	if c.CyclePeriod != nil && *c.CyclePeriod != "" {
		d, err := time.ParseDuration(*c.CyclePeriod)
		if err != nil {
			return fmt.Errorf("invalid cycle_period '%s': %w", *c.CyclePeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("cycle_period must be positive, got %s", d)
		}
	}
	if c.ContactsDetection != nil && !detectionMethods[*c.ContactsDetection] {
		return fmt.Errorf("%w %q (want surfaces, sensors, threshold or solver)", ErrUnknownDetection, *c.ContactsDetection)
	}
	if c.OdometryType != nil && !odometryTypes[*c.OdometryType] {
		return fmt.Errorf("%w %q (want none, 6d or flat)", ErrUnknownOdometry, *c.OdometryType)
	}
	lower, upper := c.GetSchmittLowerPropThreshold(), c.GetSchmittUpperPropThreshold()
	if lower < 0 || upper > 1 || lower > upper {
		return fmt.Errorf("schmitt thresholds must satisfy 0 <= lower <= upper <= 1, got %f and %f", lower, upper)
	}
	if c.ContactForceThreshold != nil && *c.ContactForceThreshold < 0 {
		return fmt.Errorf("contact_force_threshold must be non-negative, got %f", *c.ContactForceThreshold)
	}
	if c.ContactForceLowerThreshold != nil && *c.ContactForceLowerThreshold > c.GetContactForceThreshold() {
		return fmt.Errorf("contact_force_lower_threshold %f above contact_force_threshold %f",
			*c.ContactForceLowerThreshold, c.GetContactForceThreshold())
	}
	if c.MaxContacts != nil && *c.MaxContacts < 1 {
		return fmt.Errorf("max_contacts must be at least 1, got %d", *c.MaxContacts)
	}
	for _, check := range []error{
		positive3("lin_stiffness", c.LinStiffness, true),
		positive3("ang_stiffness", c.AngStiffness, true),
		positive3("lin_damping", c.LinDamping, false),
		positive3("ang_damping", c.AngDamping, false),
	} {
		if check != nil {
			return check
		}
	}
	for name, v := range c.Variances {
		if _, ok := defaultVariances[name]; !ok {
			return fmt.Errorf("%w %q", ErrUnknownVariance, name)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("variance %s must be non-negative, got %g", name, v)
		}
	}
	if c.RecoveryWindowS != nil && *c.RecoveryWindowS <= 0 {
		return fmt.Errorf("recovery_window_s must be positive, got %f", *c.RecoveryWindowS)
	}
	if c.BackupIntervalS != nil && *c.BackupIntervalS <= 0 {
		return fmt.Errorf("backup_interval_s must be positive, got %f", *c.BackupIntervalS)
	}
	if c.BackupKp != nil && *c.BackupKp < 0 {
		return fmt.Errorf("backup_kp must be non-negative, got %f", *c.BackupKp)
	}
	if c.BackupTi != nil && *c.BackupTi < 0 {
		return fmt.Errorf("backup_ti must be non-negative, got %f", *c.BackupTi)
	}
	return nil
}

// GetRobotMass returns the robot mass in kg.
func (c *EstimatorConfig) GetRobotMass() float64 {
	if c.RobotMass == nil {
		return 40
	}
	return *c.RobotMass
}

// GetCyclePeriod parses and returns the control period.
func (c *EstimatorConfig) GetCyclePeriod() time.Duration {
	if c.CyclePeriod == nil || *c.CyclePeriod == "" {
		return 5 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CyclePeriod)
	if err != nil || d <= 0 {
		return 5 * time.Millisecond
	}
	return d
}

// GetIMUNames returns the IMUs fed to the estimator. The first one also
// drives the backup filter.
func (c *EstimatorConfig) GetIMUNames() []string {
	if len(c.IMUNames) == 0 {
		return []string{"Accelerometer"}
	}
	return c.IMUNames
}

// GetForceSensors returns the force sensors of the robot.
func (c *EstimatorConfig) GetForceSensors() []string {
	if len(c.ForceSensors) == 0 {
		return []string{"LeftFootForceSensor", "RightFootForceSensor"}
	}
	return c.ForceSensors
}

func (c *EstimatorConfig) GetContactsDetection() string {
	if c.ContactsDetection == nil {
		return "surfaces"
	}
	return *c.ContactsDetection
}

// GetSurfaces returns the candidate surfaces of the surfaces policy.
func (c *EstimatorConfig) GetSurfaces() []SurfaceConfig {
	if len(c.Surfaces) == 0 && c.GetContactsDetection() == "surfaces" {
		return []SurfaceConfig{
			{Surface: "LeftFootCenter", Sensor: "LeftFootForceSensor"},
			{Surface: "RightFootCenter", Sensor: "RightFootForceSensor"},
		}
	}
	return c.Surfaces
}

// GetSchmittLowerPropThreshold returns the lower Schmitt threshold as a
// fraction of the robot weight.
func (c *EstimatorConfig) GetSchmittLowerPropThreshold() float64 {
	if c.SchmittLowerPropThreshold == nil {
		return 0.10
	}
	return *c.SchmittLowerPropThreshold
}

// GetSchmittUpperPropThreshold returns the upper Schmitt threshold as a
// fraction of the robot weight.
func (c *EstimatorConfig) GetSchmittUpperPropThreshold() float64 {
	if c.SchmittUpperPropThreshold == nil {
		return 0.18
	}
	return *c.SchmittUpperPropThreshold
}

// GetContactForceThreshold returns the absolute force threshold (N).
func (c *EstimatorConfig) GetContactForceThreshold() float64 {
	if c.ContactForceThreshold == nil {
		return 40
	}
	return *c.ContactForceThreshold
}

func (c *EstimatorConfig) GetMaxContacts() int {
	if c.MaxContacts == nil {
		return 4
	}
	return *c.MaxContacts
}

func (c *EstimatorConfig) GetOdometryType() string {
	if c.OdometryType == nil {
		return "none"
	}
	return *c.OdometryType
}

func (c *EstimatorConfig) GetFlatNominalHeight() float64 {
	if c.FlatNominalHeight == nil {
		return 0
	}
	return *c.FlatNominalHeight
}

func (c *EstimatorConfig) GetWithGyroBias() bool {
	if c.WithGyroBias == nil {
		return true
	}
	return *c.WithGyroBias
}

func (c *EstimatorConfig) GetWithUnmodeledWrench() bool {
	if c.WithUnmodeledWrench == nil {
		return true
	}
	return *c.WithUnmodeledWrench
}

func (c *EstimatorConfig) GetWithAccelerationEstimation() bool {
	if c.WithAccelerationEstimation == nil {
		return true
	}
	return *c.WithAccelerationEstimation
}

func (c *EstimatorConfig) GetWithAdaptiveContactProcessCov() bool {
	if c.WithAdaptiveContactProcessCov == nil {
		return false
	}
	return *c.WithAdaptiveContactProcessCov
}

func get3(v *[3]float64, def float64) [3]float64 {
	if v == nil {
		return [3]float64{def, def, def}
	}
	return *v
}

func (c *EstimatorConfig) GetLinStiffness() [3]float64 { return get3(c.LinStiffness, 4e4) }
func (c *EstimatorConfig) GetAngStiffness() [3]float64 { return get3(c.AngStiffness, 400) }
func (c *EstimatorConfig) GetLinDamping() [3]float64   { return get3(c.LinDamping, 200) }
func (c *EstimatorConfig) GetAngDamping() [3]float64   { return get3(c.AngDamping, 20) }

// GetVariance returns the named variance or its default. Unknown names
// return NaN; Validate rejects them in files.
func (c *EstimatorConfig) GetVariance(name string) float64 {
	if v, ok := c.Variances[name]; ok {
		return v
	}
	if v, ok := defaultVariances[name]; ok {
		return v
	}
	return math.NaN()
}

// GetRecoveryWindowS returns how long the backup estimate is trusted
// after a fault, in seconds.
func (c *EstimatorConfig) GetRecoveryWindowS() float64 {
	if c.RecoveryWindowS == nil {
		return 1.5
	}
	return *c.RecoveryWindowS
}

// GetBackupIntervalS returns the span of the kinematics history, in
// seconds. Defaults to the recovery window.
func (c *EstimatorConfig) GetBackupIntervalS() float64 {
	if c.BackupIntervalS == nil {
		return c.GetRecoveryWindowS()
	}
	return *c.BackupIntervalS
}

func (c *EstimatorConfig) GetBackupKp() float64 {
	if c.BackupKp == nil {
		return 1
	}
	return *c.BackupKp
}

func (c *EstimatorConfig) GetBackupTi() float64 {
	if c.BackupTi == nil {
		return 10
	}
	return *c.BackupTi
}

// ticks converts a duration in seconds to a whole number of cycles, at
// least one.
func (c *EstimatorConfig) ticks(seconds float64) int {
	n := int(math.Round(seconds / c.GetCyclePeriod().Seconds()))
	if n < 1 {
		return 1
	}
	return n
}

// GetRecoveryTicks is the recovery window in cycles.
func (c *EstimatorConfig) GetRecoveryTicks() int { return c.ticks(c.GetRecoveryWindowS()) }

// GetHistoryTicks is the history capacity in cycles.
func (c *EstimatorConfig) GetHistoryTicks() int { return c.ticks(c.GetBackupIntervalS()) }
