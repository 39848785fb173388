package fusion

import (
	"time"

	"github.com/banshee-data/floatbase/internal/estimator"
	"github.com/banshee-data/floatbase/internal/kinematics"
)

// EventKind names something that happened during a cycle.
type EventKind string

const (
	EventContactAdded        EventKind = "contact_added"
	EventContactRemoved      EventKind = "contact_removed"
	EventFaultEntered        EventKind = "fault_entered"
	EventRecoveryCompleted   EventKind = "recovery_completed"
	EventOdometryModeChanged EventKind = "odometry_mode_changed"
	EventSensorToggled       EventKind = "sensor_toggled"
)

// Event is published in the Output of the cycle it happened in. Operator
// actions taken between two cycles are published with the next one.
type Event struct {
	Kind EventKind `json:"kind"`
	Tick int64     `json:"tick"`

	Contact   string `json:"contact,omitempty"`
	ContactID int    `json:"contact_id,omitempty"`
	// Detail is the new odometry mode, or "enabled"/"disabled" for a
	// sensor toggle.
	Detail   string   `json:"detail,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ContactOutput is the published estimate of one active contact.
type ContactOutput struct {
	Name          string
	ID            int
	SensorEnabled bool
	// Estimate is the primary estimator's view of the contact; zero when
	// the estimator does not know it.
	Estimate estimator.ContactEstimate
}

// Output is everything a cycle publishes.
type Output struct {
	Tick  int64
	Time  time.Time
	State State
	// Kinematics is the world kinematics of the floating base, all fields
	// valid.
	Kinematics kinematics.Kinematics
	Yaw        float64
	Contacts   []ContactOutput
	Events     []Event
}
