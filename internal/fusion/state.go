package fusion

import "fmt"

// State is the diagnostic state of the fusion machine.
type State string

const (
	StateNominal       State = "nominal"
	StateRecovering    State = "recovering"
	StateFaultDetected State = "fault_detected"
)

// AllStates lists every state, in the order the state gauge exports them.
var AllStates = []string{string(StateNominal), string(StateRecovering), string(StateFaultDetected)}

// Machine is the fault/recovery state machine. A fault puts it in
// StateFaultDetected for exactly one step, then StateRecovering for Window
// steps, then back to StateNominal. A fault in any state restarts the
// sequence.
type Machine struct {
	window   int
	progress int
	state    State
}

// NewMachine returns a machine in StateNominal.
func NewMachine(window int) (*Machine, error) {
	if window < 1 {
		return nil, fmt.Errorf("fusion: recovery window must be at least one cycle, got %d", window)
	}
	return &Machine{window: window, state: StateNominal}, nil
}

// Step advances one cycle. resync is true on the last recovering cycle,
// when the primary estimator must be resynchronized to the backup one.
func (m *Machine) Step(fault bool) (state State, resync bool) {
	switch {
	case fault:
		m.state = StateFaultDetected
		m.progress = 1
	case m.progress >= 1 && m.progress <= m.window:
		m.state = StateRecovering
		if m.progress == m.window {
			resync = true
			m.progress = 0
		} else {
			m.progress++
		}
	default:
		m.state = StateNominal
	}
	return m.state, resync
}

func (m *Machine) State() State { return m.state }

// Progress is the recovering cycle about to run, zero when none is pending.
func (m *Machine) Progress() int { return m.progress }

func (m *Machine) Window() int { return m.window }

// Reset returns to StateNominal.
func (m *Machine) Reset() {
	m.state = StateNominal
	m.progress = 0
}
