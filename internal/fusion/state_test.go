package fusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineRejectsEmptyWindow(t *testing.T) {
	_, err := NewMachine(0)
	require.Error(t, err)
}

func TestMachineSequence(t *testing.T) {
	m, err := NewMachine(5)
	require.NoError(t, err)

	var states []State
	var resyncAt []int
	for tick := 1; tick <= 17; tick++ {
		s, resync := m.Step(tick == 10)
		states = append(states, s)
		if resync {
			resyncAt = append(resyncAt, tick)
		}
	}
	want := []State{
		StateFaultDetected,
		StateRecovering, StateRecovering, StateRecovering, StateRecovering, StateRecovering,
		StateNominal,
	}
	assert.Equal(t, want, states[9:16])
	for _, s := range states[:9] {
		assert.Equal(t, StateNominal, s)
	}
	assert.Equal(t, []int{15}, resyncAt)
	assert.Equal(t, 0, m.Progress())
}

func TestMachineWindowOfOne(t *testing.T) {
	m, err := NewMachine(1)
	require.NoError(t, err)
	s, _ := m.Step(true)
	assert.Equal(t, StateFaultDetected, s)
	s, resync := m.Step(false)
	assert.Equal(t, StateRecovering, s)
	assert.True(t, resync)
	s, _ = m.Step(false)
	assert.Equal(t, StateNominal, s)
}

// For any fault sequence, a fault yields exactly one fault_detected step
// followed by window recovering steps unless another fault interrupts.
func TestMachineRandomFaults(t *testing.T) {
	const window = 4
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		m, err := NewMachine(window)
		require.NoError(t, err)
		faults := make([]bool, 60)
		for i := range faults {
			faults[i] = rng.Float64() < 0.08
		}
		since := -1 // steps since the last fault, -1 before any
		for i, f := range faults {
			s, _ := m.Step(f)
			if f {
				since = 0
			} else if since >= 0 {
				since++
			}
			switch {
			case since == 0:
				assert.Equal(t, StateFaultDetected, s, "run %d step %d", run, i)
			case since >= 1 && since <= window:
				assert.Equal(t, StateRecovering, s, "run %d step %d", run, i)
			default:
				assert.Equal(t, StateNominal, s, "run %d step %d", run, i)
			}
		}
	}
}

func TestMachineReset(t *testing.T) {
	m, err := NewMachine(3)
	require.NoError(t, err)
	m.Step(true)
	m.Reset()
	assert.Equal(t, StateNominal, m.State())
	s, _ := m.Step(false)
	assert.Equal(t, StateNominal, s)
}
