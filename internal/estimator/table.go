package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

type contactSlot struct {
	set        bool
	updated    bool
	withSensor bool

	params    ContactParams
	rest      kinematics.Kinematics
	wrench    measurements.Wrench
	sensorCov *mat.SymDense
	input     kinematics.Kinematics
}

// contactTable enforces the contact call contract shared by the
// implementations.
type contactTable struct {
	slots []contactSlot
}

func newContactTable(max int) contactTable {
	return contactTable{slots: make([]contactSlot, max)}
}

func (t *contactTable) check(id int) error {
	if id < 0 || id >= len(t.slots) {
		return fmt.Errorf("%w: %d (max %d)", ErrContactIndex, id, len(t.slots))
	}
	return nil
}

func (t *contactTable) add(id int, rest kinematics.Kinematics, p ContactParams) (*contactSlot, error) {
	if err := t.check(id); err != nil {
		return nil, err
	}
	if t.slots[id].set {
		return nil, fmt.Errorf("%w: %d", ErrContactExists, id)
	}
	t.slots[id] = contactSlot{set: true, params: p, rest: rest}
	return &t.slots[id], nil
}

func (t *contactTable) get(id int) (*contactSlot, error) {
	if err := t.check(id); err != nil {
		return nil, err
	}
	if !t.slots[id].set {
		return nil, fmt.Errorf("%w: %d", ErrContactNotSet, id)
	}
	return &t.slots[id], nil
}

func (t *contactTable) update(id int, input kinematics.Kinematics) (*contactSlot, error) {
	s, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if s.updated {
		return nil, fmt.Errorf("%w: %d", ErrContactUpdated, id)
	}
	s.updated = true
	s.input = input
	return s, nil
}

func (t *contactTable) remove(id int) error {
	if _, err := t.get(id); err != nil {
		return err
	}
	t.slots[id] = contactSlot{}
	return nil
}

func (t *contactTable) count() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].set {
			n++
		}
	}
	return n
}

// endCycle clears the per-cycle flags and reports set contacts that got
// no input.
func (t *contactTable) endCycle() error {
	var missing []int
	for i := range t.slots {
		s := &t.slots[i]
		if s.set && !s.updated {
			missing = append(missing, i)
		}
		s.updated = false
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrContactNotUpdated, missing)
	}
	return nil
}
