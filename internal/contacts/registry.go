// Package contacts keeps track of the candidate ground contacts of the robot,
// decides each cycle which of them touch the environment and hands out the
// small integer ids the estimator indexes its contact states with.
package contacts

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

var (
	ErrTooManyContacts = errors.New("contacts: maximum number of contacts reached")
	ErrUnknownContact  = errors.New("contacts: unknown contact")
	ErrDuplicateName   = errors.New("contacts: duplicate contact name")
)

// Candidate is a contact that may become active. Its sensorEnabled flag
// survives activation cycles.
type Candidate struct {
	Name          string
	Sensor        string
	Surface       string
	SensorEnabled bool

	active *Contact
}

// Contact is an active (or just removed) contact.
type Contact struct {
	ID            int
	Name          string
	Sensor        string
	Surface       string
	SensorEnabled bool
	IsSet         bool
	WasAlreadySet bool

	// RestKine is the rest pose in the world frame.
	RestKine kinematics.Kinematics
	// Wrench is the last measured wrench expressed in the contact frame.
	Wrench measurements.Wrench
	// SensorToContact is the kinematics of the sensor frame in the contact
	// frame. Zero value (identity) when the sensor sits at the contact.
	SensorToContact kinematics.Kinematics
}

// Classification is the outcome of one detection cycle. The three slices are
// disjoint and ordered by candidate declaration.
type Classification struct {
	New        []*Contact
	Maintained []*Contact
	Removed    []*Contact
}

// Empty reports whether nothing changed and nothing is in contact.
func (c Classification) Empty() bool {
	return len(c.New) == 0 && len(c.Maintained) == 0 && len(c.Removed) == 0
}

// Registry owns candidates and active contacts. Ids are allocated from the
// lowest free slot and are released only through Release.
type Registry struct {
	slots      []*Contact
	candidates []*Candidate
	byName     map[string]*Candidate
}

func NewRegistry(maxContacts int) *Registry {
	if maxContacts < 1 {
		maxContacts = 1
	}
	return &Registry{
		slots:  make([]*Contact, maxContacts),
		byName: make(map[string]*Candidate),
	}
}

// Max returns the maximum number of simultaneous contacts.
func (r *Registry) Max() int { return len(r.slots) }

// AddCandidate declares a contact that detection may activate.
func (r *Registry) AddCandidate(c Candidate) error {
	if c.Name == "" {
		c.Name = c.Sensor
	}
	if _, ok := r.byName[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}
	cand := c
	cand.active = nil
	r.candidates = append(r.candidates, &cand)
	r.byName[c.Name] = &cand
	return nil
}

// Candidate looks a candidate up by contact name or, failing that, by sensor.
func (r *Registry) Candidate(name string) (*Candidate, bool) {
	if c, ok := r.byName[name]; ok {
		return c, true
	}
	for _, c := range r.candidates {
		if c.Sensor != "" && c.Sensor == name {
			return c, true
		}
	}
	return nil, false
}

// Candidates returns the declared candidates in declaration order.
func (r *Registry) Candidates() []*Candidate {
	out := make([]*Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Contacts returns the contacts currently holding an id, ordered by id.
func (r *Registry) Contacts() []*Contact {
	var out []*Contact
	for _, c := range r.slots {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// SetContacts returns the contacts flagged as set, ordered by id.
func (r *Registry) SetContacts() []*Contact {
	var out []*Contact
	for _, c := range r.slots {
		if c != nil && c.IsSet {
			out = append(out, c)
		}
	}
	return out
}

// ByID returns the contact holding id.
func (r *Registry) ByID(id int) (*Contact, bool) {
	if id < 0 || id >= len(r.slots) || r.slots[id] == nil {
		return nil, false
	}
	return r.slots[id], true
}

// Active returns the active contact named name.
func (r *Registry) Active(name string) (*Contact, bool) {
	c, ok := r.byName[name]
	if !ok || c.active == nil {
		return nil, false
	}
	return c.active, true
}

// SetSensorEnabled toggles whether the sensor of a contact participates in
// the correction step. name may be the contact name or its sensor name.
func (r *Registry) SetSensorEnabled(name string, enabled bool) error {
	c, ok := r.Candidate(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContact, name)
	}
	c.SensorEnabled = enabled
	if c.active != nil {
		c.active.SensorEnabled = enabled
	}
	return nil
}

// Apply classifies candidates against the desired in-contact set. New
// contacts receive the first free id. When no id is left the offending
// candidates are skipped and ErrTooManyContacts is returned with the
// otherwise complete classification.
func (r *Registry) Apply(desired map[string]bool) (Classification, error) {
	var cl Classification
	var overflow []string
	for _, cand := range r.candidates {
		want := desired[cand.Name]
		switch c := cand.active; {
		case c != nil && want:
			c.WasAlreadySet = c.IsSet
			c.IsSet = true
			if c.WasAlreadySet {
				cl.Maintained = append(cl.Maintained, c)
			} else {
				cl.New = append(cl.New, c)
			}
		case c != nil && !want:
			if !c.IsSet {
				// already reported removed, waiting for Release
				continue
			}
			c.WasAlreadySet = true
			c.IsSet = false
			cl.Removed = append(cl.Removed, c)
		case c == nil && want:
			id, ok := r.freeSlot()
			if !ok {
				overflow = append(overflow, cand.Name)
				continue
			}
			c = &Contact{
				ID:            id,
				Name:          cand.Name,
				Sensor:        cand.Sensor,
				Surface:       cand.Surface,
				SensorEnabled: cand.SensorEnabled,
				IsSet:         true,
			}
			r.slots[id] = c
			cand.active = c
			cl.New = append(cl.New, c)
		}
	}
	if len(overflow) > 0 {
		sort.Strings(overflow)
		return cl, fmt.Errorf("%w (max %d): cannot add %v", ErrTooManyContacts, len(r.slots), overflow)
	}
	return cl, nil
}

// Release frees the id of a contact that was reported removed.
func (r *Registry) Release(c *Contact) error {
	if c == nil || c.ID < 0 || c.ID >= len(r.slots) || r.slots[c.ID] != c {
		return ErrUnknownContact
	}
	r.slots[c.ID] = nil
	if cand, ok := r.byName[c.Name]; ok && cand.active == c {
		cand.active = nil
	}
	return nil
}

// Reset drops every active contact, keeping the candidates.
func (r *Registry) Reset() {
	for i := range r.slots {
		r.slots[i] = nil
	}
	for _, c := range r.candidates {
		c.active = nil
	}
}

func (r *Registry) freeSlot() (int, bool) {
	for i, c := range r.slots {
		if c == nil {
			return i, true
		}
	}
	return 0, false
}
