package topology

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the validator lifecycle position.
type State uint8

const (
	Unvalidated State = iota
	Validating
	Valid
	Invalid
)

func (s State) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case Validating:
		return "validating"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Validator holds one roster and its verdict. Every Reset returns it to
// Unvalidated; Run always validates from scratch.
type Validator struct {
	mu     sync.RWMutex
	roster Roster
	state  State
	graph  *Graph
	err    error
}

func NewValidator(r Roster) *Validator {
	return &Validator{roster: r.Clone()}
}

// Reset replaces the roster and discards the previous verdict.
func (v *Validator) Reset(r Roster) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roster = r.Clone()
	v.state = Unvalidated
	v.graph = nil
	v.err = nil
}

// Run validates the current roster and records the verdict.
func (v *Validator) Run() (*Graph, error) {
	v.mu.Lock()
	v.state = Validating
	snapshot := v.roster.Clone()
	v.mu.Unlock()

	g, err := Validate(snapshot)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = Invalid
		v.graph = nil
		v.err = err
		log.Debug().Err(err).Int("nodes", snapshot.Len()).Msg("topology.Validator.Run invalid")
		return nil, err
	}
	v.state = Valid
	v.graph = g
	v.err = nil
	log.Debug().Int("nodes", snapshot.Len()).Msg("topology.Validator.Run valid")
	return g, nil
}

func (v *Validator) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Err returns the reason of an Invalid verdict.
func (v *Validator) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Graph returns the graph of a Valid verdict.
func (v *Validator) Graph() (*Graph, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != Valid {
		return nil, ErrNotValidated
	}
	return v.graph, nil
}

func (v *Validator) Roster() Roster {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.roster.Clone()
}
