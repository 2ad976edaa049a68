// Package drive implements the reactive behavior side of the node: the
// guarded latest-label cell shared with perception, the deterministic
// label-to-velocity mapping, and the fixed-rate control loop that publishes
// velocity commands.
package drive

import (
	"sync"

	"github.com/rubot-data/signpilot/internal/signs"
)

// CommandState is the single point of truth for the most recently received
// label. The perception consumer writes it, the control loop reads it; the
// two run on independent schedules and meet only here. The lock is held only
// for the assignment or copy, never across I/O or logging.
type CommandState struct {
	mu    sync.Mutex
	label signs.Label
}

// NewCommandState returns a cell initialized to the "Nothing" sentinel so
// readers always observe a value, even before the first classification.
func NewCommandState() *CommandState {
	return &CommandState{label: signs.LabelNothing}
}

// Set replaces the held label.
func (s *CommandState) Set(label signs.Label) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
}

// Get returns the held label.
func (s *CommandState) Get() signs.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}
