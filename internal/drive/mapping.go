package drive

import "github.com/rubot-data/signpilot/internal/signs"

// Velocity is the command sent to the robot's motion actuator once per
// control tick.
type Velocity struct {
	LinearX  float64 `json:"linear_x"`
	AngularZ float64 `json:"angular_z"`
}

// Tuning holds the mapping speed constants.
type Tuning struct {
	// ForwardSpeed is linear_x when no sign is detected.
	ForwardSpeed float64

	// TurnRate is |angular_z| during a turn.
	TurnRate float64
}

// DefaultTuning matches the robot's trained behavior: 0.2 m/s cruise,
// 0.5 rad/s in-place turns.
func DefaultTuning() Tuning {
	return Tuning{ForwardSpeed: 0.2, TurnRate: 0.5}
}

// Command maps a label to its velocity command. Pure function of the label
// and tuning: no hysteresis, no debounce, no memory of previous labels.
// Stop and Give_Way halt; unrecognized labels fall through to the fail-safe
// halt as well.
func Command(label signs.Label, t Tuning) Velocity {
	switch label {
	case signs.LabelStop, signs.LabelGiveWay:
		return Velocity{}
	case signs.LabelTurnLeft:
		return Velocity{AngularZ: t.TurnRate}
	case signs.LabelTurnRight:
		return Velocity{AngularZ: -t.TurnRate}
	case signs.LabelNothing:
		return Velocity{LinearX: t.ForwardSpeed}
	default:
		return Velocity{}
	}
}
