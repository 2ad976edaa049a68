package drive

import (
	"context"
	"sync"
	"time"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/monitoring"
	"github.com/rubot-data/signpilot/internal/signs"
	"github.com/rubot-data/signpilot/internal/timeutil"
)

// Publisher is the outbound side of the message bus the loop publishes
// velocity commands to.
type Publisher interface {
	Publish(topic string, payload any)
}

// Loop is the node's closed-loop reactive controller: at a fixed cadence it
// reads the latest label from CommandState, maps it to a velocity command,
// and publishes the command. It also tracks the robot's last-known pose for
// observers; the pose never influences the mapping.
type Loop struct {
	state    *CommandState
	pub      Publisher
	clock    timeutil.Clock
	tick     time.Duration
	tuning   Tuning
	throttle *monitoring.Throttle

	poseMu sync.Mutex
	poseX  float64
	poseY  float64
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// State is the shared latest-label cell. Required.
	State *CommandState
	// Publisher receives velocity commands. Required.
	Publisher Publisher
	// Clock drives the tick cadence; nil uses the real clock.
	Clock timeutil.Clock
	// Tick is the control period; zero or negative defaults to 100ms.
	Tick time.Duration
	// Tuning holds the mapping speed constants; nil uses DefaultTuning.
	// An explicit zero-valued Tuning is honored, pinning the robot still.
	Tuning *Tuning
	// ThrottleWindow bounds per-branch info logging; zero defaults to 2s.
	ThrottleWindow time.Duration
}

// NewLoop creates a behavior loop. It does not start ticking until Run.
func NewLoop(cfg LoopConfig) *Loop {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	tuning := DefaultTuning()
	if cfg.Tuning != nil {
		tuning = *cfg.Tuning
	}
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Loop{
		state:    cfg.State,
		pub:      cfg.Publisher,
		clock:    clock,
		tick:     tick,
		tuning:   tuning,
		throttle: monitoring.NewThrottle(clock, window),
	}
}

// HandleLabel is the perception-side handler: it replaces the latest label.
// Safe to call concurrently with an in-flight Tick. Logging happens before
// the cell update, never inside the critical section. Detection logs are
// throttled per label: repeats of the same label within the window are
// collapsed, while a change of label logs immediately under its own
// category.
func (l *Loop) HandleLabel(label signs.Label) {
	l.throttle.Logf("label:"+string(label), "[drive] sign detected: %s", label)
	l.state.Set(label)
}

// HandlePose stores the latest odometry position. The value is observable
// via Pose but is not consulted by the mapping.
func (l *Loop) HandlePose(x, y float64) {
	l.poseMu.Lock()
	l.poseX, l.poseY = x, y
	l.poseMu.Unlock()
}

// Pose returns the last-known robot position.
func (l *Loop) Pose() (x, y float64) {
	l.poseMu.Lock()
	defer l.poseMu.Unlock()
	return l.poseX, l.poseY
}

// Run ticks at the configured cadence until the context is cancelled.
// Cancellation is checked once per tick boundary; a tick in progress is not
// preempted.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.Tick()
		}
	}
}

// Tick performs one read-map-publish cycle: a single consistent snapshot of
// CommandState, the pure mapping, one publish.
func (l *Loop) Tick() Velocity {
	label := l.state.Get()
	vel := Command(label, l.tuning)

	l.pub.Publish(bus.TopicVelocity, vel)

	switch label {
	case signs.LabelStop, signs.LabelGiveWay:
		l.throttle.Logf("halt", "[drive] action: HALT for sign %q", label)
	case signs.LabelTurnLeft:
		l.throttle.Logf("turn_left", "[drive] action: TURN LEFT")
	case signs.LabelTurnRight:
		l.throttle.Logf("turn_right", "[drive] action: TURN RIGHT")
	case signs.LabelNothing:
		l.throttle.Logf("cruise", "[drive] action: FORWARD (nothing detected)")
	default:
		l.throttle.Logf("unknown", "[drive] unknown sign %q, halting", label)
	}

	return vel
}
