package game

import (
	"fmt"
)

const (
	// TrainMoveSpeed is the vehicle's travel speed in units per second
	TrainMoveSpeed = 15.0
	// ArrivalEpsilon is how close to the origin counts as arrived
	ArrivalEpsilon = 0.01
	// DefaultTriggerPosition is where the forward run ends
	DefaultTriggerPosition = 300.0
	// DefaultReentryPosition is where the vehicle reappears behind the
	// station on its way back
	DefaultReentryPosition = -120.0
)

// TrainState is the vehicle's place in its travel cycle.
type TrainState int

const (
	TrainIdle TrainState = iota
	TrainMovingForward
	TrainReturning
)

func (s TrainState) String() string {
	switch s {
	case TrainIdle:
		return "idle"
	case TrainMovingForward:
		return "moving forward"
	case TrainReturning:
		return "returning"
	default:
		return "unknown"
	}
}

// NewTrainOptions are the options for creating a train replica.
type NewTrainOptions struct {
	// TriggerPosition is where the forward run hands over to the
	// teleport-and-return command. Zero uses the default.
	TriggerPosition float64
	// ReentryPosition is where the vehicle snaps to when returning.
	// Zero uses the default.
	ReentryPosition float64
	Doors           []*Door
	// OnTeleport is called with the position delta of a teleport so
	// riders can be translated by the same amount.
	OnTeleport func(delta float64)
}

// Train is the shared vehicle replica. Every participant holds one and
// advances it locally; only the start and teleport-and-return commands
// are replicated, so replicas fed the same command sequence converge.
type Train struct {
	state    TrainState
	position float64
	trigger  float64
	reentry  float64
	doors    []*Door

	onTeleport func(delta float64)
}

func NewTrain(opts NewTrainOptions) *Train {
	trigger := opts.TriggerPosition
	if trigger == 0 {
		trigger = DefaultTriggerPosition
	}
	reentry := opts.ReentryPosition
	if reentry == 0 {
		reentry = DefaultReentryPosition
	}
	return &Train{
		state:      TrainIdle,
		trigger:    trigger,
		reentry:    reentry,
		doors:      opts.Doors,
		onTeleport: opts.OnTeleport,
	}
}

func (t *Train) State() TrainState {
	return t.state
}

func (t *Train) Position() float64 {
	return t.position
}

func (t *Train) Doors() []*Door {
	return t.doors
}

// Start departs the station: doors close and the vehicle moves forward.
func (t *Train) Start() error {
	if t.state != TrainIdle {
		return fmt.Errorf("cannot start while %s", t.state)
	}
	for _, door := range t.doors {
		door.Close()
	}
	t.state = TrainMovingForward
	return nil
}

// AtTrigger reports whether the forward run has reached the point
// where the teleport-and-return command is due.
func (t *Train) AtTrigger() bool {
	return t.state == TrainMovingForward && t.position >= t.trigger
}

// TeleportAndReturn snaps the vehicle to the reentry position behind
// the station. Replaying it while already returning is a no-op, so a
// duplicated command never double-applies the position delta.
func (t *Train) TeleportAndReturn() {
	if t.state != TrainMovingForward {
		return
	}
	delta := t.reentry - t.position
	t.position = t.reentry
	t.state = TrainReturning
	if t.onTeleport != nil {
		t.onTeleport(delta)
	}
}

// Update advances the vehicle and its doors by dt seconds. It returns
// true on the tick the vehicle arrives back at the station, which every
// replica detects locally from the replicated position.
func (t *Train) Update(dt float64) bool {
	arrived := false

	switch t.state {
	case TrainMovingForward:
		t.position += TrainMoveSpeed * dt
	case TrainReturning:
		t.position += TrainMoveSpeed * dt
		if t.position >= -ArrivalEpsilon {
			t.position = 0
			t.state = TrainIdle
			for _, door := range t.doors {
				door.Open()
			}
			arrived = true
		}
	}

	for _, door := range t.doors {
		door.Update(dt)
	}

	return arrived
}
