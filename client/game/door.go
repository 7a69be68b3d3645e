package game

// DoorSpeed is how fast a door opens or closes, in openness per second.
const DoorSpeed = 1.5

// DoorState is a door's position in its open/close cycle.
type DoorState int

const (
	DoorClosed DoorState = iota
	DoorOpening
	DoorOpen
	DoorClosing
)

func (s DoorState) String() string {
	switch s {
	case DoorClosed:
		return "closed"
	case DoorOpening:
		return "opening"
	case DoorOpen:
		return "open"
	case DoorClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Door is a vehicle door replica. Openness runs from 0 (closed) to
// 1 (open) and is advanced locally by Update; only the open and close
// commands are replicated.
type Door struct {
	state    DoorState
	openness float64
}

func NewDoor() *Door {
	return &Door{state: DoorClosed}
}

func (d *Door) State() DoorState {
	return d.state
}

func (d *Door) Openness() float64 {
	return d.openness
}

// Open starts opening the door. A no-op if already open or opening.
func (d *Door) Open() {
	if d.state == DoorOpen || d.state == DoorOpening {
		return
	}
	d.state = DoorOpening
}

// Close starts closing the door. A no-op if already closed or closing.
func (d *Door) Close() {
	if d.state == DoorClosed || d.state == DoorClosing {
		return
	}
	d.state = DoorClosing
}

// Update advances the door by dt seconds.
func (d *Door) Update(dt float64) {
	switch d.state {
	case DoorOpening:
		d.openness += DoorSpeed * dt
		if d.openness >= 1 {
			d.openness = 1
			d.state = DoorOpen
		}
	case DoorClosing:
		d.openness -= DoorSpeed * dt
		if d.openness <= 0 {
			d.openness = 0
			d.state = DoorClosed
		}
	}
}
