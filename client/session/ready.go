package session

// ReadyGate tracks which actors have declared themselves ready.
// The session can only start once every occupant is ready; a room
// with a single occupant is immediately eligible.
type ReadyGate struct {
	ready map[int]bool
}

func newReadyGate() *ReadyGate {
	return &ReadyGate{
		ready: make(map[int]bool),
	}
}

// SetReady records an actor's readiness. Setting the same value twice
// has no further effect.
func (g *ReadyGate) SetReady(actorNumber int, ready bool) {
	if ready {
		g.ready[actorNumber] = true
		return
	}
	delete(g.ready, actorNumber)
}

// IsReady reports whether an actor has declared itself ready.
func (g *ReadyGate) IsReady(actorNumber int) bool {
	return g.ready[actorNumber]
}

// Remove clears any readiness state for a departed actor.
func (g *ReadyGate) Remove(actorNumber int) {
	delete(g.ready, actorNumber)
}

// Reset clears every readiness flag. Readiness is a per-attempt
// agreement, so any roster change voids it for everyone.
func (g *ReadyGate) Reset() {
	g.ready = make(map[int]bool)
}

// AllReady reports whether every listed actor is ready.
func (g *ReadyGate) AllReady(actors []int) bool {
	for _, actor := range actors {
		if !g.ready[actor] {
			return false
		}
	}
	return true
}
