package game

import (
	"math/rand"
)

// NormalAnomaly marks a location with nothing wrong.
const NormalAnomaly = -1

const (
	// Anomaly likelihood falls off as the run gets longer.
	HighAnomalyChance   = 0.7
	MediumAnomalyChance = 0.5
	LowAnomalyChance    = 0.3
	// HighChanceLimit is the station count below which the high
	// likelihood applies, MediumChanceLimit the medium one.
	HighChanceLimit   = 5
	MediumChanceLimit = 10
)

// AnomalyVariant is one way a location can be wrong.
type AnomalyVariant struct {
	ID   int
	Name string
}

// Variants returns the fixed anomaly roster.
func Variants() []AnomalyVariant {
	return []AnomalyVariant{
		{ID: 0, Name: "poster swap"},
		{ID: 1, Name: "ceiling drip"},
		{ID: 2, Name: "flickering lights"},
		{ID: 3, Name: "wrong announcement"},
		{ID: 4, Name: "oversized bench"},
		{ID: 5, Name: "missing exit sign"},
		{ID: 6, Name: "extra pillar"},
		{ID: 7, Name: "reversed clock"},
	}
}

// VariantName returns the display name of an anomaly ID.
func VariantName(id int) string {
	if id == NormalAnomaly {
		return "normal"
	}
	for _, variant := range Variants() {
		if variant.ID == id {
			return variant.Name
		}
	}
	return "unknown"
}

// AnomalyChance returns the likelihood of the next location carrying an
// anomaly given the current station count.
func AnomalyChance(stationCount int) float64 {
	if stationCount < HighChanceLimit {
		return HighAnomalyChance
	}
	if stationCount < MediumChanceLimit {
		return MediumAnomalyChance
	}
	return LowAnomalyChance
}

// Assigner rolls the anomaly assignment for the next location. Only the
// room authority runs one; everyone else receives the result as a
// buffered broadcast.
type Assigner struct {
	rng *rand.Rand
}

// NewAssigner creates an Assigner. A nil rng uses the shared source.
func NewAssigner(rng *rand.Rand) *Assigner {
	return &Assigner{rng: rng}
}

// Assign picks the next location's anomaly: NormalAnomaly, or a random
// variant with a likelihood that falls as the station count grows.
func (a *Assigner) Assign(stationCount int) int {
	if a.roll() >= AnomalyChance(stationCount) {
		return NormalAnomaly
	}
	variants := Variants()
	return variants[a.intn(len(variants))].ID
}

func (a *Assigner) roll() float64 {
	if a.rng != nil {
		return a.rng.Float64()
	}
	return rand.Float64()
}

func (a *Assigner) intn(n int) int {
	if a.rng != nil {
		return a.rng.Intn(n)
	}
	return rand.Intn(n)
}

// StationCounter tracks consecutive anomaly completions. A normal
// completion schedules a reset that takes effect on the next departure,
// so the just-completed station still displays its number.
type StationCounter struct {
	count            int
	resetOnDeparture bool
}

func (c *StationCounter) Count() int {
	return c.count
}

// Arrive applies a completed location and returns the new count.
func (c *StationCounter) Arrive(anomalyID int) int {
	if anomalyID != NormalAnomaly {
		c.count++
	} else {
		c.resetOnDeparture = true
	}
	return c.count
}

// Depart applies a scheduled reset before the next run.
func (c *StationCounter) Depart() {
	if c.resetOnDeparture {
		c.count = 0
		c.resetOnDeparture = false
	}
}
