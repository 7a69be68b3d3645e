package session

import "time"

// Clock abstracts time so the session state machines can be stepped
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// NewRealClock returns a Clock backed by the system time.
func NewRealClock() Clock {
	return realClock{}
}
