package client

// Tracker advances the local player's own distance and finish state from
// locally simulated physics. The client shows its own finish immediately;
// the authoritative standings still come from the server.
type Tracker struct {
	finishDistance float64
	stopSpeed      float64

	distance      float64
	speed         float64
	finishCrossed bool
	stopped       bool

	onCrossed func()
	onStopped func()
}

// NewTracker creates a local race tracker for the given track length.
func NewTracker(finishDistance, stopSpeed float64) *Tracker {
	return &Tracker{
		finishDistance: finishDistance,
		stopSpeed:      stopSpeed,
	}
}

// OnCrossed registers a callback fired once when the finish line is
// crossed, typically to show finish UI without waiting for the server.
func (t *Tracker) OnCrossed(fn func()) { t.onCrossed = fn }

// OnStopped registers a callback fired once when the car comes to rest
// past the finish line.
func (t *Tracker) OnStopped(fn func()) { t.onStopped = fn }

// Observe ingests one physics step. Distance is monotonic: a smaller
// reading never rolls state back.
func (t *Tracker) Observe(distance, speed float64) {
	if distance > t.distance {
		t.distance = distance
	}
	t.speed = speed

	if !t.finishCrossed && t.distance >= t.finishDistance {
		t.finishCrossed = true
		if t.onCrossed != nil {
			t.onCrossed()
		}
	}
	if t.finishCrossed && !t.stopped && speed <= t.stopSpeed {
		t.stopped = true
		if t.onStopped != nil {
			t.onStopped()
		}
	}
}

// Distance returns the monotonic distance travelled.
func (t *Tracker) Distance() float64 { return t.distance }

// Speed returns the last observed speed.
func (t *Tracker) Speed() float64 { return t.speed }

// Flags returns the finish flags reported with every position update.
func (t *Tracker) Flags() (finishCrossed, stopped bool) {
	return t.finishCrossed, t.stopped
}
