package race

import (
	"time"

	"github.com/racewire/racewire/internal/protocol"
)

// Tunables collects the fixed constants of the race core. They are not
// runtime-configurable; the constructor exists so tests can shrink timings.
type Tunables struct {
	// MaxEntities caps humans plus AI cars per session.
	MaxEntities int

	// AITickInterval is the period of the AI simulation tick.
	AITickInterval time.Duration

	// CountdownDelay separates the all-ready moment from the green light.
	CountdownDelay time.Duration

	// CleanupGrace keeps a finished session around so late clients can
	// still fetch the final standings.
	CleanupGrace time.Duration

	// BroadcastInterval bounds per-entity continuous position events.
	BroadcastInterval time.Duration

	// FinishDistance is the track length to the finish line.
	FinishDistance float64

	// DecelZone is the distance past the finish over which AI target
	// speed ramps down to zero.
	DecelZone float64

	// MaxOverrun is the distance past the finish at which an AI car is
	// declared stopped regardless of speed.
	MaxOverrun float64

	// StopSpeed is the speed below which a car past the finish counts
	// as fully stopped.
	StopSpeed float64

	AITargetSpeed float64
	AISpeedJitter float64
	AISmoothing   float64

	// Starting grid: slot i sits at x = SlotOriginX + SlotSpacing*i.
	SlotSpacing float64
	SlotOriginX float64
}

// DefaultTunables returns the production constants.
func DefaultTunables() Tunables {
	return Tunables{
		MaxEntities:       5,
		AITickInterval:    100 * time.Millisecond,
		CountdownDelay:    3 * time.Second,
		CleanupGrace:      60 * time.Second,
		BroadcastInterval: 50 * time.Millisecond,
		FinishDistance:    1000,
		DecelZone:         50,
		MaxOverrun:        100,
		StopSpeed:         0.5,
		AITargetSpeed:     60,
		AISpeedJitter:     0.2,
		AISmoothing:       0.9,
		SlotSpacing:       5,
		SlotOriginX:       -10,
	}
}

// SlotOffset maps a starting-grid slot to its world position.
func (t Tunables) SlotOffset(slot int) protocol.Vec3 {
	return protocol.Vec3{X: t.SlotOriginX + t.SlotSpacing*float64(slot)}
}
