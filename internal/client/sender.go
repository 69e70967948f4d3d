package client

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/racewire/racewire/internal/protocol"
)

// SendInterval is the minimum spacing between position frames, so one
// client cannot flood the relay.
const SendInterval = 50 * time.Millisecond

// Transport delivers client frames to the server. Fire-and-forget: the
// caller never blocks on delivery and loss is resynchronized by the next
// periodic update.
type Transport interface {
	Send(env *protocol.ClientEnvelope) error
}

// PositionSender rate-limits outgoing position updates. The forced path
// bypasses the limit once, for "just reconnected" or server-requested
// immediate sends.
type PositionSender struct {
	transport Transport
	clock     clockwork.Clock
	interval  time.Duration
	lastSend  time.Time
}

// NewPositionSender creates a sender over the given transport.
func NewPositionSender(transport Transport, clock clockwork.Clock) *PositionSender {
	return &PositionSender{
		transport: transport,
		clock:     clock,
		interval:  SendInterval,
	}
}

// Send transmits a position update unless one was sent within the rate
// window. It reports whether a frame actually went out.
func (s *PositionSender) Send(update protocol.UpdatePositionPayload, force bool) (bool, error) {
	now := s.clock.Now()
	if !force && !s.lastSend.IsZero() && now.Sub(s.lastSend) < s.interval {
		return false, nil
	}

	env, err := protocol.NewClientEnvelope(protocol.ClientUpdatePosition, update)
	if err != nil {
		return false, err
	}
	s.lastSend = now
	return true, s.transport.Send(env)
}
