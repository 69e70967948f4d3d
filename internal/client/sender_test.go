package client

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/racewire/racewire/internal/protocol"
)

type captureTransport struct {
	sent []*protocol.ClientEnvelope
	err  error
}

func (t *captureTransport) Send(env *protocol.ClientEnvelope) error {
	t.sent = append(t.sent, env)
	return t.err
}

func TestSenderRateLimitsFrames(t *testing.T) {
	transport := &captureTransport{}
	clock := clockwork.NewFakeClock()
	sender := NewPositionSender(transport, clock)

	update := protocol.UpdatePositionPayload{Distance: 1}

	sent, err := sender.Send(update, false)
	if err != nil || !sent {
		t.Fatalf("first frame should go out, sent=%v err=%v", sent, err)
	}

	sent, err = sender.Send(update, false)
	if err != nil || sent {
		t.Fatalf("frame inside the rate window must be suppressed, sent=%v err=%v", sent, err)
	}

	clock.Advance(SendInterval)
	sent, err = sender.Send(update, false)
	if err != nil || !sent {
		t.Fatalf("frame after the rate window should go out, sent=%v err=%v", sent, err)
	}

	if len(transport.sent) != 2 {
		t.Fatalf("expected 2 frames on the wire, got %d", len(transport.sent))
	}
	if transport.sent[0].Type != protocol.ClientUpdatePosition {
		t.Fatalf("unexpected frame type %q", transport.sent[0].Type)
	}
}

func TestSenderForceBypassesRateLimit(t *testing.T) {
	transport := &captureTransport{}
	clock := clockwork.NewFakeClock()
	sender := NewPositionSender(transport, clock)

	update := protocol.UpdatePositionPayload{Distance: 1}

	if sent, _ := sender.Send(update, false); !sent {
		t.Fatal("first frame should go out")
	}
	if sent, _ := sender.Send(update, true); !sent {
		t.Fatal("forced frame must bypass the rate window")
	}
	if len(transport.sent) != 2 {
		t.Fatalf("expected 2 frames on the wire, got %d", len(transport.sent))
	}
}
