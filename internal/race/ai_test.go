package race

import (
	"encoding/json"
	"testing"

	"github.com/racewire/racewire/internal/protocol"
)

// racingSession builds a session with one racing human and the AI grid
// filled, returning the registry and session ready for tick-driving.
func racingSession(t *testing.T, tun Tunables) (*Registry, *Session, *recordingBroadcaster) {
	t.Helper()
	r, broadcaster, _ := newTestRegistry(tun)
	r.Join("track-1", "p1", "Ana")
	r.Ready("track-1", "p1")
	r.beginRacing("track-1")
	return r, r.session(t, "track-1"), broadcaster
}

func TestAISpeedConvergesGradually(t *testing.T) {
	r, s, _ := racingSession(t, DefaultTunables())
	a := s.ai[0]

	r.tickAI("track-1")
	if a.Speed <= 0 {
		t.Fatal("AI car should start accelerating on the first tick")
	}
	if a.Speed >= a.TargetSpeed {
		t.Fatalf("speed must converge gradually, jumped to %.2f of target %.2f", a.Speed, a.TargetSpeed)
	}

	prev := a.Speed
	for i := 0; i < 50; i++ {
		r.tickAI("track-1")
	}
	upper := a.TargetSpeed * (1 + r.tun.AISpeedJitter)
	if a.Speed <= prev || a.Speed > upper {
		t.Fatalf("expected speed to climb toward target, got %.2f after %.2f", a.Speed, prev)
	}
}

func TestAIMovesAlongForwardAxis(t *testing.T) {
	r, s, _ := racingSession(t, DefaultTunables())
	a := s.ai[0]
	startX := a.Position.X

	for i := 0; i < 20; i++ {
		r.tickAI("track-1")
	}
	if a.Position.Z <= 0 {
		t.Fatal("AI car should advance along +Z")
	}
	if a.Position.X != startX {
		t.Fatalf("AI car drifted off its lane: %.2f -> %.2f", startX, a.Position.X)
	}
	if a.Distance <= 0 {
		t.Fatal("distance should track motion")
	}
}

func TestAIDeceleratesAndStopsPastFinish(t *testing.T) {
	r, s, _ := racingSession(t, DefaultTunables())
	a := s.ai[0]
	a.Distance = r.tun.FinishDistance - 1
	a.Speed = a.TargetSpeed

	for i := 0; i < 10000 && !a.Finished; i++ {
		r.tickAI("track-1")
	}
	if !a.Finished {
		t.Fatal("AI car never came to rest past the finish line")
	}
	if a.Speed != 0 {
		t.Fatalf("finished AI car should be at rest, speed %.2f", a.Speed)
	}
	overrun := a.Distance - r.tun.FinishDistance
	if overrun < 0 || overrun > r.tun.MaxOverrun+a.TargetSpeed*r.tun.AITickInterval.Seconds() {
		t.Fatalf("overrun out of bounds: %.2f", overrun)
	}
	if !s.finishedIDs[a.ID] {
		t.Fatal("finishing AI car must enter the finish order")
	}
}

func TestAIFinishRecordedOncePerEntity(t *testing.T) {
	r, s, broadcaster := racingSession(t, DefaultTunables())
	a := s.ai[0]
	a.Distance = r.tun.FinishDistance

	for i := 0; i < 200; i++ {
		r.tickAI("track-1")
	}

	count := 0
	for _, rec := range s.finishOrder {
		if rec.EntityID == a.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one finish record for %s, got %d", a.ID, count)
	}
	finished := 0
	for _, rec := range broadcaster.ofType(protocol.EventEntityFinished) {
		var payload protocol.EntityFinishedPayload
		if err := json.Unmarshal(rec.event.Data, &payload); err != nil {
			t.Fatalf("unmarshal entityFinished payload: %v", err)
		}
		if payload.ID == a.ID {
			finished++
		}
	}
	if finished != 1 {
		t.Fatalf("expected one entityFinished event for %s, got %d", a.ID, finished)
	}
}

func TestFinishedAINotTicked(t *testing.T) {
	r, s, _ := racingSession(t, DefaultTunables())
	a := s.ai[0]
	a.Finished = true
	a.Distance = r.tun.FinishDistance + 20
	before := a.Distance

	r.tickAI("track-1")
	if a.Distance != before {
		t.Fatalf("finished AI car must not move: %.2f -> %.2f", before, a.Distance)
	}
}

func TestTickOutsideRacingIsNoOp(t *testing.T) {
	r, broadcaster, _ := newTestRegistry(DefaultTunables())
	r.Join("track-1", "p1", "Ana")

	before := len(broadcaster.ofType(protocol.EventPositionUpdate))
	r.tickAI("track-1")
	r.tickAI("ghost")
	if len(broadcaster.ofType(protocol.EventPositionUpdate)) != before {
		t.Fatal("ticking outside Racing must emit nothing")
	}

	s := r.session(t, "track-1")
	if s.ai[0].Distance != 0 {
		t.Fatal("AI cars must hold their grid positions before the green light")
	}
}
