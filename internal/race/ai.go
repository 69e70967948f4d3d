package race

import (
	"github.com/racewire/racewire/internal/protocol"
	"github.com/rs/zerolog/log"
)

// startAITicker launches the recurring simulation tick for a session.
// The ticker is bound to the session's lifetime; destroying the session
// closes the stop channel. Caller holds the lock.
func (r *Registry) startAITicker(s *Session) {
	if s.aiStop != nil || len(s.ai) == 0 {
		return
	}
	s.aiStop = make(chan struct{})
	go r.runAITicker(s.ID, s.aiStop)
	log.Debug().Str("session_id", s.ID).Dur("interval", r.tun.AITickInterval).Msg("AI tick started")
}

// stopAITicker halts the tick goroutine. Caller holds the lock.
func (r *Registry) stopAITicker(s *Session) {
	if s.aiStop == nil {
		return
	}
	close(s.aiStop)
	s.aiStop = nil
}

func (r *Registry) runAITicker(sessionID string, stop chan struct{}) {
	ticker := r.clock.NewTicker(r.tun.AITickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			r.tickAI(sessionID)
		}
	}
}

// tickAI advances every unfinished AI car by one tick and broadcasts the
// results. The session is looked up fresh each tick: it may have been
// destroyed between the timer firing and the lock being acquired.
func (r *Registry) tickAI(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status != StatusRacing {
		return
	}

	dt := r.tun.AITickInterval.Seconds()
	for _, a := range s.ai {
		if a.Finished {
			// Already done; ticking again must cause no duplicate work.
			continue
		}

		r.advanceAIEntity(s, a, dt)

		if a.Distance >= r.tun.FinishDistance {
			r.recordFinish(s, a.ID, a.Name, true)
			overrun := a.Distance - r.tun.FinishDistance
			if a.Speed <= r.tun.StopSpeed || overrun >= r.tun.MaxOverrun {
				a.Finished = true
				a.Speed = 0
			}
		}

		r.emit(s.ID, protocol.EventPositionUpdate, protocol.PositionUpdatePayload{
			ID:            a.ID,
			Position:      a.Position,
			Speed:         a.Speed,
			Distance:      a.Distance,
			FinishCrossed: s.finishedIDs[a.ID],
			Finished:      a.Finished,
			IsAI:          true,
		})
	}
}

// advanceAIEntity integrates one tick of AI motion: pick a (bounded,
// perturbed) target speed, smooth the current speed toward it, and move
// along the track's forward axis. Past the finish line the target ramps
// to zero across the deceleration zone. Caller holds the lock.
func (r *Registry) advanceAIEntity(s *Session, a *AIEntity, dt float64) {
	target := a.TargetSpeed
	if a.Distance < r.tun.FinishDistance {
		target *= 1 + (s.rng.Float64()-0.5)*r.tun.AISpeedJitter
	} else {
		frac := 1 - (a.Distance-r.tun.FinishDistance)/r.tun.DecelZone
		if frac < 0 {
			frac = 0
		}
		target = a.TargetSpeed * frac
	}

	// Exponential smoothing: convergence is gradual, never instantaneous.
	a.Speed = a.Speed*r.tun.AISmoothing + target*(1-r.tun.AISmoothing)

	step := a.Speed * dt
	a.Distance += step
	a.Position.Z += step
}
