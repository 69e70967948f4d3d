package race

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/racewire/racewire/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ErrNotHost rejects host-only actions attempted by a non-host.
var ErrNotHost = errors.New("only the host may force a start")

// Registry owns every live session and is the only component allowed to
// mutate session state. One mutex guards all of it; timer and tick
// callbacks re-acquire the lock and re-check that their session still
// exists before touching anything, so a timer outliving its session is
// harmless.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clock  clockwork.Clock
	events Broadcaster
	tun    Tunables
}

// NewRegistry creates a session registry. Events are fanned out through
// the given broadcaster; the clock backs every timer and timestamp.
func NewRegistry(events Broadcaster, clock clockwork.Clock, tun Tunables) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    clock,
		events:   events,
		tun:      tun,
	}
}

// Join enrolls a participant. The first human creates the session and
// becomes host; AI cars fill the remaining grid slots. Later humans
// replace the AI car holding the best slot and inherit its position.
func (r *Registry) Join(sessionID, participantID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	created := false
	if !ok {
		s = newSession(sessionID, r.clock.Now().UnixNano())
		r.sessions[sessionID] = s
		created = true
		log.Info().Str("session_id", sessionID).Msg("session created")
	}

	if s.Status != StatusWaiting {
		r.emitTo(sessionID, participantID, protocol.EventError, protocol.ErrorPayload{
			Code:    "race_in_progress",
			Message: "session is no longer accepting participants",
		})
		return
	}
	if _, exists := s.participants[participantID]; exists {
		log.Warn().Str("session_id", sessionID).Str("participant_id", participantID).Msg("duplicate join ignored")
		return
	}

	var slot int
	if ai := s.lowestSlotAI(); ai != nil {
		slot = ai.Slot
		s.removeAI(ai.ID)
		r.emit(sessionID, protocol.EventAIRemoved, protocol.AIRemovedPayload{ID: ai.ID})
		log.Info().
			Str("session_id", sessionID).
			Str("ai_id", ai.ID).
			Int("slot", slot).
			Msg("AI car replaced by joining human")
	} else {
		slot = s.lowestFreeSlot(r.tun.MaxEntities)
		if slot < 0 {
			r.emitTo(sessionID, participantID, protocol.EventError, protocol.ErrorPayload{
				Code:    "session_full",
				Message: "session has no free slots",
			})
			return
		}
	}

	p := &Participant{
		ID:       participantID,
		Name:     name,
		Slot:     slot,
		Position: r.tun.SlotOffset(slot),
	}
	s.participants[participantID] = p
	s.joinOrder = append(s.joinOrder, participantID)

	if created {
		r.fillAISlots(s)
	}

	r.emitTo(sessionID, participantID, protocol.EventJoined, protocol.JoinedPayload{
		ParticipantID: participantID,
		IsHost:        s.hostID() == participantID,
		Slot:          slot,
		Status:        string(s.Status),
		Participants:  s.participantInfos(),
		AIEntities:    s.aiInfos(),
	})
	r.emitExcept(sessionID, participantID, protocol.EventParticipantJoined, protocol.ParticipantJoinedPayload{
		Participant: protocol.ParticipantInfo{
			ID:       p.ID,
			Name:     p.Name,
			Slot:     p.Slot,
			Position: p.Position,
			IsHost:   s.hostID() == p.ID,
		},
	})

	// Ask everyone else to report in right away so the newcomer sees
	// fresh positions instead of stale grid placements.
	r.emitExcept(sessionID, participantID, protocol.EventPositionRequest, nil)

	log.Info().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Str("name", name).
		Int("slot", slot).
		Bool("host", s.hostID() == participantID).
		Msg("participant joined")
}

// fillAISlots populates every free grid slot with an AI car, up to the
// entity cap.
func (r *Registry) fillAISlots(s *Session) {
	var added []*AIEntity
	for slot := 0; slot < r.tun.MaxEntities; slot++ {
		if s.slotTaken(slot) {
			continue
		}
		jitter := 1 + (s.rng.Float64()-0.5)*r.tun.AISpeedJitter
		a := &AIEntity{
			ID:          fmt.Sprintf("ai-%d-%s", slot, s.ID),
			Name:        fmt.Sprintf("AI %d", slot),
			Slot:        slot,
			Position:    r.tun.SlotOffset(slot),
			TargetSpeed: r.tun.AITargetSpeed * jitter,
		}
		s.ai = append(s.ai, a)
		added = append(added, a)
	}
	if len(added) == 0 {
		return
	}
	r.emit(s.ID, protocol.EventAIAdded, protocol.AIAddedPayload{AIEntities: s.aiInfos()})
	log.Info().Str("session_id", s.ID).Int("count", len(added)).Msg("AI cars added")
}

// Ready marks a participant ready. When the whole roster is ready the
// session moves to Countdown. Stale references are ignored.
func (r *Registry) Ready(sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	p, ok := s.participants[participantID]
	if !ok {
		return
	}
	if s.Status != StatusWaiting {
		return
	}

	p.Ready = true
	log.Info().Str("session_id", sessionID).Str("participant_id", participantID).Msg("participant ready")

	if s.allReady() {
		r.startCountdown(s)
	}
}

// ForceStart lets the host begin the countdown without waiting for the
// roster to ready up. Non-host attempts are answered with an error event
// to that client only; session state is unchanged.
func (r *Registry) ForceStart(sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := s.participants[participantID]; !ok {
		return
	}
	if s.hostID() != participantID {
		r.emitTo(sessionID, participantID, protocol.EventError, protocol.ErrorPayload{
			Code:    "not_host",
			Message: ErrNotHost.Error(),
		})
		log.Warn().Str("session_id", sessionID).Str("participant_id", participantID).Msg("non-host force start rejected")
		return
	}
	if s.Status != StatusWaiting {
		return
	}
	r.startCountdown(s)
}

// startCountdown transitions Waiting → Countdown and schedules the green
// light. Caller holds the lock.
func (r *Registry) startCountdown(s *Session) {
	s.Status = StatusCountdown
	r.emit(s.ID, protocol.EventCountdownStarted, protocol.CountdownStartedPayload{
		DelayMS: r.tun.CountdownDelay.Milliseconds(),
	})

	sessionID := s.ID
	s.countdownTimer = r.clock.AfterFunc(r.tun.CountdownDelay, func() {
		r.beginRacing(sessionID)
	})
	log.Info().Str("session_id", s.ID).Dur("delay", r.tun.CountdownDelay).Msg("countdown started")
}

// beginRacing fires when the countdown elapses. The session may have been
// destroyed in the meantime, so everything is re-checked under the lock.
func (r *Registry) beginRacing(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status != StatusCountdown {
		return
	}

	s.Status = StatusRacing
	s.raceStart = r.clock.Now()
	r.emit(sessionID, protocol.EventRacingStarted, protocol.RacingStartedPayload{StartedAt: s.raceStart})
	r.startAITicker(s)
	log.Info().Str("session_id", sessionID).Msg("racing started")
}

// UpdatePosition applies a participant's self-reported state. Messages for
// sessions or participants that no longer exist are dropped silently;
// disconnect races make that an expected condition, not an error.
func (r *Registry) UpdatePosition(sessionID, participantID string, update protocol.UpdatePositionPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	p, ok := s.participants[participantID]
	if !ok {
		return
	}
	if s.Status == StatusFinished {
		return
	}

	p.Position = update.Position
	p.Rotation = update.Rotation
	p.Speed = update.Speed
	// Distance never decreases; an out-of-order update with a smaller
	// value must not roll back finish state.
	if update.Distance > p.Distance {
		p.Distance = update.Distance
	}

	finishTransition := false
	if s.Status == StatusRacing {
		if !p.FinishCrossed && (update.FinishCrossed || p.Distance >= r.tun.FinishDistance) {
			p.FinishCrossed = true
			finishTransition = true
			r.recordFinish(s, p.ID, p.Name, false)
		}
		if p.FinishCrossed && update.Stopped && !p.Finished {
			p.Finished = true
			finishTransition = true
			log.Info().Str("session_id", sessionID).Str("participant_id", participantID).Msg("participant fully stopped")
			r.maybeFinishRace(s)
		}
	}

	now := r.clock.Now()
	if finishTransition || now.Sub(p.lastBroadcast) >= r.tun.BroadcastInterval {
		p.lastBroadcast = now
		r.emitExcept(sessionID, participantID, protocol.EventPositionUpdate, protocol.PositionUpdatePayload{
			ID:            p.ID,
			Position:      p.Position,
			Rotation:      p.Rotation,
			Speed:         p.Speed,
			Distance:      p.Distance,
			FinishCrossed: p.FinishCrossed,
			Finished:      p.Finished,
		})
	}
}

// recordFinish appends a finish record exactly once per entity. Repeated
// crossing reports are suppressed here; double-counting would corrupt
// race-complete detection. Caller holds the lock.
func (r *Registry) recordFinish(s *Session, entityID, name string, isAI bool) {
	if s.finishedIDs[entityID] {
		return
	}

	record := FinishRecord{
		EntityID: entityID,
		Name:     name,
		Elapsed:  r.clock.Now().Sub(s.raceStart),
		IsAI:     isAI,
	}
	s.finishOrder = append(s.finishOrder, record)
	s.finishedIDs[entityID] = true

	r.emit(s.ID, protocol.EventEntityFinished, protocol.EntityFinishedPayload{
		ID:        entityID,
		Name:      name,
		Rank:      len(s.finishOrder),
		ElapsedMS: record.Elapsed.Milliseconds(),
		IsAI:      isAI,
	})
	log.Info().
		Str("session_id", s.ID).
		Str("entity_id", entityID).
		Int("rank", len(s.finishOrder)).
		Dur("elapsed", record.Elapsed).
		Bool("ai", isAI).
		Msg("entity crossed the finish line")

	r.maybeFinishRace(s)
}

// maybeFinishRace transitions Racing → Finished once the finish order
// covers every human and AI entity, then schedules the cleanup grace
// timer. Caller holds the lock.
func (r *Registry) maybeFinishRace(s *Session) {
	if s.Status != StatusRacing || !s.finishCovered() {
		return
	}

	s.Status = StatusFinished
	r.stopAITicker(s)
	r.emit(s.ID, protocol.EventRaceFinished, protocol.RaceFinishedPayload{FinishOrder: s.finishOrderInfos()})

	sessionID := s.ID
	s.cleanupTimer = r.clock.AfterFunc(r.tun.CleanupGrace, func() {
		r.expire(sessionID)
	})
	log.Info().
		Str("session_id", s.ID).
		Int("finishers", len(s.finishOrder)).
		Msg("race finished")
}

// expire destroys a finished session after the cleanup grace period.
func (r *Registry) expire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status != StatusFinished {
		return
	}
	r.destroyLocked(s)
}

// Leave removes a participant. The last human leaving destroys the
// session immediately and cancels everything outstanding.
func (r *Registry) Leave(sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := s.participants[participantID]; !ok {
		return
	}

	delete(s.participants, participantID)
	s.removeFromJoinOrder(participantID)
	log.Info().Str("session_id", sessionID).Str("participant_id", participantID).Msg("participant left")

	if len(s.participants) == 0 {
		r.destroyLocked(s)
		return
	}

	r.emit(sessionID, protocol.EventParticipantLeft, protocol.ParticipantLeftPayload{
		ID:     participantID,
		HostID: s.hostID(),
	})

	switch s.Status {
	case StatusWaiting:
		// The departed player may have been the only one not ready.
		if s.allReady() {
			r.startCountdown(s)
		}
	case StatusRacing:
		// The departed player may have been the only one not finished.
		r.maybeFinishRace(s)
	}
}

// destroyLocked tears a session down: all pending timers are cancelled
// together, the AI tick stops, and the session is forgotten. Caller holds
// the lock.
func (r *Registry) destroyLocked(s *Session) {
	if s.countdownTimer != nil {
		s.countdownTimer.Stop()
		s.countdownTimer = nil
	}
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	r.stopAITicker(s)
	delete(r.sessions, s.ID)
	log.Info().Str("session_id", s.ID).Int("active_sessions", len(r.sessions)).Msg("session destroyed")
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ParticipantCount reports the number of humans across all sessions.
func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.sessions {
		total += len(s.participants)
	}
	return total
}
