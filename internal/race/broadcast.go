package race

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/racewire/racewire/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans session events out to connected clients. Delivery is
// fire-and-forget: the transport may drop messages and the registry never
// blocks on it.
type Broadcaster interface {
	// Broadcast sends an event to every member of the session.
	Broadcast(sessionID string, event *protocol.ServerEvent)

	// BroadcastExcept sends an event to every member except one, used
	// to echo a participant's state to everybody else.
	BroadcastExcept(sessionID, exceptID string, event *protocol.ServerEvent)

	// SendTo targets a single participant.
	SendTo(sessionID, participantID string, event *protocol.ServerEvent)
}

// newEvent assembles a server event envelope. A payload that fails to
// marshal is a programming error; it is logged and the event dropped
// rather than propagated, since broadcast paths have no caller to fail to.
func (r *Registry) newEvent(sessionID string, eventType protocol.EventType, payload any) *protocol.ServerEvent {
	event := &protocol.ServerEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: r.clock.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
			return nil
		}
		event.Data = data
	}
	return event
}

func (r *Registry) emit(sessionID string, eventType protocol.EventType, payload any) {
	if event := r.newEvent(sessionID, eventType, payload); event != nil {
		r.events.Broadcast(sessionID, event)
	}
}

func (r *Registry) emitExcept(sessionID, exceptID string, eventType protocol.EventType, payload any) {
	if event := r.newEvent(sessionID, eventType, payload); event != nil {
		r.events.BroadcastExcept(sessionID, exceptID, event)
	}
}

func (r *Registry) emitTo(sessionID, participantID string, eventType protocol.EventType, payload any) {
	if event := r.newEvent(sessionID, eventType, payload); event != nil {
		r.events.SendTo(sessionID, participantID, event)
	}
}
