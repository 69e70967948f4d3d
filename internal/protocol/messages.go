package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Vec3 is a position or rotation in track space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ClientMessageType identifies a client-to-server message variant.
type ClientMessageType string

const (
	ClientJoin           ClientMessageType = "join"
	ClientReady          ClientMessageType = "ready"
	ClientForceStart     ClientMessageType = "forceStart"
	ClientUpdatePosition ClientMessageType = "updatePosition"
)

// ClientEnvelope wraps every client-to-server message.
type ClientEnvelope struct {
	Type ClientMessageType `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// JoinPayload enrolls a participant into a session.
type JoinPayload struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// UpdatePositionPayload carries the locally simulated state of a
// participant's car. FinishCrossed and Stopped are the client's own
// finish determination; the authoritative finish order stays server-side.
type UpdatePositionPayload struct {
	Position      Vec3    `json:"position"`
	Rotation      Vec3    `json:"rotation"`
	Speed         float64 `json:"speed"`
	Distance      float64 `json:"distance"`
	FinishCrossed bool    `json:"finish_crossed"`
	Stopped       bool    `json:"stopped"`
}

const maxNameLength = 32

// NewClientEnvelope builds a client frame for the given payload.
func NewClientEnvelope(msgType ClientMessageType, payload any) (*ClientEnvelope, error) {
	env := &ClientEnvelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// DecodeClientMessage parses and validates a raw client frame. Unknown
// types and malformed payloads are rejected here so the session layer
// only ever sees well-formed variants.
func DecodeClientMessage(data []byte) (ClientMessageType, any, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal client envelope: %w", err)
	}

	switch env.Type {
	case ClientJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return env.Type, nil, fmt.Errorf("unmarshal join payload: %w", err)
		}
		if p.SessionID == "" {
			return env.Type, nil, fmt.Errorf("join: session_id is required")
		}
		if p.Name == "" {
			return env.Type, nil, fmt.Errorf("join: name is required")
		}
		if len(p.Name) > maxNameLength {
			return env.Type, nil, fmt.Errorf("join: name exceeds %d characters", maxNameLength)
		}
		return env.Type, p, nil

	case ClientReady, ClientForceStart:
		return env.Type, nil, nil

	case ClientUpdatePosition:
		var p UpdatePositionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return env.Type, nil, fmt.Errorf("unmarshal position payload: %w", err)
		}
		if p.Distance < 0 {
			return env.Type, nil, fmt.Errorf("updatePosition: negative distance")
		}
		if p.Speed < 0 {
			return env.Type, nil, fmt.Errorf("updatePosition: negative speed")
		}
		return env.Type, p, nil

	default:
		return env.Type, nil, fmt.Errorf("unknown client message type: %q", env.Type)
	}
}

// EventType identifies a server-to-client event variant.
type EventType string

const (
	EventJoined            EventType = "joined"
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantLeft   EventType = "participantLeft"
	EventAIAdded           EventType = "aiAdded"
	EventAIRemoved         EventType = "aiRemoved"
	EventCountdownStarted  EventType = "countdownStarted"
	EventRacingStarted     EventType = "racingStarted"
	EventPositionUpdate    EventType = "positionUpdate"
	EventEntityFinished    EventType = "entityFinished"
	EventRaceFinished      EventType = "raceFinished"
	EventPositionRequest   EventType = "positionRequest"
	EventError             EventType = "error"
)

// ServerEvent is the envelope for all server-to-client events.
type ServerEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParticipantInfo is the roster view of a human participant.
type ParticipantInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Slot          int     `json:"slot"`
	Position      Vec3    `json:"position"`
	Rotation      Vec3    `json:"rotation"`
	Speed         float64 `json:"speed"`
	Distance      float64 `json:"distance"`
	Ready         bool    `json:"ready"`
	IsHost        bool    `json:"is_host"`
	FinishCrossed bool    `json:"finish_crossed"`
	Finished      bool    `json:"finished"`
}

// AIInfo is the roster view of a server-simulated car.
type AIInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Slot     int     `json:"slot"`
	Position Vec3    `json:"position"`
	Speed    float64 `json:"speed"`
	Distance float64 `json:"distance"`
	Finished bool    `json:"finished"`
}

// JoinedPayload is the snapshot sent back to a freshly joined client.
type JoinedPayload struct {
	ParticipantID string            `json:"participant_id"`
	IsHost        bool              `json:"is_host"`
	Slot          int               `json:"slot"`
	Status        string            `json:"status"`
	Participants  []ParticipantInfo `json:"participants"`
	AIEntities    []AIInfo          `json:"ai_entities"`
}

type ParticipantJoinedPayload struct {
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeftPayload struct {
	ID     string `json:"id"`
	HostID string `json:"host_id,omitempty"`
}

type AIAddedPayload struct {
	AIEntities []AIInfo `json:"ai_entities"`
}

type AIRemovedPayload struct {
	ID string `json:"id"`
}

type CountdownStartedPayload struct {
	DelayMS int64 `json:"delay_ms"`
}

type RacingStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// PositionUpdatePayload is the continuous-state event, identical in shape
// for humans and AI cars.
type PositionUpdatePayload struct {
	ID            string  `json:"id"`
	Position      Vec3    `json:"position"`
	Rotation      Vec3    `json:"rotation"`
	Speed         float64 `json:"speed"`
	Distance      float64 `json:"distance"`
	FinishCrossed bool    `json:"finish_crossed"`
	Finished      bool    `json:"finished"`
	IsAI          bool    `json:"is_ai"`
}

type EntityFinishedPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Rank      int    `json:"rank"`
	ElapsedMS int64  `json:"elapsed_ms"`
	IsAI      bool   `json:"is_ai"`
}

// FinishRecordInfo is one entry of the authoritative standings.
type FinishRecordInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ElapsedMS int64  `json:"elapsed_ms"`
	IsAI      bool   `json:"is_ai"`
}

type RaceFinishedPayload struct {
	FinishOrder []FinishRecordInfo `json:"finish_order"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *ServerEvent) (any, error) {
	switch event.Type {
	case EventJoined:
		var p JoinedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventParticipantJoined:
		var p ParticipantJoinedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventParticipantLeft:
		var p ParticipantLeftPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventAIAdded:
		var p AIAddedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventAIRemoved:
		var p AIRemovedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventCountdownStarted:
		var p CountdownStartedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventRacingStarted:
		var p RacingStartedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventPositionUpdate:
		var p PositionUpdatePayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventEntityFinished:
		var p EntityFinishedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventRaceFinished:
		var p RaceFinishedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventPositionRequest:
		return nil, nil
	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", event.Type)
	}
}
