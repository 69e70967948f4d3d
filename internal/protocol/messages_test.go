package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeJoin(t *testing.T) {
	msgType, payload, err := DecodeClientMessage([]byte(`{"type":"join","data":{"session_id":"track-1","name":"Ana"}}`))
	if err != nil {
		t.Fatalf("decode join: %v", err)
	}
	if msgType != ClientJoin {
		t.Fatalf("expected join type, got %q", msgType)
	}
	join, ok := payload.(JoinPayload)
	if !ok {
		t.Fatalf("expected JoinPayload, got %T", payload)
	}
	if join.SessionID != "track-1" || join.Name != "Ana" {
		t.Fatalf("unexpected payload %+v", join)
	}
}

func TestDecodeJoinValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing session", `{"type":"join","data":{"name":"Ana"}}`},
		{"missing name", `{"type":"join","data":{"session_id":"track-1"}}`},
		{"name too long", `{"type":"join","data":{"session_id":"track-1","name":"` + strings.Repeat("x", 33) + `"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeClientMessage([]byte(tt.raw)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestDecodeUpdatePosition(t *testing.T) {
	raw := `{"type":"updatePosition","data":{"position":{"x":1,"y":0,"z":42.5},"speed":30,"distance":42.5,"finish_crossed":false,"stopped":false}}`
	msgType, payload, err := DecodeClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode updatePosition: %v", err)
	}
	if msgType != ClientUpdatePosition {
		t.Fatalf("expected updatePosition type, got %q", msgType)
	}
	update, ok := payload.(UpdatePositionPayload)
	if !ok {
		t.Fatalf("expected UpdatePositionPayload, got %T", payload)
	}
	if update.Position.Z != 42.5 || update.Speed != 30 {
		t.Fatalf("unexpected payload %+v", update)
	}
}

func TestDecodeRejectsNegativeReadings(t *testing.T) {
	for _, raw := range []string{
		`{"type":"updatePosition","data":{"distance":-1}}`,
		`{"type":"updatePosition","data":{"speed":-1}}`,
	} {
		if _, _, err := DecodeClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected rejection of %s", raw)
		}
	}
}

func TestDecodeBareControlMessages(t *testing.T) {
	for _, raw := range []string{`{"type":"ready"}`, `{"type":"forceStart"}`} {
		msgType, payload, err := DecodeClientMessage([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if payload != nil {
			t.Fatalf("control message %q should carry no payload, got %T", msgType, payload)
		}
	}
}

func TestDecodeUnknownTypeRejected(t *testing.T) {
	if _, _, err := DecodeClientMessage([]byte(`{"type":"teleport"}`)); err == nil {
		t.Fatal("unknown message type must be rejected")
	}
	if _, _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Fatal("malformed frame must be rejected")
	}
}

func TestNewClientEnvelopeRoundTrip(t *testing.T) {
	env, err := NewClientEnvelope(ClientJoin, JoinPayload{SessionID: "track-1", Name: "Ana"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.Type != ClientJoin || len(env.Data) == 0 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestParseEventPayload(t *testing.T) {
	event := &ServerEvent{
		ID:        "evt-1",
		SessionID: "track-1",
		Type:      EventEntityFinished,
		Timestamp: time.Unix(0, 0),
		Data:      []byte(`{"id":"p1","name":"Ana","rank":1,"elapsed_ms":32500,"is_ai":false}`),
	}
	payload, err := ParseEventPayload(event)
	if err != nil {
		t.Fatalf("parse entityFinished: %v", err)
	}
	finished, ok := payload.(EntityFinishedPayload)
	if !ok {
		t.Fatalf("expected EntityFinishedPayload, got %T", payload)
	}
	if finished.Rank != 1 || finished.ElapsedMS != 32500 {
		t.Fatalf("unexpected payload %+v", finished)
	}

	event.Type = "mystery"
	if _, err := ParseEventPayload(event); err == nil {
		t.Fatal("unknown event type must be rejected")
	}

	event.Type = EventPositionRequest
	event.Data = nil
	payload, err = ParseEventPayload(event)
	if err != nil || payload != nil {
		t.Fatalf("positionRequest carries no payload, got %v / %v", payload, err)
	}
}
