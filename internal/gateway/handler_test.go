package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStats struct {
	sessions     int
	participants int
}

func (f *fakeStats) SessionCount() int     { return f.sessions }
func (f *fakeStats) ParticipantCount() int { return f.participants }

func TestHandleStatus(t *testing.T) {
	manager := NewConnectionManager(DefaultConnectionConfig())
	handler := NewHandler(manager, &fakeStats{sessions: 2, participants: 5})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal status body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status %v", body["status"])
	}
	if body["active_sessions"].(float64) != 2 || body["active_participants"].(float64) != 5 {
		t.Fatalf("unexpected counters %v", body)
	}
}

func TestHandleConnectionStats(t *testing.T) {
	manager := NewConnectionManager(DefaultConnectionConfig())
	handler := NewHandler(manager, &fakeStats{})

	req := httptest.NewRequest(http.MethodGet, "/ws/stats", nil)
	rec := httptest.NewRecorder()
	handler.HandleConnectionStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal stats body: %v", err)
	}
	if body["total_connections"] != 0 || body["active_sessions"] != 0 {
		t.Fatalf("fresh manager should report zero connections, got %v", body)
	}
}

func TestHealthz(t *testing.T) {
	manager := NewConnectionManager(DefaultConnectionConfig())
	handler := NewHandler(manager, &fakeStats{})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}
