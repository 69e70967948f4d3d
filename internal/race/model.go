package race

import (
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/racewire/racewire/internal/protocol"
)

// Status is the lifecycle state of a session. Transitions are strictly
// forward: Waiting → Countdown → Racing → Finished.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusRacing    Status = "racing"
	StatusFinished  Status = "finished"
)

// Participant is a human-controlled car. Its fields are mutated only by
// its own position updates and by the registry's finish bookkeeping.
type Participant struct {
	ID            string
	Name          string
	Slot          int
	Position      protocol.Vec3
	Rotation      protocol.Vec3
	Speed         float64
	Distance      float64
	Ready         bool
	FinishCrossed bool
	Finished      bool

	lastBroadcast time.Time
}

// AIEntity is a server-simulated car. Only the AI tick writes its motion.
type AIEntity struct {
	ID          string
	Name        string
	Slot        int
	Position    protocol.Vec3
	Speed       float64
	TargetSpeed float64
	Distance    float64
	Finished    bool
}

// FinishRecord is one immutable entry of the authoritative standings.
type FinishRecord struct {
	EntityID string
	Name     string
	Elapsed  time.Duration
	IsAI     bool
}

// Session is one race instance: roster, AI cars, standings, and the
// timers bound to its lifetime. All access goes through the registry.
type Session struct {
	ID     string
	Status Status

	participants map[string]*Participant
	joinOrder    []string
	ai           []*AIEntity

	finishOrder []FinishRecord
	finishedIDs map[string]bool

	raceStart time.Time

	countdownTimer clockwork.Timer
	cleanupTimer   clockwork.Timer
	aiStop         chan struct{}

	rng *rand.Rand
}

func newSession(id string, seed int64) *Session {
	return &Session{
		ID:           id,
		Status:       StatusWaiting,
		participants: make(map[string]*Participant),
		finishedIDs:  make(map[string]bool),
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// hostID returns the earliest surviving human, or "" for an empty roster.
// Host is derived from join order, never stored.
func (s *Session) hostID() string {
	if len(s.joinOrder) == 0 {
		return ""
	}
	return s.joinOrder[0]
}

func (s *Session) removeFromJoinOrder(id string) {
	for i, pid := range s.joinOrder {
		if pid == id {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			return
		}
	}
}

// allReady reports whether every current human has readied up.
func (s *Session) allReady() bool {
	for _, p := range s.participants {
		if !p.Ready {
			return false
		}
	}
	return len(s.participants) > 0
}

// finishCovered reports whether the finish order covers every human and
// AI entity currently in the session.
func (s *Session) finishCovered() bool {
	if len(s.participants) == 0 {
		return false
	}
	for id := range s.participants {
		if !s.finishedIDs[id] {
			return false
		}
	}
	for _, a := range s.ai {
		if !s.finishedIDs[a.ID] {
			return false
		}
	}
	return true
}

func (s *Session) slotTaken(slot int) bool {
	for _, p := range s.participants {
		if p.Slot == slot {
			return true
		}
	}
	for _, a := range s.ai {
		if a.Slot == slot {
			return true
		}
	}
	return false
}

func (s *Session) lowestFreeSlot(max int) int {
	for slot := 0; slot < max; slot++ {
		if !s.slotTaken(slot) {
			return slot
		}
	}
	return -1
}

// lowestSlotAI returns the AI entity holding the best (earliest) slot.
func (s *Session) lowestSlotAI() *AIEntity {
	var best *AIEntity
	for _, a := range s.ai {
		if best == nil || a.Slot < best.Slot {
			best = a
		}
	}
	return best
}

func (s *Session) removeAI(id string) {
	for i, a := range s.ai {
		if a.ID == id {
			s.ai = append(s.ai[:i], s.ai[i+1:]...)
			return
		}
	}
}

// participantInfos snapshots the roster in join order.
func (s *Session) participantInfos() []protocol.ParticipantInfo {
	host := s.hostID()
	infos := make([]protocol.ParticipantInfo, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		p, ok := s.participants[id]
		if !ok {
			continue
		}
		infos = append(infos, protocol.ParticipantInfo{
			ID:            p.ID,
			Name:          p.Name,
			Slot:          p.Slot,
			Position:      p.Position,
			Rotation:      p.Rotation,
			Speed:         p.Speed,
			Distance:      p.Distance,
			Ready:         p.Ready,
			IsHost:        p.ID == host,
			FinishCrossed: p.FinishCrossed,
			Finished:      p.Finished,
		})
	}
	return infos
}

func (s *Session) aiInfos() []protocol.AIInfo {
	infos := make([]protocol.AIInfo, 0, len(s.ai))
	for _, a := range s.ai {
		infos = append(infos, protocol.AIInfo{
			ID:       a.ID,
			Name:     a.Name,
			Slot:     a.Slot,
			Position: a.Position,
			Speed:    a.Speed,
			Distance: a.Distance,
			Finished: a.Finished,
		})
	}
	return infos
}

func (s *Session) finishOrderInfos() []protocol.FinishRecordInfo {
	infos := make([]protocol.FinishRecordInfo, 0, len(s.finishOrder))
	for _, rec := range s.finishOrder {
		infos = append(infos, protocol.FinishRecordInfo{
			ID:        rec.EntityID,
			Name:      rec.Name,
			ElapsedMS: rec.Elapsed.Milliseconds(),
			IsAI:      rec.IsAI,
		})
	}
	return infos
}
