package client

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/racewire/racewire/internal/protocol"
)

const (
	// InterpolationWindow is the span over which a remote car blends from
	// its previous rendered position to the newest authoritative one.
	InterpolationWindow = 100 * time.Millisecond

	// SnapDistance bypasses interpolation for large jumps: rejoins and
	// initial placement.
	SnapDistance = 10.0
)

// Pose is the renderable state of a remote entity for one frame.
type Pose struct {
	ID       string
	Position protocol.Vec3
	Heading  float64
	Speed    float64
	Distance float64
	Finished bool
	IsAI     bool
}

// shadow holds the interpolation endpoints of one remote entity plus
// receipt bookkeeping. Never authoritative; discarded on entity removal.
type shadow struct {
	interpStart  protocol.Vec3
	interpTarget protocol.Vec3
	startTime    time.Time
	heading      float64
	speed        float64
	distance     float64
	finished     bool
	isAI         bool
	hasPosition  bool
}

// Reconciler maintains shadows of remote entities and interpolates their
// rendered positions between authoritative updates. The local player's
// own car is never tracked here; it always reflects local simulation.
type Reconciler struct {
	selfID   string
	clock    clockwork.Clock
	window   time.Duration
	snapDist float64
	entities map[string]*shadow
}

// NewReconciler creates a reconciler for the given local participant.
func NewReconciler(selfID string, clock clockwork.Clock) *Reconciler {
	return &Reconciler{
		selfID:   selfID,
		clock:    clock,
		window:   InterpolationWindow,
		snapDist: SnapDistance,
		entities: make(map[string]*shadow),
	}
}

// ApplyEvent feeds one server event into the shadow set. Events that do
// not concern remote entities are ignored.
func (r *Reconciler) ApplyEvent(event *protocol.ServerEvent) error {
	payload, err := protocol.ParseEventPayload(event)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case protocol.JoinedPayload:
		for _, info := range p.Participants {
			r.seed(info.ID, info.Position, info.Speed, info.Distance, info.Finished, false)
		}
		for _, ai := range p.AIEntities {
			r.seed(ai.ID, ai.Position, ai.Speed, ai.Distance, ai.Finished, true)
		}
	case protocol.ParticipantJoinedPayload:
		r.seed(p.Participant.ID, p.Participant.Position, 0, 0, false, false)
	case protocol.AIAddedPayload:
		for _, ai := range p.AIEntities {
			r.seed(ai.ID, ai.Position, ai.Speed, ai.Distance, ai.Finished, true)
		}
	case protocol.PositionUpdatePayload:
		r.ApplyUpdate(p.ID, p.Position, p.Speed, p.Distance, p.Finished, p.IsAI)
	case protocol.ParticipantLeftPayload:
		r.Remove(p.ID)
	case protocol.AIRemovedPayload:
		r.Remove(p.ID)
	}
	return nil
}

// seed places an entity directly, with no interpolation.
func (r *Reconciler) seed(id string, pos protocol.Vec3, speed, distance float64, finished, isAI bool) {
	if id == r.selfID {
		return
	}
	r.entities[id] = &shadow{
		interpStart:  pos,
		interpTarget: pos,
		startTime:    r.clock.Now(),
		speed:        speed,
		distance:     distance,
		finished:     finished,
		isAI:         isAI,
		hasPosition:  true,
	}
}

// ApplyUpdate records a new authoritative position. The current rendered
// position becomes the interpolation start; the entity never snaps unless
// this is its first update or the jump is implausibly large.
func (r *Reconciler) ApplyUpdate(id string, pos protocol.Vec3, speed, distance float64, finished, isAI bool) {
	if id == r.selfID {
		return
	}

	now := r.clock.Now()
	sh, ok := r.entities[id]
	if !ok {
		sh = &shadow{}
		r.entities[id] = sh
	}

	rendered := sh.positionAt(now, r.window)
	if !sh.hasPosition || dist(rendered, pos) > r.snapDist {
		sh.interpStart = pos
		sh.interpTarget = pos
		sh.hasPosition = true
	} else {
		sh.interpStart = rendered
		sh.interpTarget = pos
		dx := pos.X - rendered.X
		dz := pos.Z - rendered.Z
		if dx != 0 || dz != 0 {
			sh.heading = math.Atan2(dx, dz)
		}
	}
	sh.startTime = now
	sh.speed = speed
	if distance > sh.distance {
		sh.distance = distance
	}
	sh.finished = sh.finished || finished
	sh.isAI = isAI
}

// Remove discards an entity's shadow.
func (r *Reconciler) Remove(id string) {
	delete(r.entities, id)
}

// Pose returns the rendered state of one entity at the current frame time.
func (r *Reconciler) Pose(id string) (Pose, bool) {
	sh, ok := r.entities[id]
	if !ok {
		return Pose{}, false
	}
	return Pose{
		ID:       id,
		Position: sh.positionAt(r.clock.Now(), r.window),
		Heading:  sh.heading,
		Speed:    sh.speed,
		Distance: sh.distance,
		Finished: sh.finished,
		IsAI:     sh.isAI,
	}, true
}

// Poses returns the rendered state of every tracked entity. O(1) per
// entity; meant to run once per rendered frame.
func (r *Reconciler) Poses() []Pose {
	now := r.clock.Now()
	poses := make([]Pose, 0, len(r.entities))
	for id, sh := range r.entities {
		poses = append(poses, Pose{
			ID:       id,
			Position: sh.positionAt(now, r.window),
			Heading:  sh.heading,
			Speed:    sh.speed,
			Distance: sh.distance,
			Finished: sh.finished,
			IsAI:     sh.isAI,
		})
	}
	return poses
}

// positionAt interpolates between the shadow's endpoints. Past the window
// the entity holds at the target until the next update; under packet loss
// that degrades to a visible pause, never a snap backwards.
func (sh *shadow) positionAt(now time.Time, window time.Duration) protocol.Vec3 {
	elapsed := now.Sub(sh.startTime)
	factor := float64(elapsed) / float64(window)
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return protocol.Vec3{
		X: sh.interpStart.X + (sh.interpTarget.X-sh.interpStart.X)*factor,
		Y: sh.interpStart.Y + (sh.interpTarget.Y-sh.interpStart.Y)*factor,
		Z: sh.interpStart.Z + (sh.interpTarget.Z-sh.interpStart.Z)*factor,
	}
}

func dist(a, b protocol.Vec3) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
