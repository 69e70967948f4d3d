package client

import "testing"

func TestTrackerCrossingFiresOnce(t *testing.T) {
	tracker := NewTracker(1000, 0.5)
	crossed := 0
	tracker.OnCrossed(func() { crossed++ })

	tracker.Observe(500, 40)
	if crossed != 0 {
		t.Fatal("crossing fired before the finish line")
	}

	tracker.Observe(1000, 30)
	tracker.Observe(1020, 20)
	if crossed != 1 {
		t.Fatalf("crossing must fire exactly once, fired %d times", crossed)
	}

	finishCrossed, stopped := tracker.Flags()
	if !finishCrossed || stopped {
		t.Fatalf("expected crossed but not stopped, got crossed=%v stopped=%v", finishCrossed, stopped)
	}
}

func TestTrackerStoppedAfterCrossing(t *testing.T) {
	tracker := NewTracker(1000, 0.5)
	stopped := 0
	tracker.OnStopped(func() { stopped++ })

	// Standing still on the grid is not a race finish.
	tracker.Observe(0, 0)
	if stopped != 0 {
		t.Fatal("stopped must not fire before the finish line")
	}

	tracker.Observe(1005, 10)
	tracker.Observe(1030, 0.3)
	tracker.Observe(1030, 0)
	if stopped != 1 {
		t.Fatalf("stopped must fire exactly once, fired %d times", stopped)
	}
}

func TestTrackerDistanceMonotonic(t *testing.T) {
	tracker := NewTracker(1000, 0.5)

	tracker.Observe(800, 50)
	tracker.Observe(300, 50)
	if tracker.Distance() != 800 {
		t.Fatalf("distance must never decrease, got %.2f", tracker.Distance())
	}
	if tracker.Speed() != 50 {
		t.Fatalf("speed should track the latest reading, got %.2f", tracker.Speed())
	}

	finishCrossed, _ := tracker.Flags()
	if finishCrossed {
		t.Fatal("800 of 1000 is not a crossing")
	}
}
