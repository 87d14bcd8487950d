package scheduler

import (
	"testing"
	"time"

	"BarPulse/internal/domain/models"
	"BarPulse/internal/health"
)

func newScheduler(t *testing.T, opts ...Option) (*Scheduler, *health.Gate) {
	t.Helper()
	gate := health.NewGate("BTCUSDT")
	return New("BTCUSDT", gate, opts...), gate
}

func TestStartsOnFastPath(t *testing.T) {
	s, _ := newScheduler(t)
	if got := s.Decide(); got != models.PathFast {
		t.Fatalf("initial path = %s, want fast", got)
	}
}

func TestStaleCacheForcesSlowThenFast(t *testing.T) {
	s, _ := newScheduler(t)

	s.MarkStale("1m_welford_mean", "ring wrap")
	if got := s.Decide(); got != models.PathSlow {
		t.Fatalf("stale cache path = %s, want slow", got)
	}
	// Still slow while the cache is dirty.
	if got := s.Decide(); got != models.PathSlow {
		t.Fatalf("still-stale path = %s, want slow", got)
	}

	s.ClearStale()
	if got := s.Decide(); got != models.PathFast {
		t.Fatalf("repaired cache path = %s, want fast", got)
	}
}

func TestDegradedHealthForcesSlow(t *testing.T) {
	s, gate := newScheduler(t)
	gate.RecordError(models.SeverityWarning)
	gate.RecordError(models.SeverityWarning)
	gate.RecordError(models.SeverityWarning)

	if got := s.Decide(); got != models.PathSlow {
		t.Fatalf("degraded path = %s, want slow", got)
	}
}

func TestCriticalLatencyForcesEmergency(t *testing.T) {
	s, _ := newScheduler(t, WithThresholds(50*time.Millisecond, 200*time.Millisecond), WithWindow(10))

	for i := 0; i < 10; i++ {
		s.ObserveLatency(300 * time.Millisecond)
	}
	if got := s.Decide(); got != models.PathEmergency {
		t.Fatalf("over-critical path = %s, want emergency", got)
	}

	// Recovery path: emergency -> slow once the mean drops under warn.
	for i := 0; i < 10; i++ {
		s.ObserveLatency(10 * time.Millisecond)
	}
	if got := s.Decide(); got != models.PathSlow {
		t.Fatalf("recovered path = %s, want slow", got)
	}
	if got := s.Decide(); got != models.PathFast {
		t.Fatalf("healthy follow-up path = %s, want fast", got)
	}
}

func TestEmergencyHoldsBetweenWarnAndCritical(t *testing.T) {
	s, _ := newScheduler(t, WithThresholds(50*time.Millisecond, 200*time.Millisecond), WithWindow(10))

	for i := 0; i < 10; i++ {
		s.ObserveLatency(300 * time.Millisecond)
	}
	s.Decide() // emergency

	// Mean lands between warn and critical: not recovered enough.
	for i := 0; i < 10; i++ {
		s.ObserveLatency(100 * time.Millisecond)
	}
	if got := s.Decide(); got != models.PathEmergency {
		t.Fatalf("mid-band path = %s, emergency must hold until under warn", got)
	}
}

func TestBlockedGateForcesEmergency(t *testing.T) {
	s, gate := newScheduler(t)
	for i := 0; i < 5; i++ {
		gate.RecordError(models.SeverityWarning)
	}
	if got := s.Decide(); got != models.PathEmergency {
		t.Fatalf("blocked path = %s, want emergency", got)
	}
	// Blocked dominates a clean latency window.
	if got := s.Decide(); got != models.PathEmergency {
		t.Fatalf("blocked path must hold, got %s", got)
	}
}

func TestRollingMeanWindow(t *testing.T) {
	s, _ := newScheduler(t, WithWindow(4))
	s.ObserveLatency(10 * time.Millisecond)
	s.ObserveLatency(20 * time.Millisecond)
	if got := s.RollingMean(); got != 15*time.Millisecond {
		t.Fatalf("partial mean = %v, want 15ms", got)
	}
	s.ObserveLatency(30 * time.Millisecond)
	s.ObserveLatency(40 * time.Millisecond)
	s.ObserveLatency(50 * time.Millisecond) // evicts the 10ms sample
	if got := s.RollingMean(); got != 35*time.Millisecond {
		t.Fatalf("rolled mean = %v, want 35ms", got)
	}
}

func TestTransitionHookAndReasons(t *testing.T) {
	var rows []models.TransitionRow
	s, _ := newScheduler(t, WithTransitionHook(func(r models.TransitionRow) {
		rows = append(rows, r)
	}))

	s.MarkStale("1m_welford_mean", "ring wrap")
	s.Decide()
	s.ClearStale()
	s.Decide()

	if len(rows) != 2 {
		t.Fatalf("transitions = %d, want 2", len(rows))
	}
	if rows[0].From != "fast" || rows[0].To != "slow" {
		t.Fatalf("first transition %s->%s, want fast->slow", rows[0].From, rows[0].To)
	}
	if rows[0].Reason == "" || rows[1].Reason == "" {
		t.Fatalf("transitions must carry reasons")
	}
	if rows[1].From != "slow" || rows[1].To != "fast" {
		t.Fatalf("second transition %s->%s, want slow->fast", rows[1].From, rows[1].To)
	}
}

func TestStaleColumnsSorted(t *testing.T) {
	s, _ := newScheduler(t)
	s.MarkStale("b_col", "x")
	s.MarkStale("a_col", "y")
	cols := s.StaleColumns()
	if len(cols) != 2 || cols[0] != "a_col" || cols[1] != "b_col" {
		t.Fatalf("stale columns = %v", cols)
	}
}
