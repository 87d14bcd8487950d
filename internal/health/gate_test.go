package health

import (
	"testing"
	"time"

	"BarPulse/internal/domain/models"
)

func TestGateEscalation(t *testing.T) {
	g := NewGate("BTCUSDT")

	if st := g.Status(); st.Status != models.StatusHealthy {
		t.Fatalf("new gate status = %s, want healthy", st.Status)
	}

	g.RecordError(models.SeverityWarning)
	g.RecordError(models.SeverityWarning)
	if st := g.Status(); st.Status != models.StatusHealthy {
		t.Fatalf("after 2 warnings status = %s, want healthy", st.Status)
	}

	g.RecordError(models.SeverityWarning)
	if st := g.Status(); st.Status != models.StatusDegraded {
		t.Fatalf("after 3 warnings status = %s, want degraded", st.Status)
	}

	g.RecordError(models.SeverityCritical)
	if st := g.Status(); st.Status != models.StatusBlocked {
		t.Fatalf("score 5 status = %s, want blocked", st.Status)
	}
	if g.Status().LastErrorAt.IsZero() {
		t.Fatalf("expected last error time set")
	}
}

func TestGateCriticalWeighsDouble(t *testing.T) {
	g := NewGate("ETHUSDT")

	g.RecordError(models.SeverityCritical)
	if st := g.Status(); st.ErrorScore != 2 {
		t.Fatalf("score = %v, want 2", st.ErrorScore)
	}
	g.RecordError(models.SeverityCritical)
	g.RecordError(models.SeverityWarning)
	if st := g.Status(); st.Status != models.StatusBlocked {
		t.Fatalf("score 5 status = %s, want blocked", st.Status)
	}
}

func TestGateBlockedUntilCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := NewGate("BTCUSDT", WithClock(clock), WithCooldown(10*time.Minute))

	for i := 0; i < 5; i++ {
		g.RecordError(models.SeverityWarning)
	}
	if g.CanProceed() {
		t.Fatalf("blocked gate must not proceed before cooldown")
	}

	now = now.Add(9 * time.Minute)
	if g.CanProceed() {
		t.Fatalf("cooldown not elapsed yet")
	}

	now = now.Add(2 * time.Minute)
	if !g.CanProceed() {
		t.Fatalf("cooldown elapsed, gate should re-open")
	}
	st := g.Status()
	if st.Status != models.StatusHealthy || st.ErrorScore != 0 {
		t.Fatalf("after cooldown status = %s score = %v, want healthy/0", st.Status, st.ErrorScore)
	}
}

func TestGateDegradedStillProceeds(t *testing.T) {
	g := NewGate("BTCUSDT")
	g.RecordError(models.SeverityCritical)
	g.RecordError(models.SeverityWarning)
	if st := g.Status(); st.Status != models.StatusDegraded {
		t.Fatalf("status = %s, want degraded", st.Status)
	}
	if !g.CanProceed() {
		t.Fatalf("degraded gate must still proceed")
	}
}
