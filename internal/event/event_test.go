package event

import (
	"testing"
	"time"
)

func mustUTC(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestTargetMatches(t *testing.T) {
	empty := Target{}
	if !empty.Matches("", "", "", "") {
		t.Error("empty target should match everything")
	}

	tg := Target{GroupIDs: []string{"g1", "g2"}}
	if tg.Matches("ven1", "", "res1", "party1") {
		t.Error("non-matching group should not match")
	}
	if !tg.Matches("ven1", "g2", "res1", "party1") {
		t.Error("matching group should match")
	}
}

func TestCurrentIntervalSingleSignal(t *testing.T) {
	start := mustUTC("2026-07-29T10:00:00Z")
	e := &Event{Start: start, Signals: []Signal{{Index: 0, Duration: 5 * time.Hour, Level: 1.0}}}
	e.ComputeEnd()

	now := start.Add(1 * time.Minute)
	sig, ok := e.CurrentInterval(now)
	if !ok || sig.Level != 1.0 {
		t.Fatalf("expected current interval level 1.0, got %v ok=%v", sig, ok)
	}
}

func TestCurrentIntervalCrossover(t *testing.T) {
	start := mustUTC("2026-07-29T00:00:00Z")
	e := &Event{
		Start: start,
		Signals: []Signal{
			{Index: 0, Duration: 4 * time.Hour, Level: 3.0},
			{Index: 1, Duration: 4 * time.Hour, Level: 2.0},
		},
	}
	e.ComputeEnd()

	now := start.Add(4*time.Hour + 1*time.Minute)
	sig, ok := e.CurrentInterval(now)
	if !ok || sig.Level != 2.0 {
		t.Fatalf("expected level 2.0 after crossover, got %v ok=%v", sig, ok)
	}
}

func TestUnendingEvent(t *testing.T) {
	start := mustUTC("2026-07-29T00:00:00Z")
	e := &Event{Start: start, Signals: []Signal{{Index: 0, Duration: 0, Level: 1.0}}}
	e.ComputeEnd()

	if !e.Unending {
		t.Fatal("expected Unending to be true for zero-duration signal")
	}

	sig, ok := e.CurrentInterval(start.Add(100 * 24 * time.Hour))
	if !ok || sig.Level != 1.0 {
		t.Fatalf("unending event should remain current indefinitely, got %v ok=%v", sig, ok)
	}

	sig, ok = e.CurrentInterval(start.Add(-time.Minute))
	if ok {
		t.Fatalf("unending event should not be current before start, got %v", sig)
	}
}

func TestCancelActiveEventUsesCancellationOffset(t *testing.T) {
	now := mustUTC("2026-07-29T12:00:00Z")
	e := &Event{Status: StatusActive, HasCancellationOffset: true, CancellationOffset: 10 * time.Minute}
	e.Cancel(now)

	if e.Status != StatusCancelled {
		t.Fatalf("expected status cancelled, got %v", e.Status)
	}
	if e.End.Before(now) || e.End.After(now.Add(10*time.Minute)) {
		t.Fatalf("expected end within [now, now+10m], got %v (now=%v)", e.End, now)
	}
}

func TestCancelNonActiveEventEndsImmediately(t *testing.T) {
	now := mustUTC("2026-07-29T12:00:00Z")
	e := &Event{Status: StatusPending, HasCancellationOffset: true, CancellationOffset: 10 * time.Minute}
	e.Cancel(now)

	if !e.End.Equal(now) {
		t.Fatalf("expected end == now for non-active cancellation, got %v", e.End)
	}
}

func TestDeriveStatus(t *testing.T) {
	start := mustUTC("2026-07-29T10:00:00Z")
	e := &Event{Start: start, Signals: []Signal{{Index: 0, Duration: time.Hour, Level: 1}}}
	e.ComputeEnd()

	if got := e.DeriveStatus(start.Add(-time.Minute)); got != StatusPending {
		t.Errorf("expected pending before start, got %v", got)
	}
	if got := e.DeriveStatus(start.Add(time.Minute)); got != StatusActive {
		t.Errorf("expected active during interval, got %v", got)
	}
	if got := e.DeriveStatus(start.Add(2 * time.Hour)); got != StatusCompleted {
		t.Errorf("expected completed after end, got %v", got)
	}

	e.Status = StatusCancelled
	if got := e.DeriveStatus(start.Add(time.Minute)); got != StatusCancelled {
		t.Errorf("cancelled status must not be recomputed, got %v", got)
	}
}
