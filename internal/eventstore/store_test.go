package eventstore

import (
	"database/sql"
	"testing"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
	_ "modernc.org/sqlite"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func sampleEvent(id string) *event.Event {
	start := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	e := &event.Event{
		ID:            id,
		ModNumber:     1,
		Status:        event.StatusActive,
		Priority:      1,
		MarketContext: "http://market.example/ctx",
		OriginalStart: start,
		Start:         start,
		Signals: []event.Signal{
			{Index: 0, Duration: 2 * time.Hour, Level: 1.0},
			{Index: 1, Duration: 2 * time.Hour, Level: 2.0},
		},
		Target: event.Target{GroupIDs: []string{"group-1"}},
	}
	e.ComputeEnd()
	return e
}

func testStoreCRUD(t *testing.T, store Store) {
	e := sampleEvent("evt-1")
	if err := store.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get("evt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ModNumber != 1 || got.Priority != 1 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if len(got.Signals) != 2 || got.Signals[1].Level != 2.0 {
		t.Fatalf("unexpected signals: %+v", got.Signals)
	}
	if len(got.Target.GroupIDs) != 1 || got.Target.GroupIDs[0] != "group-1" {
		t.Fatalf("unexpected target: %+v", got.Target)
	}

	e.ModNumber = 2
	e.Signals = []event.Signal{{Index: 0, Duration: time.Hour, Level: 9.0}}
	e.ComputeEnd()
	if err := store.Put(e); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	got, err = store.Get("evt-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ModNumber != 2 {
		t.Fatalf("expected updated mod number 2, got %d", got.ModNumber)
	}
	if len(got.Signals) != 1 || got.Signals[0].Level != 9.0 {
		t.Fatalf("expected signals replaced, got %+v", got.Signals)
	}

	if err := store.Remove("evt-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get("evt-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

// testStoreActive asserts Active()'s actual contract: the full stored
// set, sorted by start ascending, with no status filtering — cancelled
// and completed events included. Excluding them is the control loop's
// job, not the store's, since the loop must still see them to expire
// and purge them.
func testStoreActive(t *testing.T, store Store) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	pending := sampleEvent("pending-1")
	pending.Start = now.Add(2 * time.Hour)
	pending.ComputeEnd()

	active := sampleEvent("active-1")
	active.Start = now.Add(-time.Hour)
	active.ComputeEnd()

	cancelled := sampleEvent("cancelled-1")
	cancelled.Start = now.Add(-3 * time.Hour)
	cancelled.ComputeEnd()
	cancelled.Cancel(now.Add(-time.Minute))

	for _, e := range []*event.Event{pending, active, cancelled} {
		if err := store.Put(e); err != nil {
			t.Fatalf("put %s: %v", e.ID, err)
		}
	}

	got, err := store.Active(now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 stored events regardless of status, got %+v", got)
	}
	wantOrder := []string{"cancelled-1", "active-1", "pending-1"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("expected events sorted by start ascending %v, got order %v", wantOrder, []string{got[0].ID, got[1].ID, got[2].ID})
		}
	}
}

func TestSQLiteStoreCRUD(t *testing.T) {
	testStoreCRUD(t, setupSQLiteStore(t))
}

func TestSQLiteStoreActive(t *testing.T) {
	testStoreActive(t, setupSQLiteStore(t))
}

func TestMemoryStoreCRUD(t *testing.T) {
	testStoreCRUD(t, NewMemoryStore())
}

func TestMemoryStoreActive(t *testing.T) {
	testStoreActive(t, NewMemoryStore())
}

func TestCancellationOffsetRoundTrip(t *testing.T) {
	store := setupSQLiteStore(t)

	e := sampleEvent("evt-cancel")
	e.HasCancellationOffset = true
	e.CancellationOffset = 10 * time.Minute
	if err := store.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get("evt-cancel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.HasCancellationOffset || got.CancellationOffset != 10*time.Minute {
		t.Fatalf("expected cancellation offset round-trip, got %+v", got)
	}
}

func TestUnendingEventRoundTrip(t *testing.T) {
	store := setupSQLiteStore(t)

	e := sampleEvent("evt-unending")
	e.Signals = []event.Signal{{Index: 0, Duration: 0, Level: 3.0}}
	e.ComputeEnd()
	if err := store.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get("evt-unending")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Unending {
		t.Fatalf("expected Unending true, got %+v", got)
	}
}
