package eventstore

import (
	"sort"
	"sync"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
)

// MemoryStore is a map-backed Store, grounded on opstate.Store's
// minimal CRUD shape. Unlike opstate it needs its own mutex — there is
// no SQLite engine underneath to serialize access.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*event.Event
}

// NewMemoryStore returns an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*event.Event)}
}

func (m *MemoryStore) Get(eventID string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	cp.Signals = append([]event.Signal(nil), e.Signals...)
	return &cp, nil
}

func (m *MemoryStore) Put(e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	cp.Signals = append([]event.Signal(nil), e.Signals...)
	m.events[e.ID] = &cp
	return nil
}

func (m *MemoryStore) Remove(eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		return ErrNotFound
	}
	delete(m.events, eventID)
	return nil
}

func (m *MemoryStore) All() ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*event.Event, 0, len(m.events))
	for _, e := range m.events {
		cp := *e
		cp.Signals = append([]event.Signal(nil), e.Signals...)
		out = append(out, &cp)
	}
	return out, nil
}

// Active returns the full stored set sorted by Start ascending. Per
// the store's contract, status-based filtering is the control loop's
// job (internal/control.Select), not the store's — the name mirrors
// the original's get_active_events(), which is likewise an unfiltered
// scan.
func (m *MemoryStore) Active(now time.Time) ([]*event.Event, error) {
	_ = now
	all, err := m.All()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
