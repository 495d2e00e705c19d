// Package eventstore persists VEN events: durable CRUD over events and
// their signal intervals, plus the Active() query the control loop
// scans on every tick.
package eventstore

import (
	"errors"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
)

// ErrNotFound is returned by Get/Remove when no event with the given ID
// is stored.
var ErrNotFound = errors.New("eventstore: event not found")

// Store is the persistence interface the ingest pipeline and control
// loop depend on. Both the SQLite-backed Store and the in-memory
// MemoryStore implement it.
type Store interface {
	// Get returns the stored event, or ErrNotFound.
	Get(eventID string) (*event.Event, error)

	// Put inserts or fully replaces an event (and its signal
	// intervals), keyed by ID. Used for both first-seen events
	// and accepted replacements (newer mod-number).
	Put(e *event.Event) error

	// Remove deletes an event and, for the SQLite backend, cascades to
	// its signal rows.
	Remove(eventID string) error

	// All returns every stored event, in no particular order.
	All() ([]*event.Event, error)

	// Active returns the full stored set, sorted by Start ascending —
	// cancelled and completed events included. It does not filter by
	// derived status; that is the control loop's selection algorithm's
	// job (internal/control.Select), which needs to see cancelled and
	// completed events too in order to expire and purge them. The `now`
	// parameter is accepted for interface symmetry with DeriveStatus
	// call sites but is not used to filter the result.
	Active(now time.Time) ([]*event.Event, error)

	Close() error
}
