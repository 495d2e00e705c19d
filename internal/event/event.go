// Package event defines the VEN's in-memory representation of an
// OpenADR event: its target selectors, signal profile, and the
// wall-clock helpers from §3/§4.2 of the event lifecycle
// specification (current-interval lookup, derived status, and the
// cancellation end-time rule). Mod-number monotonicity, start-offset
// preservation, and the choice between explicit and implicit
// cancellation are applied by the ingest package, not here.
package event

import (
	"sort"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/iso8601"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Signal is a single interval in an event's simple-signal profile.
// Duration is zero only for the single-interval "unending event"
// sentinel (see Event.Unending).
type Signal struct {
	Index    int
	Duration time.Duration
	Level    float64
}

// Target holds the four optional per-event target selector sets. An
// empty Target (all four nil/empty) means "no targeting restriction" —
// every VEN accepts the event.
type Target struct {
	VenIDs      []string
	GroupIDs    []string
	ResourceIDs []string
	PartyIDs    []string
}

// Empty reports whether none of the four selector sets are populated.
func (t Target) Empty() bool {
	return len(t.VenIDs) == 0 && len(t.GroupIDs) == 0 && len(t.ResourceIDs) == 0 && len(t.PartyIDs) == 0
}

// Matches reports whether this VEN's identifiers satisfy the target
// selectors. Per §4.1 step 6: if any selector set is non-empty, at
// least one of the VEN's own identifiers must appear in its
// corresponding set. An empty Target always matches.
func (t Target) Matches(venID, groupID, resourceID, partyID string) bool {
	if t.Empty() {
		return true
	}
	return contains(t.VenIDs, venID) ||
		contains(t.GroupIDs, groupID) ||
		contains(t.ResourceIDs, resourceID) ||
		contains(t.PartyIDs, partyID)
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Event is the VEN's internal representation of a VTN-issued event.
type Event struct {
	ID            string
	ModNumber     int
	Status        Status
	Priority      int
	MarketContext string
	TestEvent     bool

	OriginalStart time.Time
	// StartAfterBound is the raw "startafter" tolerance from the most
	// recently accepted descriptor (zero if absent).
	StartAfterBound time.Duration
	// StartOffset is the offset drawn once at event creation and
	// preserved verbatim across later modifications that do not change
	// StartAfterBound (§3 invariant).
	StartOffset time.Duration
	// Start is OriginalStart+StartOffset, the effective start instant.
	Start time.Time

	// HasCancellationOffset reports whether a cancellation offset was
	// supplied; a zero CancellationOffset with HasCancellationOffset
	// false means "cancel immediately" rather than "cancel with a
	// zero-width random window".
	HasCancellationOffset bool
	CancellationOffset    time.Duration

	// Unending is true when the summed signal duration is zero, i.e.
	// the event has no nominal end until explicitly cancelled.
	Unending bool
	// End is meaningful whenever !Unending, and always meaningful once
	// the event has been cancelled (§4.2).
	End time.Time

	// Signals is ordered by Index ascending.
	Signals []Signal

	Target Target
}

// SortSignals orders Signals by Index ascending, satisfying the
// "interval ordering is by index" invariant regardless of wire order.
func (e *Event) SortSignals() {
	sort.Slice(e.Signals, func(i, j int) bool { return e.Signals[i].Index < e.Signals[j].Index })
}

// SumDuration returns the sum of all signal interval durations.
func (e *Event) SumDuration() time.Duration {
	var total time.Duration
	for _, s := range e.Signals {
		total += s.Duration
	}
	return total
}

// ComputeEnd derives End and Unending from Start and Signals. Call
// this once after Start and Signals are both populated (on parse, and
// again after any modification that could change either).
func (e *Event) ComputeEnd() {
	sum := e.SumDuration()
	if sum == 0 {
		e.Unending = true
		e.End = time.Time{}
		return
	}
	e.Unending = false
	e.End = e.Start.Add(sum)
}

// CurrentInterval returns the signal interval active at now, by
// accumulating interval end times from Start. The window tested is
// [prevEnd, cumEnd) — start <= now < end — per §9's resolution of the
// "get_current_interval comparison" open question (the Python source's
// `self.start > now < self.end` is not a conjunction; read as the
// protocol intent of a half-open containment test).
//
// For an unending event, the single signal's interval is current
// indefinitely once now >= Start.
func (e *Event) CurrentInterval(now time.Time) (Signal, bool) {
	if len(e.Signals) == 0 {
		return Signal{}, false
	}
	if e.Unending {
		if !now.Before(e.Start) {
			return e.Signals[0], true
		}
		return Signal{}, false
	}

	prevEnd := e.Start
	for _, sig := range e.Signals {
		cumEnd := prevEnd.Add(sig.Duration)
		if !prevEnd.After(now) && now.Before(cumEnd) {
			return sig, true
		}
		prevEnd = cumEnd
	}
	return Signal{}, false
}

// Cancel applies §4.2 cancellation semantics in place: if the event
// was active at the moment of cancellation, the effective end is
// now + a random draw in [0, CancellationOffset]; otherwise end = now.
// Status becomes StatusCancelled either way.
func (e *Event) Cancel(now time.Time) {
	if e.Status == StatusActive && e.HasCancellationOffset && e.CancellationOffset > 0 {
		end, _ := iso8601.RandomOffset(now, e.CancellationOffset)
		e.End = end
	} else {
		e.End = now
	}
	e.Unending = false
	e.Status = StatusCancelled
}

// DeriveStatus computes the wall-clock-derived status (pending, active,
// completed) for an event that has not been explicitly cancelled.
// Cancelled events are left untouched — cancellation can only be
// entered, never computed away, by wall-clock time alone (§3).
func (e *Event) DeriveStatus(now time.Time) Status {
	if e.Status == StatusCancelled {
		return StatusCancelled
	}
	if now.Before(e.Start) {
		return StatusPending
	}
	if !e.Unending && !e.End.After(now) {
		return StatusCompleted
	}
	return StatusActive
}
