// Package control implements the periodic scan that turns the active
// event set into a single scalar signal level (§4.4): the selection
// algorithm itself, plus the ticker-driven loop that runs it.
package control

import (
	"log/slog"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
)

// Result is the outcome of one pass of the selection algorithm.
type Result struct {
	Level          float64
	LeadingEventID string // empty if no candidate
	ExpiredIDs     []string
}

// Select runs the selection algorithm over the active event set,
// grounded on controller.py's _calculate_current_event_status: walk
// every event, skip ones with no usable status or signals, collect
// expired/cancelled IDs for garbage collection, and track the
// candidate with the highest-priority current interval. events must
// already be sorted by Start ascending (eventstore.Store.Active's
// contract) so the first-visited tie wins, implementing "first
// activated wins."
func Select(events []*event.Event, now time.Time, log *slog.Logger) Result {
	if log == nil {
		log = slog.Default()
	}

	var (
		level      float64
		leadID     string
		haveLead   bool
		leadPrio   int
		expiredIDs []string
	)

	for _, e := range events {
		if e.Status == "" {
			log.Debug("ignoring event with no valid status", "event_id", e.ID)
			continue
		}

		if e.Status == event.StatusCancelled && now.After(e.End) {
			log.Debug("event has been cancelled and its tail window elapsed", "event_id", e.ID, "mod_number", e.ModNumber)
			expiredIDs = append(expiredIDs, e.ID)
			continue
		}

		if len(e.Signals) == 0 {
			log.Debug("ignoring event with no valid signals", "event_id", e.ID)
			continue
		}

		sig, ok := e.CurrentInterval(now)
		if !ok {
			switch {
			case !e.Unending && e.End.Before(now):
				log.Debug("event has ended", "event_id", e.ID, "mod_number", e.ModNumber)
				expiredIDs = append(expiredIDs, e.ID)
			case e.Start.After(now):
				log.Debug("event has not started yet", "event_id", e.ID, "mod_number", e.ModNumber)
			default:
				log.Warn("could not determine current interval for event", "event_id", e.ID, "mod_number", e.ModNumber)
			}
			continue
		}

		if e.TestEvent {
			log.Debug("ignoring test event for signal-level computation", "event_id", e.ID)
			continue
		}

		log.Debug("evaluating candidate", "event_id", e.ID, "mod_number", e.ModNumber,
			"interval", sig.Index, "level", sig.Level)

		if !haveLead || e.Priority < leadPrio {
			level = sig.Level
			leadID = e.ID
			leadPrio = e.Priority
			haveLead = true
		}
	}

	return Result{Level: level, LeadingEventID: leadID, ExpiredIDs: expiredIDs}
}
