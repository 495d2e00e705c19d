// Package ingest implements the acceptance pipeline (§4.1): parse a
// VTN broadcast, run the per-event accept/opt-out decision, persist
// accepted events, detect implicit cancellation, and build the
// protocol reply.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
	"github.com/homersoft/oadr2-ven-go/internal/iso8601"
	"github.com/homersoft/oadr2-ven-go/internal/oadrxml"
)

// Nudger is the hook into the lifecycle supervisor's control loop
// wake primitive. The handler calls it after every broadcast that
// changed the store, per §4.1's "ask the lifecycle supervisor to wake
// the control loop" side effect.
type Nudger interface {
	Nudge()
}

// Handler runs the acceptance pipeline against a configured VEN
// identity and an event store.
type Handler struct {
	VenID          string
	VtnIDs         []string // empty = accept any VTN
	MarketContexts []string // empty = accept any market context
	GroupID        string
	ResourceID     string
	PartyID        string
	Profile        oadrxml.Profile

	Store  eventstore.Store
	Nudger Nudger
	Log    *slog.Logger

	mu      sync.Mutex
	optouts map[string]struct{}
}

// NewHandler constructs a Handler with an initialized opt-out set.
func NewHandler(venID string, store eventstore.Store, nudger Nudger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		VenID:   venID,
		Profile: oadrxml.Profile20A,
		Store:   store,
		Nudger:  nudger,
		Log:     log,
		optouts: make(map[string]struct{}),
	}
}

// OptOutEvent adds an event to the user-initiated opt-out set (§5
// "shared resources"). Acceptance for this event reports optOut/200
// until the event is removed from the store.
func (h *Handler) OptOutEvent(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.optouts[eventID] = struct{}{}
}

func (h *Handler) isOptedOut(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.optouts[eventID]
	return ok
}

// ClearOptOut removes an event from the opt-out set. Called by the
// control loop once it has removed the event from the store, mirroring
// the source's remove_events() discarding matching opt-outs.
func (h *Handler) ClearOptOut(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.optouts, eventID)
}

// HandleBroadcast runs the full acceptance pipeline over a parsed
// oadrDistributeEvent payload and returns the XML reply to send back,
// or nil if no event in the broadcast required a response.
func (h *Handler) HandleBroadcast(payload []byte) ([]byte, error) {
	b, parseErrs, err := oadrxml.ParseDistributeEvent(payload)
	if err != nil {
		return nil, fmt.Errorf("ingest: malformed broadcast: %w", err)
	}
	for _, perr := range parseErrs {
		h.Log.Warn("skipping malformed event in broadcast", "error", perr)
	}

	// Step 1: VTN gate.
	if len(h.VtnIDs) > 0 && !contains(h.VtnIDs, b.VtnID) {
		h.Log.Warn("rejecting broadcast from unknown vtnID", "vtn_id", b.VtnID)
		return oadrxml.BuildErrorReply(h.Profile, h.VenID, "400", fmt.Sprintf("Unknown vtnID: %s", b.VtnID))
	}

	var replies []oadrxml.ReplyEntry
	seen := make(map[string]struct{}, len(b.Events))
	changed := false

	for _, desc := range b.Events {
		seen[desc.EventID] = struct{}{}

		opt, code, didChange := h.acceptOne(desc)
		if didChange {
			changed = true
		}
		if desc.ResponseRequired {
			replies = append(replies, oadrxml.ReplyEntry{
				EventID:      desc.EventID,
				ModNumber:    desc.ModNumber,
				RequestID:    b.RequestID,
				OptType:      opt,
				ResponseCode: code,
			})
		}
	}

	if h.cancelImplicit(seen) {
		changed = true
	}

	if changed && h.Nudger != nil {
		h.Nudger.Nudge()
	}

	if len(replies) == 0 {
		return nil, nil
	}
	out, err := oadrxml.BuildCreatedEventReply(h.Profile, h.VenID, replies)
	if err != nil {
		return nil, fmt.Errorf("ingest: build reply: %w", err)
	}
	return out, nil
}

// acceptOne runs steps 3-10 of the acceptance pipeline for a single
// descriptor. It returns the final (opt, responseCode) and whether it
// wrote to the store.
func (h *Handler) acceptOne(desc oadrxml.Descriptor) (opt, code string, storeChanged bool) {
	if desc.EventID == "" {
		return "optOut", "403", false
	}

	prior, err := h.Store.Get(desc.EventID)
	if errors.Is(err, eventstore.ErrNotFound) {
		prior = nil
	} else if err != nil {
		h.Log.Error("event store lookup failed", "event_id", desc.EventID, "error", err)
		return "optOut", "403", false
	}

	// Step 4: default outcome.
	opt, code = "optIn", "200"

	// Step 5: mod-number monotonicity. Sequential, not exclusive —
	// later checks can still override an earlier one, matching the
	// source's unconditional if-chain.
	if prior != nil && desc.ModNumber < prior.ModNumber {
		h.Log.Warn("rejecting lower modification number", "event_id", desc.EventID,
			"new_mod", desc.ModNumber, "prior_mod", prior.ModNumber)
		opt, code = "optOut", "403"
	}

	// Step 6: target match.
	if !desc.Target.Matches(h.VenID, h.GroupID, h.ResourceID, h.PartyID) {
		h.Log.Info("opting out of event - no target match", "event_id", desc.EventID)
		opt, code = "optOut", "403"
	}

	// Step 7: user opt-out set.
	if h.isOptedOut(desc.EventID) {
		h.Log.Info("opting out of event - user opted out", "event_id", desc.EventID)
		opt, code = "optOut", "200"
	}

	// Step 8: no simple signal.
	if len(desc.Signals) == 0 {
		h.Log.Info("opting out of event - no simple signal", "event_id", desc.EventID)
		opt, code = "optOut", "403"
	}

	// Step 9: market-context filter.
	if len(h.MarketContexts) > 0 && !contains(h.MarketContexts, desc.MarketContext) {
		h.Log.Info("opting out of event - market context mismatch",
			"event_id", desc.EventID, "market_context", desc.MarketContext)
		opt, code = "optOut", "405"
	}

	if opt != "optIn" {
		return opt, code, false
	}

	// Step 10: persistence. A descriptor whose mod number equals the
	// prior's passes step 5, which rejects only "<"; here we leave the
	// store untouched unless this really is a newer revision.
	now := time.Now().UTC()
	if prior != nil && desc.ModNumber <= prior.ModNumber {
		return opt, code, false
	}

	e := buildEvent(desc, prior, now)
	if desc.Status == event.StatusCancelled && (prior == nil || prior.Status != event.StatusCancelled) {
		applyExplicitCancellation(e, prior, now)
	}
	if err := h.Store.Put(e); err != nil {
		h.Log.Error("failed to persist event", "event_id", desc.EventID, "error", err)
		return opt, code, false
	}
	return opt, code, true
}

// applyExplicitCancellation implements the explicit-cancellation path
// of §4.2: the random end-of-event window only applies if the event
// was active (by wall-clock derivation of the *prior* stored event,
// since the incoming descriptor's own status is always "cancelled" by
// this point and can't answer "was it active").
func applyExplicitCancellation(e, prior *event.Event, now time.Time) {
	if prior != nil && prior.DeriveStatus(now) == event.StatusActive {
		e.Status = event.StatusActive
	} else {
		e.Status = event.StatusPending
	}
	e.Cancel(now)
}

// cancelImplicit marks as cancelled every stored event whose ID was
// not present in the broadcast just processed (§4.2's implicit path).
// Events already in a terminal state are left untouched.
func (h *Handler) cancelImplicit(seen map[string]struct{}) bool {
	all, err := h.Store.All()
	if err != nil {
		h.Log.Error("failed to scan store for implicit cancellation", "error", err)
		return false
	}

	changed := false
	now := time.Now().UTC()
	for _, e := range all {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		if e.Status == event.StatusCancelled || e.Status == event.StatusCompleted {
			continue
		}
		h.Log.Debug("marking event as implicitly cancelled", "event_id", e.ID)
		e.Status = e.DeriveStatus(now)
		e.Cancel(now)
		if err := h.Store.Put(e); err != nil {
			h.Log.Error("failed to persist implicit cancellation", "event_id", e.ID, "error", err)
			continue
		}
		changed = true
	}
	return changed
}

// buildEvent converts a wire descriptor into the stored Event shape,
// drawing the start offset once and preserving it across later
// modifications that leave startafter unchanged (§3 invariant). The
// cancellation offset reuses the startafter tolerance bound, mirroring
// the original VEN's behavior of threading the same tolerance window
// through to cancellation-time randomization.
func buildEvent(desc oadrxml.Descriptor, prior *event.Event, now time.Time) *event.Event {
	var start time.Time
	var offset time.Duration

	if prior != nil && prior.StartAfterBound == desc.StartAfterBound {
		offset = prior.StartOffset
		start = desc.OriginalStart.Add(offset)
	} else {
		start, offset = iso8601.RandomOffset(desc.OriginalStart, desc.StartAfterBound)
	}

	e := &event.Event{
		ID:                    desc.EventID,
		ModNumber:             desc.ModNumber,
		Status:                desc.Status,
		Priority:              desc.Priority,
		MarketContext:         desc.MarketContext,
		TestEvent:             desc.TestEvent,
		OriginalStart:         desc.OriginalStart,
		StartAfterBound:       desc.StartAfterBound,
		StartOffset:           offset,
		Start:                 start,
		HasCancellationOffset: desc.StartAfterBound > 0,
		CancellationOffset:    desc.StartAfterBound,
		Signals:               append([]event.Signal(nil), desc.Signals...),
		Target:                desc.Target,
	}
	e.SortSignals()
	e.ComputeEnd()
	return e
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
