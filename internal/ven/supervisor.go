// Package ven composes the event handler, event store, and control
// loop into a single lifecycle the transport carrier drives (§4.5).
package ven

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/control"
	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
	"github.com/homersoft/oadr2-ven-go/internal/ingest"
	"github.com/homersoft/oadr2-ven-go/internal/oadrxml"
)

// Config carries the VEN identity and protocol options the handler
// needs (§6's "recognized configuration options").
type Config struct {
	VenID           string
	VtnIDs          []string
	MarketContexts  []string
	GroupID         string
	ResourceID      string
	PartyID         string
	Profile         oadrxml.Profile
	ControlInterval time.Duration
}

// Supervisor is the lifecycle object grounded on scheduler.Scheduler's
// Start/Stop idiom: sync.Mutex + running bool, composing the ingest
// handler, the event store, and the control loop. §5 requires ingest
// and control-loop store access to be mutually exclusive over the
// composite "load-active -> decide -> update" sequence; Supervisor
// implements that with a single mutex wrapping HandleBroadcast.
type Supervisor struct {
	Store   eventstore.Store
	Handler *ingest.Handler
	Loop    *control.Loop
	Log     *slog.Logger

	// mu is shared with Loop.ScanMu (wired in New), so HandleBroadcast's
	// load-decide-update sequence and the control loop's scan are
	// mutually exclusive, not merely atomic per Store call.
	mu      *sync.Mutex
	running bool
}

// New wires a Supervisor from a Config and store. The handler's
// Nudger and the loop's OnExpire hooks are wired to each other here so
// ingest wakes the loop and loop-driven removal clears opt-outs.
func New(cfg Config, store eventstore.Store, onChange control.ChangeCallback, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}

	loop := control.NewLoop(store, cfg.ControlInterval, onChange, log)

	handler := ingest.NewHandler(cfg.VenID, store, loop, log)
	handler.VtnIDs = cfg.VtnIDs
	handler.MarketContexts = cfg.MarketContexts
	handler.GroupID = cfg.GroupID
	handler.ResourceID = cfg.ResourceID
	handler.PartyID = cfg.PartyID
	if cfg.Profile != "" {
		handler.Profile = cfg.Profile
	}

	loop.OnExpire = handler.ClearOptOut

	mu := &sync.Mutex{}
	loop.ScanMu = mu

	return &Supervisor{
		Store:   store,
		Handler: handler,
		Loop:    loop,
		Log:     log,
		mu:      mu,
	}
}

// Start launches the control loop. Idempotent.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.Loop.Start(ctx)
}

// Stop halts the control loop and waits for it to exit. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.Loop.Stop()
}

// HandleBroadcast runs the acceptance pipeline under the supervisor's
// lock, so ingest's load-active/decide/update sequence is observed
// atomically with respect to the control loop's own scan.
func (s *Supervisor) HandleBroadcast(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.Handler.HandleBroadcast(payload)
	if err != nil {
		return nil, fmt.Errorf("ven: handle broadcast: %w", err)
	}
	return reply, nil
}

// OptOutEvent opts the VEN out of a specific event.
func (s *Supervisor) OptOutEvent(eventID string) {
	s.Handler.OptOutEvent(eventID)
}

// CurrentSignalLevel re-runs the selection algorithm on demand.
func (s *Supervisor) CurrentSignalLevel() (level float64, leadingEventID string, err error) {
	return s.Loop.CurrentSignalLevel(time.Now().UTC())
}

// Nudge wakes the control loop for an out-of-cycle scan.
func (s *Supervisor) Nudge() {
	s.Loop.Nudge()
}
