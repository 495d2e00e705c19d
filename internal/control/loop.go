package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
)

// DefaultInterval is the control loop's periodic scan interval (§4.4).
const DefaultInterval = 30 * time.Second

// ChangeCallback is invoked whenever the computed signal level
// changes. A callback panic is recovered by the loop (§7's
// "callback failure" policy): logged, loop continues, the level still
// advances.
type ChangeCallback func(old, new float64)

// Loop is the periodic scan goroutine, grounded on connwatch.Watcher's
// ticker + select{ctx.Done, ticker.C, wake} shape. Nudge is a buffered
// (capacity 1) wake channel: repeated nudges between ticks coalesce
// into a single extra scan.
type Loop struct {
	Store    eventstore.Store
	Interval time.Duration
	OnChange ChangeCallback
	// OnExpire is called for every event ID the selection algorithm
	// marks expired, after it has been removed from the store — the
	// ingest handler uses this to drop matching opt-outs.
	OnExpire func(eventID string)
	Log      *slog.Logger
	// ScanMu, if set, is acquired around each scan's load-active,
	// select, and remove sequence. The caller that composes a Loop
	// with an ingest handler sharing the same Store wires the same
	// lock into both, so the control loop's scan and the handler's
	// own load-decide-update sequence never interleave. Left nil, a
	// Loop used standalone (as in tests) does no extra locking of its
	// own beyond what Store already guarantees per call.
	ScanMu sync.Locker

	mu             sync.Mutex
	running        bool
	currentLevel   float64
	currentEventID string
	nudge          chan struct{}
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewLoop constructs a Loop with sane defaults; Interval defaults to
// DefaultInterval if zero.
func NewLoop(store eventstore.Store, interval time.Duration, onChange ChangeCallback, log *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		Store:    store,
		Interval: interval,
		OnChange: onChange,
		Log:      log,
		nudge:    make(chan struct{}, 1),
	}
}

// Start launches the loop goroutine. Idempotent: calling Start twice
// while already running is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop signals the loop to exit and waits (bounded by one tick's
// selection-pass duration) for it to do so. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
}

// Nudge wakes the loop for an out-of-cycle scan. Non-blocking: a
// nudge already pending is not duplicated.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// CurrentSignalLevel re-runs the selection algorithm against the
// current active set on demand, with no tick wait (§4.5).
func (l *Loop) CurrentSignalLevel(now time.Time) (float64, string, error) {
	active, err := l.Store.Active(now)
	if err != nil {
		return 0, "", err
	}
	res := Select(active, now, l.Log)
	return res.Level, res.LeadingEventID, nil
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.scan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.scan()
		case <-l.nudge:
			l.scan()
		}
	}
}

// scan performs one selection pass: load active events, compute the
// new level, garbage-collect expired/cancelled events, and fire the
// change callback if the level moved.
func (l *Loop) scan() {
	now := time.Now().UTC()

	if l.ScanMu != nil {
		l.ScanMu.Lock()
	}
	active, err := l.Store.Active(now)
	if err != nil {
		if l.ScanMu != nil {
			l.ScanMu.Unlock()
		}
		l.Log.Error("control loop: failed to load active events", "error", err)
		return
	}

	res := Select(active, now, l.Log)

	for _, id := range res.ExpiredIDs {
		if err := l.Store.Remove(id); err != nil {
			l.Log.Error("control loop: failed to remove expired event", "event_id", id, "error", err)
			continue
		}
		if l.OnExpire != nil {
			l.OnExpire(id)
		}
	}
	if l.ScanMu != nil {
		l.ScanMu.Unlock()
	}

	l.mu.Lock()
	old := l.currentLevel
	l.currentLevel = res.Level
	l.currentEventID = res.LeadingEventID
	l.mu.Unlock()

	if res.Level != old {
		l.Log.Debug("signal level changed", "old", old, "new", res.Level, "leading_event_id", res.LeadingEventID)
		if l.OnChange != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						l.Log.Error("control loop: signal-change callback panicked", "panic", r)
					}
				}()
				l.OnChange(old, res.Level)
			}()
		}
	}
}
