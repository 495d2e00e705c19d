package eventstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the production event store, grounded on the
// tasks/executions schema shape in the teacher's scheduler store: one
// row per event, a child table for signal intervals cascade-deleted
// with it.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed event store at path.
// A single connection is enforced (SetMaxOpenConns(1)) since
// go-sqlite3 serializes writes at the engine level anyway, and foreign
// keys are turned on explicitly — SQLite ships with FK enforcement off
// by default.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open *sql.DB, used by tests to run
// against modernc.org/sqlite's pure-Go driver with an in-memory
// database instead of the cgo production driver.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("eventstore: enable foreign_keys: %w", err)
	}
	return s.migrate()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		event_id             TEXT PRIMARY KEY,
		mod_number           INTEGER NOT NULL,
		status               TEXT NOT NULL,
		priority             INTEGER NOT NULL,
		market_context       TEXT,
		test_event           INTEGER NOT NULL DEFAULT 0,
		original_start       TEXT NOT NULL,
		start_offset_seconds REAL NOT NULL DEFAULT 0,
		startafter           TEXT,
		cancellation_offset  TEXT,
		start                TEXT NOT NULL,
		end                  TEXT,
		unending             INTEGER NOT NULL DEFAULT 0,
		ven_ids              TEXT,
		group_ids            TEXT,
		resource_ids         TEXT,
		party_ids            TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS signals (
		event_id  TEXT NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
		idx       INTEGER NOT NULL,
		duration  TEXT NOT NULL,
		level     REAL NOT NULL,
		PRIMARY KEY (event_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or fully replaces an event row and its signal rows in a
// single transaction.
func (s *SQLiteStore) Put(e *event.Event) error {
	venIDs, err := json.Marshal(e.Target.VenIDs)
	if err != nil {
		return fmt.Errorf("eventstore: marshal ven_ids: %w", err)
	}
	groupIDs, err := json.Marshal(e.Target.GroupIDs)
	if err != nil {
		return fmt.Errorf("eventstore: marshal group_ids: %w", err)
	}
	resourceIDs, err := json.Marshal(e.Target.ResourceIDs)
	if err != nil {
		return fmt.Errorf("eventstore: marshal resource_ids: %w", err)
	}
	partyIDs, err := json.Marshal(e.Target.PartyIDs)
	if err != nil {
		return fmt.Errorf("eventstore: marshal party_ids: %w", err)
	}

	var endVal any
	if !e.Unending {
		endVal = e.End.Format(time.RFC3339Nano)
	}

	var cancelOffsetVal any
	if e.HasCancellationOffset {
		cancelOffsetVal = e.CancellationOffset.String()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	unending := 0
	if e.Unending {
		unending = 1
	}
	testEvent := 0
	if e.TestEvent {
		testEvent = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("eventstore: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO events (
			event_id, mod_number, status, priority, market_context, test_event,
			original_start, start_offset_seconds, startafter, cancellation_offset,
			start, end, unending, ven_ids, group_ids, resource_ids, party_ids,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			mod_number = excluded.mod_number,
			status = excluded.status,
			priority = excluded.priority,
			market_context = excluded.market_context,
			test_event = excluded.test_event,
			original_start = excluded.original_start,
			start_offset_seconds = excluded.start_offset_seconds,
			startafter = excluded.startafter,
			cancellation_offset = excluded.cancellation_offset,
			start = excluded.start,
			end = excluded.end,
			unending = excluded.unending,
			ven_ids = excluded.ven_ids,
			group_ids = excluded.group_ids,
			resource_ids = excluded.resource_ids,
			party_ids = excluded.party_ids,
			updated_at = excluded.updated_at
	`,
		e.ID, e.ModNumber, string(e.Status), e.Priority, e.MarketContext, testEvent,
		e.OriginalStart.UTC().Format(time.RFC3339Nano), e.StartOffset.Seconds(),
		e.StartAfterBound.String(), cancelOffsetVal,
		e.Start.UTC().Format(time.RFC3339Nano), endVal, unending,
		string(venIDs), string(groupIDs), string(resourceIDs), string(partyIDs),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("eventstore: upsert event %s: %w", e.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM signals WHERE event_id = ?`, e.ID); err != nil {
		return fmt.Errorf("eventstore: clear signals for %s: %w", e.ID, err)
	}

	for _, sig := range e.Signals {
		_, err := tx.Exec(`
			INSERT INTO signals (event_id, idx, duration, level) VALUES (?, ?, ?, ?)
		`, e.ID, sig.Index, sig.Duration.String(), sig.Level)
		if err != nil {
			return fmt.Errorf("eventstore: insert signal %s[%d]: %w", e.ID, sig.Index, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(eventID string) (*event.Event, error) {
	row := s.db.QueryRow(`
		SELECT event_id, mod_number, status, priority, market_context, test_event,
		       original_start, start_offset_seconds, startafter, cancellation_offset,
		       start, end, unending, ven_ids, group_ids, resource_ids, party_ids
		FROM events WHERE event_id = ?
	`, eventID)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	signals, err := s.loadSignals(eventID)
	if err != nil {
		return nil, err
	}
	e.Signals = signals
	return e, nil
}

func (s *SQLiteStore) Remove(eventID string) error {
	res, err := s.db.Exec(`DELETE FROM events WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("eventstore: delete %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) All() ([]*event.Event, error) {
	return s.query(`
		SELECT event_id, mod_number, status, priority, market_context, test_event,
		       original_start, start_offset_seconds, startafter, cancellation_offset,
		       start, end, unending, ven_ids, group_ids, resource_ids, party_ids
		FROM events
	`)
}

// Active returns the full stored set ordered by start ascending.
// Status-based filtering is left entirely to the control loop's
// selection algorithm — this mirrors the unfiltered scan the original
// get_active_events() performs.
func (s *SQLiteStore) Active(now time.Time) ([]*event.Event, error) {
	return s.query(`
		SELECT event_id, mod_number, status, priority, market_context, test_event,
		       original_start, start_offset_seconds, startafter, cancellation_offset,
		       start, end, unending, ven_ids, group_ids, resource_ids, party_ids
		FROM events
		ORDER BY start ASC
	`)
}

func (s *SQLiteStore) query(q string, args ...any) ([]*event.Event, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range events {
		signals, err := s.loadSignals(e.ID)
		if err != nil {
			return nil, err
		}
		e.Signals = signals
	}
	return events, nil
}

func (s *SQLiteStore) loadSignals(eventID string) ([]event.Signal, error) {
	rows, err := s.db.Query(`SELECT idx, duration, level FROM signals WHERE event_id = ? ORDER BY idx ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load signals for %s: %w", eventID, err)
	}
	defer rows.Close()

	var signals []event.Signal
	for rows.Next() {
		var sig event.Signal
		var durStr string
		if err := rows.Scan(&sig.Index, &durStr, &sig.Level); err != nil {
			return nil, err
		}
		dur, err := time.ParseDuration(durStr)
		if err != nil {
			return nil, fmt.Errorf("eventstore: parse signal duration %q: %w", durStr, err)
		}
		sig.Duration = dur
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row *sql.Row) (*event.Event, error) {
	return scanRow(row)
}

func scanEventRow(rows *sql.Rows) (*event.Event, error) {
	return scanRow(rows)
}

func scanRow(r rowScanner) (*event.Event, error) {
	var e event.Event
	var status string
	var testEvent, unending int
	var originalStart, start string
	var startOffsetSeconds float64
	var startAfter string
	var end, cancelOffset sql.NullString
	var venIDs, groupIDs, resourceIDs, partyIDs string

	err := r.Scan(
		&e.ID, &e.ModNumber, &status, &e.Priority, &e.MarketContext, &testEvent,
		&originalStart, &startOffsetSeconds, &startAfter, &cancelOffset,
		&start, &end, &unending, &venIDs, &groupIDs, &resourceIDs, &partyIDs,
	)
	if err != nil {
		return nil, err
	}

	e.Status = event.Status(status)
	e.TestEvent = testEvent == 1
	e.Unending = unending == 1
	e.StartOffset = time.Duration(startOffsetSeconds * float64(time.Second))

	if e.OriginalStart, err = time.Parse(time.RFC3339Nano, originalStart); err != nil {
		return nil, fmt.Errorf("eventstore: parse original_start: %w", err)
	}
	if e.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
		return nil, fmt.Errorf("eventstore: parse start: %w", err)
	}
	if startAfter != "" {
		if e.StartAfterBound, err = time.ParseDuration(startAfter); err != nil {
			return nil, fmt.Errorf("eventstore: parse startafter: %w", err)
		}
	}
	if cancelOffset.Valid {
		e.HasCancellationOffset = true
		if e.CancellationOffset, err = time.ParseDuration(cancelOffset.String); err != nil {
			return nil, fmt.Errorf("eventstore: parse cancellation_offset: %w", err)
		}
	}
	if end.Valid {
		if e.End, err = time.Parse(time.RFC3339Nano, end.String); err != nil {
			return nil, fmt.Errorf("eventstore: parse end: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(venIDs), &e.Target.VenIDs); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal ven_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(groupIDs), &e.Target.GroupIDs); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal group_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceIDs), &e.Target.ResourceIDs); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal resource_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(partyIDs), &e.Target.PartyIDs); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal party_ids: %w", err)
	}

	return &e, nil
}
