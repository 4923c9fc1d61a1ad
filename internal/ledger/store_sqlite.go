package ledger

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/trustplane/internal/fault"
)

// SQLiteStore is the embedded durable backend. modernc's driver is pure
// Go, so the binary stays cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	chain_position INTEGER PRIMARY KEY,
	event_id       TEXT NOT NULL UNIQUE,
	event_type     TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	agent_id       TEXT NOT NULL DEFAULT '',
	occurred_at    TEXT NOT NULL,
	prev_hash      TEXT NOT NULL,
	hash           TEXT NOT NULL,
	payload        TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_correlation ON ledger_events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_ledger_agent ON ledger_events(agent_id);
CREATE INDEX IF NOT EXISTS idx_ledger_type ON ledger_events(event_type);
`

// OpenSQLiteStore opens (or creates) a SQLite-backed ledger.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.Internal(err, "open sqlite ledger")
	}
	// One writer at a time keeps chain appends serial at the driver level.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fault.Internal(err, "create ledger schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts the event after checking it extends the chain head.
func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Transient(err, "begin append")
	}
	defer func() { _ = tx.Rollback() }()

	var head uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(chain_position), 0) FROM ledger_events`).Scan(&head); err != nil {
		return fault.Transient(err, "read chain head")
	}
	if e.ChainPosition != head+1 {
		return fault.Conflict("event %s at position %d, chain head is %d", e.EventID, e.ChainPosition, head)
	}

	payload := sql.NullString{}
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_events
		 (chain_position, event_id, event_type, correlation_id, agent_id, occurred_at, prev_hash, hash, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ChainPosition, e.EventID, string(e.EventType), e.CorrelationID, e.AgentID,
		e.OccurredAt, e.PrevHash, e.Hash, payload); err != nil {
		return fault.Transient(err, "insert event %s", e.EventID)
	}
	if err := tx.Commit(); err != nil {
		return fault.Transient(err, "commit event %s", e.EventID)
	}
	return nil
}

const sqliteEventColumns = `chain_position, event_id, event_type, correlation_id, agent_id, occurred_at, prev_hash, hash, payload`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	var eventType string
	var payload sql.NullString
	err := row.Scan(&e.ChainPosition, &e.EventID, &eventType, &e.CorrelationID,
		&e.AgentID, &e.OccurredAt, &e.PrevHash, &e.Hash, &payload)
	if err != nil {
		return Event{}, err
	}
	e.EventType = EventType(eventType)
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	return e, nil
}

func (s *SQLiteStore) ByID(ctx context.Context, eventID string) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM ledger_events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fault.NotFound("event %s", eventID)
	}
	if err != nil {
		return Event{}, fault.Transient(err, "load event %s", eventID)
	}
	return e, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Transient(err, "query events")
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fault.Transient(err, "scan event")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Transient(err, "scan events")
	}
	return out, nil
}

// recentAscending applies the most-recent-N-in-ascending-order contract.
func (s *SQLiteStore) recentAscending(ctx context.Context, where string, limit int, args ...any) ([]Event, error) {
	if limit > 0 {
		events, err := s.queryEvents(ctx,
			`SELECT `+sqliteEventColumns+` FROM ledger_events WHERE `+where+
				` ORDER BY chain_position DESC LIMIT ?`, append(args, limit)...)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
		return events, nil
	}
	return s.queryEvents(ctx,
		`SELECT `+sqliteEventColumns+` FROM ledger_events WHERE `+where+
			` ORDER BY chain_position ASC`, args...)
}

func (s *SQLiteStore) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	return s.recentAscending(ctx, `correlation_id = ?`, 0, correlationID)
}

func (s *SQLiteStore) ByAgent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	return s.recentAscending(ctx, `agent_id = ?`, limit, agentID)
}

func (s *SQLiteStore) ByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	return s.recentAscending(ctx, `event_type = ?`, limit, string(eventType))
}

func (s *SQLiteStore) Range(ctx context.Context, fromPosition uint64, limit int) ([]Event, error) {
	if fromPosition < 1 {
		fromPosition = 1
	}
	if limit > 0 {
		return s.queryEvents(ctx,
			`SELECT `+sqliteEventColumns+` FROM ledger_events WHERE chain_position >= ?
			 ORDER BY chain_position ASC LIMIT ?`, fromPosition, limit)
	}
	return s.queryEvents(ctx,
		`SELECT `+sqliteEventColumns+` FROM ledger_events WHERE chain_position >= ?
		 ORDER BY chain_position ASC`, fromPosition)
}

func (s *SQLiteStore) Head(ctx context.Context) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM ledger_events ORDER BY chain_position DESC LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fault.Transient(err, "load chain head")
	}
	return e, true, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByType: make(map[EventType]uint64), ByAgent: make(map[string]uint64)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_events`).Scan(&st.TotalEvents); err != nil {
		return Stats{}, fault.Transient(err, "count events")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM ledger_events GROUP BY event_type`)
	if err != nil {
		return Stats{}, fault.Transient(err, "count by type")
	}
	for rows.Next() {
		var t string
		var n uint64
		if err := rows.Scan(&t, &n); err != nil {
			_ = rows.Close()
			return Stats{}, fault.Transient(err, "scan type count")
		}
		st.ByType[EventType(t)] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fault.Transient(err, "scan type counts")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT agent_id, COUNT(*) FROM ledger_events WHERE agent_id != '' GROUP BY agent_id`)
	if err != nil {
		return Stats{}, fault.Transient(err, "count by agent")
	}
	for rows.Next() {
		var agent string
		var n uint64
		if err := rows.Scan(&agent, &n); err != nil {
			_ = rows.Close()
			return Stats{}, fault.Transient(err, "scan agent count")
		}
		st.ByAgent[agent] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fault.Transient(err, "scan agent counts")
	}

	if head, ok, err := s.Head(ctx); err != nil {
		return Stats{}, err
	} else if ok {
		st.HeadPosition = head.ChainPosition
		st.HeadHash = head.Hash
	}
	return st, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
