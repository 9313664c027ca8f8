package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/events"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Subsystem("storage")

// StoredEvent is an audit record as read back from the database.
type StoredEvent struct {
	RunID       string
	EventID     string
	Seq         uint64
	Timestamp   time.Time
	Subsystem   events.Subsystem
	EventType   events.EventType
	PayloadKind string
	Payload     json.RawMessage
	TruthState  string
	Reason      string
}

// EventFilter narrows ListEvents. Zero fields match everything. Seq restarts
// with every run, so AfterSeq without a RunID is scoped to the store's own
// run.
type EventFilter struct {
	RunID     string
	EventType events.EventType
	Subsystem events.Subsystem
	AfterSeq  uint64
	Limit     int
}

// Store writes audit records to SQLite.
type Store struct {
	db    *sql.DB
	runID string // tags every row this process writes

	mu      sync.Mutex
	lastSeq uint64 // highest sink seq flushed so far
}

// Open opens (or creates) the database at path and applies connection
// pragmas. Call MigrateUp before writing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &Store{db: db, runID: uuid.NewString()}, nil
}

// RunID identifies the rows written through this Store.
func (s *Store) RunID() string { return s.runID }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if the schema is already current.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
// Returns 0, false, nil before any migration has run.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Persist writes recs in one transaction. Records already stored (same
// event id) are ignored.
func (s *Store) Persist(recs []events.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO picture_events (
				run_id, event_id, seq, ts_unix_nanos, subsystem, event_type,
				payload_kind, payload_json, truth_state, reason, persisted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UnixNano()
		for _, rec := range recs {
			var payload interface{}
			if rec.Payload != nil {
				b, err := json.Marshal(rec.Payload)
				if err != nil {
					return fmt.Errorf("encode payload of %s: %w", rec.EventID, err)
				}
				payload = string(b)
			}
			if _, err := stmt.Exec(
				s.runID, rec.EventID, int64(rec.Seq), rec.Timestamp.UnixNano(), string(rec.Subsystem), string(rec.EventType),
				events.PayloadKind(rec.Payload), payload, rec.TruthState, rec.Reason, now,
			); err != nil {
				return fmt.Errorf("insert %s: %w", rec.EventID, err)
			}
		}
		return tx.Commit()
	})
}

// Flush persists every sink record newer than the last flush and returns
// how many were written.
func (s *Store) Flush(sink *events.Sink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := sink.Since(s.lastSeq)
	if len(recs) == 0 {
		return 0, nil
	}
	if first := recs[0].Seq; first > s.lastSeq+1 {
		logf("sink overwrote %d record(s) before they were flushed", first-s.lastSeq-1)
	}
	if err := s.Persist(recs); err != nil {
		return 0, err
	}
	s.lastSeq = recs[len(recs)-1].Seq
	return len(recs), nil
}

// ListEvents returns stored records in time order, seq breaking ties.
func (s *Store) ListEvents(f EventFilter) ([]StoredEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	runID := f.RunID
	if runID == "" && f.AfterSeq > 0 {
		runID = s.runID
	}
	if runID != "" {
		where = append(where, "run_id = ?")
		args = append(args, runID)
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.Subsystem != "" {
		where = append(where, "subsystem = ?")
		args = append(args, string(f.Subsystem))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, int64(f.AfterSeq))
	}
	query := `SELECT run_id, event_id, seq, ts_unix_nanos, subsystem, event_type,
		payload_kind, payload_json, truth_state, reason FROM picture_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_unix_nanos ASC, seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev      StoredEvent
			seq     int64
			tsNanos int64
			payload sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &ev.EventID, &seq, &tsNanos, &ev.Subsystem, &ev.EventType,
			&ev.PayloadKind, &payload, &ev.TruthState, &ev.Reason); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Seq = uint64(seq)
		ev.Timestamp = time.Unix(0, tsNanos).UTC()
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored records.
func (s *Store) CountEvents() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM picture_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
