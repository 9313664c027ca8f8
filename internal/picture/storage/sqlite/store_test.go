package sqlite

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/tactical.picture/internal/picture/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "picture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.MigrateUp())
	return s
}

func fill(sink *events.Sink, n int) {
	for i := 0; i < n; i++ {
		sink.Append(events.Record{
			Timestamp:  t0.Add(time.Duration(i) * time.Second),
			Subsystem:  events.SubsystemGuard,
			EventType:  events.EventGuardFired,
			Payload:    events.GuardPayload{RuleID: "ring", TrackID: "trk_000001", Severity: "CRITICAL"},
			TruthState: "OK",
			Reason:     "THREAT_INNER_RING",
		})
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MigrateUp())

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestMigrateVersionBeforeMigrations(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer s.Close()

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestPersistAndList(t *testing.T) {
	s := openTestStore(t)
	sink := events.NewSink(16)
	fill(sink, 2)
	sink.Append(events.Record{
		Timestamp:  t0,
		Subsystem:  events.SubsystemPipeline,
		EventType:  events.EventTruthStateChanged,
		Payload:    events.TruthPayload{From: "OK", To: "NO_DATA"},
		TruthState: "NO_DATA",
	})
	recs := sink.Snapshot()
	require.NoError(t, s.Persist(recs))

	all, err := s.ListEvents(EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, recs[0].EventID, all[0].EventID)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.True(t, t0.Equal(all[0].Timestamp))
	assert.Equal(t, "guard", all[0].PayloadKind)
	assert.Equal(t, "THREAT_INNER_RING", all[0].Reason)

	var gp events.GuardPayload
	require.NoError(t, json.Unmarshal(all[0].Payload, &gp))
	assert.Equal(t, "ring", gp.RuleID)

	truth, err := s.ListEvents(EventFilter{EventType: events.EventTruthStateChanged})
	require.NoError(t, err)
	require.Len(t, truth, 1)
	assert.Equal(t, "NO_DATA", truth[0].TruthState)

	bySub, err := s.ListEvents(EventFilter{Subsystem: events.SubsystemGuard, AfterSeq: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, bySub, 1)
	assert.Equal(t, uint64(2), bySub[0].Seq)

	// re-persisting the same records is a no-op
	require.NoError(t, s.Persist(recs))
	n, err := s.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFlushIsIncremental(t *testing.T) {
	s := openTestStore(t)
	sink := events.NewSink(8)

	fill(sink, 3)
	n, err := s.Flush(sink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Flush(sink)
	require.NoError(t, err)
	assert.Zero(t, n)

	fill(sink, 2)
	n, err = s.Flush(sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestFlushAfterSinkOverwrite(t *testing.T) {
	s := openTestStore(t)
	sink := events.NewSink(2)
	fill(sink, 5)

	n, err := s.Flush(sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only retained records can be flushed")

	stored, err := s.ListEvents(EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stored[0].Seq)
}

func TestPersistEmptyAndNilPayload(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Persist(nil))
	require.NoError(t, s.Persist([]events.Record{{EventID: "bare", Seq: 1, Timestamp: t0, Subsystem: events.SubsystemRender, EventType: events.EventDegradationChanged}}))

	got, err := s.ListEvents(EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Payload)
	assert.Empty(t, got[0].PayloadKind)
}

func TestPersistOnClosedDB(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Persist([]events.Record{{EventID: "x"}}))
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})
	t.Run("non-busy error returns immediately", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("constraint failed")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		assert.Error(t, err)
		assert.Equal(t, busyRetries, calls)
	})
}

func TestRunsAreKeptApart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	openRun := func() *Store {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		if err := s.MigrateUp(); err != nil {
			t.Fatalf("MigrateUp: %v", err)
		}
		return s
	}

	first := openRun()
	firstSink := events.NewSink(8)
	fill(firstSink, 3)
	if _, err := first.Flush(firstSink); err != nil {
		t.Fatalf("Flush first run: %v", err)
	}

	// The second run starts its seq at 1 again, an hour later.
	second := openRun()
	if first.RunID() == second.RunID() {
		t.Fatalf("both runs got run id %s", first.RunID())
	}
	secondSink := events.NewSink(8)
	for i := 0; i < 3; i++ {
		secondSink.Append(events.Record{
			Timestamp: t0.Add(time.Hour + time.Duration(i)*time.Second),
			Subsystem: events.SubsystemRender,
			EventType: events.EventDegradationChanged,
		})
	}
	if _, err := second.Flush(secondSink); err != nil {
		t.Fatalf("Flush second run: %v", err)
	}

	after, err := second.ListEvents(EventFilter{AfterSeq: 1})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("AfterSeq matched %d rows, want 2 from the current run only", len(after))
	}
	for _, ev := range after {
		if ev.RunID != second.RunID() {
			t.Errorf("row %s belongs to run %s, want %s", ev.EventID, ev.RunID, second.RunID())
		}
	}

	byRun, err := second.ListEvents(EventFilter{RunID: first.RunID()})
	if err != nil {
		t.Fatalf("ListEvents by run: %v", err)
	}
	if len(byRun) != 3 || byRun[0].EventType != events.EventGuardFired {
		t.Errorf("first run rows = %+v, want its 3 guard records", byRun)
	}

	all, err := second.ListEvents(EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents all: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("got %d rows, want 6", len(all))
	}
	for i, ev := range all {
		want := first.RunID()
		if i >= 3 {
			want = second.RunID()
		}
		if ev.RunID != want {
			t.Errorf("row %d (seq %d) from run %s, want %s: runs interleaved", i, ev.Seq, ev.RunID, want)
		}
	}
}
