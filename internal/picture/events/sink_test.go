package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func rec(i int) Record {
	return Record{
		Timestamp:  t0.Add(time.Duration(i) * time.Millisecond),
		Subsystem:  SubsystemTracks,
		EventType:  EventTrackSpawned,
		Payload:    TrackPayload{TrackID: fmt.Sprintf("trk_%06d", i)},
		TruthState: "OK",
	}
}

func TestAppendAssignsSeqAndID(t *testing.T) {
	s := NewSink(4)
	a := s.Append(rec(1))
	b := s.Append(Record{EventID: "fixed"})

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Len(t, a.EventID, 36)
	assert.Equal(t, "fixed", b.EventID)
	assert.Equal(t, uint64(2), s.LastSeq())
	assert.Equal(t, 2, s.Len())
}

func TestDropOldestWhenFull(t *testing.T) {
	s := NewSink(3)
	for i := 1; i <= 5; i++ {
		s.Append(rec(i))
	}
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{snap[0].Seq, snap[1].Seq, snap[2].Seq})
	assert.Equal(t, uint64(2), s.Dropped())
	assert.Equal(t, "trk_000003", snap[0].Payload.(TrackPayload).TrackID)
}

func TestSince(t *testing.T) {
	s := NewSink(10)
	for i := 1; i <= 5; i++ {
		s.Append(rec(i))
	}
	got := s.Since(3)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Empty(t, s.Since(5))
	assert.Len(t, s.Since(0), 5)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSink(2)
	s.Append(rec(1))
	snap := s.Snapshot()
	snap[0].Reason = "mutated"
	assert.Empty(t, s.Snapshot()[0].Reason)
}

func TestMinimumCapacity(t *testing.T) {
	s := NewSink(0)
	assert.Equal(t, 1, s.Capacity())
	s.Append(rec(1))
	s.Append(rec(2))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(1), s.Dropped())
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := NewSink(64)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append(rec(i))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			snap := s.Snapshot()
			for j := 1; j < len(snap); j++ {
				assert.Less(t, snap[j-1].Seq, snap[j].Seq)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, uint64(400), s.LastSeq())
	assert.Equal(t, 64, s.Len())
	assert.Equal(t, uint64(336), s.Dropped())
}

func TestPayloadKind(t *testing.T) {
	assert.Equal(t, "guard", PayloadKind(GuardPayload{}))
	assert.Equal(t, "situation", PayloadKind(SituationPayload{}))
	assert.Equal(t, "degradation", PayloadKind(DegradationPayload{}))
	assert.Equal(t, "truth", PayloadKind(TruthPayload{}))
	assert.Equal(t, "", PayloadKind(nil))
}
