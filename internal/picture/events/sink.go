package events

import (
	"sync"

	"github.com/google/uuid"
)

// Sink is a bounded append-only log. When full, the oldest record is
// overwritten and counted as dropped. Safe for concurrent use.
type Sink struct {
	mu      sync.RWMutex
	buf     []Record
	start   int // index of the oldest record
	n       int
	nextSeq uint64
	dropped uint64
}

// NewSink creates a sink holding at most capacity records. Capacities below
// one are raised to one.
func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = 1
	}
	return &Sink{buf: make([]Record, capacity), nextSeq: 1}
}

// Append stores rec, assigning its sequence number and an event id when the
// caller left it empty. The stored record is returned.
func (s *Sink) Append(rec Record) Record {
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seq = s.nextSeq
	s.nextSeq++

	if s.n == len(s.buf) {
		s.buf[s.start] = rec
		s.start = (s.start + 1) % len(s.buf)
		s.dropped++
		return rec
	}
	s.buf[(s.start+s.n)%len(s.buf)] = rec
	s.n++
	return rec
}

// Snapshot returns a copy of every retained record, oldest first.
func (s *Sink) Snapshot() []Record {
	return s.Since(0)
}

// Since returns copies of retained records with Seq > seq, oldest first.
func (s *Sink) Since(seq uint64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, s.n)
	for i := 0; i < s.n; i++ {
		rec := s.buf[(s.start+i)%len(s.buf)]
		if rec.Seq > seq {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of retained records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Capacity returns the maximum number of retained records.
func (s *Sink) Capacity() int { return len(s.buf) }

// Dropped returns how many records have been overwritten.
func (s *Sink) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// LastSeq returns the sequence number of the newest record, or 0.
func (s *Sink) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}
