package situation

import (
	"time"

	"github.com/banshee-data/tactical.picture/internal/picture/geom"
	"github.com/banshee-data/tactical.picture/internal/picture/guard"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

// DisplayStats is the render feedback from the previous tick.
type DisplayStats struct {
	DegradationLevel int
	FrameTimeMs      float64
}

// Input is everything one evaluation needs.
type Input struct {
	Tracks  []tracks.Track // live tracks after this tick's association
	Pruned  []tracks.Track // tracks removed this tick
	Guards  []guard.Result
	Display DisplayStats
	NoData  bool // no sensor data this tick: update and resolve only
	Now     time.Time
}

type closingState struct {
	streak    int
	lastRange float64
}

type lostEntry struct {
	at     time.Time
	rangeM float64
}

// candidate is a condition that holds this tick.
type candidate struct {
	id       string
	typ      Type
	severity guard.Severity
	trackIDs []string
	ruleID   string
	metrics  Metrics
}

// Engine keeps situation state across ticks. It is not safe for
// concurrent use.
type Engine struct {
	Config Config

	active  map[string]*Situation
	order   []string // active ids in creation order
	closing map[string]*closingState
	seen    map[string]bool // held (misses == 0) since the last disappearance
	lost    map[string]lostEntry
	lostIDs []string // insertion order of lost
}

// NewEngine creates an engine with no active situations.
func NewEngine(cfg Config) *Engine {
	e := &Engine{Config: cfg}
	e.Reset()
	return e
}

// Reset clears every situation and per-track memory.
func (e *Engine) Reset() {
	e.active = make(map[string]*Situation)
	e.order = nil
	e.closing = make(map[string]*closingState)
	e.seen = make(map[string]bool)
	e.lost = make(map[string]lostEntry)
	e.lostIDs = nil
}

// Active returns copies of the active situations in creation order.
func (e *Engine) Active() []Situation {
	out := make([]Situation, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.active[id].clone())
	}
	return out
}

// Evaluate runs every rule against in and returns the active situations and
// the transitions since the previous call.
func (e *Engine) Evaluate(in Input) ([]Situation, []Delta) {
	var cands []candidate
	cands = append(cands, e.cpaRisk(in)...)
	cands = append(cands, e.closingFast(in)...)
	cands = append(cands, e.unknownNearby(in)...)
	cands = append(cands, e.lostContact(in)...)
	cands = append(cands, zoneViolations(in)...)
	if in.Display.DegradationLevel > 0 {
		cands = append(cands, candidate{
			id:       ID(TypeDegradedDisplay),
			typ:      TypeDegradedDisplay,
			severity: guard.SeverityInfo,
		})
	}

	var deltas []Delta
	holding := make(map[string]bool, len(cands))
	for _, c := range cands {
		if holding[c.id] {
			continue
		}
		holding[c.id] = true

		if s, ok := e.active[c.id]; ok {
			prev := s.Severity
			s.Severity = c.severity
			s.Metrics = c.metrics
			s.UpdatedAt = in.Now
			if prev != c.severity {
				deltas = append(deltas, Delta{Kind: DeltaUpdated, Situation: s.clone(), PrevSeverity: prev})
			}
			continue
		}
		if in.NoData {
			continue
		}
		s := &Situation{
			ID:        c.id,
			Type:      c.typ,
			Severity:  c.severity,
			TrackIDs:  c.trackIDs,
			RuleID:    c.ruleID,
			Metrics:   c.metrics,
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
			Active:    true,
		}
		e.active[c.id] = s
		e.order = append(e.order, c.id)
		deltas = append(deltas, Delta{Kind: DeltaCreated, Situation: s.clone()})
	}

	kept := e.order[:0]
	for _, id := range e.order {
		if holding[id] {
			kept = append(kept, id)
			continue
		}
		s := e.active[id]
		s.Active = false
		s.UpdatedAt = in.Now
		deltas = append(deltas, Delta{Kind: DeltaResolved, Situation: s.clone()})
		delete(e.active, id)
	}
	e.order = kept

	return e.Active(), deltas
}

func (e *Engine) cpaRisk(in Input) []candidate {
	var out []candidate
	warnT := e.Config.CPAWarnTime.Seconds()
	critT := e.Config.CPACriticalTime.Seconds()
	for _, t := range in.Tracks {
		tcpa, dcpa := geom.ClosestApproach(t.Position, t.Velocity)
		if !(tcpa > 0 && tcpa <= warnT && dcpa <= e.Config.CPAWarnDistanceM) {
			continue
		}
		sev := guard.SeverityWarn
		if tcpa <= critT && dcpa <= e.Config.CPACriticalDistanceM {
			sev = guard.SeverityCritical
		}
		out = append(out, candidate{
			id:       ID(TypeCPARisk, t.ID),
			typ:      TypeCPARisk,
			severity: sev,
			trackIDs: []string{t.ID},
			metrics: Metrics{
				TCPAs:      tcpa,
				DCPAm:      dcpa,
				RangeM:     t.RangeM(),
				ClosingMps: t.ClosingMps(),
				AgeS:       in.Now.Sub(t.UpdatedAt).Seconds(),
			},
		})
	}
	return out
}

func (e *Engine) closingFast(in Input) []candidate {
	for _, t := range in.Pruned {
		delete(e.closing, t.ID)
	}
	var out []candidate
	for _, t := range in.Tracks {
		st, ok := e.closing[t.ID]
		rng := t.RangeM()
		closing := t.ClosingMps()
		counted := closing >= e.Config.ClosingSpeedMps && (!ok || rng < st.lastRange)
		if !ok {
			st = &closingState{}
			e.closing[t.ID] = st
		}
		st.lastRange = rng
		if !counted {
			st.streak = 0
			continue
		}
		st.streak++
		if st.streak < e.Config.ClosingConfirmFrames {
			continue
		}
		sev := guard.SeverityWarn
		if rng <= e.Config.ClosingCriticalRangeM {
			sev = guard.SeverityCritical
		}
		out = append(out, candidate{
			id:       ID(TypeClosingFast, t.ID),
			typ:      TypeClosingFast,
			severity: sev,
			trackIDs: []string{t.ID},
			metrics: Metrics{
				RangeM:     rng,
				ClosingMps: closing,
				AgeS:       in.Now.Sub(t.UpdatedAt).Seconds(),
			},
		})
	}
	return out
}

func (e *Engine) unknownNearby(in Input) []candidate {
	var out []candidate
	for _, t := range in.Tracks {
		if t.IFF != tracks.IFFUnknown || t.RangeM() > e.Config.NearDistanceM {
			continue
		}
		staleness := in.Now.Sub(t.UpdatedAt)
		if staleness > e.Config.FreshnessWindow {
			continue
		}
		out = append(out, candidate{
			id:       ID(TypeUnknownNearby, t.ID),
			typ:      TypeUnknownNearby,
			severity: guard.SeverityWarn,
			trackIDs: []string{t.ID},
			metrics: Metrics{
				RangeM:     t.RangeM(),
				ClosingMps: t.ClosingMps(),
				AgeS:       staleness.Seconds(),
			},
		})
	}
	return out
}

// lostContact records disappearances of previously held tracks and emits one
// candidate per disappearance until the track is re-associated or the
// window runs out.
func (e *Engine) lostContact(in Input) []candidate {
	minMisses := e.Config.LostContactMinMisses
	for _, t := range in.Pruned {
		if e.seen[t.ID] {
			e.markLost(t, in.Now)
		}
		delete(e.seen, t.ID)
	}
	for _, t := range in.Tracks {
		switch {
		case t.Misses == 0:
			e.seen[t.ID] = true
			e.forgetLost(t.ID)
		case e.seen[t.ID] && t.Misses >= minMisses:
			e.markLost(t, in.Now)
			e.seen[t.ID] = false
		}
	}

	var out []candidate
	kept := e.lostIDs[:0]
	for _, id := range e.lostIDs {
		entry, ok := e.lost[id]
		if !ok {
			continue
		}
		age := in.Now.Sub(entry.at)
		if age > e.Config.LostContactWindow {
			delete(e.lost, id)
			continue
		}
		kept = append(kept, id)
		out = append(out, candidate{
			id:       ID(TypeLostContact, id),
			typ:      TypeLostContact,
			severity: guard.SeverityWarn,
			trackIDs: []string{id},
			metrics:  Metrics{RangeM: entry.rangeM, AgeS: age.Seconds()},
		})
	}
	e.lostIDs = kept
	return out
}

func (e *Engine) markLost(t tracks.Track, now time.Time) {
	if _, ok := e.lost[t.ID]; ok {
		return
	}
	e.lost[t.ID] = lostEntry{at: now, rangeM: t.RangeM()}
	e.lostIDs = append(e.lostIDs, t.ID)
}

func (e *Engine) forgetLost(id string) {
	delete(e.lost, id)
}

func zoneViolations(in Input) []candidate {
	staleness := make(map[string]float64, len(in.Tracks))
	for _, t := range in.Tracks {
		staleness[t.ID] = in.Now.Sub(t.UpdatedAt).Seconds()
	}
	var out []candidate
	for _, g := range in.Guards {
		if g.Severity.Rank() < guard.SeverityWarn.Rank() {
			continue
		}
		out = append(out, candidate{
			id:       ID(TypeZoneViolation, g.RuleID, g.TrackID),
			typ:      TypeZoneViolation,
			severity: g.Severity,
			trackIDs: []string{g.TrackID},
			ruleID:   g.RuleID,
			metrics:  Metrics{RangeM: g.RangeM, AgeS: staleness[g.TrackID]},
		})
	}
	return out
}
