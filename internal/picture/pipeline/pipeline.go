package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/events"
	"github.com/banshee-data/tactical.picture/internal/picture/guard"
	"github.com/banshee-data/tactical.picture/internal/picture/render"
	"github.com/banshee-data/tactical.picture/internal/picture/situation"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
	"github.com/banshee-data/tactical.picture/internal/timeutil"
)

var logf = monitoring.Subsystem("pipeline")

// Config is the complete, immutable pipeline configuration.
type Config struct {
	Tracks       tracks.Config
	GuardRules   []guard.Rule
	Situation    situation.Config
	Render       render.Config
	SinkCapacity int
}

// DefaultConfig returns the configuration from the canonical tuning defaults
// file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Tracks:       tracks.ConfigFromTuning(cfg),
		GuardRules:   guard.RulesFromConfig(cfg.GuardRules),
		Situation:    situation.ConfigFromTuning(cfg),
		Render:       render.ConfigFromTuning(cfg),
		SinkCapacity: cfg.GetEventSinkCapacity(),
	}
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used to stamp frames that carry no timestamp.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithSink shares an existing event sink instead of allocating one.
func WithSink(s *events.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// Pipeline owns every stage and its state. Tick must be called from a
// single goroutine; the event sink may be read concurrently.
type Pipeline struct {
	store  *tracks.Store
	guards *guard.Evaluator
	engine *situation.Engine
	policy *render.Policy
	sink   *events.Sink
	clock  timeutil.Clock

	metrics *tickMetrics

	seq         uint64
	truth       TruthState
	firing      map[string]guard.Result // keyed by guard.Result.Key
	degradation render.DegradationState
	display     situation.DisplayStats // render feedback for the next tick
}

// New builds a pipeline from cfg.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	tm, err := newTickMetrics(meter())
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	p := &Pipeline{
		store:   tracks.NewStore(cfg.Tracks),
		guards:  guard.NewEvaluator(cfg.GuardRules),
		engine:  situation.NewEngine(cfg.Situation),
		policy:  render.NewPolicy(cfg.Render),
		clock:   timeutil.RealClock{},
		metrics: tm,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = events.NewSink(cfg.SinkCapacity)
	}
	p.resetState()
	return p, nil
}

// Sink returns the audit log.
func (p *Pipeline) Sink() *events.Sink { return p.sink }

// Reset clears every stage so that replaying the same frames yields the same
// snapshots. The audit log is kept.
func (p *Pipeline) Reset() {
	p.store.Reset()
	p.engine.Reset()
	p.resetState()
}

func (p *Pipeline) resetState() {
	p.seq = 0
	p.truth = TruthOK
	p.firing = make(map[string]guard.Result)
	p.degradation = render.DegradationState{}
	p.display = situation.DisplayStats{}
}

// Tick runs the stages for one frame: track store, guard evaluation,
// situation engine, render policy.
func (p *Pipeline) Tick(frame Frame) Snapshot {
	p.seq++
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = p.clock.Now()
	}
	truth := frame.TruthState.Normalize()
	if truth != frame.TruthState && frame.TruthState != "" {
		logf("unknown truth state %q treated as %s", frame.TruthState, truth)
	}
	audit := auditor{sink: p.sink, ts: ts, truth: truth}

	if truth != p.truth {
		audit.emit(events.SubsystemPipeline, events.EventTruthStateChanged,
			events.TruthPayload{From: string(p.truth), To: string(truth)}, "")
		p.truth = truth
	}

	// Step 1: tracks
	dets := frame.Detections
	if truth == TruthNoData {
		dets = nil
	}
	res := p.store.ProcessFrame(dets, ts)
	for _, id := range res.Spawned {
		if i := slices.IndexFunc(res.Tracks, func(t tracks.Track) bool { return t.ID == id }); i >= 0 {
			audit.emit(events.SubsystemTracks, events.EventTrackSpawned, trackPayload(res.Tracks[i]), "")
		}
	}
	for _, t := range res.Pruned {
		audit.emit(events.SubsystemTracks, events.EventTrackPruned, trackPayload(t),
			fmt.Sprintf("misses %d exceeded %d", t.Misses, p.store.Config.MaxMisses))
	}

	// Step 2: guards
	results := dedupeGuards(p.guards.Evaluate(res.Tracks))
	current := make(map[string]guard.Result, len(results))
	for _, r := range results {
		current[r.Key()] = r
		if _, ok := p.firing[r.Key()]; !ok {
			audit.emit(events.SubsystemGuard, events.EventGuardFired, guardPayload(r), r.FSMEvent)
		}
	}
	for _, key := range sortedKeys(p.firing) {
		if _, ok := current[key]; !ok {
			prev := p.firing[key]
			audit.emit(events.SubsystemGuard, events.EventGuardCleared, guardPayload(prev), "rule no longer matches")
		}
	}
	p.firing = current

	// Step 3: situations
	sits, deltas := p.engine.Evaluate(situation.Input{
		Tracks:  res.Tracks,
		Pruned:  res.Pruned,
		Guards:  results,
		Display: p.display,
		NoData:  truth == TruthNoData,
		Now:     ts,
	})
	for _, d := range deltas {
		audit.emit(events.SubsystemSituation, situationEventType(d.Kind), situationPayload(d), "")
	}

	// Step 4: render plan
	prevLevel := p.degradation.Level
	plan, next := p.policy.BuildPlan(frame.View, len(res.Tracks), frame.FrameTimeMs, frame.Backend, p.degradation, ts)
	if plan.DegradationLevel != prevLevel {
		reasons := make([]string, len(plan.ClutterReasons))
		for i, r := range plan.ClutterReasons {
			reasons[i] = string(r)
		}
		audit.emit(events.SubsystemRender, events.EventDegradationChanged, events.DegradationPayload{
			From:        prevLevel,
			To:          plan.DegradationLevel,
			BitmapScale: plan.BitmapScale,
			FrameTimeMs: frame.FrameTimeMs,
			Reasons:     reasons,
		}, "")
	}
	p.degradation = next
	p.display = situation.DisplayStats{DegradationLevel: plan.DegradationLevel, FrameTimeMs: frame.FrameTimeMs}

	snap := Snapshot{
		Seq:        p.seq,
		Timestamp:  ts,
		TruthState: truth,
		Tracks:     res.Tracks,
		Guards:     results,
		Situations: sits,
		Deltas:     deltas,
		Plan:       plan,
		Skipped:    res.Skipped,
	}
	p.metrics.record(context.Background(), snap, len(res.Spawned), len(res.Pruned), p.sink.Dropped())
	return snap
}

// dedupeGuards keeps the first result for each (rule, track) pair.
func dedupeGuards(in []guard.Result) []guard.Result {
	seen := make(map[string]bool, len(in))
	out := make([]guard.Result, 0, len(in))
	for _, r := range in {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

func sortedKeys(m map[string]guard.Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// auditor stamps records for one tick.
type auditor struct {
	sink  *events.Sink
	ts    time.Time
	truth TruthState
}

func (a auditor) emit(sub events.Subsystem, typ events.EventType, payload events.Payload, reason string) {
	a.sink.Append(events.Record{
		Timestamp:  a.ts,
		Subsystem:  sub,
		EventType:  typ,
		Payload:    payload,
		TruthState: string(a.truth),
		Reason:     reason,
	})
}

func trackPayload(t tracks.Track) events.TrackPayload {
	return events.TrackPayload{
		TrackID: t.ID,
		Status:  string(t.Status),
		IFF:     string(t.IFF),
		RangeM:  t.RangeM(),
		Hits:    t.Hits,
		Misses:  t.Misses,
		Quality: t.Quality,
	}
}

func guardPayload(r guard.Result) events.GuardPayload {
	return events.GuardPayload{
		RuleID:   r.RuleID,
		TrackID:  r.TrackID,
		Severity: string(r.Severity),
		FSMEvent: r.FSMEvent,
		Message:  r.Message,
		RangeM:   r.RangeM,
	}
}

func situationPayload(d situation.Delta) events.SituationPayload {
	s := d.Situation
	return events.SituationPayload{
		SituationID:  s.ID,
		Type:         string(s.Type),
		Severity:     string(s.Severity),
		PrevSeverity: string(d.PrevSeverity),
		TrackIDs:     s.TrackIDs,
		RuleID:       s.RuleID,
		TCPAs:        s.Metrics.TCPAs,
		DCPAm:        s.Metrics.DCPAm,
		RangeM:       s.Metrics.RangeM,
		ClosingMps:   s.Metrics.ClosingMps,
	}
}

func situationEventType(k situation.DeltaKind) events.EventType {
	switch k {
	case situation.DeltaCreated:
		return events.EventSituationCreated
	case situation.DeltaUpdated:
		return events.EventSituationUpdated
	}
	return events.EventSituationResolved
}
