package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/tactical.picture/internal/picture/situation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/banshee-data/tactical.picture/internal/picture/pipeline"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// tickMetrics are recorded through the global OTel provider, which is a
// no-op unless one has been installed.
type tickMetrics struct {
	ticks    metric.Int64Counter
	skipped  metric.Int64Counter
	spawned  metric.Int64Counter
	pruned   metric.Int64Counter
	created  metric.Int64Counter
	resolved metric.Int64Counter
	dropped  metric.Int64Counter
	level    metric.Int64Gauge

	lastDropped uint64
}

func newTickMetrics(m metric.Meter) (*tickMetrics, error) {
	tm := &tickMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&tm.ticks, "picture.ticks", "Frames processed"},
		{&tm.skipped, "picture.detections.skipped", "Malformed detections dropped"},
		{&tm.spawned, "picture.tracks.spawned", "Tracks created"},
		{&tm.pruned, "picture.tracks.pruned", "Tracks removed after too many misses"},
		{&tm.created, "picture.situations.created", "Situations raised"},
		{&tm.resolved, "picture.situations.resolved", "Situations resolved"},
		{&tm.dropped, "picture.events.dropped", "Audit records overwritten in the event sink"},
	}
	for _, c := range counters {
		ctr, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = ctr
	}

	var err error
	tm.level, err = m.Int64Gauge(
		"picture.render.degradation_level",
		metric.WithDescription("Current render degradation level"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating degradation level gauge: %w", err)
	}
	return tm, nil
}

func (tm *tickMetrics) record(ctx context.Context, snap Snapshot, spawned, pruned int, sinkDropped uint64) {
	tm.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("truth_state", string(snap.TruthState))))
	if snap.Skipped > 0 {
		tm.skipped.Add(ctx, int64(snap.Skipped))
	}
	if spawned > 0 {
		tm.spawned.Add(ctx, int64(spawned))
	}
	if pruned > 0 {
		tm.pruned.Add(ctx, int64(pruned))
	}
	for _, d := range snap.Deltas {
		typ := metric.WithAttributes(attribute.String("type", string(d.Situation.Type)))
		switch d.Kind {
		case situation.DeltaCreated:
			tm.created.Add(ctx, 1, typ)
		case situation.DeltaResolved:
			tm.resolved.Add(ctx, 1, typ)
		}
	}
	if sinkDropped > tm.lastDropped {
		tm.dropped.Add(ctx, int64(sinkDropped-tm.lastDropped))
	}
	tm.lastDropped = sinkDropped
	tm.level.Record(ctx, int64(snap.Plan.DegradationLevel))
}
