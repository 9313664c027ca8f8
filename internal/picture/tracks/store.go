package tracks

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

var logf = monitoring.Subsystem("tracks")

// FrameResult reports the outcome of one ProcessFrame call.
type FrameResult struct {
	Tracks  []Track  // surviving tracks in creation order
	Spawned []string // ids created this frame
	Pruned  []Track  // final state of tracks removed this frame
	Skipped int      // malformed detections dropped before association
}

// Store holds the live tracks. It is not safe for concurrent use.
type Store struct {
	Config Config

	tracks map[string]*Track
	order  []string
	nextID int
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	return &Store{
		Config: cfg,
		tracks: make(map[string]*Track),
		nextID: 1,
	}
}

// Reset drops every track and restarts id allocation so a replay of the
// same frames produces the same ids.
func (s *Store) Reset() {
	s.tracks = make(map[string]*Track)
	s.order = nil
	s.nextID = 1
}

// Len returns the number of live tracks.
func (s *Store) Len() int { return len(s.order) }

// Tracks returns value copies of the live tracks in creation order.
func (s *Store) Tracks() []Track {
	out := make([]Track, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tracks[id])
	}
	return out
}

type measurement struct {
	pos r3.Vec
	los r3.Vec
	det Detection
}

// ProcessFrame ingests one tick of detections taken at ts.
func (s *Store) ProcessFrame(dets []Detection, ts time.Time) FrameResult {
	var res FrameResult

	// Step 1: validate and convert
	meas := make([]measurement, 0, len(dets))
	for i, d := range dets {
		if !validDetection(d) {
			res.Skipped++
			monitoring.Debugf("tracks: skipping malformed detection %d: %+v", i, d)
			continue
		}
		d.BearingDeg = geom.NormalizeBearing(d.BearingDeg)
		pos := geom.PolarToCartesian(d.RangeM, d.BearingDeg, d.ElevDeg)
		meas = append(meas, measurement{pos: pos, los: geom.LineOfSight(pos), det: d})
	}
	if res.Skipped > 0 {
		logf("skipped %d of %d detection(s) at %s", res.Skipped, len(dets), ts.Format(time.RFC3339Nano))
	}

	// Step 2: predict every track to ts
	predicted := make(map[string]r3.Vec, len(s.order))
	for _, id := range s.order {
		trk := s.tracks[id]
		dt := math.Max(ts.Sub(trk.UpdatedAt).Seconds(), minPredictDt)
		predicted[id] = geom.Predict(trk.Position, trk.Velocity, dt)
	}

	// Step 3: greedy association in detection order
	claimed := make(map[string]bool, len(s.order))
	var unmatched []measurement
	for _, m := range meas {
		id := s.associate(m, predicted, claimed)
		if id == "" {
			unmatched = append(unmatched, m)
			continue
		}
		claimed[id] = true
		s.update(s.tracks[id], predicted[id], m, ts)
	}

	// Step 4: coast the rest
	for _, id := range s.order {
		if !claimed[id] {
			s.tracks[id].Misses++
		}
	}

	// Step 5: spawn
	for _, m := range unmatched {
		res.Spawned = append(res.Spawned, s.spawn(m, ts).ID)
	}

	// Step 6: prune, then refresh status and quality
	kept := s.order[:0]
	for _, id := range s.order {
		trk := s.tracks[id]
		s.refresh(trk)
		if trk.Misses > s.Config.MaxMisses {
			res.Pruned = append(res.Pruned, *trk)
			delete(s.tracks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if len(res.Pruned) > 0 {
		monitoring.Debugf("tracks: pruned %d track(s), %d live", len(res.Pruned), len(s.order))
	}

	res.Tracks = s.Tracks()
	return res
}

// associate returns the id of the closest unclaimed track that passes both
// gates, or "" when none does. Ties go to the earlier-created track.
func (s *Store) associate(m measurement, predicted map[string]r3.Vec, claimed map[string]bool) string {
	best := ""
	bestDist := math.Inf(1)
	for _, id := range s.order {
		if claimed[id] {
			continue
		}
		dist := geom.Distance(predicted[id], m.pos)
		if dist > s.Config.MaxGatingDistanceM {
			continue
		}
		vrPred := r3.Dot(s.tracks[id].Velocity, m.los)
		if math.Abs(m.det.VrMps-vrPred) > s.Config.MaxRadialDeltaMps {
			continue
		}
		if dist < bestDist {
			best, bestDist = id, dist
		}
	}
	return best
}

func (s *Store) update(trk *Track, pred r3.Vec, m measurement, ts time.Time) {
	trk.Position = r3.Add(pred, r3.Scale(s.Config.Alpha, r3.Sub(m.pos, pred)))
	radial := r3.Scale(m.det.VrMps, m.los)
	trk.Velocity = r3.Add(trk.Velocity, r3.Scale(s.Config.Beta, r3.Sub(radial, trk.Velocity)))
	trk.SNRdB = (trk.SNRdB + m.det.SNRdB) / 2
	trk.RCSdBsm = m.det.RCSdBsm
	s.applyTransponder(trk, m.det)
	trk.Misses = 0
	trk.Hits++
	trk.UpdatedAt = ts
}

func (s *Store) spawn(m measurement, ts time.Time) *Track {
	id := fmt.Sprintf("trk_%06d", s.nextID)
	s.nextID++
	trk := &Track{
		ID:        id,
		Position:  m.pos,
		Velocity:  r3.Scale(m.det.VrMps, m.los),
		SNRdB:     m.det.SNRdB,
		RCSdBsm:   m.det.RCSdBsm,
		Hits:      1,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.applyTransponder(trk, m.det)
	s.tracks[id] = trk
	s.order = append(s.order, id)
	return trk
}

func (s *Store) applyTransponder(trk *Track, d Detection) {
	trk.TransponderOn = d.TransponderOn
	trk.TransponderMode = d.TransponderMode
	trk.TransponderID = d.TransponderID
	trk.IFF = s.classify(d)
}

func (s *Store) classify(d Detection) IFF {
	if !d.TransponderOn {
		return IFFUnknown
	}
	if slices.Contains(s.Config.FriendlyModes, d.TransponderMode) {
		return IFFFriendly
	}
	return IFFNeutral
}

func (s *Store) refresh(trk *Track) {
	switch {
	case trk.Misses > 0:
		trk.Status = StatusLost
	case trk.Hits >= s.Config.MinHitsToConfirm:
		trk.Status = StatusTracked
	default:
		trk.Status = StatusNew
	}
	trk.Quality = Quality(trk.Misses, s.Config.MaxMisses, trk.SNRdB, s.Config.ReferenceSNRdB)
}

// Quality scores a track in [0, 1] from its miss count and smoothed SNR.
// With maxMisses == 0 the miss factor is 1 while the track is held and 0
// otherwise.
func Quality(misses, maxMisses int, snrDB, referenceSNRdB float64) float64 {
	var missFactor float64
	switch {
	case maxMisses <= 0 && misses == 0:
		missFactor = 1
	case maxMisses <= 0:
		missFactor = 0
	default:
		missFactor = float64(maxMisses-misses) / float64(maxMisses)
	}
	snrFactor := 1.0
	if referenceSNRdB > 0 {
		snrFactor = math.Min(snrDB/referenceSNRdB, 1)
	}
	return geom.Clamp01(missFactor * snrFactor)
}

func validDetection(d Detection) bool {
	for _, f := range []float64{d.RangeM, d.BearingDeg, d.ElevDeg, d.VrMps, d.SNRdB, d.RCSdBsm} {
		if !geom.Finite(f) {
			return false
		}
	}
	if d.RangeM < 0 {
		return false
	}
	return d.ElevDeg >= -90 && d.ElevDeg <= 90
}
