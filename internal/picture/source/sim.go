package source

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/tactical.picture/internal/picture/geom"
	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
	"github.com/banshee-data/tactical.picture/internal/picture/render"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
	"github.com/banshee-data/tactical.picture/internal/timeutil"
)

// SimConfig shapes the simulated scenario. Frame k is stamped
// Start + k*Step regardless of wall time, so a fixed Seed replays exactly.
type SimConfig struct {
	Start    time.Time
	Step     time.Duration // scenario time between frames
	Interval time.Duration // wall time between frames; 0 runs flat out
	Frames   int           // 0 means unbounded
	Seed     uint64

	RangeNoiseM     float64
	BearingNoiseDeg float64
	MaxRangeM       float64

	DropoutStart  int
	DropoutFrames int

	BaseFrameMs float64
	SpikeStart  int
	SpikeFrames int
	SpikeMs     float64

	Zoom    float64
	Backend string
}

// DefaultSimConfig returns a two minute scenario at one frame per second.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Start:           time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Step:            time.Second,
		Frames:          120,
		Seed:            1,
		RangeNoiseM:     2,
		BearingNoiseDeg: 0.1,
		MaxRangeM:       6000,
		DropoutStart:    60,
		DropoutFrames:   3,
		BaseFrameMs:     12,
		SpikeStart:      80,
		SpikeFrames:     6,
		SpikeMs:         60,
		Zoom:            1.0,
		Backend:         "gpu",
	}
}

// simTarget flies a straight line, or orbits center when rate is non-zero.
type simTarget struct {
	pos      r3.Vec
	vel      r3.Vec
	center   r3.Vec
	radius   float64
	rate     float64 // rad/s; non-zero means orbit
	rcs      float64
	snr      float64
	xpdrOn   bool
	xpdrMode string
	xpdrID   string
}

func (t simTarget) state(sec float64) (pos, vel r3.Vec) {
	if t.rate == 0 {
		return r3.Add(t.pos, r3.Scale(sec, t.vel)), t.vel
	}
	a := t.rate * sec
	pos = r3.Vec{
		X: t.center.X + t.radius*math.Cos(a),
		Y: t.center.Y + t.radius*math.Sin(a),
		Z: t.center.Z,
	}
	vel = r3.Vec{
		X: -t.radius * t.rate * math.Sin(a),
		Y: t.radius * t.rate * math.Cos(a),
	}
	return pos, vel
}

// scenario: an unknown inbound closer, a crossing friendly, an unknown
// loiterer and a low slow neutral.
func scenario() []simTarget {
	closerStart := geom.PolarToCartesian(1500, 45, 2)
	return []simTarget{
		{ // closer
			pos: closerStart,
			vel: r3.Scale(-40, geom.LineOfSight(closerStart)),
			rcs: 3,
			snr: 24,
		},
		{ // friendly
			pos:      r3.Vec{X: -900, Y: 700, Z: 300},
			vel:      r3.Vec{X: 30},
			rcs:      10,
			snr:      30,
			xpdrOn:   true,
			xpdrMode: "M4",
			xpdrID:   "F101",
		},
		{ // loiterer
			center: r3.Vec{X: 300, Y: -300, Z: 120},
			radius: 150,
			rate:   0.1,
			rcs:    -5,
			snr:    18,
		},
		{ // neutral
			pos:      r3.Vec{X: -2000, Y: -1500, Z: 60},
			vel:      r3.Vec{X: 8, Y: 6},
			rcs:      0,
			snr:      20,
			xpdrOn:   true,
			xpdrMode: "C",
			xpdrID:   "N7",
		},
	}
}

// SimSource generates a deterministic scenario.
type SimSource struct {
	cfg     SimConfig
	targets []simTarget
	rng     *rand.Rand
	ticker  timeutil.Ticker

	mu     sync.Mutex
	frame  int
	closed bool
	done   chan struct{}
}

// NewSimSource builds a simulator. A nil clock uses the wall clock; the
// ticker is only created when Interval > 0.
func NewSimSource(cfg SimConfig, clock timeutil.Clock) *SimSource {
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.MaxRangeM <= 0 {
		cfg.MaxRangeM = math.Inf(1)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &SimSource{
		cfg:     cfg,
		targets: scenario(),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		done:    make(chan struct{}),
	}
	if cfg.Interval > 0 {
		s.ticker = clock.NewTicker(cfg.Interval)
	}
	return s
}

func inWindow(k, start, n int) bool { return n > 0 && k >= start && k < start+n }

// Next returns the next frame, waiting for the ticker when paced.
func (s *SimSource) Next(ctx context.Context) (pipeline.Frame, error) {
	s.mu.Lock()
	closed, k := s.closed, s.frame
	s.mu.Unlock()
	if closed {
		return pipeline.Frame{}, ErrSourceClosed
	}
	if s.cfg.Frames > 0 && k >= s.cfg.Frames {
		return pipeline.Frame{}, io.EOF
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return pipeline.Frame{}, ctx.Err()
		case <-s.done:
			return pipeline.Frame{}, ErrSourceClosed
		case <-s.ticker.C():
		}
	} else if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.build(s.frame)
	s.frame++
	return frame, nil
}

func (s *SimSource) build(k int) pipeline.Frame {
	cfg := s.cfg
	f := pipeline.Frame{
		Timestamp:   cfg.Start.Add(time.Duration(k) * cfg.Step),
		TruthState:  pipeline.TruthOK,
		View:        render.ViewState{Zoom: cfg.Zoom},
		Backend:     cfg.Backend,
		FrameTimeMs: cfg.BaseFrameMs,
	}
	if inWindow(k, cfg.SpikeStart, cfg.SpikeFrames) {
		f.FrameTimeMs = cfg.SpikeMs
	}

	// Draw noise for every target on every frame so the random stream does
	// not depend on visibility.
	sec := (time.Duration(k) * cfg.Step).Seconds()
	dets := make([]tracks.Detection, 0, len(s.targets))
	for _, t := range s.targets {
		dr := s.rng.NormFloat64() * cfg.RangeNoiseM
		db := s.rng.NormFloat64() * cfg.BearingNoiseDeg
		pos, vel := t.state(sec)
		rangeM, brg, elev := geom.CartesianToPolar(pos)
		if rangeM < 1 || rangeM > cfg.MaxRangeM {
			continue
		}
		dets = append(dets, tracks.Detection{
			RangeM:          rangeM + dr,
			BearingDeg:      geom.NormalizeBearing(brg + db),
			ElevDeg:         elev,
			VrMps:           geom.RadialVelocity(pos, vel),
			SNRdB:           t.snr,
			RCSdBsm:         t.rcs,
			TransponderOn:   t.xpdrOn,
			TransponderMode: t.xpdrMode,
			TransponderID:   t.xpdrID,
		})
	}

	if inWindow(k, cfg.DropoutStart, cfg.DropoutFrames) {
		f.TruthState = pipeline.TruthNoData
		return f
	}
	f.Detections = dets
	return f
}

// Frame returns the index of the next frame to be produced.
func (s *SimSource) Frame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Close stops the ticker. Pending and later Next calls return ErrSourceClosed.
func (s *SimSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
