package pipeline

import (
	"time"

	"github.com/banshee-data/tactical.picture/internal/picture/guard"
	"github.com/banshee-data/tactical.picture/internal/picture/render"
	"github.com/banshee-data/tactical.picture/internal/picture/situation"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

// TruthState qualifies the sensor data behind a frame.
type TruthState string

const (
	TruthOK       TruthState = "OK"
	TruthFallback TruthState = "FALLBACK" // degraded source, still processed
	TruthNoData   TruthState = "NO_DATA"  // no detections available this tick
)

// Normalize maps the empty state to OK and any unrecognised state to
// FALLBACK.
func (t TruthState) Normalize() TruthState {
	switch t {
	case "":
		return TruthOK
	case TruthOK, TruthFallback, TruthNoData:
		return t
	}
	return TruthFallback
}

// Frame is one tick of input.
type Frame struct {
	Timestamp   time.Time // zero means "now" on the pipeline clock
	TruthState  TruthState
	Detections  []tracks.Detection
	View        render.ViewState
	Backend     string
	FrameTimeMs float64 // measured duration of the previous render
}

// Snapshot is the immutable result of one tick. Slices are owned by the
// snapshot and never aliased with pipeline state.
type Snapshot struct {
	Seq        uint64
	Timestamp  time.Time
	TruthState TruthState
	Tracks     []tracks.Track
	Guards     []guard.Result
	Situations []situation.Situation
	Deltas     []situation.Delta
	Plan       render.Plan
	Skipped    int // malformed detections dropped this tick
}
