package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
	"github.com/banshee-data/tactical.picture/internal/picture/render"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

// wireFrame is one JSON line:
//
//	{"ts":"2026-03-14T12:00:00Z","truth":"OK","detections":[{"range_m":90,...}]}
type wireFrame struct {
	TS          time.Time          `json:"ts"`
	Truth       string             `json:"truth"`
	Detections  []tracks.Detection `json:"detections"`
	Zoom        *float64           `json:"zoom,omitempty"`
	Backend     string             `json:"backend,omitempty"`
	FrameTimeMs *float64           `json:"frame_time_ms,omitempty"`
}

// LineDecoder turns JSON lines into frames. View fields absent from a line
// are filled from the decoder defaults.
type LineDecoder struct {
	Zoom        float64
	Backend     string
	FrameTimeMs float64
}

// Decode parses one line. Blank lines and lines starting with '#' yield
// ok == false and no error.
func (d LineDecoder) Decode(line []byte) (frame pipeline.Frame, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return pipeline.Frame{}, false, nil
	}
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		return pipeline.Frame{}, false, fmt.Errorf("decode frame: %w", err)
	}

	frame = pipeline.Frame{
		Timestamp:   w.TS,
		TruthState:  pipeline.TruthState(w.Truth).Normalize(),
		Detections:  w.Detections,
		View:        render.ViewState{Zoom: d.Zoom},
		Backend:     d.Backend,
		FrameTimeMs: d.FrameTimeMs,
	}
	if w.Zoom != nil {
		frame.View.Zoom = *w.Zoom
	}
	if w.Backend != "" {
		frame.Backend = w.Backend
	}
	if w.FrameTimeMs != nil {
		frame.FrameTimeMs = *w.FrameTimeMs
	}
	return frame, true, nil
}

// Encode renders a frame as one JSON line, the inverse of Decode.
func Encode(f pipeline.Frame) ([]byte, error) {
	zoom := f.View.Zoom
	ft := f.FrameTimeMs
	b, err := json.Marshal(wireFrame{
		TS:          f.Timestamp,
		Truth:       string(f.TruthState.Normalize()),
		Detections:  f.Detections,
		Zoom:        &zoom,
		Backend:     f.Backend,
		FrameTimeMs: &ft,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(b, '\n'), nil
}
