// Package source produces pipeline frames from JSON-lines streams (replay
// files or a serial-attached radar) and from a simulated scenario.
package source

import (
	"context"
	"errors"

	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
)

// ErrSourceClosed is returned by Next after Close.
var ErrSourceClosed = errors.New("source closed")

var logf = monitoring.Subsystem("source")

// Source yields one frame per call. Next blocks until a frame is available
// and returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (pipeline.Frame, error)
	Close() error
}
