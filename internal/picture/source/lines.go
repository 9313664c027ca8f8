package source

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
)

// maxLineBytes bounds a single JSON frame.
const maxLineBytes = 1 << 20

// LineSource reads JSON-lines frames from a stream. Malformed lines are
// logged and skipped.
type LineSource struct {
	r       io.ReadCloser
	decoder LineDecoder

	once   sync.Once
	lines  chan []byte
	errs   chan error
	done   chan struct{}
	closed sync.Once

	skipped int
}

// NewLineSource wraps r. The source owns r and closes it on Close.
func NewLineSource(r io.ReadCloser, dec LineDecoder) *LineSource {
	return &LineSource{
		r:       r,
		decoder: dec,
		lines:   make(chan []byte),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// NewReplaySource opens a JSON-lines recording.
func NewReplaySource(path string, dec LineDecoder) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewLineSource(f, dec), nil
}

// Skipped returns how many lines failed to decode.
func (s *LineSource) Skipped() int { return s.skipped }

// scan runs on its own goroutine so a blocking Read does not hold up
// context cancellation in Next.
func (s *LineSource) scan() {
	defer close(s.lines)
	scan := bufio.NewScanner(s.r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scan.Scan() {
		line := append([]byte(nil), scan.Bytes()...)
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
	if err := scan.Err(); err != nil {
		select {
		case s.errs <- err:
		default:
		}
	}
}

// Next returns the next decodable frame, io.EOF at end of stream, or the
// underlying read error.
func (s *LineSource) Next(ctx context.Context) (pipeline.Frame, error) {
	s.once.Do(func() { go s.scan() })
	for {
		select {
		case <-s.done:
			return pipeline.Frame{}, ErrSourceClosed
		default:
		}
		select {
		case <-ctx.Done():
			return pipeline.Frame{}, ctx.Err()
		case <-s.done:
			return pipeline.Frame{}, ErrSourceClosed
		case err := <-s.errs:
			return pipeline.Frame{}, err
		case line, ok := <-s.lines:
			if !ok {
				select {
				case err := <-s.errs:
					return pipeline.Frame{}, err
				default:
				}
				return pipeline.Frame{}, io.EOF
			}
			frame, ok, err := s.decoder.Decode(line)
			if err != nil {
				s.skipped++
				logf("skipping line: %v", err)
				continue
			}
			if !ok {
				continue
			}
			return frame, nil
		}
	}
}

// Close stops the reader and closes the underlying stream.
func (s *LineSource) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		err = s.r.Close()
	})
	return err
}
