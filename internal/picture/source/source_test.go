package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

func init() {
	monitoring.SetLogger(nil)
}

const recording = `# two frames and some noise
{"ts":"2026-03-14T12:00:00Z","truth":"OK","detections":[{"range_m":90,"bearing_deg":10,"vr_mps":-20,"snr_db":20}]}

not json at all
{"ts":"2026-03-14T12:00:01Z","truth":"NO_DATA","zoom":2.0,"backend":"tty","frame_time_ms":41.5}
`

func TestLineDecoder(t *testing.T) {
	dec := LineDecoder{Zoom: 1.0, Backend: "gpu", FrameTimeMs: 10}

	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantErr bool
		check   func(t *testing.T, f pipeline.Frame)
	}{
		{name: "blank", line: "   "},
		{name: "comment", line: "# header"},
		{name: "malformed", line: "{", wantErr: true},
		{
			name:   "defaults fill view",
			line:   `{"ts":"2026-03-14T12:00:00Z","detections":[{"range_m":90}]}`,
			wantOK: true,
			check: func(t *testing.T, f pipeline.Frame) {
				assert.Equal(t, pipeline.TruthOK, f.TruthState)
				assert.Equal(t, 1.0, f.View.Zoom)
				assert.Equal(t, "gpu", f.Backend)
				assert.Equal(t, 10.0, f.FrameTimeMs)
				require.Len(t, f.Detections, 1)
				assert.Equal(t, 90.0, f.Detections[0].RangeM)
			},
		},
		{
			name:   "line overrides view",
			line:   `{"truth":"FALLBACK","zoom":1.7,"backend":"tty","frame_time_ms":0}`,
			wantOK: true,
			check: func(t *testing.T, f pipeline.Frame) {
				assert.Equal(t, pipeline.TruthFallback, f.TruthState)
				assert.True(t, f.Timestamp.IsZero())
				assert.Equal(t, 1.7, f.View.Zoom)
				assert.Equal(t, "tty", f.Backend)
				assert.Equal(t, 0.0, f.FrameTimeMs)
			},
		},
		{
			name:   "unknown truth is fallback",
			line:   `{"truth":"MAYBE"}`,
			wantOK: true,
			check: func(t *testing.T, f pipeline.Frame) {
				assert.Equal(t, pipeline.TruthFallback, f.TruthState)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok, err := dec.Decode([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := pipeline.Frame{
		Timestamp:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		TruthState:  pipeline.TruthOK,
		Detections:  []tracks.Detection{{RangeM: 120, BearingDeg: 33, VrMps: -5, TransponderOn: true, TransponderMode: "M4"}},
		Backend:     "gpu",
		FrameTimeMs: 16,
	}
	in.View.Zoom = 1.4

	line, err := Encode(in)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(line), "\n"))

	out, ok, err := LineDecoder{}.Decode(line)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLineSourceSkipsNoiseAndEndsWithEOF(t *testing.T) {
	src := NewLineSource(io.NopCloser(strings.NewReader(recording)), LineDecoder{Zoom: 1})
	defer src.Close()
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first.Detections, 1)
	assert.Equal(t, -20.0, first.Detections[0].VrMps)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.TruthNoData, second.TruthState)
	assert.Equal(t, 2.0, second.View.Zoom)
	assert.Equal(t, 41.5, second.FrameTimeMs)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, src.Skipped())
}

func TestLineSourceHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewLineSource(r, LineDecoder{})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLineSourceClose(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewLineSource(r, LineDecoder{})

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestLineSourceReportsReadError(t *testing.T) {
	src := NewLineSource(io.NopCloser(failingReader{}), LineDecoder{})
	defer src.Close()
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestReplaySourceMissingFile(t *testing.T) {
	_, err := NewReplaySource("/nonexistent/recording.jsonl", LineDecoder{})
	assert.Error(t, err)
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", in: PortOptions{}, want: PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "aliases", in: PortOptions{BaudRate: 115200, Parity: " even "}, want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}},
		{name: "odd two stop", in: PortOptions{StopBits: 2, Parity: "odd"}, want: PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 2, Parity: "O"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptionsEqual(t *testing.T) {
	assert.True(t, PortOptions{}.Equal(PortOptions{BaudRate: 19200, Parity: "none"}))
	assert.False(t, PortOptions{}.Equal(PortOptions{BaudRate: 9600}))
	assert.False(t, PortOptions{DataBits: 9}.Equal(PortOptions{DataBits: 9}))
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

type fakePort struct {
	io.Reader
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialSourceUsesOpener(t *testing.T) {
	port := &fakePort{Reader: strings.NewReader(recording)}
	var gotPath string
	var gotMode *serial.Mode
	open := func(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
		gotPath, gotMode = path, mode
		return port, nil
	}

	src, err := NewSerialSource("/dev/ttyRADAR0", PortOptions{BaudRate: 38400}, LineDecoder{}, open)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyRADAR0", gotPath)
	assert.Equal(t, 38400, gotMode.BaudRate)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.Detections, 1)

	require.NoError(t, src.Close())
	assert.True(t, port.closed)
}

func TestSerialSourceErrors(t *testing.T) {
	_, err := NewSerialSource("/dev/null", PortOptions{Parity: "X"}, LineDecoder{}, nil)
	assert.Error(t, err)

	open := func(string, *serial.Mode) (io.ReadWriteCloser, error) {
		return nil, errors.New("busy")
	}
	_, err = NewSerialSource("/dev/ttyRADAR0", PortOptions{}, LineDecoder{}, open)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/ttyRADAR0")
}
