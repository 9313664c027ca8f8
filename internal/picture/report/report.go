// Package report turns a run of pipeline snapshots into an HTML timeline
// (go-echarts) and a plan-view PNG of track trails (gonum/plot).
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
)

const (
	HTMLFile = "picture_report.html"
	PNGFile  = "picture_trails.png"
)

// Recorder bounds used when NewRecorder is given zero: ten hours of 1 Hz
// ticks, and the most recent 256 tracks.
const (
	DefaultMaxTicks  = 36000
	DefaultMaxTrails = 256
)

// TickStat is the per-tick summary kept by the recorder.
type TickStat struct {
	Seq              uint64
	Timestamp        time.Time
	TruthState       pipeline.TruthState
	FrameTimeMs      float64
	P95Ms            float64
	DegradationLevel int
	Tracks           int
	Guards           int
	Situations       int
}

// Trail is the plan-view history of one track.
type Trail struct {
	TrackID string
	IFF     string
	XY      plotter.XYs
}

// Recorder accumulates snapshots. It is safe for concurrent use so the
// report can be written while the run loop is still feeding it. It keeps the
// most recent maxTicks tick summaries, at most maxTicks points per trail and
// at most maxTrails trails; older entries are evicted first.
type Recorder struct {
	maxTicks  int
	maxTrails int

	mu     sync.Mutex
	stats  []TickStat
	trails map[string]*Trail
	order  []string // trail ids, oldest first
}

// NewRecorder returns a bounded recorder. Non-positive limits take the
// defaults.
func NewRecorder(maxTicks, maxTrails int) *Recorder {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	if maxTrails <= 0 {
		maxTrails = DefaultMaxTrails
	}
	return &Recorder{
		maxTicks:  maxTicks,
		maxTrails: maxTrails,
		trails:    make(map[string]*Trail),
	}
}

// Add records one snapshot.
func (r *Recorder) Add(snap pipeline.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats = append(r.stats, TickStat{
		Seq:              snap.Seq,
		Timestamp:        snap.Timestamp,
		TruthState:       snap.TruthState,
		FrameTimeMs:      snap.Plan.Stats.FrameTimeMs,
		P95Ms:            snap.Plan.Stats.P95Ms,
		DegradationLevel: snap.Plan.DegradationLevel,
		Tracks:           len(snap.Tracks),
		Guards:           len(snap.Guards),
		Situations:       len(snap.Situations),
	})
	if len(r.stats) > r.maxTicks {
		r.stats = r.stats[len(r.stats)-r.maxTicks:]
	}
	for _, t := range snap.Tracks {
		// Coasting positions are predictions, not observations.
		if t.Misses > 0 {
			continue
		}
		tr, ok := r.trails[t.ID]
		if !ok {
			if len(r.order) >= r.maxTrails {
				delete(r.trails, r.order[0])
				r.order = r.order[1:]
			}
			tr = &Trail{TrackID: t.ID}
			r.trails[t.ID] = tr
			r.order = append(r.order, t.ID)
		}
		tr.IFF = string(t.IFF)
		tr.XY = append(tr.XY, plotter.XY{X: t.Position.X, Y: t.Position.Y})
		if len(tr.XY) > r.maxTicks {
			tr.XY = tr.XY[len(tr.XY)-r.maxTicks:]
		}
	}
}

// Len returns how many tick summaries are held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

// Stats returns a copy of the recorded tick summaries.
func (r *Recorder) Stats() []TickStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TickStat(nil), r.stats...)
}

// Trails returns copies of the track trails in first-seen order.
func (r *Recorder) Trails() []Trail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trail, 0, len(r.order))
	for _, id := range r.order {
		tr := r.trails[id]
		out = append(out, Trail{TrackID: tr.TrackID, IFF: tr.IFF, XY: append(plotter.XYs(nil), tr.XY...)})
	}
	return out
}

// WriteHTML renders the timeline charts as a standalone page.
func (r *Recorder) WriteHTML(w io.Writer) error {
	stats := r.Stats()

	x := make([]string, len(stats))
	frameMs := make([]opts.LineData, len(stats))
	p95 := make([]opts.LineData, len(stats))
	level := make([]opts.LineData, len(stats))
	nTracks := make([]opts.LineData, len(stats))
	nSituations := make([]opts.LineData, len(stats))
	noData := 0
	for i, s := range stats {
		x[i] = strconv.FormatUint(s.Seq, 10)
		frameMs[i] = opts.LineData{Value: s.FrameTimeMs}
		p95[i] = opts.LineData{Value: s.P95Ms}
		level[i] = opts.LineData{Value: s.DegradationLevel}
		nTracks[i] = opts.LineData{Value: s.Tracks}
		nSituations[i] = opts.LineData{Value: s.Situations}
		if s.TruthState == pipeline.TruthNoData {
			noData++
		}
	}

	timing := charts.NewLine()
	timing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tactical picture run", Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Render load", Subtitle: fmt.Sprintf("ticks=%d no_data=%d", len(stats), noData)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	timing.SetXAxis(x).
		AddSeries("frame time", frameMs).
		AddSeries("p95", p95)

	picture := charts.NewLine()
	picture.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Picture"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
	)
	picture.SetXAxis(x).
		AddSeries("tracks", nTracks).
		AddSeries("active situations", nSituations).
		AddSeries("degradation level", level)

	page := components.NewPage()
	page.AddCharts(timing, picture)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report page: %w", err)
	}
	return nil
}

// WritePNG saves the plan view of every trail to path. The own vehicle is
// the origin.
func (r *Recorder) WritePNG(path string) error {
	trails := r.Trails()

	p := plot.New()
	p.Title.Text = "Track trails (plan view)"
	p.X.Label.Text = "East (m)"
	p.Y.Label.Text = "North (m)"
	p.Add(plotter.NewGrid())

	origin, err := plotter.NewScatter(plotter.XYs{{}})
	if err != nil {
		return err
	}
	origin.GlyphStyle.Shape = plotutil.Shape(1)
	origin.GlyphStyle.Radius = vg.Points(4)
	p.Add(origin)
	p.Legend.Add("own vehicle", origin)

	for i, tr := range trails {
		if len(tr.XY) == 0 {
			continue
		}
		line, err := plotter.NewLine(tr.XY)
		if err != nil {
			return fmt.Errorf("trail %s: %w", tr.TrackID, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s %s", tr.TrackID, tr.IFF), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trails plot: %w", err)
	}
	return nil
}

// WriteFiles writes both artefacts into dir.
func (r *Recorder) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, HTMLFile))
	if err != nil {
		return err
	}
	if err := r.WriteHTML(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return r.WritePNG(filepath.Join(dir, PNGFile))
}
