// Package render decides how much of the tactical picture to draw each frame.
// It picks level-of-detail from the zoom, walks a bitmap-scale degradation
// ladder with hysteresis to stay inside the frame-time budget, and reports
// the clutter conditions behind its choices.
package render

import (
	"math"
	"slices"
	"time"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"gonum.org/v1/gonum/stat"
)

var logf = monitoring.Subsystem("render")

// ClutterReason explains a fidelity reduction.
type ClutterReason string

const (
	ReasonTargetOverload      ClutterReason = "TARGET_OVERLOAD"
	ReasonFrameBudgetExceeded ClutterReason = "FRAME_BUDGET_EXCEEDED"
	ReasonLabelsSuppressed    ClutterReason = "LABELS_SUPPRESSED"
)

// ViewState is the operator's current view.
type ViewState struct {
	Zoom float64 `json:"zoom"`
}

// FrameStats summarises measured frame times.
type FrameStats struct {
	FrameTimeMs float64 `json:"frame_time_ms"`
	Targets     int     `json:"targets"`
	MeanMs      float64 `json:"mean_ms"`
	P95Ms       float64 `json:"p95_ms"`
	Samples     int     `json:"samples"`
}

// Plan tells the renderer what to draw this frame.
type Plan struct {
	DrawVectors      bool            `json:"draw_vectors"`
	DrawLabels       bool            `json:"draw_labels"`
	DegradationLevel int             `json:"degradation_level"`
	BitmapScale      float64         `json:"bitmap_scale"`
	ClutterReasons   []ClutterReason `json:"clutter_reasons,omitempty"`
	Stats            FrameStats      `json:"stats"`
}

// DegradationState carries hysteresis across frames. The zero value is the
// initial state.
type DegradationState struct {
	Level          int
	OverStreak     int
	UnderStreak    int
	LastTransition time.Time // zero until the first transition
	Reasons        []ClutterReason
	Window         []float64 // recent frame times, oldest first
}

// Config holds the render policy parameters.
type Config struct {
	VectorZoom            float64
	LabelZoom             float64
	Ladder                []float64 // bitmap scale per level, non-increasing
	FrameBudgetMs         float64
	RecoveryRatio         float64
	DegradeConfirmFrames  int
	RecoveryConfirmFrames int
	Cooldown              time.Duration
	MaxTargets            int
	TextBackends          []string
	LabelSuppressLevel    int
	StatsWindow           int
}

// DefaultConfig returns the policy configuration from the canonical tuning
// defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		VectorZoom:            cfg.GetVectorZoom(),
		LabelZoom:             cfg.GetLabelZoom(),
		Ladder:                cfg.GetDegradationLadder(),
		FrameBudgetMs:         cfg.GetFrameBudgetMs(),
		RecoveryRatio:         cfg.GetRecoveryRatio(),
		DegradeConfirmFrames:  cfg.GetDegradeConfirmFrames(),
		RecoveryConfirmFrames: cfg.GetRecoveryConfirmFrames(),
		Cooldown:              cfg.GetDegradationCooldown(),
		MaxTargets:            cfg.GetMaxTargets(),
		TextBackends:          cfg.GetTextBackends(),
		LabelSuppressLevel:    cfg.GetLabelSuppressLevel(),
		StatsWindow:           cfg.GetFrameStatsWindow(),
	}
}

// Policy is stateless; the caller owns DegradationState.
type Policy struct {
	Config Config
}

// NewPolicy returns a policy. An empty ladder is replaced by a single
// full-scale level.
func NewPolicy(cfg Config) *Policy {
	if len(cfg.Ladder) == 0 {
		cfg.Ladder = []float64{1.0}
	}
	return &Policy{Config: cfg}
}

// MaxLevel is the deepest degradation level.
func (p *Policy) MaxLevel() int { return len(p.Config.Ladder) - 1 }

// BuildPlan computes the plan for one frame and the state to carry into the
// next. prior is not modified.
func (p *Policy) BuildPlan(view ViewState, targets int, frameTimeMs float64, backend string, prior DegradationState, now time.Time) (Plan, DegradationState) {
	next := DegradationState{
		Level:          min(max(prior.Level, 0), p.MaxLevel()),
		OverStreak:     prior.OverStreak,
		UnderStreak:    prior.UnderStreak,
		LastTransition: prior.LastTransition,
		Window:         p.pushWindow(prior.Window, frameTimeMs),
	}

	finite := !math.IsNaN(frameTimeMs) && !math.IsInf(frameTimeMs, 0)
	over := finite && frameTimeMs > p.Config.FrameBudgetMs
	if finite {
		p.step(&next, frameTimeMs, now)
	}

	// level of detail
	drawVectors := view.Zoom >= p.Config.VectorZoom
	labelsByZoom := view.Zoom >= p.Config.LabelZoom
	suppressed := labelsByZoom &&
		slices.Contains(p.Config.TextBackends, backend) &&
		next.Level >= p.Config.LabelSuppressLevel

	active := map[ClutterReason]bool{
		ReasonTargetOverload:      targets > p.Config.MaxTargets,
		ReasonFrameBudgetExceeded: over,
		ReasonLabelsSuppressed:    suppressed,
	}
	next.Reasons = mergeReasons(prior.Reasons, active)

	mean, p95 := windowStats(next.Window)
	plan := Plan{
		DrawVectors:      drawVectors,
		DrawLabels:       labelsByZoom && !suppressed,
		DegradationLevel: next.Level,
		BitmapScale:      p.Config.Ladder[next.Level],
		ClutterReasons:   slices.Clone(next.Reasons),
		Stats: FrameStats{
			FrameTimeMs: frameTimeMs,
			Targets:     targets,
			MeanMs:      mean,
			P95Ms:       p95,
			Samples:     len(next.Window),
		},
	}
	return plan, next
}

// step advances the streaks and moves at most one level.
func (p *Policy) step(st *DegradationState, frameTimeMs float64, now time.Time) {
	switch {
	case frameTimeMs > p.Config.FrameBudgetMs:
		st.OverStreak++
		st.UnderStreak = 0
	case frameTimeMs <= p.Config.FrameBudgetMs*p.Config.RecoveryRatio:
		st.UnderStreak++
		st.OverStreak = 0
	default:
		st.OverStreak = 0
		st.UnderStreak = 0
	}

	cooled := st.LastTransition.IsZero() || now.Sub(st.LastTransition) >= p.Config.Cooldown
	if !cooled {
		return
	}
	from := st.Level
	switch {
	case st.OverStreak >= p.Config.DegradeConfirmFrames && st.Level < p.MaxLevel():
		st.Level++
	case st.UnderStreak >= p.Config.RecoveryConfirmFrames && st.Level > 0:
		st.Level--
	default:
		return
	}
	st.OverStreak = 0
	st.UnderStreak = 0
	st.LastTransition = now
	logf("degradation level %d -> %d (frame %.1f ms, budget %.1f ms)", from, st.Level, frameTimeMs, p.Config.FrameBudgetMs)
}

func (p *Policy) pushWindow(prev []float64, frameTimeMs float64) []float64 {
	size := p.Config.StatsWindow
	if size <= 0 {
		size = 1
	}
	out := make([]float64, 0, min(len(prev)+1, size))
	if math.IsNaN(frameTimeMs) || math.IsInf(frameTimeMs, 0) {
		if len(prev) > size {
			prev = prev[len(prev)-size:]
		}
		return append(out, prev...)
	}
	if len(prev) >= size {
		prev = prev[len(prev)-size+1:]
	}
	out = append(out, prev...)
	return append(out, frameTimeMs)
}

// mergeReasons keeps surviving reasons in their original order and appends
// newly raised ones in a fixed order.
func mergeReasons(prev []ClutterReason, active map[ClutterReason]bool) []ClutterReason {
	var out []ClutterReason
	for _, r := range prev {
		if active[r] && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	for _, r := range []ClutterReason{ReasonTargetOverload, ReasonFrameBudgetExceeded, ReasonLabelsSuppressed} {
		if active[r] && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func windowStats(window []float64) (mean, p95 float64) {
	if len(window) == 0 {
		return 0, 0
	}
	sorted := slices.Clone(window)
	slices.Sort(sorted)
	return stat.Mean(sorted, nil), stat.Quantile(0.95, stat.Empirical, sorted, nil)
}
