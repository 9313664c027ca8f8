package guard

import (
	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

// Result is one rule firing for one track.
type Result struct {
	RuleID   string
	TrackID  string
	Severity Severity
	FSMEvent string
	Message  string

	// Triggering attributes
	RangeM        float64
	Quality       float64
	IFF           tracks.IFF
	TransponderOn bool
}

// Key identifies a (rule, track) pair.
func (r Result) Key() string { return r.RuleID + "/" + r.TrackID }

// Evaluator runs a fixed rule set.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator returns an evaluator over a copy of rules.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: append([]Rule(nil), rules...)}
}

// EvaluatorFromTuning compiles the configured guard rules.
func EvaluatorFromTuning(cfg *config.TuningConfig) *Evaluator {
	return NewEvaluator(RulesFromConfig(cfg.GuardRules))
}

// Rules returns a copy of the rule set.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns every (rule, track) match, rule-major in configuration
// order and then in track order. Multiple rules may fire for one track.
func (e *Evaluator) Evaluate(trks []tracks.Track) []Result {
	var out []Result
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		for _, t := range trks {
			if !r.Matches(t) {
				continue
			}
			out = append(out, Result{
				RuleID:        r.ID,
				TrackID:       t.ID,
				Severity:      r.Severity,
				FSMEvent:      r.FSMEvent,
				Message:       r.Message,
				RangeM:        t.RangeM(),
				Quality:       t.Quality,
				IFF:           t.IFF,
				TransponderOn: t.TransponderOn,
			})
		}
	}
	return out
}
