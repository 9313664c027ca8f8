// Package guard evaluates configured threat rules against the current track
// picture. Evaluation is stateless: the same tracks always yield the same
// results in the same order.
package guard

import (
	"fmt"
	"math"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/geom"
	"github.com/banshee-data/tactical.picture/internal/picture/tracks"
)

var logf = monitoring.Subsystem("guard")

// Severity grades guard results and situations.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarn:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Op is a comparison operator for a rule's attribute test.
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "="
	OpNE Op = "!="
)

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	switch o {
	case OpGT, OpGE, OpLT, OpLE, OpEQ, OpNE:
		return true
	}
	return false
}

// Compare applies the operator. Unknown operators never match.
func (o Op) Compare(value, threshold float64) bool {
	switch o {
	case OpGT:
		return value > threshold
	case OpGE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNE:
		return value != threshold
	}
	return false
}

// attribute reads one numeric property of a track.
type attribute func(t tracks.Track) float64

// attributes is the closed set of fields a rule may test.
var attributes = map[string]attribute{
	"range_m":     func(t tracks.Track) float64 { return t.RangeM() },
	"quality":     func(t tracks.Track) float64 { return t.Quality },
	"snr_db":      func(t tracks.Track) float64 { return t.SNRdB },
	"rcs_dbsm":    func(t tracks.Track) float64 { return t.RCSdBsm },
	"speed_mps":   func(t tracks.Track) float64 { return t.SpeedMps() },
	"closing_mps": func(t tracks.Track) float64 { return t.ClosingMps() },
	"altitude_m":  func(t tracks.Track) float64 { return t.AltitudeM() },
	"hits":        func(t tracks.Track) float64 { return float64(t.Hits) },
	"misses":      func(t tracks.Track) float64 { return float64(t.Misses) },
	// observed lifetime, so evaluation needs no wall clock
	"age_s": func(t tracks.Track) float64 { return t.UpdatedAt.Sub(t.CreatedAt).Seconds() },
}

// Attribute returns the named attribute of t. ok is false for unknown names.
func Attribute(t tracks.Track, name string) (value float64, ok bool) {
	fn, ok := attributes[name]
	if !ok {
		return 0, false
	}
	return fn(t), true
}

// Rule is one compiled guard rule. Rules are immutable after construction.
type Rule struct {
	ID         string
	Enabled    bool
	IFF        tracks.IFF // empty matches any class
	Field      string     // empty skips the attribute test
	Op         Op
	Threshold  float64
	MaxRangeM  *float64
	MinQuality *float64
	Severity   Severity
	FSMEvent   string
	Message    string
}

// Problem describes why a rule can never fire, or "" for a usable rule.
func (r Rule) Problem() string {
	if !r.Severity.Valid() {
		return fmt.Sprintf("unknown severity %q", r.Severity)
	}
	if r.Field == "" {
		return ""
	}
	if _, ok := attributes[r.Field]; !ok {
		return fmt.Sprintf("unknown field %q", r.Field)
	}
	if !r.Op.Valid() {
		return fmt.Sprintf("unknown operator %q", r.Op)
	}
	if !geom.Finite(r.Threshold) {
		return "non-finite threshold"
	}
	return ""
}

// Matches reports whether t satisfies every condition of the rule.
func (r Rule) Matches(t tracks.Track) bool {
	if !r.Enabled || r.Problem() != "" {
		return false
	}
	if r.IFF != "" && r.IFF != t.IFF {
		return false
	}
	if r.Field != "" {
		v, ok := Attribute(t, r.Field)
		if !ok || !geom.Finite(v) || !r.Op.Compare(v, r.Threshold) {
			return false
		}
	}
	if r.MaxRangeM != nil {
		rng := t.RangeM()
		if !geom.Finite(rng) || rng > *r.MaxRangeM {
			return false
		}
	}
	if r.MinQuality != nil {
		if !geom.Finite(t.Quality) || t.Quality < *r.MinQuality {
			return false
		}
	}
	return true
}

// RulesFromConfig compiles the on-disk rule list. Rules that reference an
// unknown field or operator are kept, logged, and never fire.
func RulesFromConfig(cfgs []config.GuardRuleConfig) []Rule {
	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		r := Rule{
			ID:         c.ID,
			Enabled:    c.IsEnabled(),
			IFF:        tracks.IFF(c.IFF),
			Field:      c.Field,
			Op:         Op(c.Op),
			MaxRangeM:  c.MaxRangeM,
			MinQuality: c.MinQuality,
			Severity:   Severity(c.Severity),
			FSMEvent:   c.FSMEvent,
			Message:    c.Message,
		}
		if c.Threshold != nil {
			r.Threshold = *c.Threshold
		} else if c.Field != "" {
			r.Threshold = math.NaN()
		}
		if p := r.Problem(); p != "" && r.Enabled {
			logf("rule %q disabled: %s", r.ID, p)
		}
		rules = append(rules, r)
	}
	return rules
}
