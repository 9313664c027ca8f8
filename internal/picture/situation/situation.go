// Package situation derives time-horizon warnings from the track picture:
// closest-approach risk, fast closers, unidentified contacts nearby, lost
// contacts, guard zone violations and a degraded display. Each situation
// has a deterministic id and a CREATED / UPDATED / RESOLVED lifecycle.
package situation

import (
	"strings"
	"time"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/picture/guard"
	"github.com/google/uuid"
)

// Type names a situation rule.
type Type string

const (
	TypeCPARisk         Type = "CPA_RISK"
	TypeClosingFast     Type = "CLOSING_FAST"
	TypeUnknownNearby   Type = "UNKNOWN_NEARBY"
	TypeLostContact     Type = "LOST_CONTACT"
	TypeZoneViolation   Type = "ZONE_VIOLATION"
	TypeDegradedDisplay Type = "DEGRADED_DISPLAY"
)

// Metrics are the numbers behind a situation. Fields that do not apply to a
// type are zero.
type Metrics struct {
	TCPAs      float64 `json:"tcpa_s,omitempty"`
	DCPAm      float64 `json:"dcpa_m,omitempty"`
	RangeM     float64 `json:"range_m,omitempty"`
	ClosingMps float64 `json:"closing_mps,omitempty"`
	AgeS       float64 `json:"age_s,omitempty"`
}

// Situation is one active (or just resolved) condition.
type Situation struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Severity  guard.Severity `json:"severity"`
	TrackIDs  []string       `json:"track_ids,omitempty"`
	RuleID    string         `json:"rule_id,omitempty"` // ZONE_VIOLATION only
	Metrics   Metrics        `json:"metrics"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Active    bool           `json:"active"`
}

func (s Situation) clone() Situation {
	s.TrackIDs = append([]string(nil), s.TrackIDs...)
	return s
}

// DeltaKind is a lifecycle transition.
type DeltaKind string

const (
	DeltaCreated  DeltaKind = "CREATED"
	DeltaUpdated  DeltaKind = "UPDATED"
	DeltaResolved DeltaKind = "RESOLVED"
)

// Delta records one transition since the previous Evaluate call. UPDATED
// is emitted only when an active situation's severity changes; metrics and
// UpdatedAt are refreshed every tick without a delta, so consumers read
// current metrics from the situation list, not from deltas.
type Delta struct {
	Kind         DeltaKind      `json:"kind"`
	Situation    Situation      `json:"situation"`
	PrevSeverity guard.Severity `json:"prev_severity,omitempty"` // UPDATED only
}

var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tactical.picture/situation"))

// ID returns the deterministic situation id for a type and its key parts.
func ID(t Type, parts ...string) string {
	key := string(t) + "|" + strings.Join(parts, ",")
	return "sit_" + uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// Config holds the situation thresholds.
type Config struct {
	CPAWarnTime           time.Duration
	CPACriticalTime       time.Duration
	CPAWarnDistanceM      float64
	CPACriticalDistanceM  float64
	ClosingSpeedMps       float64
	ClosingConfirmFrames  int
	ClosingCriticalRangeM float64
	NearDistanceM         float64
	FreshnessWindow       time.Duration
	LostContactMinMisses  int
	LostContactWindow     time.Duration
}

// DefaultConfig returns the engine configuration from the canonical tuning
// defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		CPAWarnTime:           cfg.GetCPAWarnTime(),
		CPACriticalTime:       cfg.GetCPACriticalTime(),
		CPAWarnDistanceM:      cfg.GetCPAWarnDistanceM(),
		CPACriticalDistanceM:  cfg.GetCPACriticalDistanceM(),
		ClosingSpeedMps:       cfg.GetClosingSpeedMps(),
		ClosingConfirmFrames:  cfg.GetClosingConfirmFrames(),
		ClosingCriticalRangeM: cfg.GetClosingCriticalRangeM(),
		NearDistanceM:         cfg.GetNearDistanceM(),
		FreshnessWindow:       cfg.GetFreshnessWindow(),
		LostContactMinMisses:  cfg.GetLostContactMinMisses(),
		LostContactWindow:     cfg.GetLostContactWindow(),
	}
}
