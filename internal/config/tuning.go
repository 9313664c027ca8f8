package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// GuardRuleConfig is the on-disk form of a single guard rule. Rules are
// compiled by the guard package; an entry that references an unknown field
// or operator is kept but never matches.
type GuardRuleConfig struct {
	ID         string   `json:"id"`
	Enabled    *bool    `json:"enabled,omitempty"`
	IFF        string   `json:"iff,omitempty"`       // FRIENDLY, NEUTRAL, UNKNOWN; empty matches any
	Field      string   `json:"field,omitempty"`     // attribute name, e.g. "range_m"
	Op         string   `json:"op,omitempty"`        // >, >=, <, <=, =, !=
	Threshold  *float64 `json:"threshold,omitempty"` // required when Field is set
	MaxRangeM  *float64 `json:"max_range_m,omitempty"`
	MinQuality *float64 `json:"min_quality,omitempty"`
	Severity   string   `json:"severity"`
	FSMEvent   string   `json:"fsm_event"`
	Message    string   `json:"message,omitempty"`
}

// IsEnabled reports whether the rule is enabled. Rules default to enabled.
func (r GuardRuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// TuningConfig represents the root configuration for the tactical picture
// pipeline. It is loaded once at startup and handed to every component
// constructor; nothing reads configuration from the environment.
type TuningConfig struct {
	// Track store params
	MaxGatingDistanceM *float64 `json:"max_gating_distance_m,omitempty"`
	MaxRadialDeltaMps  *float64 `json:"max_radial_delta_mps,omitempty"`
	MaxMisses          *int     `json:"max_misses,omitempty"`
	MinHitsToConfirm   *int     `json:"min_hits_to_confirm,omitempty"`
	ReferenceSNRdB     *float64 `json:"reference_snr_db,omitempty"`
	Alpha              *float64 `json:"alpha,omitempty"`
	Beta               *float64 `json:"beta,omitempty"`
	FriendlyModes      []string `json:"friendly_modes,omitempty"`

	// Guard params
	GuardRules []GuardRuleConfig `json:"guard_rules,omitempty"`

	// Situational awareness params
	CPAWarnTime           *string  `json:"cpa_warn_time,omitempty"` // duration string like "30s"
	CPACriticalTime       *string  `json:"cpa_critical_time,omitempty"`
	CPAWarnDistanceM      *float64 `json:"cpa_warn_distance_m,omitempty"`
	CPACriticalDistanceM  *float64 `json:"cpa_critical_distance_m,omitempty"`
	ClosingSpeedMps       *float64 `json:"closing_speed_mps,omitempty"`
	ClosingConfirmFrames  *int     `json:"closing_confirm_frames,omitempty"`
	ClosingCriticalRangeM *float64 `json:"closing_critical_range_m,omitempty"`
	NearDistanceM         *float64 `json:"near_distance_m,omitempty"`
	FreshnessWindow       *string  `json:"freshness_window,omitempty"`
	LostContactMinMisses  *int     `json:"lost_contact_min_misses,omitempty"`
	LostContactWindow     *string  `json:"lost_contact_window,omitempty"`

	// Render policy params
	VectorZoom            *float64  `json:"vector_zoom,omitempty"`
	LabelZoom             *float64  `json:"label_zoom,omitempty"`
	DegradationLadder     []float64 `json:"degradation_ladder,omitempty"`
	FrameBudgetMs         *float64  `json:"frame_budget_ms,omitempty"`
	RecoveryRatio         *float64  `json:"recovery_ratio,omitempty"`
	DegradeConfirmFrames  *int      `json:"degrade_confirm_frames,omitempty"`
	RecoveryConfirmFrames *int      `json:"recovery_confirm_frames,omitempty"`
	DegradationCooldown   *string   `json:"degradation_cooldown,omitempty"`
	MaxTargets            *int      `json:"max_targets,omitempty"`
	TextBackends          []string  `json:"text_backends,omitempty"`
	LabelSuppressLevel    *int      `json:"label_suppress_level,omitempty"`
	FrameStatsWindow      *int      `json:"frame_stats_window,omitempty"`

	// Event sink params
	EventSinkCapacity *int `json:"event_sink_capacity,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/picture/tracks/
		"../../../../" + DefaultConfigPath, // from internal/picture/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Guard rules are
// deliberately not rejected here: a rule with an unknown field fails closed
// at evaluation time instead of preventing startup.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"alpha": c.Alpha,
		"beta":  c.Beta,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"max_misses":              c.MaxMisses,
		"min_hits_to_confirm":     c.MinHitsToConfirm,
		"closing_confirm_frames":  c.ClosingConfirmFrames,
		"degrade_confirm_frames":  c.DegradeConfirmFrames,
		"recovery_confirm_frames": c.RecoveryConfirmFrames,
		"max_targets":             c.MaxTargets,
		"label_suppress_level":    c.LabelSuppressLevel,
		"lost_contact_min_misses": c.LostContactMinMisses,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"cpa_warn_time":        c.CPAWarnTime,
		"cpa_critical_time":    c.CPACriticalTime,
		"freshness_window":     c.FreshnessWindow,
		"lost_contact_window":  c.LostContactWindow,
		"degradation_cooldown": c.DegradationCooldown,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.ReferenceSNRdB != nil && *c.ReferenceSNRdB <= 0 {
		return fmt.Errorf("reference_snr_db must be positive, got %f", *c.ReferenceSNRdB)
	}

	if c.FrameBudgetMs != nil && *c.FrameBudgetMs <= 0 {
		return fmt.Errorf("frame_budget_ms must be positive, got %f", *c.FrameBudgetMs)
	}

	if c.RecoveryRatio != nil && (*c.RecoveryRatio <= 0 || *c.RecoveryRatio > 1) {
		return fmt.Errorf("recovery_ratio must be in (0, 1], got %f", *c.RecoveryRatio)
	}

	if c.EventSinkCapacity != nil && *c.EventSinkCapacity < 1 {
		return fmt.Errorf("event_sink_capacity must be at least 1, got %d", *c.EventSinkCapacity)
	}

	if c.DegradationLadder != nil {
		if len(c.DegradationLadder) == 0 {
			return fmt.Errorf("degradation_ladder must have at least one step")
		}
		prev := 1.0
		for i, s := range c.DegradationLadder {
			if s <= 0 || s > prev {
				return fmt.Errorf("degradation_ladder[%d]=%g must be positive and non-increasing", i, s)
			}
			prev = s
		}
	}

	seen := make(map[string]bool, len(c.GuardRules))
	for i, r := range c.GuardRules {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("guard_rules[%d] has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate guard rule id %q", r.ID)
		}
		seen[r.ID] = true
	}

	return nil
}

// parseDurationOr parses s, returning def when s is nil, empty or invalid.
func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetMaxGatingDistanceM returns the max_gating_distance_m value or the default.
func (c *TuningConfig) GetMaxGatingDistanceM() float64 {
	if c.MaxGatingDistanceM == nil {
		return 50.0
	}
	return *c.MaxGatingDistanceM
}

// GetMaxRadialDeltaMps returns the max_radial_delta_mps value or the default.
func (c *TuningConfig) GetMaxRadialDeltaMps() float64 {
	if c.MaxRadialDeltaMps == nil {
		return 15.0
	}
	return *c.MaxRadialDeltaMps
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 3
	}
	return *c.MaxMisses
}

// GetMinHitsToConfirm returns the min_hits_to_confirm value or the default.
func (c *TuningConfig) GetMinHitsToConfirm() int {
	if c.MinHitsToConfirm == nil {
		return 3
	}
	return *c.MinHitsToConfirm
}

// GetReferenceSNRdB returns the reference_snr_db value or the default.
func (c *TuningConfig) GetReferenceSNRdB() float64 {
	if c.ReferenceSNRdB == nil {
		return 20.0
	}
	return *c.ReferenceSNRdB
}

// GetAlpha returns the alpha filter gain or the default.
func (c *TuningConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.6
	}
	return *c.Alpha
}

// GetBeta returns the beta filter gain or the default.
func (c *TuningConfig) GetBeta() float64 {
	if c.Beta == nil {
		return 0.4
	}
	return *c.Beta
}

// GetFriendlyModes returns the transponder modes classified as friendly.
func (c *TuningConfig) GetFriendlyModes() []string {
	if c.FriendlyModes == nil {
		return []string{"M4", "M5"}
	}
	return c.FriendlyModes
}

// GetCPAWarnTime parses and returns cpa_warn_time.
func (c *TuningConfig) GetCPAWarnTime() time.Duration {
	return parseDurationOr(c.CPAWarnTime, 30*time.Second)
}

// GetCPACriticalTime parses and returns cpa_critical_time.
func (c *TuningConfig) GetCPACriticalTime() time.Duration {
	return parseDurationOr(c.CPACriticalTime, 10*time.Second)
}

// GetCPAWarnDistanceM returns the cpa_warn_distance_m value or the default.
func (c *TuningConfig) GetCPAWarnDistanceM() float64 {
	if c.CPAWarnDistanceM == nil {
		return 500.0
	}
	return *c.CPAWarnDistanceM
}

// GetCPACriticalDistanceM returns the cpa_critical_distance_m value or the default.
func (c *TuningConfig) GetCPACriticalDistanceM() float64 {
	if c.CPACriticalDistanceM == nil {
		return 50.0
	}
	return *c.CPACriticalDistanceM
}

// GetClosingSpeedMps returns the closing_speed_mps value or the default.
func (c *TuningConfig) GetClosingSpeedMps() float64 {
	if c.ClosingSpeedMps == nil {
		return 10.0
	}
	return *c.ClosingSpeedMps
}

// GetClosingConfirmFrames returns the closing_confirm_frames value or the default.
func (c *TuningConfig) GetClosingConfirmFrames() int {
	if c.ClosingConfirmFrames == nil {
		return 3
	}
	return *c.ClosingConfirmFrames
}

// GetClosingCriticalRangeM returns the closing_critical_range_m value or the default.
func (c *TuningConfig) GetClosingCriticalRangeM() float64 {
	if c.ClosingCriticalRangeM == nil {
		return 150.0
	}
	return *c.ClosingCriticalRangeM
}

// GetNearDistanceM returns the near_distance_m value or the default.
func (c *TuningConfig) GetNearDistanceM() float64 {
	if c.NearDistanceM == nil {
		return 300.0
	}
	return *c.NearDistanceM
}

// GetFreshnessWindow parses and returns freshness_window.
func (c *TuningConfig) GetFreshnessWindow() time.Duration {
	return parseDurationOr(c.FreshnessWindow, 2*time.Second)
}

// GetLostContactMinMisses returns the lost_contact_min_misses value or the default.
func (c *TuningConfig) GetLostContactMinMisses() int {
	if c.LostContactMinMisses == nil {
		return 1
	}
	return *c.LostContactMinMisses
}

// GetLostContactWindow parses and returns lost_contact_window.
func (c *TuningConfig) GetLostContactWindow() time.Duration {
	return parseDurationOr(c.LostContactWindow, 10*time.Second)
}

// GetVectorZoom returns the vector_zoom value or the default.
func (c *TuningConfig) GetVectorZoom() float64 {
	if c.VectorZoom == nil {
		return 1.2
	}
	return *c.VectorZoom
}

// GetLabelZoom returns the label_zoom value or the default.
func (c *TuningConfig) GetLabelZoom() float64 {
	if c.LabelZoom == nil {
		return 1.6
	}
	return *c.LabelZoom
}

// GetDegradationLadder returns the bitmap scale ladder, level 0 first.
func (c *TuningConfig) GetDegradationLadder() []float64 {
	if len(c.DegradationLadder) == 0 {
		return []float64{1.0, 0.75, 0.5, 0.35}
	}
	out := make([]float64, len(c.DegradationLadder))
	copy(out, c.DegradationLadder)
	return out
}

// GetFrameBudgetMs returns the frame_budget_ms value or the default.
func (c *TuningConfig) GetFrameBudgetMs() float64 {
	if c.FrameBudgetMs == nil {
		return 33.0
	}
	return *c.FrameBudgetMs
}

// GetRecoveryRatio returns the recovery_ratio value or the default.
func (c *TuningConfig) GetRecoveryRatio() float64 {
	if c.RecoveryRatio == nil {
		return 0.85
	}
	return *c.RecoveryRatio
}

// GetDegradeConfirmFrames returns the degrade_confirm_frames value or the default.
func (c *TuningConfig) GetDegradeConfirmFrames() int {
	if c.DegradeConfirmFrames == nil {
		return 2
	}
	return *c.DegradeConfirmFrames
}

// GetRecoveryConfirmFrames returns the recovery_confirm_frames value or the default.
func (c *TuningConfig) GetRecoveryConfirmFrames() int {
	if c.RecoveryConfirmFrames == nil {
		return 5
	}
	return *c.RecoveryConfirmFrames
}

// GetDegradationCooldown parses and returns degradation_cooldown.
func (c *TuningConfig) GetDegradationCooldown() time.Duration {
	return parseDurationOr(c.DegradationCooldown, time.Second)
}

// GetMaxTargets returns the max_targets value or the default.
func (c *TuningConfig) GetMaxTargets() int {
	if c.MaxTargets == nil {
		return 64
	}
	return *c.MaxTargets
}

// GetTextBackends returns the backend names treated as text-only.
func (c *TuningConfig) GetTextBackends() []string {
	if c.TextBackends == nil {
		return []string{"terminal", "ascii"}
	}
	return c.TextBackends
}

// GetLabelSuppressLevel returns the label_suppress_level value or the default.
func (c *TuningConfig) GetLabelSuppressLevel() int {
	if c.LabelSuppressLevel == nil {
		return 2
	}
	return *c.LabelSuppressLevel
}

// GetFrameStatsWindow returns the frame_stats_window value or the default.
func (c *TuningConfig) GetFrameStatsWindow() int {
	if c.FrameStatsWindow == nil || *c.FrameStatsWindow < 1 {
		return 60
	}
	return *c.FrameStatsWindow
}

// GetEventSinkCapacity returns the event_sink_capacity value or the default.
func (c *TuningConfig) GetEventSinkCapacity() int {
	if c.EventSinkCapacity == nil {
		return 4096
	}
	return *c.EventSinkCapacity
}
