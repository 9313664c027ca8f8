package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetMaxGatingDistanceM() != 50.0 {
		t.Errorf("GetMaxGatingDistanceM() = %f, want 50", cfg.GetMaxGatingDistanceM())
	}
	if cfg.GetMaxMisses() != 3 {
		t.Errorf("GetMaxMisses() = %d, want 3", cfg.GetMaxMisses())
	}
	if cfg.GetCPAWarnTime() != 30*time.Second {
		t.Errorf("GetCPAWarnTime() = %v, want 30s", cfg.GetCPAWarnTime())
	}
	if cfg.GetVectorZoom() != 1.2 || cfg.GetLabelZoom() != 1.6 {
		t.Errorf("zoom thresholds = %f/%f, want 1.2/1.6", cfg.GetVectorZoom(), cfg.GetLabelZoom())
	}
	ladder := cfg.GetDegradationLadder()
	if len(ladder) != 4 || ladder[0] != 1.0 || ladder[3] != 0.35 {
		t.Errorf("GetDegradationLadder() = %v", ladder)
	}
	if cfg.GetEventSinkCapacity() != 4096 {
		t.Errorf("GetEventSinkCapacity() = %d, want 4096", cfg.GetEventSinkCapacity())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "test_config.json", `{
  "max_gating_distance_m": 75.5,
  "alpha": 0.5,
  "cpa_warn_time": "45s",
  "degradation_ladder": [1.0, 0.6],
  "text_backends": ["tty"],
  "guard_rules": [
    {"id": "r1", "iff": "UNKNOWN", "severity": "WARN", "fsm_event": "EV"}
  ]
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMaxGatingDistanceM() != 75.5 {
		t.Errorf("Expected gating 75.5, got %f", cfg.GetMaxGatingDistanceM())
	}
	if cfg.GetAlpha() != 0.5 {
		t.Errorf("Expected alpha 0.5, got %f", cfg.GetAlpha())
	}
	if cfg.GetCPAWarnTime() != 45*time.Second {
		t.Errorf("Expected cpa_warn_time 45s, got %v", cfg.GetCPAWarnTime())
	}
	if got := cfg.GetDegradationLadder(); len(got) != 2 || got[1] != 0.6 {
		t.Errorf("Expected ladder [1 0.6], got %v", got)
	}
	if got := cfg.GetTextBackends(); len(got) != 1 || got[0] != "tty" {
		t.Errorf("Expected text backends [tty], got %v", got)
	}
	if len(cfg.GuardRules) != 1 || !cfg.GuardRules[0].IsEnabled() {
		t.Errorf("Expected one enabled guard rule, got %+v", cfg.GuardRules)
	}
	// Omitted fields keep their defaults.
	if cfg.GetBeta() != 0.4 {
		t.Errorf("Expected default beta 0.4, got %f", cfg.GetBeta())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	if _, err := LoadTuningConfig("/nonexistent/path/config.json"); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	path := writeConfig(t, "invalid.json", `{ invalid json }`)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("Expected error for invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("/some/path/config.yaml"); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.json")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestValidate(t *testing.T) {
	disabled := false
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "empty config", cfg: &TuningConfig{}},
		{name: "alpha above one", cfg: &TuningConfig{Alpha: ptrFloat64(1.5)}, wantErr: true},
		{name: "negative beta", cfg: &TuningConfig{Beta: ptrFloat64(-0.1)}, wantErr: true},
		{name: "negative max misses", cfg: &TuningConfig{MaxMisses: ptrInt(-1)}, wantErr: true},
		{name: "zero max misses", cfg: &TuningConfig{MaxMisses: ptrInt(0)}},
		{name: "bad duration", cfg: &TuningConfig{CPAWarnTime: ptrString("soon")}, wantErr: true},
		{name: "good duration", cfg: &TuningConfig{DegradationCooldown: ptrString("250ms")}},
		{name: "zero frame budget", cfg: &TuningConfig{FrameBudgetMs: ptrFloat64(0)}, wantErr: true},
		{name: "recovery ratio above one", cfg: &TuningConfig{RecoveryRatio: ptrFloat64(1.2)}, wantErr: true},
		{name: "zero sink capacity", cfg: &TuningConfig{EventSinkCapacity: ptrInt(0)}, wantErr: true},
		{name: "empty ladder", cfg: &TuningConfig{DegradationLadder: []float64{}}, wantErr: true},
		{name: "increasing ladder", cfg: &TuningConfig{DegradationLadder: []float64{1.0, 0.5, 0.75}}, wantErr: true},
		{name: "rule without id", cfg: &TuningConfig{GuardRules: []GuardRuleConfig{{Severity: "WARN"}}}, wantErr: true},
		{
			name: "duplicate rule ids",
			cfg: &TuningConfig{GuardRules: []GuardRuleConfig{
				{ID: "a"}, {ID: "a", Enabled: &disabled},
			}},
			wantErr: true,
		},
		{
			name: "unknown field is not a load error",
			cfg:  &TuningConfig{GuardRules: []GuardRuleConfig{{ID: "a", Field: "warp_factor", Op: ">"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationGettersFallBackOnParseError(t *testing.T) {
	cfg := &TuningConfig{
		FreshnessWindow:   ptrString("not-a-duration"),
		LostContactWindow: ptrString(""),
	}
	if cfg.GetFreshnessWindow() != 2*time.Second {
		t.Errorf("GetFreshnessWindow() = %v, want 2s", cfg.GetFreshnessWindow())
	}
	if cfg.GetLostContactWindow() != 10*time.Second {
		t.Errorf("GetLostContactWindow() = %v, want 10s", cfg.GetLostContactWindow())
	}
}

func TestGuardRuleEnabled(t *testing.T) {
	off := false
	if !(GuardRuleConfig{ID: "x"}).IsEnabled() {
		t.Error("rules should default to enabled")
	}
	if (GuardRuleConfig{ID: "x", Enabled: &off}).IsEnabled() {
		t.Error("explicitly disabled rule reported enabled")
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetFrameBudgetMs() != 33.0 {
		t.Errorf("Expected frame budget 33, got %f", cfg.GetFrameBudgetMs())
	}
	if len(cfg.GuardRules) == 0 {
		t.Error("Expected default guard rules")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetMinHitsToConfirm() != 3 {
		t.Errorf("Expected min hits 3, got %d", cfg.GetMinHitsToConfirm())
	}
}
