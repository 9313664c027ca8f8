package tracks

import (
	"time"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/picture/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Status is the lifecycle state of a track.
type Status string

const (
	StatusNew     Status = "NEW"     // Not yet confirmed
	StatusTracked Status = "TRACKED" // Confirmed and associated this tick
	StatusLost    Status = "LOST"    // Coasting on misses, not yet pruned
)

// IFF is the identification-friend-or-foe class derived from transponder data.
type IFF string

const (
	IFFFriendly IFF = "FRIENDLY"
	IFFNeutral  IFF = "NEUTRAL"
	IFFUnknown  IFF = "UNKNOWN"
)

// minPredictDt is the floor applied to the prediction interval so that two
// frames with identical timestamps still project a moving track forward.
const minPredictDt = 0.05

// Detection is a single radar return for one tick.
type Detection struct {
	RangeM          float64 `json:"range_m"`
	BearingDeg      float64 `json:"bearing_deg"`
	ElevDeg         float64 `json:"elev_deg"`
	VrMps           float64 `json:"vr_mps"` // negative = closing
	SNRdB           float64 `json:"snr_db"`
	RCSdBsm         float64 `json:"rcs_dbsm"`
	TransponderOn   bool    `json:"transponder_on"`
	TransponderMode string  `json:"transponder_mode,omitempty"`
	TransponderID   string  `json:"transponder_id,omitempty"`
}

// Track is the filtered state of one tracked object.
type Track struct {
	ID       string
	Position r3.Vec // metres, own vehicle at origin
	Velocity r3.Vec // m/s

	SNRdB   float64 // smoothed
	RCSdBsm float64

	TransponderOn   bool
	TransponderMode string
	TransponderID   string
	IFF             IFF

	Hits    int
	Misses  int
	Status  Status
	Quality float64 // [0, 1]

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RangeM returns the distance from the own vehicle.
func (t Track) RangeM() float64 { return r3.Norm(t.Position) }

// SpeedMps returns the magnitude of the velocity estimate.
func (t Track) SpeedMps() float64 { return r3.Norm(t.Velocity) }

// ClosingMps returns the closing speed towards the own vehicle. Positive
// values are closing.
func (t Track) ClosingMps() float64 { return -geom.RadialVelocity(t.Position, t.Velocity) }

// AltitudeM returns the height above the own vehicle.
func (t Track) AltitudeM() float64 { return t.Position.Z }

// Age returns how long the track has existed at now.
func (t Track) Age(now time.Time) time.Duration { return now.Sub(t.CreatedAt) }

// Config holds the association and filter parameters.
type Config struct {
	MaxGatingDistanceM float64  // Position gate (metres)
	MaxRadialDeltaMps  float64  // Radial velocity gate (m/s)
	MaxMisses          int      // Prune once misses exceed this
	MinHitsToConfirm   int      // Hits before NEW becomes TRACKED
	ReferenceSNRdB     float64  // SNR at which quality saturates
	Alpha              float64  // Position gain [0,1]
	Beta               float64  // Velocity gain [0,1]
	FriendlyModes      []string // Transponder modes classed FRIENDLY
}

// DefaultConfig returns the store configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MaxGatingDistanceM: cfg.GetMaxGatingDistanceM(),
		MaxRadialDeltaMps:  cfg.GetMaxRadialDeltaMps(),
		MaxMisses:          cfg.GetMaxMisses(),
		MinHitsToConfirm:   cfg.GetMinHitsToConfirm(),
		ReferenceSNRdB:     cfg.GetReferenceSNRdB(),
		Alpha:              cfg.GetAlpha(),
		Beta:               cfg.GetBeta(),
		FriendlyModes:      cfg.GetFriendlyModes(),
	}
}
