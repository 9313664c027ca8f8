// Package events holds the audit log of the tactical picture: typed event
// records kept in a bounded, drop-oldest ring buffer.
package events

import "time"

// Subsystem names the stage that produced a record.
type Subsystem string

const (
	SubsystemTracks    Subsystem = "tracks"
	SubsystemGuard     Subsystem = "guard"
	SubsystemSituation Subsystem = "situation"
	SubsystemRender    Subsystem = "render"
	SubsystemPipeline  Subsystem = "pipeline"
)

// EventType categorizes audit records.
type EventType string

const (
	EventTrackSpawned       EventType = "TRACK_SPAWNED"
	EventTrackPruned        EventType = "TRACK_PRUNED"
	EventGuardFired         EventType = "GUARD_FIRED"
	EventGuardCleared       EventType = "GUARD_CLEARED"
	EventSituationCreated   EventType = "SITUATION_CREATED"
	EventSituationUpdated   EventType = "SITUATION_UPDATED"
	EventSituationResolved  EventType = "SITUATION_RESOLVED"
	EventDegradationChanged EventType = "DEGRADATION_CHANGED"
	EventTruthStateChanged  EventType = "TRUTH_STATE_CHANGED"
)

// Payload is the typed body of a record.
type Payload interface {
	payloadKind() string
}

// TrackPayload describes a track lifecycle change.
type TrackPayload struct {
	TrackID string  `json:"track_id"`
	Status  string  `json:"status"`
	IFF     string  `json:"iff"`
	RangeM  float64 `json:"range_m"`
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	Quality float64 `json:"quality"`
}

// GuardPayload describes a guard rule firing or clearing for one track.
type GuardPayload struct {
	RuleID   string  `json:"rule_id"`
	TrackID  string  `json:"track_id"`
	Severity string  `json:"severity"`
	FSMEvent string  `json:"fsm_event"`
	Message  string  `json:"message,omitempty"`
	RangeM   float64 `json:"range_m"`
}

// SituationPayload describes a situation lifecycle transition.
type SituationPayload struct {
	SituationID  string   `json:"situation_id"`
	Type         string   `json:"type"`
	Severity     string   `json:"severity"`
	PrevSeverity string   `json:"prev_severity,omitempty"`
	TrackIDs     []string `json:"track_ids,omitempty"`
	RuleID       string   `json:"rule_id,omitempty"`
	TCPAs        float64  `json:"tcpa_s,omitempty"`
	DCPAm        float64  `json:"dcpa_m,omitempty"`
	RangeM       float64  `json:"range_m,omitempty"`
	ClosingMps   float64  `json:"closing_mps,omitempty"`
}

// DegradationPayload describes a render degradation level change.
type DegradationPayload struct {
	From        int      `json:"from"`
	To          int      `json:"to"`
	BitmapScale float64  `json:"bitmap_scale"`
	FrameTimeMs float64  `json:"frame_time_ms"`
	Reasons     []string `json:"reasons,omitempty"`
}

// TruthPayload describes a change of the input truth state.
type TruthPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (TrackPayload) payloadKind() string       { return "track" }
func (GuardPayload) payloadKind() string       { return "guard" }
func (SituationPayload) payloadKind() string   { return "situation" }
func (DegradationPayload) payloadKind() string { return "degradation" }
func (TruthPayload) payloadKind() string       { return "truth" }

// PayloadKind returns the short kind name of p, or "" for nil.
func PayloadKind(p Payload) string {
	if p == nil {
		return ""
	}
	return p.payloadKind()
}

// Record is one audit log entry.
type Record struct {
	EventID    string    `json:"event_id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Subsystem  Subsystem `json:"subsystem"`
	EventType  EventType `json:"event_type"`
	Payload    Payload   `json:"payload"`
	TruthState string    `json:"truth_state"`
	Reason     string    `json:"reason,omitempty"`
}
