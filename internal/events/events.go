// Package events defines the three wire-format records that flow over
// the EventLog: DetectionEvent (Worker → Resolver), IdentityEvent and
// AlertEvent (Resolver → downstream consumers).
package events

import "encoding/json"

// Detection is one bounding box on the wire (bbox as a 4-element array,
// not an object, for wire compactness).
type Detection struct {
	BBox      [4]float64 `json:"bbox"`
	Conf      float64    `json:"conf"`
	TrackID   int64      `json:"track_id,omitempty"`
	Embedding []float32  `json:"embedding,omitempty"`
}

// DetectionEvent is published once per input frame, partitioned by
// camera_id.
type DetectionEvent struct {
	CameraID    string       `json:"camera_id"`
	FrameIndex  int64        `json:"frame_index"`
	EffectiveTS float64      `json:"effective_ts"`
	Detections  []Detection  `json:"detections"`
}

func (e *DetectionEvent) Marshal() ([]byte, error)        { return json.Marshal(e) }
func UnmarshalDetectionEvent(data []byte) (*DetectionEvent, error) {
	var e DetectionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Identity-event outcome sources.
const (
	SourceMatched             = "matched"
	SourceGatedUnknown        = "gated_unknown"
	SourceANNUnavailable      = "qdrant_unavailable" // legacy wire name, kept for downstream compatibility
	SourceInsufficientHistory = "insufficient_history"
)

// UnknownCustomerID is the sentinel value for an unresolved identity.
const UnknownCustomerID = "UNKNOWN"

// IdentityEvent is published per resolved detection.
type IdentityEvent struct {
	CameraID    string  `json:"camera_id"`
	TrackID     int64   `json:"track_id"`
	EffectiveTS float64 `json:"effective_ts"`
	CustomerID  string  `json:"customer_id"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

func (e *IdentityEvent) Marshal() ([]byte, error) { return json.Marshal(e) }

// Alert kinds. SIMILARITY_BACKEND_DEGRADED is emitted after sustained
// ANN failure rather than blocking the resolver loop (see DESIGN.md).
const (
	AlertUnknownAtBilling          = "UNKNOWN_AT_BILLING"
	AlertFalseMergeSuspect         = "FALSE_MERGE_SUSPECT"
	AlertVIPDetected               = "VIP_DETECTED"
	AlertSimilarityBackendDegraded = "SIMILARITY_BACKEND_DEGRADED"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// AlertEvent is published on policy-triggered conditions.
type AlertEvent struct {
	Kind       string                 `json:"kind"`
	Severity   string                 `json:"severity"`
	CameraID   string                 `json:"camera_id"`
	CustomerID *string                `json:"customer_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func (e *AlertEvent) Marshal() ([]byte, error) { return json.Marshal(e) }
