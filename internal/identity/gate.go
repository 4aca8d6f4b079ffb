package identity

import "github.com/retailvision/trinetra/internal/config"

// travelTimeSafetyFactor absorbs cross-camera clock skew: the gate's
// travel-time check allows transitions slightly faster than the
// configured minimum (measured × 0.9) before rejecting them.
const travelTimeSafetyFactor = 0.9

// gateReason names why the gate rejected (or passed) a candidate, used
// for the gate_rejections{reason=...} metric label.
type gateReason string

const (
	gateReasonNone                gateReason = ""
	gateReasonImpossibleTransit   gateReason = "impossible_transition"
	gateReasonExpiredAllowed      gateReason = "expired_window"
	gateReasonSameCameraAllowed   gateReason = "same_camera"
	gateReasonNoPriorEntryAllowed gateReason = "no_prior_entry"
)

// gateDecision is the outcome of evaluating the spatiotemporal gate for
// one candidate against the registry.
type gateDecision struct {
	allowed bool
	reason  gateReason
	expired bool // caller should lazily evict the registry entry
}

// evaluateGate implements the spatiotemporal plausibility check.
func evaluateGate(entry *ActiveIdentity, currentCamera string, effectiveTS float64, tt *config.TravelTimeMatrix, windowS float64) gateDecision {
	if entry == nil {
		return gateDecision{allowed: true, reason: gateReasonNoPriorEntryAllowed}
	}

	dt := effectiveTS - entry.LastSeenTS

	if dt >= windowS {
		return gateDecision{allowed: true, reason: gateReasonExpiredAllowed, expired: true}
	}

	if entry.LastCamera == currentCamera {
		return gateDecision{allowed: true, reason: gateReasonSameCameraAllowed}
	}

	var minTravel float64
	if tt != nil {
		if v, ok := tt.Lookup(entry.LastCamera, currentCamera); ok {
			minTravel = v
		}
	}

	required := minTravel * travelTimeSafetyFactor
	if dt < required {
		return gateDecision{allowed: false, reason: gateReasonImpossibleTransit}
	}
	return gateDecision{allowed: true}
}
