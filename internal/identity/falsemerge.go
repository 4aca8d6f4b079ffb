package identity

import "github.com/retailvision/trinetra/internal/events"

// matchAttempt records one cosine-threshold-surviving candidate,
// independent of whether the spatiotemporal gate ultimately allowed it.
// The false-merge sweep needs rejected attempts too: a conflicting
// assignment can show up as gated_unknown, not matched, yet still
// deserves an alert on the next periodic sweep.
type matchAttempt struct {
	customerID  string
	cameraID    string
	trackID     int64
	effectiveTS float64
}

// recordAttempt appends to the bounded attempt log and evicts anything
// older than falseMergeWindowS relative to the newest entry. Caller must
// hold e.mu.
func (e *Engine) recordAttempt(cameraID string, trackID int64, customerID string, effectiveTS float64) {
	e.attempts = append(e.attempts, matchAttempt{
		customerID: customerID, cameraID: cameraID, trackID: trackID, effectiveTS: effectiveTS,
	})

	cutoff := effectiveTS - falseMergeWindowS
	live := e.attempts[:0]
	for _, a := range e.attempts {
		if a.effectiveTS >= cutoff {
			live = append(live, a)
		}
	}
	e.attempts = live
}

// CheckFalseMerges scans the recent attempt log for the same
// customer_id assigned on two different cameras/track_ids within less
// time than the (safety-factored) travel-time matrix allows. Call this
// when Tick() reports a sweep is due.
func (e *Engine) CheckFalseMerges() []events.AlertEvent {
	e.mu.Lock()
	attempts := make([]matchAttempt, len(e.attempts))
	copy(attempts, e.attempts)
	e.mu.Unlock()

	byCustomer := make(map[string][]matchAttempt)
	for _, a := range attempts {
		byCustomer[a.customerID] = append(byCustomer[a.customerID], a)
	}

	seen := make(map[string]struct{})
	var alerts []events.AlertEvent
	for customerID, group := range byCustomer {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.cameraID == b.cameraID || a.trackID == b.trackID {
					continue
				}
				dt := b.effectiveTS - a.effectiveTS
				if dt < 0 {
					dt = -dt
				}

				var minTravel float64
				if e.travel != nil {
					if v, ok := e.travel.Lookup(a.cameraID, b.cameraID); ok {
						minTravel = v
					}
				}
				required := minTravel * travelTimeSafetyFactor
				if dt >= required {
					continue // plausible transition, not a conflict
				}

				key := dedupKey(customerID, a.cameraID, a.trackID, b.cameraID, b.trackID)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}

				custID := customerID
				alerts = append(alerts, events.AlertEvent{
					Kind:       events.AlertFalseMergeSuspect,
					Severity:   events.SeverityHigh,
					CameraID:   b.cameraID,
					CustomerID: &custID,
					Details: map[string]interface{}{
						"other_camera": a.cameraID,
						"track_a":      a.trackID,
						"track_b":      b.trackID,
						"delta_t":      dt,
					},
				})
			}
		}
	}
	return alerts
}

func dedupKey(customerID, camA string, trackA int64, camB string, trackB int64) string {
	if camA > camB {
		camA, camB = camB, camA
		trackA, trackB = trackB, trackA
	}
	return customerID + "|" + camA + "|" + itoa(trackA) + "|" + camB + "|" + itoa(trackB)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
