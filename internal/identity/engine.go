package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/events"
	"github.com/retailvision/trinetra/internal/gallery"
)

// SimilaritySearch is the gallery lookup contract. gallery.Gallery
// satisfies this structurally.
type SimilaritySearch interface {
	TopK(ctx context.Context, embedding []float32, k, ef int) ([]gallery.Candidate, error)
}

// EmbeddingUpdater is the subset of gallery.Gallery the engine needs for
// the EMA drift update; split out so tests can supply a fake without a
// real database.
type EmbeddingUpdater interface {
	UpdateEmbeddingEMA(ctx context.Context, customerID string, current []float32, alpha float64) error
}

const (
	emaAlpha          = 0.05
	emaGateThreshold  = 0.85 // deliberately stricter than the base match threshold
	efBilling         = 128
	efDefault         = 50
	falseMergeEveryN  = 100
	falseMergeWindowS = 120 // attempts older than this can't plausibly conflict
)

// Engine resolves one Detection at a time into an IdentityEvent,
// maintaining the ActiveIdentityRegistry and per-track HistoryRings
// across calls.
type Engine struct {
	registry *Registry
	search   SimilaritySearch
	updater  EmbeddingUpdater
	travel   *config.TravelTimeMatrix

	cosineThreshold  float64
	historyThreshold float64
	temporalWindowS  float64

	mu        sync.Mutex
	histories map[string]*HistoryRing
	attempts  []matchAttempt
	processed uint64
}

func NewEngine(search SimilaritySearch, updater EmbeddingUpdater, travel *config.TravelTimeMatrix, cosineThreshold, historyThreshold, temporalWindowS float64) *Engine {
	return &Engine{
		registry:         NewRegistry(),
		search:           search,
		updater:          updater,
		travel:           travel,
		cosineThreshold:  cosineThreshold,
		historyThreshold: historyThreshold,
		temporalWindowS:  temporalWindowS,
		histories:        make(map[string]*HistoryRing),
	}
}

func trackKey(cameraID string, trackID int64) string {
	return fmt.Sprintf("%s:%d", cameraID, trackID)
}

// Result is everything one call to ResolveDetection produced: the
// identity event to publish, zero or more alerts, and flags for the
// caller's manual-commit/metrics decisions.
type Result struct {
	Identity       events.IdentityEvent
	Alerts         []events.AlertEvent
	ANNUnavailable bool
	GateRejected   bool
	GateReason     string
}

// ResolveDetection runs the full match pipeline for one embedding-bearing
// Detection: ANN top_k, cosine filter, spatiotemporal gate, history-ring
// confirmation, registry update, and alert triggers.
func (e *Engine) ResolveDetection(ctx context.Context, cameraID string, cameraType config.CameraType, trackID int64, effectiveTS float64, embedding []float32) (Result, error) {
	base := events.IdentityEvent{
		CameraID:    cameraID,
		TrackID:     trackID,
		EffectiveTS: effectiveTS,
		CustomerID:  events.UnknownCustomerID,
	}

	ef := efDefault
	if cameraType == config.CameraBilling {
		ef = efBilling
	}

	candidates, err := e.search.TopK(ctx, embedding, 5, ef)
	if err != nil {
		base.Source = events.SourceANNUnavailable
		return Result{Identity: base, ANNUnavailable: true}, nil
	}

	var survivors []gallery.Candidate
	for _, c := range candidates {
		if c.Score >= e.cosineThreshold {
			survivors = append(survivors, c)
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Score > survivors[j].Score })

	e.mu.Lock()
	for _, s := range survivors {
		e.recordAttempt(cameraID, trackID, s.CustomerID, effectiveTS)
	}
	e.mu.Unlock()

	if len(survivors) == 0 {
		base.Source = events.SourceInsufficientHistory
		return e.finish(base, cameraType, nil)
	}

	var top *gallery.Candidate
	var topReason gateReason
	for i := range survivors {
		entry, ok := e.registry.Get(survivors[i].CustomerID)
		var entryPtr *ActiveIdentity
		if ok {
			entryPtr = &entry
		}
		dec := evaluateGate(entryPtr, cameraID, effectiveTS, e.travel, e.temporalWindowS)
		if dec.expired {
			e.registry.Evict(survivors[i].CustomerID)
		}
		if i == 0 {
			topReason = dec.reason
		}
		if dec.allowed {
			top = &survivors[i]
			break
		}
		if i == 0 {
			topReason = gateReasonImpossibleTransit
		}
	}

	if top == nil {
		base.Source = events.SourceGatedUnknown
		res, _ := e.finish(base, cameraType, nil)
		res.GateRejected = true
		res.GateReason = string(topReason)
		return res, nil
	}

	ring := e.trackRing(cameraID, trackID)
	e.mu.Lock()
	ring.MaybeExpire(effectiveTS)
	ring.Add(top.CustomerID, top.Score)
	maj := ring.Evaluate(e.historyThreshold)
	e.mu.Unlock()

	if !maj.Confirmed {
		base.Source = events.SourceInsufficientHistory
		return e.finish(base, cameraType, nil)
	}

	base.Source = events.SourceMatched
	base.CustomerID = maj.CustomerID
	base.Confidence = maj.AvgScore

	e.registry.Set(maj.CustomerID, cameraID, effectiveTS, embedding, top.Score)

	var alerts []events.AlertEvent
	if top.Score >= emaGateThreshold && e.updater != nil {
		_ = e.updater.UpdateEmbeddingEMA(ctx, maj.CustomerID, embedding, emaAlpha)
	}
	if top.VIP {
		custID := maj.CustomerID
		alerts = append(alerts, events.AlertEvent{
			Kind: events.AlertVIPDetected, Severity: events.SeverityLow,
			CameraID: cameraID, CustomerID: &custID,
		})
	}

	return e.finish(base, cameraType, alerts)
}

func (e *Engine) finish(base events.IdentityEvent, cameraType config.CameraType, alerts []events.AlertEvent) (Result, error) {
	if base.Source != events.SourceMatched && cameraType == config.CameraBilling {
		alerts = append(alerts, events.AlertEvent{
			Kind: events.AlertUnknownAtBilling, Severity: events.SeverityMedium, CameraID: base.CameraID,
		})
	}
	return Result{Identity: base, Alerts: alerts}, nil
}

func (e *Engine) trackRing(cameraID string, trackID int64) *HistoryRing {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := trackKey(cameraID, trackID)
	r, ok := e.histories[key]
	if !ok {
		r = NewHistoryRing()
		e.histories[key] = r
	}
	return r
}

// Sweep runs the registry's periodic expiry: every 1000 processed
// events or 60s, whichever first — the caller (internal/resolver) owns
// the timer; this just does the work when asked.
func (e *Engine) Sweep(now float64) int {
	return e.registry.SweepExpired(now, e.temporalWindowS)
}

// RegistrySize reports the registry's current bound for tests/metrics.
func (e *Engine) RegistrySize() int { return e.registry.Len() }

// Tick increments the processed-event counter and reports whether a
// false-merge sweep is due (every falseMergeEveryN events).
func (e *Engine) Tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed++
	return e.processed%falseMergeEveryN == 0
}
