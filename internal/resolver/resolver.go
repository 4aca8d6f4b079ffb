// Package resolver implements the Identity Resolver: a consume loop over
// the detections topic that turns each embedding-bearing Detection into
// an IdentityEvent via internal/identity, emits alerts via
// internal/alerts, and honors a manual offset-commit discipline (don't
// advance past an event whose identity publish hasn't succeeded).
package resolver

import (
	"context"
	"log"
	"time"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/events"
	"github.com/retailvision/trinetra/internal/identity"
	"github.com/retailvision/trinetra/internal/metrics"
)

// consumeBlockMS is the EventLog consume block timeout.
const consumeBlockMS = 50 * time.Millisecond

// fetchCount bounds how many messages one Fetch pulls per loop
// iteration; kept small so a single bad batch doesn't hold up offset
// commits across many partitions for long.
const fetchCount = 16

// sweepEventInterval is the "every 1000 processed events" half of the
// registry sweep condition; the "every 60s" half is a ticker in Run.
const sweepEventInterval = 1000

const sweepTickInterval = 60 * time.Second

// identityPublishTimeout is the EventLog publish ack deadline.
const identityPublishTimeout = 2 * time.Second
const identityPublishRetries = 3

// Fetcher is the subset of *eventlog.Subscription the resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, count int) ([]*Message, error)
	Lag() (int, error)
}

// Message mirrors eventlog.Message's exported surface; the resolver
// depends on this narrow shape rather than *eventlog.Message directly so
// tests can fake delivery without a NATS server.
type Message struct {
	Key  string
	Data []byte
	Ack  func() error
	Nak  func() error
}

// Publisher is the subset of eventlog.Log the resolver needs to emit
// IdentityEvents.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error
}

// AlertEmitter is the subset of *alerts.Store the resolver needs.
type AlertEmitter interface {
	Emit(ctx context.Context, evt events.AlertEvent) error
}

// Cameras resolves a camera_id to its camera_type, needed for the
// per-camera ef value and the billing-alert rule.
type Cameras interface {
	Get(cameraID string) (camera.Camera, bool)
}

// Resolver is one Identity Resolver instance. Multiple instances may
// share an EventLog consumer group; each instance tracks its own
// consecutive-ANN-failure count independently since the ANN backend is
// either up or down for everyone.
type Resolver struct {
	sub     Fetcher
	log     Publisher
	alerts  AlertEmitter
	cameras Cameras
	engine  *identity.Engine

	annMaxFailures  int
	annConsecutive  int
	eventsSinceSweep int
}

func New(sub Fetcher, log Publisher, alertStore AlertEmitter, cameras Cameras, engine *identity.Engine, annMaxFailures int) *Resolver {
	if annMaxFailures <= 0 {
		annMaxFailures = 20
	}
	return &Resolver{
		sub:            sub,
		log:            log,
		alerts:         alertStore,
		cameras:        cameras,
		engine:         engine,
		annMaxFailures: annMaxFailures,
	}
}

// Run loops fetch -> process -> (ack|leave pending) until ctx is
// cancelled, with a periodic registry sweep on a 60s ticker.
func (r *Resolver) Run(ctx context.Context) error {
	sweepTicker := time.NewTicker(sweepTickInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			r.engine.Sweep(nowSeconds())
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, consumeBlockMS)
		msgs, err := r.sub.Fetch(fetchCtx, fetchCount)
		cancel()
		if err != nil {
			log.Printf("resolver: fetch failed: %v", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if n, err := r.sub.Lag(); err == nil {
			metrics.SetEventLogBacklog("detections", n)
		}

		for _, m := range msgs {
			r.processMessage(ctx, m)
		}
	}
}

func (r *Resolver) processMessage(ctx context.Context, m *Message) {
	evt, err := events.UnmarshalDetectionEvent(m.Data)
	if err != nil {
		metrics.RecordDeserializationError()
		log.Printf("resolver: skipping undecodable event: %v", err)
		_ = m.Ack()
		return
	}

	cameraType := config.CameraType("")
	if cam, ok := r.cameras.Get(evt.CameraID); ok {
		cameraType = cam.CameraType
	}

	annFailed := false
	for _, det := range evt.Detections {
		if len(det.Embedding) == 0 {
			continue
		}

		start := time.Now()
		result, err := r.engine.ResolveDetection(ctx, evt.CameraID, cameraType, det.TrackID, evt.EffectiveTS, det.Embedding)
		metrics.RecordANNLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			log.Printf("resolver: resolve detection failed for camera %s: %v", evt.CameraID, err)
			continue
		}
		if result.ANNUnavailable {
			annFailed = true
		}
		if result.GateRejected {
			metrics.RecordGateRejection(result.GateReason)
		}
		metrics.RecordResolution(result.Identity.Source)

		if !r.publishIdentity(ctx, result.Identity) {
			// Identity publish failure means don't advance the offset for
			// this message; leave it unacked for redelivery.
			return
		}
		for _, a := range result.Alerts {
			metrics.RecordAlertEmitted(a.Kind)
			if err := r.alerts.Emit(ctx, a); err != nil {
				log.Printf("resolver: alert emit failed: %v", err)
			}
		}
	}

	if annFailed {
		r.annConsecutive++
		metrics.SetANNConsecutiveFailures(r.annConsecutive)
		if r.annConsecutive >= r.annMaxFailures {
			r.escalateANNOutage(ctx, evt.CameraID)
			r.annConsecutive = 0
		}
	} else {
		r.annConsecutive = 0
		metrics.SetANNConsecutiveFailures(0)
	}

	metrics.SetRegistrySize(r.engine.RegistrySize())
	if r.engine.Tick() {
		for _, a := range r.engine.CheckFalseMerges() {
			metrics.RecordAlertEmitted(a.Kind)
			if err := r.alerts.Emit(ctx, a); err != nil {
				log.Printf("resolver: false-merge alert emit failed: %v", err)
			}
		}
	}

	r.eventsSinceSweep++
	if r.eventsSinceSweep >= sweepEventInterval {
		r.eventsSinceSweep = 0
		r.engine.Sweep(nowSeconds())
	}

	_ = m.Ack()
}

// escalateANNOutage resolves the Open Question decision documented in
// DESIGN.md: after annMaxFailures consecutive ANN failures, stop
// blocking the consumer offset on a backend that isn't coming back soon
// and raise a degraded-mode alert instead.
func (r *Resolver) escalateANNOutage(ctx context.Context, cameraID string) {
	alert := events.AlertEvent{
		Kind:     events.AlertSimilarityBackendDegraded,
		Severity: events.SeverityHigh,
		CameraID: cameraID,
	}
	metrics.RecordAlertEmitted(alert.Kind)
	if err := r.alerts.Emit(ctx, alert); err != nil {
		log.Printf("resolver: SIMILARITY_BACKEND_DEGRADED alert emit failed: %v", err)
	}
}

// publishIdentity marshals and publishes one IdentityEvent, partitioned
// by customer_id so per-customer ordering is preserved downstream.
func (r *Resolver) publishIdentity(ctx context.Context, evt events.IdentityEvent) bool {
	data, err := evt.Marshal()
	if err != nil {
		log.Printf("resolver: identity event marshal failed: %v", err)
		return false
	}

	key := evt.CustomerID
	if key == events.UnknownCustomerID {
		key = evt.CameraID
	}

	pubCtx, cancel := context.WithTimeout(ctx, identityPublishTimeout)
	defer cancel()
	if err := r.log.Publish(pubCtx, "identities", key, data, identityPublishRetries); err != nil {
		log.Printf("resolver: identity event publish failed: %v", err)
		return false
	}
	return true
}

// nowSeconds gives the registry sweep a wall-clock reference in the same
// unit as effective_ts (seconds, fractional).
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
