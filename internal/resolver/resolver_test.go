package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/events"
	"github.com/retailvision/trinetra/internal/gallery"
	"github.com/retailvision/trinetra/internal/identity"
)

type fakeFetcher struct {
	batches [][]*Message
	idx     int
}

func (f *fakeFetcher) Fetch(ctx context.Context, count int) ([]*Message, error) {
	if f.idx >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.idx]
	f.idx++
	return b, nil
}

func (f *fakeFetcher) Lag() (int, error) { return 0, nil }

type fakePublisher struct {
	published []string // topics
	failTopic string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error {
	if topic == p.failTopic {
		return errors.New("publish failed")
	}
	p.published = append(p.published, topic)
	return nil
}

type fakeAlerts struct {
	emitted []events.AlertEvent
}

func (a *fakeAlerts) Emit(ctx context.Context, evt events.AlertEvent) error {
	a.emitted = append(a.emitted, evt)
	return nil
}

type fakeCameras struct {
	byID map[string]camera.Camera
}

func (c *fakeCameras) Get(cameraID string) (camera.Camera, bool) {
	cam, ok := c.byID[cameraID]
	return cam, ok
}

type fakeSearch struct {
	candidates []gallery.Candidate
	err        error
}

func (s *fakeSearch) TopK(ctx context.Context, embedding []float32, k, ef int) ([]gallery.Candidate, error) {
	return s.candidates, s.err
}

func makeMessage(t *testing.T, evt events.DetectionEvent) (*Message, *bool) {
	t.Helper()
	data, err := evt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	acked := false
	return &Message{
		Key:  evt.CameraID,
		Data: data,
		Ack:  func() error { acked = true; return nil },
		Nak:  func() error { return nil },
	}, &acked
}

func newTestEngine(search identity.SimilaritySearch) *identity.Engine {
	return identity.NewEngine(search, nil, nil, 0.72, 0.74, 3600)
}

func TestResolver_DeserializationFailureAcksAndCounts(t *testing.T) {
	msg := &Message{Key: "cam_01", Data: []byte("not json"), Ack: func() error { return nil }, Nak: func() error { return nil }}
	fetcher := &fakeFetcher{batches: [][]*Message{{msg}}}
	pub := &fakePublisher{}
	al := &fakeAlerts{}
	cams := &fakeCameras{byID: map[string]camera.Camera{}}
	engine := newTestEngine(&fakeSearch{})

	r := New(fetcher, pub, al, cams, engine, 20)
	acked := false
	msg.Ack = func() error { acked = true; return nil }
	r.processMessage(context.Background(), msg)

	if !acked {
		t.Fatal("undecodable event should still be acked")
	}
	if len(pub.published) != 0 {
		t.Fatal("no identity event should be published for an undecodable event")
	}
}

func TestResolver_NoEmbeddingDetectionsSkipResolution(t *testing.T) {
	evt := events.DetectionEvent{CameraID: "cam_01", FrameIndex: 1, Detections: []events.Detection{{BBox: [4]float64{0, 0, 1, 1}}}}
	msg, acked := makeMessage(t, evt)
	fetcher := &fakeFetcher{}
	pub := &fakePublisher{}
	al := &fakeAlerts{}
	cams := &fakeCameras{byID: map[string]camera.Camera{}}
	engine := newTestEngine(&fakeSearch{})

	r := New(fetcher, pub, al, cams, engine, 20)
	r.processMessage(context.Background(), msg)

	if !*acked {
		t.Fatal("event with no embeddings should still be acked")
	}
	if len(pub.published) != 0 {
		t.Fatal("no embedding means no resolution, so no identity publish")
	}
}

func TestResolver_MatchedCandidatePublishesIdentityAndAcks(t *testing.T) {
	evt := events.DetectionEvent{
		CameraID:    "cam_billing",
		FrameIndex:  1,
		EffectiveTS: 1000,
		Detections:  []events.Detection{{BBox: [4]float64{0, 0, 1, 1}, TrackID: 7, Embedding: make([]float32, 512)}},
	}
	msg, acked := makeMessage(t, evt)
	fetcher := &fakeFetcher{}
	pub := &fakePublisher{}
	al := &fakeAlerts{}
	cams := &fakeCameras{byID: map[string]camera.Camera{
		"cam_billing": {CameraID: "cam_billing", CameraType: config.CameraBilling},
	}}
	search := &fakeSearch{candidates: []gallery.Candidate{{CustomerID: "cust_1", Score: 0.9}}}
	engine := newTestEngine(search)

	r := New(fetcher, pub, al, cams, engine, 20)
	// Drive the history ring to confirmation: 5 consistent high-score hits.
	for i := 0; i < 5; i++ {
		r.processMessage(context.Background(), mustMsg(t, evt))
	}
	_ = acked
	if len(pub.published) == 0 {
		t.Fatal("expected at least one identities publish once the history ring confirms a match")
	}
	for _, topic := range pub.published {
		if topic != "identities" {
			t.Fatalf("expected identities topic, got %s", topic)
		}
	}
	if len(al.emitted) == 0 {
		t.Fatal("a billing camera with no confirmed match yet should raise UNKNOWN_AT_BILLING at least once during ramp-up")
	}
}

func mustMsg(t *testing.T, evt events.DetectionEvent) *Message {
	m, _ := makeMessage(t, evt)
	return m
}

func TestResolver_ANNOutageEscalatesAfterMaxFailures(t *testing.T) {
	evt := events.DetectionEvent{
		CameraID:    "cam_01",
		EffectiveTS: 1,
		Detections:  []events.Detection{{Embedding: make([]float32, 512)}},
	}
	pub := &fakePublisher{}
	al := &fakeAlerts{}
	cams := &fakeCameras{byID: map[string]camera.Camera{}}
	search := &fakeSearch{err: errors.New("ann backend down")}
	engine := newTestEngine(search)

	r := New(&fakeFetcher{}, pub, al, cams, engine, 3)
	for i := 0; i < 3; i++ {
		r.processMessage(context.Background(), mustMsg(t, evt))
	}

	found := false
	for _, a := range al.emitted {
		if a.Kind == events.AlertSimilarityBackendDegraded {
			found = true
		}
	}
	if !found {
		t.Fatal("expected SIMILARITY_BACKEND_DEGRADED alert after annMaxFailures consecutive ANN failures")
	}
}

func TestResolver_IdentityPublishFailureLeavesMessageUnacked(t *testing.T) {
	evt := events.DetectionEvent{
		CameraID:    "cam_01",
		EffectiveTS: 1,
		Detections:  []events.Detection{{Embedding: make([]float32, 512)}},
	}
	msg, acked := makeMessage(t, evt)
	pub := &fakePublisher{failTopic: "identities"}
	al := &fakeAlerts{}
	cams := &fakeCameras{byID: map[string]camera.Camera{}}
	engine := newTestEngine(&fakeSearch{})

	r := New(&fakeFetcher{}, pub, al, cams, engine, 20)
	r.processMessage(context.Background(), msg)

	if *acked {
		t.Fatal("a failed identity publish must not ack the source message")
	}
}
