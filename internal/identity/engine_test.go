package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/events"
	"github.com/retailvision/trinetra/internal/gallery"
	"github.com/retailvision/trinetra/internal/identity"
)

type fakeSearch struct {
	results []gallery.Candidate
	err     error
}

func (f *fakeSearch) TopK(ctx context.Context, embedding []float32, k, ef int) ([]gallery.Candidate, error) {
	return f.results, f.err
}

type fakeUpdater struct{ calls int }

func (f *fakeUpdater) UpdateEmbeddingEMA(ctx context.Context, customerID string, current []float32, alpha float64) error {
	f.calls++
	return nil
}

func travelMatrix(t *testing.T) *config.TravelTimeMatrix {
	t.Helper()
	return config.NewTravelTimeMatrixForTest(map[string]map[string]float64{
		"billing":  {"entrance": 25},
		"entrance": {"billing": 25},
	})
}

// TestCleanMatchAfterFiveConsistentDetections verifies the first four
// identical detections stay UNKNOWN/insufficient_history, and the fifth
// resolves matched with high confidence.
func TestCleanMatchAfterFiveConsistentDetections(t *testing.T) {
	search := &fakeSearch{results: []gallery.Candidate{{CustomerID: "cust_A", Score: 0.99}}}
	eng := identity.NewEngine(search, &fakeUpdater{}, nil, 0.72, 0.74, 3600)

	emb := make([]float32, 512)
	emb[0] = 1

	for i := 0; i < 4; i++ {
		res, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 1, 1000.0+float64(i)*0.1, emb)
		require.NoError(t, err)
		require.Equal(t, events.SourceInsufficientHistory, res.Identity.Source)
		require.Equal(t, events.UnknownCustomerID, res.Identity.CustomerID)
	}

	res, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 1, 1000.4, emb)
	require.NoError(t, err)
	require.Equal(t, events.SourceMatched, res.Identity.Source)
	require.Equal(t, "cust_A", res.Identity.CustomerID)
	require.GreaterOrEqual(t, res.Identity.Confidence, 0.99)
}

// TestGateRejectsImplausibleCrossCameraTransition verifies a candidate
// seen at billing moments ago can't also resolve at an unreachable
// camera within the configured travel time.
func TestGateRejectsImplausibleCrossCameraTransition(t *testing.T) {
	search := &fakeSearch{results: []gallery.Candidate{{CustomerID: "cust_B", Score: 0.95}}}
	eng := identity.NewEngine(search, &fakeUpdater{}, travelMatrix(t), 0.72, 0.74, 3600)

	emb := make([]float32, 512)
	emb[0] = 1

	// Seed the registry: cust_B last seen at billing at t=1500.
	for i := 0; i < 5; i++ {
		_, err := eng.ResolveDetection(context.Background(), "billing", config.CameraBilling, 99, 1500.0+float64(i)*0.01, emb)
		require.NoError(t, err)
	}

	res, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 2, 1510.0, emb)
	require.NoError(t, err)
	require.Equal(t, events.SourceGatedUnknown, res.Identity.Source)
	require.True(t, res.GateRejected)
	require.Equal(t, "impossible_transition", res.GateReason)
}

// TestANNUnavailableYieldsUnmatchedEventWithoutError verifies a
// similarity-search failure degrades to an unmatched identity event
// rather than propagating an error up to the caller.
func TestANNUnavailableYieldsUnmatchedEventWithoutError(t *testing.T) {
	search := &fakeSearch{err: context.DeadlineExceeded}
	eng := identity.NewEngine(search, &fakeUpdater{}, nil, 0.72, 0.74, 3600)

	res, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 1, 1000.0, make([]float32, 512))
	require.NoError(t, err)
	require.True(t, res.ANNUnavailable)
	require.Equal(t, events.SourceANNUnavailable, res.Identity.Source)
}

// TestFalseMergeSweepFlagsGateRejectedHighCosineCandidate verifies a
// gate-rejected but high-cosine candidate on a second track/camera still
// trips the periodic false-merge sweep.
func TestFalseMergeSweepFlagsGateRejectedHighCosineCandidate(t *testing.T) {
	search := &fakeSearch{results: []gallery.Candidate{{CustomerID: "cust_Z", Score: 0.90}}}
	eng := identity.NewEngine(search, &fakeUpdater{}, travelMatrix(t), 0.72, 0.74, 3600)
	emb := make([]float32, 512)
	emb[0] = 1

	for i := 0; i < 5; i++ {
		_, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 10, 2000.0+float64(i)*0.01, emb)
		require.NoError(t, err)
	}

	res, err := eng.ResolveDetection(context.Background(), "billing", config.CameraBilling, 11, 2001.0, emb)
	require.NoError(t, err)
	require.Equal(t, events.SourceGatedUnknown, res.Identity.Source)

	alerts := eng.CheckFalseMerges()
	require.NotEmpty(t, alerts)
	require.Equal(t, events.AlertFalseMergeSuspect, alerts[0].Kind)
}

func TestUnknownAtBillingAlert(t *testing.T) {
	search := &fakeSearch{results: nil}
	eng := identity.NewEngine(search, &fakeUpdater{}, nil, 0.72, 0.74, 3600)

	res, err := eng.ResolveDetection(context.Background(), "billing", config.CameraBilling, 1, 1000.0, make([]float32, 512))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	require.Equal(t, events.AlertUnknownAtBilling, res.Alerts[0].Kind)
}

func TestSweep_EvictsExpiredRegistryEntries(t *testing.T) {
	search := &fakeSearch{results: []gallery.Candidate{{CustomerID: "cust_A", Score: 0.99}}}
	eng := identity.NewEngine(search, &fakeUpdater{}, nil, 0.72, 0.74, 3600)
	emb := make([]float32, 512)
	emb[0] = 1

	for i := 0; i < 5; i++ {
		_, err := eng.ResolveDetection(context.Background(), "entrance", config.CameraEntrance, 1, 1000.0+float64(i)*0.1, emb)
		require.NoError(t, err)
	}
	require.Equal(t, 1, eng.RegistrySize())

	evicted := eng.Sweep(1000.4 + 3601)
	require.Equal(t, 1, evicted)
	require.Equal(t, 0, eng.RegistrySize())
}
