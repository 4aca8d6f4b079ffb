package tracker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailvision/trinetra/internal/operator"
	"github.com/retailvision/trinetra/internal/tracker"
)

func box(x1, y1, x2, y2 float64) operator.BBox {
	return operator.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestUpdate_StableTrackIDAcrossFrames(t *testing.T) {
	ct := tracker.NewCameraTracker()

	frame1 := ct.Update([]operator.Detection{{BBox: box(0.1, 0.1, 0.3, 0.3), Label: "person", Confidence: 0.9}})
	require.Len(t, frame1, 1)
	id := frame1[0].TrackID

	// Nearly identical box next frame: same track.
	frame2 := ct.Update([]operator.Detection{{BBox: box(0.11, 0.1, 0.31, 0.3), Label: "person", Confidence: 0.9}})
	require.Len(t, frame2, 1)
	require.Equal(t, id, frame2[0].TrackID)
}

func TestUpdate_NewTrackForDisjointBox(t *testing.T) {
	ct := tracker.NewCameraTracker()

	first := ct.Update([]operator.Detection{{BBox: box(0.0, 0.0, 0.2, 0.2)}})
	second := ct.Update([]operator.Detection{{BBox: box(0.8, 0.8, 0.95, 0.95)}})
	require.NotEqual(t, first[0].TrackID, second[0].TrackID)
}

func TestUpdate_TrackDroppedAfterMaxMissed(t *testing.T) {
	ct := tracker.NewCameraTracker()
	ct.Update([]operator.Detection{{BBox: box(0.1, 0.1, 0.3, 0.3)}})

	for i := 0; i < tracker.DefaultMaxMissedFrames+1; i++ {
		ct.Update(nil)
	}

	// A detection at the same old location should now get a fresh track,
	// since the original was pruned.
	out := ct.Update([]operator.Detection{{BBox: box(0.1, 0.1, 0.3, 0.3)}})
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].TrackID)
}

func TestSerializeRestore_RoundTrip(t *testing.T) {
	ct := tracker.NewCameraTracker()
	ct.Update([]operator.Detection{{BBox: box(0.1, 0.1, 0.3, 0.3)}})

	data, err := ct.Serialize()
	require.NoError(t, err)

	restored := tracker.NewCameraTracker()
	require.NoError(t, restored.Restore(data))

	// The restored tracker should still recognize the same box as a
	// continuation, not allocate a new ID.
	out := restored.Update([]operator.Detection{{BBox: box(0.1, 0.1, 0.3, 0.3)}})
	require.Equal(t, int64(1), out[0].TrackID)
}
