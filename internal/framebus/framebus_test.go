package framebus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, maxLen int) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(mr.Addr(), maxLen)
}

func TestPublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t, 100)

	require.NoError(t, b.EnsureGroup(ctx, "cam_01", "workers"))

	_, err := b.Publish(ctx, "cam_01", []byte("jpeg-bytes"), map[string]string{"frame_index": "0"})
	require.NoError(t, err)

	entries, err := b.Consume(ctx, "workers", "worker-1", []string{"cam_01"}, 10, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "cam_01", entries[0].CameraID)
	require.Equal(t, []byte("jpeg-bytes"), entries[0].FrameData)
	require.Equal(t, "0", entries[0].Metadata["frame_index"])

	require.NoError(t, b.Ack(ctx, "cam_01", "workers", []string{entries[0].EntryID}))
}

// TestTailDrop verifies publishing far more frames than MAXLEN bounds
// stream length instead of erroring.
func TestTailDrop(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t, 100)

	for i := 0; i < 200; i++ {
		_, err := b.Publish(ctx, "cam_01", []byte("f"), nil)
		require.NoError(t, err)
	}

	n, err := b.Length(ctx, "cam_01")
	require.NoError(t, err)
	require.LessOrEqual(t, n, int64(110), "length must stay within MAXLEN + slack")
}

// TestReclaim verifies entries acked by a crashed consumer are not
// reclaimed, while unacked entries are.
func TestReclaim(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t, 100)
	require.NoError(t, b.EnsureGroup(ctx, "cam_01", "workers"))

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := b.Publish(ctx, "cam_01", []byte("f"), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := b.Consume(ctx, "workers", "worker-1", []string{"cam_01"}, 10, 50)
	require.NoError(t, err)
	require.Len(t, entries, 10)

	require.NoError(t, b.Ack(ctx, "cam_01", "workers", []string{entries[0].EntryID, entries[1].EntryID, entries[2].EntryID, entries[3].EntryID}))

	reclaimed, err := b.Reclaim(ctx, "cam_01", "workers", "worker-2", 0)
	require.NoError(t, err)
	require.Len(t, reclaimed, 6, "only the unacked 6 entries should be reclaimable")
}

func TestFillRatio(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t, 100)

	for i := 0; i < 80; i++ {
		_, err := b.Publish(ctx, "cam_01", []byte("f"), nil)
		require.NoError(t, err)
	}

	ratio, err := b.FillRatio(ctx, "cam_01")
	require.NoError(t, err)
	require.InDelta(t, 0.8, ratio, 0.05)
}

func TestTrackerCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t, 100)

	require.NoError(t, b.CheckpointTracker(ctx, "cam_01", []byte("kalman-state")))
	state, ok, err := b.RestoreTracker(ctx, "cam_01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("kalman-state"), state)

	_, ok, err = b.RestoreTracker(ctx, "cam_nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}
