// Package framebus implements the per-camera bounded ordered frame
// stream, backed by Redis Streams. Each camera gets its own stream key;
// entries are tail-dropped at MAXLEN and delivered to consumer groups
// with the usual XREADGROUP/XACK/XCLAIM dance.
package framebus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable is returned from Publish when the backing Redis
	// instance cannot be reached — a transient I/O failure, not fatal.
	ErrUnavailable = errors.New("framebus: backing store unreachable")
)

// Entry is one Frame placed on a camera's stream, bus-assigned an entry
// ID monotonic within that stream.
type Entry struct {
	EntryID   string
	CameraID  string
	FrameData []byte
	Metadata  map[string]string
}

// Bus wraps a redis client with the FrameBus operation contract:
// publish, consume, ack, and reclaim over per-camera streams.
type Bus struct {
	client *redis.Client
	maxLen int64

	// dropped is a per-camera map that Bus itself never updates; frame
	// drops are counted by the ingest pipeline via metrics.RecordFrameDropped.
	dropped map[string]int64
}

// New connects to the Redis instance at addr (the value of FRAME_BUS_URL;
// a leading "redis://" scheme is stripped) and enforces the given
// per-stream MAXLEN.
func New(addr string, maxLen int) *Bus {
	return &Bus{
		client:  redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(addr, "redis://")}),
		maxLen:  int64(maxLen),
		dropped: make(map[string]int64),
	}
}

func streamKey(cameraID string) string {
	return "frames:" + cameraID
}

// Publish appends a frame to the camera's stream, approximately trimming
// to MAXLEN (tail-drop from the head). It never blocks for capacity.
func (b *Bus) Publish(ctx context.Context, cameraID string, frame []byte, meta map[string]string) (string, error) {
	values := map[string]interface{}{"frame": frame}
	for k, v := range meta {
		values[k] = v
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(cameraID),
		MaxLen: b.maxLen,
		Approx: true, // "~" trim: approximate, O(1) amortized rather than exact
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Length returns the current approximate length of a camera's stream.
func (b *Bus) Length(ctx context.Context, cameraID string) (int64, error) {
	n, err := b.client.XLen(ctx, streamKey(cameraID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// FillRatio returns Length / MAXLEN, the signal the ingestor's adaptive
// sampler uses to decide whether to start dropping frames.
func (b *Bus) FillRatio(ctx context.Context, cameraID string) (float64, error) {
	n, err := b.Length(ctx, cameraID)
	if err != nil {
		return 0, err
	}
	if b.maxLen == 0 {
		return 0, nil
	}
	return float64(n) / float64(b.maxLen), nil
}

// EnsureGroup creates the consumer group for a stream if it doesn't
// already exist, starting from the beginning of the stream ("0") so a
// freshly-started worker can still claim any backlog.
func (b *Bus) EnsureGroup(ctx context.Context, cameraID, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, streamKey(cameraID), group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	// Redis returns "BUSYGROUP Consumer Group name already exists" — not a
	// real failure, just idempotent re-creation.
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Consume reads new entries from the given camera streams for this
// consumer group/name, blocking up to blockMS awaiting at least one
// entry. count is passed as XREADGROUP COUNT, which Redis applies to each
// stream separately, so one call can return up to count entries per
// camera stream rather than count in total.
func (b *Bus) Consume(ctx context.Context, group, consumer string, cameraIDs []string, count int, blockMS int) ([]Entry, error) {
	streams := make([]string, 0, len(cameraIDs)*2)
	for _, c := range cameraIDs {
		streams = append(streams, streamKey(c))
	}
	for range cameraIDs {
		streams = append(streams, ">") // new, undelivered entries only
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    int64(count),
		Block:    time.Duration(blockMS) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // no entries within block window — not an error
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out []Entry
	for _, stream := range res {
		cameraID := cameraIDFromKey(stream.Stream)
		for _, msg := range stream.Messages {
			e := Entry{EntryID: msg.ID, CameraID: cameraID, Metadata: map[string]string{}}
			for k, v := range msg.Values {
				if k == "frame" {
					if s, ok := v.(string); ok {
						e.FrameData = []byte(s)
					}
					continue
				}
				if s, ok := v.(string); ok {
					e.Metadata[k] = s
				}
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func cameraIDFromKey(key string) string {
	const prefix = "frames:"
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return key
}

// Ack marks entries processed for a consumer group. Unacked entries
// remain claimable via Reclaim.
func (b *Bus) Ack(ctx context.Context, cameraID, group string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, streamKey(cameraID), group, entryIDs...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Reclaim reassigns entries whose owner has been idle >= idleMS to the
// calling consumer — the crash-recovery primitive, built on XPENDING +
// XCLAIM.
func (b *Bus) Reclaim(ctx context.Context, cameraID, group, consumer string, idleMS int64) ([]Entry, error) {
	key := streamKey(cameraID)

	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: key,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Idle >= time.Duration(idleMS)*time.Millisecond {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  time.Duration(idleMS) * time.Millisecond,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		e := Entry{EntryID: msg.ID, CameraID: cameraID, Metadata: map[string]string{}}
		for k, v := range msg.Values {
			if k == "frame" {
				if s, ok := v.(string); ok {
					e.FrameData = []byte(s)
				}
				continue
			}
			if s, ok := v.(string); ok {
				e.Metadata[k] = s
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// CheckpointTracker persists opaque per-camera tracker state into a
// dedicated key (tracker:{camera_id}), reusing the FrameBus's own
// backing store rather than standing up a separate store for this one
// small blob.
func (b *Bus) CheckpointTracker(ctx context.Context, cameraID string, state []byte) error {
	return b.client.Set(ctx, "tracker:"+cameraID, state, 0).Err()
}

// RestoreTracker loads a previously checkpointed tracker blob, if any.
func (b *Bus) RestoreTracker(ctx context.Context, cameraID string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, "tracker:"+cameraID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error { return b.client.Close() }

// Client exposes the raw redis client for callers (e.g. ratelimit) that
// share the connection rather than opening a second one.
func (b *Bus) Client() *redis.Client { return b.client }

func formatID(entryID string) int64 {
	// XADD IDs are "<ms>-<seq>"; callers that need the millisecond part
	// (e.g. for latency histograms) can use this. Parse errors return 0
	// rather than failing — it's a best-effort latency signal.
	for i := 0; i < len(entryID); i++ {
		if entryID[i] == '-' {
			ms, err := strconv.ParseInt(entryID[:i], 10, 64)
			if err != nil {
				return 0
			}
			return ms
		}
	}
	return 0
}
