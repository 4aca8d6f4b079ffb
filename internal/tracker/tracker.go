// Package tracker assigns stable track_ids to detections within one
// camera's frame sequence via greedy IOU matching across consecutive
// frames, and checkpoints/restores that state so a Worker restart
// doesn't reset every active track to a fresh identity mid-stream.
package tracker

import (
	"encoding/json"

	"github.com/retailvision/trinetra/internal/operator"
)

// DefaultMaxMissedFrames is how many consecutive frames a track can go
// unmatched before it's dropped, same shape as the teacher's bounded
// history pruning (internal/health/history.go) applied to tracks instead
// of health records.
const DefaultMaxMissedFrames = 10

// MinIOUForMatch is the minimum box overlap to consider a detection a
// continuation of an existing track rather than a new one.
const MinIOUForMatch = 0.3

// TrackedDetection pairs a raw detector output with the track_id the
// tracker assigned it.
type TrackedDetection struct {
	operator.Detection
	TrackID int64
}

type track struct {
	ID     int64
	BBox   operator.BBox
	Missed int
}

// CameraTracker holds the live track set for one camera. Not
// concurrency-safe on its own — callers (internal/worker) serialize
// access by construction (one consume loop per worker process).
type CameraTracker struct {
	nextID    int64
	tracks    []track
	maxMissed int
}

func NewCameraTracker() *CameraTracker {
	return &CameraTracker{maxMissed: DefaultMaxMissedFrames}
}

// Update matches this frame's detections against the live track set by
// greedy highest-IOU-first assignment, advances unmatched tracks'
// missed-frame counters, prunes tracks that exceeded maxMissed, and
// allocates new IDs for detections nobody claimed.
func (c *CameraTracker) Update(detections []operator.Detection) []TrackedDetection {
	matchedTrack := make([]bool, len(c.tracks))
	matchedDet := make([]bool, len(detections))
	out := make([]TrackedDetection, len(detections))

	type pair struct {
		ti, di int
		iou    float64
	}
	var pairs []pair
	for ti, t := range c.tracks {
		for di, d := range detections {
			if iou := boxIOU(t.BBox, d.BBox); iou >= MinIOUForMatch {
				pairs = append(pairs, pair{ti, di, iou})
			}
		}
	}
	// Greedy: repeatedly take the best remaining pair until none left.
	for {
		best := -1
		for i, p := range pairs {
			if matchedTrack[p.ti] || matchedDet[p.di] {
				continue
			}
			if best == -1 || p.iou > pairs[best].iou {
				best = i
			}
		}
		if best == -1 {
			break
		}
		p := pairs[best]
		matchedTrack[p.ti] = true
		matchedDet[p.di] = true
		c.tracks[p.ti].BBox = detections[p.di].BBox
		c.tracks[p.ti].Missed = 0
		out[p.di] = TrackedDetection{Detection: detections[p.di], TrackID: c.tracks[p.ti].ID}
	}

	// Unmatched detections get new tracks.
	for di, d := range detections {
		if matchedDet[di] {
			continue
		}
		c.nextID++
		id := c.nextID
		c.tracks = append(c.tracks, track{ID: id, BBox: d.BBox})
		out[di] = TrackedDetection{Detection: d, TrackID: id}
	}

	// Unmatched tracks age; drop the stale ones.
	live := c.tracks[:0]
	for ti, t := range c.tracks {
		if ti < len(matchedTrack) && !matchedTrack[ti] {
			t.Missed++
		}
		if t.Missed <= c.maxMissed {
			live = append(live, t)
		}
	}
	c.tracks = live

	return out
}

func boxIOU(a, b operator.BBox) float64 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// checkpoint is the JSON-serializable snapshot persisted via
// internal/framebus's tracker:{camera_id} key.
type checkpoint struct {
	NextID int64   `json:"next_id"`
	Tracks []track `json:"tracks"`
}

// Serialize snapshots tracker state for crash/restart recovery.
func (c *CameraTracker) Serialize() ([]byte, error) {
	return json.Marshal(checkpoint{NextID: c.nextID, Tracks: c.tracks})
}

// Restore replaces this tracker's state with a previously serialized
// snapshot.
func (c *CameraTracker) Restore(data []byte) error {
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	c.nextID = cp.NextID
	c.tracks = cp.Tracks
	if c.maxMissed == 0 {
		c.maxMissed = DefaultMaxMissedFrames
	}
	return nil
}
