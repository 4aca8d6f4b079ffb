package tracker

import (
	"context"
	"sync"

	"github.com/retailvision/trinetra/internal/framebus"
	"github.com/retailvision/trinetra/internal/operator"
)

// checkpointStore is the subset of framebus.Bus the Manager needs,
// narrowed to an interface so tests can swap in a fake without standing
// up miniredis.
type checkpointStore interface {
	CheckpointTracker(ctx context.Context, cameraID string, state []byte) error
	RestoreTracker(ctx context.Context, cameraID string) ([]byte, bool, error)
}

var _ checkpointStore = (*framebus.Bus)(nil)

// Manager owns one CameraTracker per camera_id, loaded lazily and
// checkpointed to the FrameBus's tracker state key on request (the
// Worker calls Checkpoint on a periodic tick, per Design Note §9).
type Manager struct {
	mu    sync.Mutex
	store checkpointStore
	byCam map[string]*CameraTracker
}

func NewManager(store checkpointStore) *Manager {
	return &Manager{store: store, byCam: make(map[string]*CameraTracker)}
}

// Update runs one frame's detections through the named camera's
// tracker, restoring from the checkpoint store on first touch if a
// snapshot exists (Worker restart recovery).
func (m *Manager) Update(ctx context.Context, cameraID string, detections []operator.Detection) ([]TrackedDetection, error) {
	t, err := m.get(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return t.Update(detections), nil
}

func (m *Manager) get(ctx context.Context, cameraID string) (*CameraTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.byCam[cameraID]; ok {
		return t, nil
	}

	t := NewCameraTracker()
	if state, ok, err := m.store.RestoreTracker(ctx, cameraID); err != nil {
		return nil, err
	} else if ok {
		if err := t.Restore(state); err != nil {
			return nil, err
		}
	}
	m.byCam[cameraID] = t
	return t, nil
}

// Checkpoint persists the current state of every camera this manager
// has touched. Call periodically, not per-frame — the state blob is
// small but this still means a roundtrip per camera.
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	snapshot := make(map[string]*CameraTracker, len(m.byCam))
	for id, t := range m.byCam {
		snapshot[id] = t
	}
	m.mu.Unlock()

	for cameraID, t := range snapshot {
		data, err := t.Serialize()
		if err != nil {
			return err
		}
		if err := m.store.CheckpointTracker(ctx, cameraID, data); err != nil {
			return err
		}
	}
	return nil
}
