// Package camera holds the Camera data model and its
// Postgres-backed registry, mirrored from the YAML source of truth
// (internal/config) on every Load so operational tooling can query it
// alongside the rest of TRINETRA's state.
package camera

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/retailvision/trinetra/internal/config"
)

var ErrNotFound = errors.New("camera: not found")

// Camera is a read-only value; Registry.Load replaces the whole set. The
// services load it at startup, and the ingestor also reloads it when
// cameras.yaml changes, without restarting its running camera pipelines.
type Camera struct {
	CameraID     string
	RTSPURL      string
	CameraType   config.CameraType
	TargetFPS    float64
	PriorityTier int
}

// DBTX is satisfied by *sql.DB and *sql.Tx, matching the teacher's
// repository-layer convention.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Registry mirrors the static camera list into Postgres and serves
// in-process lookups without a DB round trip on the hot path.
type Registry struct {
	db      DBTX
	encrypt func(cameraID, plain string) (string, error)
	decrypt func(cameraID, cipher string) (string, error)

	byID map[string]Camera
}

// NewRegistry builds an empty registry; Load fills it from a parsed
// cameras file. The
// encrypt/decrypt funcs wrap internal/crypto so RTSP URLs (which embed
// camera credentials) are never stored in plaintext; both take the
// camera_id so the sealed value is bound to the row it belongs to.
func NewRegistry(db DBTX, encrypt, decrypt func(cameraID, value string) (string, error)) *Registry {
	return &Registry{db: db, encrypt: encrypt, decrypt: decrypt, byID: make(map[string]Camera)}
}

// Load replaces the in-memory camera set and mirrors it into Postgres.
func (r *Registry) Load(ctx context.Context, cams []config.CameraConfig) error {
	next := make(map[string]Camera, len(cams))
	for _, c := range cams {
		next[c.CameraID] = Camera{
			CameraID:     c.CameraID,
			RTSPURL:      c.RTSPURL,
			CameraType:   c.CameraType,
			TargetFPS:    c.TargetFPS,
			PriorityTier: c.PriorityTier,
		}
	}
	r.byID = next

	if r.db == nil {
		return nil
	}
	for _, c := range next {
		if err := r.upsert(ctx, c); err != nil {
			return fmt.Errorf("camera registry: mirror %s: %w", c.CameraID, err)
		}
	}
	return nil
}

func (r *Registry) upsert(ctx context.Context, c Camera) error {
	encURL := c.RTSPURL
	if r.encrypt != nil {
		enc, err := r.encrypt(c.CameraID, c.RTSPURL)
		if err != nil {
			return err
		}
		encURL = enc
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cameras (camera_id, rtsp_url_enc, camera_type, target_fps, priority_tier, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (camera_id) DO UPDATE SET
			rtsp_url_enc = EXCLUDED.rtsp_url_enc,
			camera_type = EXCLUDED.camera_type,
			target_fps = EXCLUDED.target_fps,
			priority_tier = EXCLUDED.priority_tier,
			updated_at = NOW()
	`, c.CameraID, encURL, string(c.CameraType), c.TargetFPS, c.PriorityTier)
	return err
}

// Get returns a camera by ID from the in-memory set.
func (r *Registry) Get(cameraID string) (Camera, bool) {
	c, ok := r.byID[cameraID]
	return c, ok
}

// All returns every configured camera.
func (r *Registry) All() []Camera {
	out := make([]Camera, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// IDs returns every configured camera ID, the set the Ingestor/Worker
// iterate to build their FrameBus stream lists.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// ByType filters to a single camera_type, used by the priority-exemption
// rule (billing/entrance cameras bypass sampler drops).
func (r *Registry) ByType(t config.CameraType) []Camera {
	var out []Camera
	for _, c := range r.byID {
		if c.CameraType == t {
			out = append(out, c)
		}
	}
	return out
}

// LastMirroredAt reports when the registry's Postgres mirror was last
// written, read back for the reload-staleness debug endpoint.
func (r *Registry) LastMirroredAt(ctx context.Context) (time.Time, error) {
	if r.db == nil {
		return time.Time{}, ErrNotFound
	}
	var t time.Time
	err := r.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM cameras`).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
