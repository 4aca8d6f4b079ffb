// Package alerts persists AlertEvents to Postgres and republishes them on
// the EventLog's alerts topic, with disk-spool failover when the database
// is unavailable.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/retailvision/trinetra/internal/events"
)

// Store writes AlertEvents to the alerts table and republishes them to
// the EventLog. A failed DB write falls back to the disk spool (replayed
// into the table by ReplaySpool); a failed publish is logged and is not
// spooled.
type Store struct {
	db        *sql.DB
	publisher Publisher
	spoolDir  string
}

// Publisher is the subset of eventlog.Log the alert store needs, split
// out so tests can substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error
}

func New(db *sql.DB, publisher Publisher, spoolDir string) (*Store, error) {
	if spoolDir != "" {
		if err := ensureSpoolDir(spoolDir); err != nil {
			return nil, err
		}
	}
	return &Store{db: db, publisher: publisher, spoolDir: spoolDir}, nil
}

// record is the row shape persisted to the alerts table.
type record struct {
	ID         uuid.UUID
	Kind       string
	Severity   string
	CameraID   string
	CustomerID *string
	Details    json.RawMessage
	CreatedAt  time.Time
}

// Emit persists and publishes one AlertEvent, keyed by kind on the alerts
// topic. It never returns an error to the caller for a DB or publish
// failure — the spool absorbs DB failures, publish failures are logged —
// but does return an error if even spooling fails, leaving the caller
// to decide whether that's fatal.
func (s *Store) Emit(ctx context.Context, evt events.AlertEvent) error {
	r := record{
		ID:         uuid.New(),
		Kind:       evt.Kind,
		Severity:   evt.Severity,
		CameraID:   evt.CameraID,
		CustomerID: evt.CustomerID,
		CreatedAt:  time.Now(),
	}
	if evt.Details != nil {
		details, err := json.Marshal(evt.Details)
		if err != nil {
			return fmt.Errorf("alerts: marshal details: %w", err)
		}
		r.Details = details
	}

	if err := s.insert(ctx, r); err != nil {
		log.Printf("alerts: db write failed, spooling %s: %v", r.ID, err)
		if spoolErr := s.spool(r); spoolErr != nil {
			return fmt.Errorf("alerts: critical failure, spool also failed: %w", spoolErr)
		}
	}

	if s.publisher != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			key := evt.Kind
			if pubErr := s.publisher.Publish(ctx, "alerts", key, payload, 3); pubErr != nil {
				log.Printf("alerts: publish failed for %s: %v", r.ID, pubErr)
			}
		}
	}

	return nil
}

func (s *Store) insert(ctx context.Context, r record) error {
	query := `
		INSERT INTO alerts (id, kind, severity, camera_id, customer_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.Kind, r.Severity, r.CameraID, r.CustomerID, r.Details, r.CreatedAt)
	return err
}

// RecentByCustomer returns the most recent alerts for a customer_id,
// newest first, for operator review tooling.
func (s *Store) RecentByCustomer(ctx context.Context, customerID string, limit int) ([]events.AlertEvent, error) {
	query := `
		SELECT kind, severity, camera_id, customer_id, details
		FROM alerts
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.AlertEvent
	for rows.Next() {
		var e events.AlertEvent
		var details []byte
		var custID sql.NullString
		if err := rows.Scan(&e.Kind, &e.Severity, &e.CameraID, &custID, &details); err != nil {
			return nil, err
		}
		if custID.Valid {
			v := custID.String
			e.CustomerID = &v
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
