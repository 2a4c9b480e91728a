package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Event represents one session lifecycle or alert entry in the event log.
type Event struct {
	ID           int64
	CamID        string
	Status       string
	Message      string
	EvidencePath string
	CreatedAt    time.Time
}

// EventRepository provides append and query operations for the event log.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Append inserts a new event into the log.
func (r *EventRepository) Append(e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := r.db.Exec(
		`INSERT INTO events (cam_id, status, message, evidence_path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.CamID, e.Status, e.Message, e.EvidencePath, e.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id

	return nil
}

// ListRecent returns the newest events, most recent first, capped at limit.
func (r *EventRepository) ListRecent(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT id, cam_id, status, message, evidence_path, created_at
		 FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByCamera returns the newest events for one camera, most recent first.
func (r *EventRepository) ListByCamera(camID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT id, cam_id, status, message, evidence_path, created_at
		 FROM events WHERE cam_id = ? ORDER BY id DESC LIMIT ?`,
		camID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.CamID, &e.Status, &e.Message, &e.EvidencePath, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
