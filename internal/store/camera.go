package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrDuplicate is returned when inserting a camera whose id already exists.
var ErrDuplicate = errors.New("already exists")

// Camera represents a registered camera descriptor stored in the database.
type Camera struct {
	ID        string
	URL       string
	Label     string
	CreatedAt time.Time
}

// CameraRepository provides CRUD operations for cameras.
type CameraRepository struct {
	db *sql.DB
}

// Cameras returns the camera repository for this store.
func (s *Store) Cameras() *CameraRepository {
	return &CameraRepository{db: s.db}
}

// Create inserts a new camera into the database.
func (r *CameraRepository) Create(c *Camera) error {
	c.CreatedAt = time.Now()

	var exists int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM cameras WHERE id = ?`, c.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrDuplicate
	}

	_, err = r.db.Exec(
		`INSERT INTO cameras (id, url, label, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.URL, c.Label, c.CreatedAt,
	)
	return err
}

// GetByID retrieves a camera by its ID.
func (r *CameraRepository) GetByID(id string) (*Camera, error) {
	c := &Camera{}

	err := r.db.QueryRow(
		`SELECT id, url, label, created_at FROM cameras WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.URL, &c.Label, &c.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return c, nil
}

// List returns all cameras ordered by registration time.
func (r *CameraRepository) List() ([]*Camera, error) {
	rows, err := r.db.Query(`SELECT id, url, label, created_at FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cameras []*Camera
	for rows.Next() {
		c := &Camera{}
		if err := rows.Scan(&c.ID, &c.URL, &c.Label, &c.CreatedAt); err != nil {
			return nil, err
		}
		cameras = append(cameras, c)
	}
	return cameras, rows.Err()
}

// Delete removes a camera by its ID.
func (r *CameraRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
