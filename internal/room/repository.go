// Package room provides persistence for rooms, the physical spaces
// devices are assigned to.
package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 100

// Repository defines the interface for room persistence operations.
type Repository interface {
	Create(ctx context.Context, room *Room) error
	Get(ctx context.Context, id string) (*Room, error)
	List(ctx context.Context) ([]Room, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed room repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new room. The ID and timestamps are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, room *Room) error {
	if err := validateName(room.Name); err != nil {
		return err
	}
	if room.ID == "" {
		room.ID = "rom-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now

	const query = `INSERT INTO rooms (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		room.ID, room.Name,
		room.CreatedAt.Format(time.RFC3339), room.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting room %s: %w", room.ID, err)
	}
	return nil
}

// Get retrieves a room by its unique identifier.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Room, error) {
	const query = `SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?`

	var room Room
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &room.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying room %s: %w", id, err)
	}
	room.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	room.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &room, nil
}

// List retrieves all rooms ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Room, error) {
	const query = `SELECT id, name, created_at, updated_at FROM rooms ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		var createdAt, updatedAt string
		if err := rows.Scan(&room.ID, &room.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		room.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		room.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Rename updates a room's name. Identity is immutable; only the name changes.
func (r *SQLiteRepository) Rename(ctx context.Context, id, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	const query = `UPDATE rooms SET name = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("renaming room %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rename result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a room. Devices assigned to it keep running with a null room.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM rooms WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting room %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}
