package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence operations.
type Repository interface {
	Create(ctx context.Context, d *Device) error
	GetByID(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	ListByRoom(ctx context.Context, roomID string) ([]Device, error)
	Update(ctx context.Context, d *Device) error
	SetRetired(ctx context.Context, id string, retired bool) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GenerateID creates a new device identifier.
func GenerateID() string {
	return "dev-" + uuid.NewString()[:8]
}

// Create inserts a new device. ID and timestamps are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = GenerateID()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	const query = `
		INSERT INTO devices (id, name, room_id, type, capabilities, retired, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.Name, d.RoomID, string(d.Type), string(caps), boolToInt(d.Retired),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", d.ID, err)
	}
	return nil
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	const query = `
		SELECT id, name, room_id, type, capabilities, retired, created_at, updated_at
		FROM devices WHERE id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device %s: %w", id, err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	const query = `
		SELECT id, name, room_id, type, capabilities, retired, created_at, updated_at
		FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByRoom retrieves all devices assigned to a room, ordered by name.
func (r *SQLiteRepository) ListByRoom(ctx context.Context, roomID string) ([]Device, error) {
	const query = `
		SELECT id, name, room_id, type, capabilities, retired, created_at, updated_at
		FROM devices WHERE room_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, roomID)
}

// Update persists changes to an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()

	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	const query = `
		UPDATE devices SET name = ?, room_id = ?, type = ?, capabilities = ?, retired = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		d.Name, d.RoomID, string(d.Type), string(caps), boolToInt(d.Retired),
		d.UpdatedAt.Format(time.RFC3339), d.ID)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", d.ID, err)
	}
	return checkAffected(res, d.ID)
}

// SetRetired flips the retired flag. Retired devices keep their history but
// are excluded from dispatch.
func (r *SQLiteRepository) SetRetired(ctx context.Context, id string, retired bool) error {
	const query = `UPDATE devices SET retired = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		boolToInt(retired), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("retiring device %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// Delete removes a device permanently. Prefer SetRetired for devices with
// execution history.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var roomID sql.NullString
	var caps string
	var retired int
	var createdAt, updatedAt string

	if err := s.Scan(&d.ID, &d.Name, &roomID, (*string)(&d.Type), &caps, &retired, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if roomID.Valid {
		d.RoomID = &roomID.String
	}
	if caps != "" {
		if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshaling capabilities: %w", err)
		}
	}
	d.Retired = retired != 0
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}

func checkAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking result for device %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
