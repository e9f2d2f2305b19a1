package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for device state snapshots.
type Repository interface {
	Insert(ctx context.Context, s *DeviceState) error
	Latest(ctx context.Context, deviceID string) (*DeviceState, error)
	LatestAll(ctx context.Context) ([]DeviceState, error)
	History(ctx context.Context, deviceID string, limit int) ([]DeviceState, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed state repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert appends a state snapshot. The ID is generated if empty.
// Ordering enforcement lives in the Store; the repository is append-only.
func (r *SQLiteRepository) Insert(ctx context.Context, s *DeviceState) error {
	if s.ID == "" {
		s.ID = "sta-" + uuid.NewString()[:8]
	}

	attrs, err := json.Marshal(s.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}

	const query = `
		INSERT INTO device_states (id, device_id, attributes, observed_at)
		VALUES (?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.DeviceID, string(attrs), s.ObservedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting state for %s: %w", s.DeviceID, err)
	}
	return nil
}

// Latest returns the most recent state snapshot for a device.
func (r *SQLiteRepository) Latest(ctx context.Context, deviceID string) (*DeviceState, error) {
	const query = `
		SELECT id, device_id, attributes, observed_at
		FROM device_states WHERE device_id = ?
		ORDER BY observed_at DESC LIMIT 1`

	s, err := scanState(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("querying latest state for %s: %w", deviceID, err)
	}
	return s, nil
}

// LatestAll returns the most recent state snapshot per device.
// Used to warm the in-memory current-state index on startup.
func (r *SQLiteRepository) LatestAll(ctx context.Context) ([]DeviceState, error) {
	const query = `
		SELECT s.id, s.device_id, s.attributes, s.observed_at
		FROM device_states s
		JOIN (
			SELECT device_id, MAX(observed_at) AS max_observed
			FROM device_states GROUP BY device_id
		) m ON s.device_id = m.device_id AND s.observed_at = m.max_observed`

	return r.queryStates(ctx, query)
}

// History returns up to limit snapshots for a device, newest first.
// A limit of zero or below returns the full history.
func (r *SQLiteRepository) History(ctx context.Context, deviceID string, limit int) ([]DeviceState, error) {
	query := `
		SELECT id, device_id, attributes, observed_at
		FROM device_states WHERE device_id = ?
		ORDER BY observed_at DESC`
	args := []any{deviceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryStates(ctx, query, args...)
}

func (r *SQLiteRepository) queryStates(ctx context.Context, query string, args ...any) ([]DeviceState, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	var states []DeviceState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		states = append(states, *s)
	}
	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(sc scanner) (*DeviceState, error) {
	var s DeviceState
	var attrs, observedAt string

	if err := sc.Scan(&s.ID, &s.DeviceID, &attrs, &observedAt); err != nil {
		return nil, err
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
	}
	s.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedAt)
	return &s, nil
}
