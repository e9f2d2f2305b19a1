// Package audit records administrative actions against the configuration:
// who changed what, through which surface. Entries are append-only.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit log.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionEnabled   = "enabled"
	ActionDisabled  = "disabled"
	ActionRetired   = "retired"
	ActionActivated = "activated"
)

// Entry is one audit record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"` // room, device, rule, scene
	EntityID   string         `json:"entity_id,omitempty"`
	Source     string         `json:"source"` // api, system
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Repository defines the interface for audit log persistence.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record appends an audit entry. The ID and timestamp are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
		details = string(raw)
	}

	const query = `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, source, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Action, e.EntityType, nullable(e.EntityID), e.Source, details,
		e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting audit entry %s: %w", e.ID, err)
	}
	return nil
}

// ListRecent retrieves the newest entries, most recent first.
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, action, entity_type, entity_id, source, details, created_at
		FROM audit_logs ORDER BY created_at DESC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByEntity retrieves entries for one entity, most recent first.
func (r *SQLiteRepository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	const query = `
		SELECT id, action, entity_type, entity_id, source, details, created_at
		FROM audit_logs WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log for %s %s: %w", entityType, entityID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			entityID  sql.NullString
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.EntityID = entityID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling audit details for %s: %w", e.ID, err)
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
