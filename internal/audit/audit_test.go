package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	e := &Entry{
		Action:     ActionCreated,
		EntityType: "rule",
		EntityID:   "rul-1a2b3c4d",
		Source:     "api",
		Details:    map[string]any{"name": "Cool If Hot"},
	}
	if err := repo.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatal("Record() did not assign ID and timestamp")
	}

	entries, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.Action != ActionCreated || got.EntityType != "rule" || got.EntityID != "rul-1a2b3c4d" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["name"] != "Cool If Hot" {
		t.Errorf("details = %v", got.Details)
	}
}

func TestListByEntity(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	records := []*Entry{
		{Action: ActionCreated, EntityType: "rule", EntityID: "rul-1", Source: "api", CreatedAt: base},
		{Action: ActionUpdated, EntityType: "rule", EntityID: "rul-1", Source: "api", CreatedAt: base.Add(time.Minute)},
		{Action: ActionCreated, EntityType: "device", EntityID: "dev-1", Source: "api", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range records {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.ListByEntity(ctx, "rule", "rul-1", 0)
	if err != nil {
		t.Fatalf("ListByEntity() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != ActionUpdated || entries[1].Action != ActionCreated {
		t.Errorf("order = [%s %s], want [updated created]", entries[0].Action, entries[1].Action)
	}
}

func TestRecordWithoutEntityID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, &Entry{Action: ActionActivated, EntityType: "system", Source: "system"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	entries, err := repo.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if entries[0].EntityID != "" || entries[0].Details != nil {
		t.Errorf("entry = %+v, want empty entity id and nil details", entries[0])
	}
}
