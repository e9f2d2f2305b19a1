package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			room_id TEXT,
			type TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			retired INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testDevice() *Device {
	return &Device{
		Name:         "Ceiling Light",
		Type:         DeviceTypeLightDimmer,
		Capabilities: []Capability{CapOnOff, CapDim},
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice()
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.ID == "" {
		t.Fatal("Create() did not generate an ID")
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Ceiling Light" {
		t.Errorf("Name = %q, want %q", got.Name, "Ceiling Light")
	}
	if got.Type != DeviceTypeLightDimmer {
		t.Errorf("Type = %q, want %q", got.Type, DeviceTypeLightDimmer)
	}
	if len(got.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", got.Capabilities)
	}
	if got.RoomID != nil {
		t.Errorf("RoomID = %v, want nil", *got.RoomID)
	}
}

func TestCreateInvalid(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Device)
	}{
		{"empty name", func(d *Device) { d.Name = "  " }},
		{"unknown type", func(d *Device) { d.Type = "toaster" }},
		{"no capabilities", func(d *Device) { d.Capabilities = nil }},
		{"unknown capability", func(d *Device) { d.Capabilities = []Capability{"teleport"} }},
		{"duplicate capability", func(d *Device) { d.Capabilities = []Capability{CapOnOff, CapOnOff} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice()
			tt.mutate(d)
			if err := repo.Create(ctx, d); !errors.Is(err, ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "dev-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestListByRoom(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	roomA := "rom-aaaa"
	roomB := "rom-bbbb"

	for _, d := range []*Device{
		{Name: "Lamp A", Type: DeviceTypeLightSwitch, Capabilities: []Capability{CapOnOff}, RoomID: &roomA},
		{Name: "Lamp B", Type: DeviceTypeLightSwitch, Capabilities: []Capability{CapOnOff}, RoomID: &roomB},
		{Name: "Sensor", Type: DeviceTypeMotionSensor, Capabilities: []Capability{CapMotionDetect}},
	} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%q) error = %v", d.Name, err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d devices, want 3", len(all))
	}

	inA, err := repo.ListByRoom(ctx, roomA)
	if err != nil {
		t.Fatalf("ListByRoom() error = %v", err)
	}
	if len(inA) != 1 || inA[0].Name != "Lamp A" {
		t.Errorf("ListByRoom(%s) = %v, want only Lamp A", roomA, inA)
	}
}

func TestUpdate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice()
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Name = "Wall Light"
	d.Capabilities = append(d.Capabilities, CapColorTemp)
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Wall Light" {
		t.Errorf("Name = %q, want %q", got.Name, "Wall Light")
	}
	if len(got.Capabilities) != 3 {
		t.Errorf("Capabilities = %v, want 3 entries", got.Capabilities)
	}

	missing := testDevice()
	missing.ID = "dev-missing"
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestSetRetired(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice()
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetRetired(ctx, d.ID, true); err != nil {
		t.Fatalf("SetRetired() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Retired {
		t.Error("Retired = false, want true")
	}

	if err := repo.SetRetired(ctx, "dev-missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRetired() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice()
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
}
