package device

import (
	"context"
	"errors"
	"testing"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewSQLiteRepository(setupTestDB(t)))
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	d := testDevice()
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	got, err := reg.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Name != d.Name {
		t.Errorf("Name = %q, want %q", got.Name, d.Name)
	}

	// Mutating the returned copy must not affect the cache.
	got.Name = "mutated"
	again, err := reg.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if again.Name == "mutated" {
		t.Error("cache was mutated through a returned copy")
	}
}

func TestRegistryRefreshCache(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"One", "Two"} {
		d := testDevice()
		d.Name = name
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%q) error = %v", name, err)
		}
	}

	reg := NewRegistry(repo)
	if reg.GetDeviceCount() != 0 {
		t.Fatalf("GetDeviceCount() = %d before refresh, want 0", reg.GetDeviceCount())
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.GetDeviceCount() != 2 {
		t.Errorf("GetDeviceCount() = %d, want 2", reg.GetDeviceCount())
	}
}

func TestRegistryGetDevicesByCapability(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	dimmer := testDevice()
	sensor := &Device{
		Name:         "Hall Motion",
		Type:         DeviceTypeMotionSensor,
		Capabilities: []Capability{CapMotionDetect},
	}
	for _, d := range []*Device{dimmer, sensor} {
		if err := reg.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice(%q) error = %v", d.Name, err)
		}
	}

	dimmers, err := reg.GetDevicesByCapability(ctx, CapDim)
	if err != nil {
		t.Fatalf("GetDevicesByCapability() error = %v", err)
	}
	if len(dimmers) != 1 || dimmers[0].ID != dimmer.ID {
		t.Errorf("GetDevicesByCapability(dim) = %v, want only %s", dimmers, dimmer.ID)
	}
}

func TestRegistryCheckDispatchable(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	d := testDevice() // on_off + dim
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	if _, err := reg.CheckDispatchable(ctx, d.ID, "dim"); err != nil {
		t.Errorf("CheckDispatchable(dim) error = %v, want nil", err)
	}

	if _, err := reg.CheckDispatchable(ctx, d.ID, "lock"); !errors.Is(err, ErrCommandNotSupported) {
		t.Errorf("CheckDispatchable(lock) error = %v, want ErrCommandNotSupported", err)
	}

	if _, err := reg.CheckDispatchable(ctx, "dev-missing", "dim"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CheckDispatchable(missing) error = %v, want ErrNotFound", err)
	}

	if err := reg.RetireDevice(ctx, d.ID); err != nil {
		t.Fatalf("RetireDevice() error = %v", err)
	}
	if _, err := reg.CheckDispatchable(ctx, d.ID, "dim"); !errors.Is(err, ErrRetired) {
		t.Errorf("CheckDispatchable(retired) error = %v, want ErrRetired", err)
	}
}

func TestAcceptsCommand(t *testing.T) {
	tests := []struct {
		name    string
		caps    []Capability
		command string
		want    bool
	}{
		{"on_off accepts on", []Capability{CapOnOff}, "on", true},
		{"on_off accepts toggle", []Capability{CapOnOff}, "toggle", true},
		{"on_off rejects dim", []Capability{CapOnOff}, "dim", false},
		{"thermostat accepts cool", []Capability{CapTemperatureSet}, "cool", true},
		{"blind accepts close", []Capability{CapPosition}, "close", true},
		{"unknown command rejected", []Capability{CapOnOff, CapDim}, "frobnicate", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Device{Capabilities: tt.caps}
			if got := d.AcceptsCommand(tt.command); got != tt.want {
				t.Errorf("AcceptsCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestDeepCopy(t *testing.T) {
	room := "rom-1234"
	d := &Device{
		ID:           "dev-1",
		Name:         "Original",
		RoomID:       &room,
		Capabilities: []Capability{CapOnOff},
	}

	cpy := d.DeepCopy()
	cpy.Name = "Changed"
	*cpy.RoomID = "rom-9999"
	cpy.Capabilities[0] = CapDim

	if d.Name != "Original" || *d.RoomID != "rom-1234" || d.Capabilities[0] != CapOnOff {
		t.Error("DeepCopy() shares memory with the original")
	}

	var nilDev *Device
	if nilDev.DeepCopy() != nil {
		t.Error("DeepCopy() on nil should return nil")
	}
}
