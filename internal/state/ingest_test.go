package state

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIngestHandleMessage(t *testing.T) {
	store := setupStore(t)
	ingestor := NewIngestor(store)

	observed := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(stateReport{
		Attributes: map[string]any{"temperature": 28.0},
		ObservedAt: &observed,
	})

	if err := ingestor.handleMessage("hearth/state/thermostat-1", payload); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	current, err := store.Current("thermostat-1")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.Attributes["temperature"] != 28.0 {
		t.Errorf("temperature = %v, want 28", current.Attributes["temperature"])
	}
	if !current.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", current.ObservedAt, observed)
	}
}

func TestIngestDropsBadInput(t *testing.T) {
	store := setupStore(t)
	ingestor := NewIngestor(store)

	observed := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	good, _ := json.Marshal(stateReport{
		Attributes: map[string]any{"power": "on"},
		ObservedAt: &observed,
	})
	if err := ingestor.handleMessage("hearth/state/lamp-1", good); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	tests := []struct {
		name    string
		topic   string
		payload []byte
	}{
		{"malformed json", "hearth/state/lamp-1", []byte("{not json")},
		{"wrong topic", "hearth/other/lamp-1", good},
		{"stale timestamp", "hearth/state/lamp-1", good},
		{"empty attributes", "hearth/state/lamp-1", []byte(`{"attributes":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ingestor.handleMessage(tt.topic, tt.payload); err != nil {
				t.Errorf("handleMessage() error = %v, want nil (drop)", err)
			}
		})
	}

	// Original state survives all the bad input.
	current, err := store.Current("lamp-1")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.Attributes["power"] != "on" {
		t.Errorf("power = %v, want on", current.Attributes["power"])
	}
}
