package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Telemetry receives state changes for time-series export.
// Implementations must never block; failures are the implementation's
// problem, not the Store's.
type Telemetry interface {
	WriteStateChange(deviceID string, attributes map[string]any, observedAt time.Time)
}

type noopTelemetry struct{}

func (noopTelemetry) WriteStateChange(string, map[string]any, time.Time) {}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events rather than blocking appends.
const subscriberBuffer = 64

// Store is the durable record of current and historical device state.
//
// The current-state index is single-writer: all appends are serialized
// through Append, which enforces strictly increasing timestamps per device,
// persists the snapshot, updates the index, and fans the change out to
// subscribers. Reads are lock-free of the append path (RWMutex).
type Store struct {
	repo Repository

	mu      sync.RWMutex            // Protects current
	current map[string]*DeviceState // Latest state by device ID

	appendMu sync.Mutex // Serializes appends (single-writer invariant)

	subMu     sync.Mutex
	subs      map[int]chan ChangeEvent
	nextSubID int

	logger    Logger
	telemetry Telemetry
}

// NewStore creates a state store backed by the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:      repo,
		current:   make(map[string]*DeviceState),
		subs:      make(map[int]chan ChangeEvent),
		logger:    noopLogger{},
		telemetry: noopTelemetry{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetTelemetry sets the time-series sink for state changes.
func (s *Store) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// Load warms the current-state index from the repository.
// This should be called once on application startup, before Append.
func (s *Store) Load(ctx context.Context) error {
	latest, err := s.repo.LatestAll(ctx)
	if err != nil {
		return fmt.Errorf("loading current states: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = make(map[string]*DeviceState, len(latest))
	for i := range latest {
		st := latest[i]
		s.current[st.DeviceID] = st.DeepCopy()
	}

	s.logger.Info("state index loaded", "devices", len(latest))
	return nil
}

// Current returns the latest state for a device.
// Returns ErrNoState if the device has never reported.
// The returned state is a deep copy; callers can safely modify it.
func (s *Store) Current(deviceID string) (*DeviceState, error) {
	s.mu.RLock()
	st, ok := s.current[deviceID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoState, deviceID)
	}
	return st.DeepCopy(), nil
}

// Append records a new state snapshot for a device and returns the resulting
// change event. The snapshot must advance the device's timeline: a timestamp
// at or before the current state is rejected with ErrStaleTimestamp.
//
// On success the current-state index is updated and the event is fanned out
// to all subscribers. Slow subscribers lose events rather than blocking.
func (s *Store) Append(ctx context.Context, deviceID string, attrs map[string]any, observedAt time.Time) (*ChangeEvent, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidState)
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("%w: empty attributes", ErrInvalidState)
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.RLock()
	old := s.current[deviceID]
	s.mu.RUnlock()

	if old != nil && !observedAt.After(old.ObservedAt) {
		return nil, fmt.Errorf("%w: %s at %s (current %s)",
			ErrStaleTimestamp, deviceID, observedAt.Format(time.RFC3339Nano),
			old.ObservedAt.Format(time.RFC3339Nano))
	}

	next := &DeviceState{
		DeviceID:   deviceID,
		Attributes: copyAttributes(attrs),
		ObservedAt: observedAt.UTC(),
	}
	if err := s.repo.Insert(ctx, next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current[deviceID] = next
	s.mu.Unlock()

	event := &ChangeEvent{
		DeviceID: deviceID,
		Old:      old.DeepCopy(),
		New:      next.DeepCopy(),
	}
	s.fanOut(*event)
	s.telemetry.WriteStateChange(deviceID, next.Attributes, next.ObservedAt)

	s.logger.Debug("state appended", "device_id", deviceID, "observed_at", next.ObservedAt)
	return event, nil
}

// History returns up to limit snapshots for a device, newest first.
func (s *Store) History(ctx context.Context, deviceID string, limit int) ([]DeviceState, error) {
	return s.repo.History(ctx, deviceID, limit)
}

// Subscribe returns a channel of state change events and a cancel function.
// The channel is closed when cancel is called. Events arriving while the
// subscriber's buffer is full are dropped.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (s *Store) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store) fanOut(event ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Warn("state subscriber lagging, event dropped",
				"subscriber", id, "device_id", event.DeviceID)
		}
	}
}
