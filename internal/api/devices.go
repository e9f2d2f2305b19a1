package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/device"
	"github.com/hearthd/hearth-core/internal/state"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - room_id: filter by room
//   - capability: filter by capability (on_off, dim, etc.)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if roomID := r.URL.Query().Get("room_id"); roomID != "" {
		devices, err := s.devices.GetDevicesByRoom(ctx, roomID)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if capStr := r.URL.Query().Get("capability"); capStr != "" {
		devices, err := s.devices.GetDevicesByCapability(ctx, device.Capability(capStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice creates a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.CreateDevice(r.Context(), &dev); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionCreated, "device", dev.ID, map[string]any{"name": dev.Name})
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device. Fields absent from the body
// keep their current values; the ID is immutable.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	updated := existing.DeepCopy()
	if err := json.NewDecoder(r.Body).Decode(updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id

	if err := s.devices.UpdateDevice(r.Context(), updated); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionUpdated, "device", id, nil)
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device entirely. Prefer retiring: retired
// devices keep their execution history attributable.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionDeleted, "device", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleRetireDevice marks a device retired. Retired devices reject commands
// but stay visible for history.
func (s *Server) handleRetireDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.RetireDevice(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to retire device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionRetired, "device", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceState returns the device's latest observed state.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.states == nil {
		writeInternalError(w, "state store unavailable")
		return
	}

	current, err := s.states.Current(id)
	if err != nil {
		if errors.Is(err, state.ErrNoState) {
			writeNotFound(w, "device has not reported state")
			return
		}
		writeInternalError(w, "failed to get device state")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// handleDeviceStateHistory returns the device's state history, newest first.
//
// Query parameters:
//   - limit: maximum number of entries (default 100)
func (s *Server) handleDeviceStateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.states == nil {
		writeInternalError(w, "state store unavailable")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.states.History(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to get state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": history, "count": len(history)})
}
