package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/room"
)

// handleListRooms returns all rooms ordered by name.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms, "count": len(rooms)})
}

// handleGetRoom returns a single room by ID.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rm, err := s.rooms.Get(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "room not found")
			return
		}
		writeInternalError(w, "failed to get room")
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleCreateRoom creates a new room.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rm := &room.Room{Name: body.Name}
	if err := s.rooms.Create(r.Context(), rm); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create room")
		return
	}

	s.recordAudit(r.Context(), audit.ActionCreated, "room", rm.ID, map[string]any{"name": rm.Name})
	writeJSON(w, http.StatusCreated, rm)
}

// handleRenameRoom changes a room's name. Identity is immutable.
func (s *Server) handleRenameRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rooms.Rename(r.Context(), id, body.Name); err != nil {
		switch {
		case isNotFound(err):
			writeNotFound(w, "room not found")
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to rename room")
		}
		return
	}

	s.recordAudit(r.Context(), audit.ActionUpdated, "room", id, map[string]any{"name": body.Name})
	rm, err := s.rooms.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to get room")
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleDeleteRoom removes a room. Devices assigned to it keep running with
// a null room.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rooms.Delete(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "room not found")
			return
		}
		writeInternalError(w, "failed to delete room")
		return
	}

	s.recordAudit(r.Context(), audit.ActionDeleted, "room", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListRoomDevices returns all devices assigned to a room.
func (s *Server) handleListRoomDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	devices, err := s.devices.GetDevicesByRoom(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
