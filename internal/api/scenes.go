package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/automation"
)

// handleListScenes returns all scenes.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := s.rules.ListScenes(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list scenes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

// handleGetScene returns a single scene by ID.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	scene, err := s.rules.GetScene(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to get scene")
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// handleCreateScene creates a new scene. Scene references are checked for
// cycles against the current scene set before the definition is accepted.
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var scene automation.Scene
	if err := json.NewDecoder(r.Body).Decode(&scene); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateScene(r.Context(), &scene); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create scene")
		return
	}

	s.recordAudit(r.Context(), audit.ActionCreated, "scene", scene.ID, map[string]any{"name": scene.Name})
	writeJSON(w, http.StatusCreated, scene)
}

// handleUpdateScene replaces a scene's definition.
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.rules.GetScene(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to get scene")
		return
	}

	updated := existing.DeepCopy()
	if err := json.NewDecoder(r.Body).Decode(updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id

	if err := s.rules.UpdateScene(r.Context(), updated); err != nil {
		switch {
		case isNotFound(err):
			writeNotFound(w, "scene not found")
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to update scene")
		}
		return
	}

	s.recordAudit(r.Context(), audit.ActionUpdated, "scene", id, map[string]any{"name": updated.Name})
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteScene removes a scene. Rules referencing it are flagged
// invalid on the next cache refresh rather than silently broken.
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rules.DeleteScene(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to delete scene")
		return
	}

	s.recordAudit(r.Context(), audit.ActionDeleted, "scene", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateScene runs a scene immediately, outside any rule. The
// response carries the finalized execution record including per-command
// outcomes.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.activator == nil {
		writeInternalError(w, "engine unavailable")
		return
	}

	exec, err := s.activator.ActivateScene(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "scene not found")
			return
		}
		if isValidationError(err) {
			writeConflict(w, err.Error())
			return
		}
		writeInternalError(w, "failed to activate scene")
		return
	}

	s.recordAudit(r.Context(), audit.ActionActivated, "scene", id, map[string]any{
		"execution_id": exec.ID,
		"status":       string(exec.Status),
	})
	writeJSON(w, http.StatusOK, exec)
}
