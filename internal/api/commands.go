package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
)

// handleListCommands returns device commands newest first, both rule-issued
// and manual.
//
// Query parameters:
//   - device_id: filter by device
//   - limit: maximum number of entries (default 50)
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	limit := parseLimit(r, 50)
	if limit < 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	commands, err := s.executions.ListRecentCommands(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleGetCommand returns a single device command record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	cmd, err := s.executions.GetCommand(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "command not found")
			return
		}
		writeInternalError(w, "failed to get command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleIssueCommand dispatches a single manual command, outside any rule or
// scene. The response carries the terminal command record: the dispatcher
// retries transient failures before giving up, so the returned status is
// either acknowledged or failed.
func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeInternalError(w, "dispatcher unavailable")
		return
	}

	var body struct {
		DeviceID   string         `json:"device_id"`
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.DeviceID == "" || body.Name == "" {
		writeBadRequest(w, "device_id and name are required")
		return
	}
	if !device.KnownCommand(body.Name) {
		writeBadRequest(w, "unknown command: "+body.Name)
		return
	}
	if _, err := s.devices.GetDevice(r.Context(), body.DeviceID); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	// Empty execution ID marks the command manual in the audit trail.
	commands := s.dispatcher.Dispatch(r.Context(), "", []automation.ActionSpec{{
		Kind:       automation.ActionCommand,
		DeviceID:   body.DeviceID,
		Command:    body.Name,
		Parameters: body.Parameters,
	}}, nil)
	if len(commands) != 1 {
		writeInternalError(w, "dispatch produced no command")
		return
	}
	cmd := commands[0]

	s.recordAudit(r.Context(), audit.ActionCreated, "command", cmd.ID, map[string]any{
		"device_id": cmd.DeviceID,
		"name":      cmd.Name,
		"status":    string(cmd.Status),
	})
	writeJSON(w, http.StatusCreated, cmd)
}
