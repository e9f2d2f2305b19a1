package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListExecutions returns the execution audit trail, newest first.
//
// Query parameters:
//   - rule_id: filter by rule
//   - limit: maximum number of entries (default 50)
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	limit := parseLimit(r, 50)
	if limit < 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	execs, err := s.executions.ListExecutions(r.Context(), r.URL.Query().Get("rule_id"), limit)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

// handleGetExecution returns a single execution record.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	exec, err := s.executions.GetExecution(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "execution not found")
			return
		}
		writeInternalError(w, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleListExecutionCommands returns an execution's device commands in
// dispatch order.
func (s *Server) handleListExecutionCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	commands, err := s.executions.ListCommands(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleListAudit returns recent admin audit entries.
//
// Query parameters:
//   - entity_type, entity_id: filter to one entity (both required together)
//   - limit: maximum number of entries (default 100)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeInternalError(w, "audit log unavailable")
		return
	}

	limit := parseLimit(r, 100)
	if limit < 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType != "" && entityID != "" {
		entries, err := s.audit.ListByEntity(r.Context(), entityType, entityID, limit)
		if err != nil {
			writeInternalError(w, "failed to list audit entries")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
		return
	}

	entries, err := s.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
