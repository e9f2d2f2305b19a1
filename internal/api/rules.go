package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/automation"
)

// handleListRules returns all automation rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListRules(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule creates a new automation rule. The definition is
// validated before it is stored; invalid definitions are rejected outright.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create rule")
		return
	}

	s.recordAudit(r.Context(), audit.ActionCreated, "rule", rule.ID, map[string]any{"name": rule.Name})
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule replaces a rule's definition. In-flight executions keep
// running against the snapshot they started with.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to get rule")
		return
	}

	updated := existing.DeepCopy()
	if err := json.NewDecoder(r.Body).Decode(updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id

	if err := s.rules.UpdateRule(r.Context(), updated); err != nil {
		switch {
		case isNotFound(err):
			writeNotFound(w, "rule not found")
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to update rule")
		}
		return
	}

	s.recordAudit(r.Context(), audit.ActionUpdated, "rule", id, map[string]any{"name": updated.Name})
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteRule removes a rule. Its execution history is retained.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to delete rule")
		return
	}

	s.recordAudit(r.Context(), audit.ActionDeleted, "rule", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetRuleEnabled returns a handler that enables or disables a rule.
func (s *Server) handleSetRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := s.rules.SetRuleEnabled(r.Context(), id, enabled); err != nil {
			if isNotFound(err) {
				writeNotFound(w, "rule not found")
				return
			}
			writeInternalError(w, "failed to update rule")
			return
		}

		action := audit.ActionEnabled
		if !enabled {
			action = audit.ActionDisabled
		}
		s.recordAudit(r.Context(), action, "rule", id, nil)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

// handleListRuleExecutions returns the rule's execution history, newest
// first.
func (s *Server) handleListRuleExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.executions == nil {
		writeInternalError(w, "execution store unavailable")
		return
	}

	limit := parseLimit(r, 50)
	if limit < 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	execs, err := s.executions.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

// parseLimit reads the limit query parameter, returning def when absent and
// -1 when malformed.
func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return -1
	}
	return n
}
