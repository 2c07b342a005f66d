package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyStore == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	games, err := s.historyStore.Recent(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"games": games})
}
