package api

import (
	"net/http"
	"strconv"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/store"
)

func (s *Server) auditFilterFromRequest(w http.ResponseWriter, r *http.Request, defaultLimit, maxLimit int) (store.AuditFilter, bool) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		apierr.Validation(w, r, "project_id is required", nil)
		return store.AuditFilter{}, false
	}
	if p := s.ownedProject(w, r, projectID); p == nil {
		return store.AuditFilter{}, false
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	return store.AuditFilter{
		ProjectID:    projectID,
		ResourceType: q.Get("resource_type"),
		Limit:        limit,
	}, true
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.auditFilterFromRequest(w, r, 100, 1000)
	if !ok {
		return
	}
	entries, err := s.store.ListAuditEntries(r.Context(), filter)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": entries})
}

// handleExportAuditLogs streams the filtered audit log as a JSON download.
func (s *Server) handleExportAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.auditFilterFromRequest(w, r, maxAuditExportLimit, maxAuditExportLimit)
	if !ok {
		return
	}
	entries, err := s.store.ListAuditEntries(r.Context(), filter)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.json"`)
	writeJSON(w, http.StatusOK, entries)
}
