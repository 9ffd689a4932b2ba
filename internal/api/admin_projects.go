package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/audit"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/validation"
)

type projectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type projectResponse struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	APIKey      string    `json:"api_key"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func projectToResponse(p *store.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Owner:       p.Owner,
		APIKey:      p.APIKey,
		Title:       p.Title,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func projectToMap(p *store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"owner":       p.Owner,
		"title":       p.Title,
		"description": p.Description,
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	owner := principal.Email
	if principal.Role == store.AdminRoleOwner {
		owner = "" // the owner role lists every project
	}
	projects, err := s.store.ListProjects(r.Context(), owner)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	apiKey, err := auth.GenerateAPIKey(s.cfg.AuthTokenPrefix)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	p := &store.Project{
		Owner:       principal.Email,
		APIKey:      apiKey,
		Title:       req.Title,
		Description: req.Description,
	}
	if result := validation.ValidateProject(p); !result.Valid {
		apierr.Validation(w, r, "invalid project", result.Errors)
		return
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.audit.LogFromRequest(r, audit.NewEntryBuilder(r, p.ID).
		ForResource("project", p.ID).
		WithAction("created").
		WithAfterState(projectToMap(p)).
		Success().
		Build())

	writeJSON(w, http.StatusCreated, projectToResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p := s.ownedProject(w, r, chi.URLParam(r, "id"))
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, projectToResponse(p))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p := s.ownedProject(w, r, chi.URLParam(r, "id"))
	if p == nil {
		return
	}

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	before := projectToMap(p)
	if req.Title != "" {
		p.Title = req.Title
	}
	p.Description = req.Description
	if result := validation.ValidateProject(p); !result.Valid {
		apierr.Validation(w, r, "invalid project", result.Errors)
		return
	}
	if err := s.store.UpdateProject(r.Context(), p); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	after := projectToMap(p)
	s.audit.LogFromRequest(r, audit.NewEntryBuilder(r, p.ID).
		ForResource("project", p.ID).
		WithAction("updated").
		WithBeforeState(before).
		WithAfterState(after).
		WithChanges(audit.ComputeChanges(before, after)).
		Success().
		Build())

	writeJSON(w, http.StatusOK, projectToResponse(p))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p := s.ownedProject(w, r, chi.URLParam(r, "id"))
	if p == nil {
		return
	}
	if err := s.store.DeleteProject(r.Context(), p.ID); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.audit.LogFromRequest(r, audit.NewEntryBuilder(r, p.ID).
		ForResource("project", p.ID).
		WithAction("deleted").
		WithBeforeState(projectToMap(p)).
		Success().
		Build())

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRegenerateAPIKey rotates a project's API key. The old key stops
// resolving as soon as the update commits.
func (s *Server) handleRegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	p := s.ownedProject(w, r, chi.URLParam(r, "id"))
	if p == nil {
		return
	}

	apiKey, err := auth.GenerateAPIKey(s.cfg.AuthTokenPrefix)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	p.APIKey = apiKey
	if err := s.store.UpdateProject(r.Context(), p); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.audit.LogFromRequest(r, audit.NewEntryBuilder(r, p.ID).
		ForResource("project", p.ID).
		WithAction("regenerated_api_key").
		Success().
		Build())

	writeJSON(w, http.StatusOK, map[string]any{"api_key": apiKey})
}
