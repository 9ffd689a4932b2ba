package api

import (
	"net/http"
	"strings"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/store"
)

// loginRequest accepts email or username (alias for email) plus password.
type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = strings.TrimSpace(req.Username)
	}
	if email == "" || req.Password == "" {
		apierr.Validation(w, r, "email (or username) and password are required", nil)
		return
	}

	admin, err := s.store.GetAdminUserByEmail(r.Context(), email)
	if err != nil || !auth.VerifyPassword(req.Password, admin.PasswordHash) {
		// Same response for unknown email and wrong password.
		apierr.Unauthorized(w, r, "invalid credentials")
		return
	}

	token, err := s.auth.IssueToken(admin)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Email: admin.Email, Role: string(admin.Role)})
}

// ownedProject loads a project and enforces the admin surface's ownership
// scoping: admins see their own projects, the owner role sees all. On
// failure the error response is already written and nil is returned.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request, projectID string) *store.Project {
	principal, _ := auth.PrincipalFromContext(r.Context())
	p, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		apierr.ProjectNotFound(w, r)
		return nil
	}
	if p.Owner != principal.Email && principal.Role != store.AdminRoleOwner {
		apierr.Forbidden(w, r, "project belongs to another admin")
		return nil
	}
	return p
}

// ownedExperiment resolves an experiment and its project, enforcing the
// same scoping.
func (s *Server) ownedExperiment(w http.ResponseWriter, r *http.Request, experimentID string) (*store.Experiment, *store.Project) {
	exp, err := s.store.GetExperiment(r.Context(), experimentID)
	if err != nil {
		apierr.ExperimentNotFound(w, r)
		return nil, nil
	}
	p := s.ownedProject(w, r, exp.ProjectID)
	if p == nil {
		return nil, nil
	}
	return exp, p
}
