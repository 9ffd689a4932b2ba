package api

import (
	"net/http"
	"time"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/store"
)

// handleListUsers serves the read-only admin user listing, filtered by
// project_id (required) and any of device_id/email/external_id.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		apierr.Validation(w, r, "project_id is required", nil)
		return
	}
	if p := s.ownedProject(w, r, projectID); p == nil {
		return
	}

	users, err := s.store.ListUsers(r.Context(), store.UserFilter{
		ProjectID:  projectID,
		DeviceID:   q.Get("device_id"),
		Email:      q.Get("email"),
		ExternalID: q.Get("external_id"),
	})
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, summarizeUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type distributionResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// handleListDistributions serves the read-only admin distribution listing,
// filtered by experiment_id/user_id/variant_id. At least one filter is
// required; ownership is checked through the experiment or user it names.
func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DistributionFilter{
		ExperimentID: q.Get("experiment_id"),
		UserID:       q.Get("user_id"),
		VariantID:    q.Get("variant_id"),
	}

	switch {
	case filter.ExperimentID != "":
		if exp, _ := s.ownedExperiment(w, r, filter.ExperimentID); exp == nil {
			return
		}
	case filter.UserID != "":
		u, err := s.store.GetUser(r.Context(), filter.UserID)
		if err != nil {
			apierr.FromStoreOrRollout(w, r, err)
			return
		}
		if p := s.ownedProject(w, r, u.ProjectID); p == nil {
			return
		}
	case filter.VariantID != "":
		v, err := s.store.GetVariant(r.Context(), filter.VariantID)
		if err != nil {
			apierr.FromStoreOrRollout(w, r, err)
			return
		}
		if exp, _ := s.ownedExperiment(w, r, v.ExperimentID); exp == nil {
			return
		}
	default:
		apierr.Validation(w, r, "one of experiment_id, user_id, variant_id is required", nil)
		return
	}

	dists, err := s.store.ListDistributions(r.Context(), filter)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	out := make([]distributionResponse, 0, len(dists))
	for _, d := range dists {
		out = append(out, distributionResponse{
			ID:           d.ID,
			UserID:       d.UserID,
			ExperimentID: d.ExperimentID,
			VariantID:    d.VariantID,
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributions": out})
}
