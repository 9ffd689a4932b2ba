package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/audit"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/rollout"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/validation"
	"github.com/goflagship/experiments/internal/webhook"
)

type experimentRequest struct {
	ProjectID   string `json:"project_id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Kind        string `json:"kind"`
}

type experimentResponse struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func experimentToResponse(e *store.Experiment) experimentResponse {
	return experimentResponse{
		ID:          e.ID,
		ProjectID:   e.ProjectID,
		Key:         e.Key,
		Name:        e.Name,
		Description: e.Description,
		Status:      string(e.Status),
		Kind:        string(e.Kind),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func experimentToMap(e *store.Experiment) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"project_id":  e.ProjectID,
		"key":         e.Key,
		"name":        e.Name,
		"description": e.Description,
		"status":      string(e.Status),
		"kind":        string(e.Kind),
	}
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	status := store.ExperimentStatus(r.URL.Query().Get("status"))

	var projects []*store.Project
	if projectID != "" {
		p := s.ownedProject(w, r, projectID)
		if p == nil {
			return
		}
		projects = []*store.Project{p}
	} else {
		principal, _ := auth.PrincipalFromContext(r.Context())
		owner := principal.Email
		if principal.Role == store.AdminRoleOwner {
			owner = ""
		}
		var err error
		projects, err = s.store.ListProjects(r.Context(), owner)
		if err != nil {
			apierr.Internal(w, r)
			return
		}
	}

	out := make([]experimentResponse, 0)
	for _, p := range projects {
		exps, err := s.store.ListExperiments(r.Context(), store.ExperimentFilter{ProjectID: p.ID, Status: status})
		if err != nil {
			apierr.Internal(w, r)
			return
		}
		for _, e := range exps {
			out = append(out, experimentToResponse(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

// handleCreateExperiment creates an experiment, and for kind=toggle also
// seeds the enabled/control variant pair inside the same transaction.
// Experiments always start in draft unless the request says otherwise.
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experimentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		apierr.Validation(w, r, "project_id is required", nil)
		return
	}
	p := s.ownedProject(w, r, req.ProjectID)
	if p == nil {
		return
	}

	e := &store.Experiment{
		ProjectID:   p.ID,
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Status:      store.ExperimentStatusDraft,
		Kind:        store.ExperimentKind(req.Kind),
	}
	if req.Status != "" {
		e.Status = store.ExperimentStatus(req.Status)
	}
	if result := validation.ValidateExperiment(e); !result.Valid {
		apierr.Validation(w, r, "invalid experiment", result.Errors)
		return
	}

	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if err := tx.CreateExperiment(r.Context(), e); err != nil {
			return err
		}
		if e.Kind == store.ExperimentKindToggle {
			return tx.ReplaceVariants(r.Context(), e.ID, rollout.DefaultToggleVariants())
		}
		return nil
	})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.audit.Log(audit.NewEntryBuilder(r, p.ID).
		ForResource("experiment", e.ID).
		WithAction("created").
		WithAfterState(experimentToMap(e)).
		Build())
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("experiment", e.Key).
		WithStates(nil, experimentToMap(e)).
		Build())

	writeJSON(w, http.StatusCreated, experimentToResponse(e))
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, _ := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}
	writeJSON(w, http.StatusOK, experimentToResponse(exp))
}

// statusRank orders the experiment lifecycle; transitions only move
// forward (draft → running → completed).
func statusRank(s store.ExperimentStatus) int {
	switch s {
	case store.ExperimentStatusDraft:
		return 0
	case store.ExperimentStatusRunning:
		return 1
	case store.ExperimentStatusCompleted:
		return 2
	}
	return -1
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	exp, p := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}

	var req experimentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	if req.Kind != "" {
		if err := rollout.ValidateKindImmutable(exp.Kind, store.ExperimentKind(req.Kind)); err != nil {
			apierr.FromStoreOrRollout(w, r, err)
			return
		}
	}

	before := experimentToMap(exp)
	if req.Name != "" {
		exp.Name = req.Name
	}
	if req.Description != "" {
		exp.Description = req.Description
	}
	if req.Status != "" {
		next := store.ExperimentStatus(req.Status)
		if statusRank(next) < statusRank(exp.Status) {
			apierr.Validation(w, r, "status can only move forward (draft, running, completed)", map[string]string{"status": "invalid transition"})
			return
		}
		exp.Status = next
	}
	if result := validation.ValidateExperiment(exp); !result.Valid {
		apierr.Validation(w, r, "invalid experiment", result.Errors)
		return
	}
	if err := s.store.UpdateExperiment(r.Context(), exp); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	after := experimentToMap(exp)
	changes := audit.ComputeChanges(before, after)
	s.audit.Log(audit.NewEntryBuilder(r, p.ID).
		ForResource("experiment", exp.ID).
		WithAction("updated").
		WithBeforeState(before).
		WithAfterState(after).
		WithChanges(changes).
		Build())
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("experiment", exp.Key).
		WithStates(before, after).
		WithChanges(changes).
		Build())

	writeJSON(w, http.StatusOK, experimentToResponse(exp))
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	exp, p := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}
	if err := s.store.DeleteExperiment(r.Context(), exp.ID); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	before := experimentToMap(exp)
	s.audit.Log(audit.NewEntryBuilder(r, p.ID).
		ForResource("experiment", exp.ID).
		WithAction("deleted").
		WithBeforeState(before).
		Build())
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("experiment", exp.Key).
		WithStates(before, nil).
		Build())

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExperimentStats(w http.ResponseWriter, r *http.Request) {
	exp, _ := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}
	stats, err := s.dist.Stats(r.Context(), exp.ID)
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": experimentToResponse(exp),
		"stats":      stats,
	})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	exp, _ := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}
	changed, err := s.dist.Recalculate(r.Context(), exp.ID)
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	stats, err := s.dist.Stats(r.Context(), exp.ID)
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment":    experimentToResponse(exp),
		"count_changed": changed,
		"stats":         stats,
	})
}

// bulkVariantRow is one row of a bulk variant update. Omitted fields keep
// the stored value.
type bulkVariantRow struct {
	ID      string         `json:"id"`
	Key     *string        `json:"key"`
	Payload map[string]any `json:"payload"`
	Rollout *float64       `json:"rollout"`
}

type bulkUpdateRequest struct {
	Variants []bulkVariantRow `json:"variants"`
}

// handleBulkUpdateVariants validates the aggregate rollout of the whole
// batch and applies it atomically; no row is written when any row fails.
func (s *Server) handleBulkUpdateVariants(w http.ResponseWriter, r *http.Request) {
	exp, p := s.ownedExperiment(w, r, chi.URLParam(r, "id"))
	if exp == nil {
		return
	}

	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Variants) == 0 {
		apierr.Validation(w, r, "variants must not be empty", nil)
		return
	}

	var updated []*store.Variant
	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		current, err := tx.ListVariants(r.Context(), exp.ID)
		if err != nil {
			return err
		}
		byID := make(map[string]*store.Variant, len(current))
		for _, v := range current {
			byID[v.ID] = v
		}

		writes := make([]rollout.VariantWrite, 0, len(req.Variants))
		for _, row := range req.Variants {
			v, ok := byID[row.ID]
			if !ok {
				return store.ErrNotFound
			}
			next := v.Rollout
			if row.Rollout != nil {
				next = *row.Rollout
			}
			writes = append(writes, rollout.VariantWrite{ID: row.ID, Rollout: next})
		}
		if err := rollout.ValidateBatch(current, writes); err != nil {
			return err
		}

		updated = updated[:0]
		for _, row := range req.Variants {
			v := byID[row.ID]
			if row.Key != nil && *row.Key != v.Key {
				if exp.Kind == store.ExperimentKindToggle {
					if err := rollout.ValidateToggleKey(*row.Key); err != nil {
						return err
					}
				}
				v.Key = *row.Key
			}
			if row.Payload != nil {
				v.Payload = row.Payload
			}
			if row.Rollout != nil {
				v.Rollout = *row.Rollout
			}
			if err := tx.UpdateVariant(r.Context(), v); err != nil {
				return err
			}
			updated = append(updated, v)
		}

		if exp.Status == store.ExperimentStatusRunning {
			summary := notify.SummarizeExperiment(exp)
			changed := make([]*store.Variant, len(updated))
			copy(changed, updated)
			tx.AfterCommit(func() {
				for _, v := range changed {
					s.hub.Publish(notify.Event{
						Type:  notify.EventExperimentUpdate,
						Group: "experiment:" + exp.ID,
						Payload: notify.ExperimentUpdatePayload{
							Experiment: summary,
							Variant:    notify.SummarizeVariant(v),
						},
					})
				}
			})
		}
		return nil
	})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.afterVariantMutation(r, exp, p, "bulk_updated")

	out := make([]variantAdminResponse, 0, len(updated))
	for _, v := range updated {
		out = append(out, variantToResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}
