package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/audit"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/rollout"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/validation"
	"github.com/goflagship/experiments/internal/webhook"
)

type variantCreateRequest struct {
	ExperimentID string         `json:"experiment_id"`
	Key          string         `json:"key"`
	Payload      map[string]any `json:"payload"`
	Rollout      float64        `json:"rollout"`
}

type variantUpdateRequest struct {
	Key     *string        `json:"key"`
	Payload map[string]any `json:"payload"`
	Rollout *float64       `json:"rollout"`
}

type variantAdminResponse struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experiment_id"`
	Key          string         `json:"key"`
	Payload      map[string]any `json:"payload"`
	Rollout      float64        `json:"rollout"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func variantToResponse(v *store.Variant) variantAdminResponse {
	return variantAdminResponse{
		ID:           v.ID,
		ExperimentID: v.ExperimentID,
		Key:          v.Key,
		Payload:      v.Payload,
		Rollout:      v.Rollout,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

func variantToMap(v *store.Variant) map[string]any {
	return map[string]any{
		"id":            v.ID,
		"experiment_id": v.ExperimentID,
		"key":           v.Key,
		"payload":       v.Payload,
		"rollout":       v.Rollout,
	}
}

// registerExperimentUpdate queues the post-commit experiment_update
// fan-out for one variant mutation of a running experiment.
func (s *Server) registerExperimentUpdate(tx store.Tx, exp *store.Experiment, v *store.Variant) {
	if exp.Status != store.ExperimentStatusRunning {
		return
	}
	summary := notify.SummarizeExperiment(exp)
	variant := notify.SummarizeVariant(v)
	tx.AfterCommit(func() {
		s.hub.Publish(notify.Event{
			Type:  notify.EventExperimentUpdate,
			Group: "experiment:" + exp.ID,
			Payload: notify.ExperimentUpdatePayload{
				Experiment: summary,
				Variant:    variant,
			},
		})
	})
}

// afterVariantMutation runs the post-commit side effects of a committed
// variant write: the recalculation sweep for running experiments (which
// emits its own distribution_update events), plus the admin audit row and
// webhook dispatch.
func (s *Server) afterVariantMutation(r *http.Request, exp *store.Experiment, p *store.Project, action string) {
	if exp.Status == store.ExperimentStatusRunning {
		if _, err := s.dist.Recalculate(r.Context(), exp.ID); err != nil {
			s.log.Error().Err(err).Str("experiment_id", exp.ID).Msg("recalculation after variant write failed")
		}
	}
	s.audit.Log(audit.NewEntryBuilder(r, p.ID).
		ForResource("variant", exp.ID).
		WithAction(action).
		Build())
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	experimentID := r.URL.Query().Get("experiment_id")
	if experimentID == "" {
		apierr.Validation(w, r, "experiment_id is required", nil)
		return
	}
	exp, _ := s.ownedExperiment(w, r, experimentID)
	if exp == nil {
		return
	}
	variants, err := s.store.ListVariants(r.Context(), exp.ID)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	out := make([]variantAdminResponse, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantToResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}

func (s *Server) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	var req variantCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.ExperimentID == "" {
		apierr.Validation(w, r, "experiment_id is required", nil)
		return
	}
	exp, p := s.ownedExperiment(w, r, req.ExperimentID)
	if exp == nil {
		return
	}

	v := &store.Variant{
		ExperimentID: exp.ID,
		Key:          req.Key,
		Payload:      req.Payload,
		Rollout:      req.Rollout,
	}
	if v.Payload == nil {
		v.Payload = map[string]any{}
	}
	if result := validation.ValidateVariant(v, 0); !result.Valid {
		apierr.Validation(w, r, "invalid variant", result.Errors)
		return
	}

	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if exp.Kind == store.ExperimentKindToggle {
			if err := rollout.ValidateToggleKey(v.Key); err != nil {
				return err
			}
		}
		siblings, err := tx.ListVariants(r.Context(), exp.ID)
		if err != nil {
			return err
		}
		if err := rollout.Validate(siblings, "", v.Rollout); err != nil {
			return err
		}
		if err := tx.CreateVariant(r.Context(), v); err != nil {
			return err
		}
		s.registerExperimentUpdate(tx, exp, v)
		return nil
	})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.afterVariantMutation(r, exp, p, "created")
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("variant", v.Key).
		WithStates(nil, variantToMap(v)).
		Build())

	writeJSON(w, http.StatusCreated, variantToResponse(v))
}

func (s *Server) handleGetVariantAdmin(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	exp, _ := s.ownedExperiment(w, r, v.ExperimentID)
	if exp == nil {
		return
	}
	writeJSON(w, http.StatusOK, variantToResponse(v))
}

func (s *Server) handleUpdateVariant(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	exp, p := s.ownedExperiment(w, r, v.ExperimentID)
	if exp == nil {
		return
	}

	var req variantUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	before := variantToMap(v)
	if req.Key != nil && *req.Key != v.Key {
		if exp.Kind == store.ExperimentKindToggle {
			// Renaming either toggle variant would leave fewer than both
			// required keys present.
			apierr.ToggleConstraint(w, r, "cannot rename a variant of a toggle experiment")
			return
		}
		v.Key = *req.Key
	}
	if req.Payload != nil {
		v.Payload = req.Payload
	}
	if req.Rollout != nil && (*req.Rollout < 0 || *req.Rollout > 1) {
		apierr.Validation(w, r, "invalid variant", map[string]string{"rollout": "rollout must be between 0 and 1"})
		return
	}
	if result := validation.ValidateVariant(v, 0); !result.Valid {
		apierr.Validation(w, r, "invalid variant", result.Errors)
		return
	}

	err = s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if req.Rollout != nil {
			siblings, err := tx.ListVariants(r.Context(), exp.ID)
			if err != nil {
				return err
			}
			if err := rollout.Validate(siblings, v.ID, *req.Rollout); err != nil {
				return err
			}
			v.Rollout = *req.Rollout
		}
		if err := tx.UpdateVariant(r.Context(), v); err != nil {
			return err
		}
		s.registerExperimentUpdate(tx, exp, v)
		return nil
	})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.afterVariantMutation(r, exp, p, "updated")
	after := variantToMap(v)
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("variant", v.Key).
		WithStates(before, after).
		WithChanges(audit.ComputeChanges(before, after)).
		Build())

	writeJSON(w, http.StatusOK, variantToResponse(v))
}

func (s *Server) handleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	exp, p := s.ownedExperiment(w, r, v.ExperimentID)
	if exp == nil {
		return
	}

	err = s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if exp.Kind == store.ExperimentKindToggle {
			return rollout.ValidateToggleDelete()
		}
		if err := tx.DeleteVariant(r.Context(), v.ID); err != nil {
			return err
		}
		s.registerExperimentUpdate(tx, exp, v)
		return nil
	})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	s.afterVariantMutation(r, exp, p, "deleted")
	s.webhooks.Dispatch(webhook.NewEventBuilder(r, p.ID).
		ForResource("variant", v.Key).
		WithStates(variantToMap(v), nil).
		Build())

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
