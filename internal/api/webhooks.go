package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/webhook"
)

type webhookRequest struct {
	ProjectID      string   `json:"project_id"`
	URL            string   `json:"url"`
	Events         []string `json:"events"`
	Active         *bool    `json:"active"`
	MaxRetries     *int     `json:"max_retries"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
}

type webhookResponse struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	URL             string     `json:"url"`
	Events          []string   `json:"events"`
	Active          bool       `json:"active"`
	MaxRetries      int        `json:"max_retries"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// The webhook secret is returned exactly once, on create.
type webhookCreateResponse struct {
	webhookResponse
	Secret string `json:"secret"`
}

func webhookToResponse(wh *store.Webhook) webhookResponse {
	return webhookResponse{
		ID:              wh.ID,
		ProjectID:       wh.ProjectID,
		URL:             wh.URL,
		Events:          wh.Events,
		Active:          wh.Active,
		MaxRetries:      wh.MaxRetries,
		TimeoutSeconds:  wh.TimeoutSeconds,
		LastTriggeredAt: wh.LastTriggeredAt,
		CreatedAt:       wh.CreatedAt,
		UpdatedAt:       wh.UpdatedAt,
	}
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ownedWebhook loads a webhook and checks project ownership.
func (s *Server) ownedWebhook(w http.ResponseWriter, r *http.Request, id string) *store.Webhook {
	wh, err := s.store.GetWebhook(r.Context(), id)
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return nil
	}
	if p := s.ownedProject(w, r, wh.ProjectID); p == nil {
		return nil
	}
	return wh
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		apierr.Validation(w, r, "project_id is required", nil)
		return
	}
	if p := s.ownedProject(w, r, projectID); p == nil {
		return
	}
	hooks, err := s.store.ListWebhooks(r.Context(), projectID)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	out := make([]webhookResponse, 0, len(hooks))
	for _, wh := range hooks {
		out = append(out, webhookToResponse(wh))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		apierr.Validation(w, r, "project_id is required", nil)
		return
	}
	if !validWebhookURL(req.URL) {
		apierr.Validation(w, r, "invalid webhook", map[string]string{"url": "must be a valid http(s) URL"})
		return
	}
	if p := s.ownedProject(w, r, req.ProjectID); p == nil {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	wh := &store.Webhook{
		ProjectID:      req.ProjectID,
		URL:            req.URL,
		Secret:         secret,
		Events:         req.Events,
		Active:         true,
		MaxRetries:     3,
		TimeoutSeconds: 10,
	}
	if req.Active != nil {
		wh.Active = *req.Active
	}
	if req.MaxRetries != nil {
		wh.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		wh.TimeoutSeconds = *req.TimeoutSeconds
	}
	if err := s.store.CreateWebhook(r.Context(), wh); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookCreateResponse{webhookResponse: webhookToResponse(wh), Secret: secret})
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	wh := s.ownedWebhook(w, r, chi.URLParam(r, "id"))
	if wh == nil {
		return
	}
	writeJSON(w, http.StatusOK, webhookToResponse(wh))
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	wh := s.ownedWebhook(w, r, chi.URLParam(r, "id"))
	if wh == nil {
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.URL != "" {
		if !validWebhookURL(req.URL) {
			apierr.Validation(w, r, "invalid webhook", map[string]string{"url": "must be a valid http(s) URL"})
			return
		}
		wh.URL = req.URL
	}
	if req.Events != nil {
		wh.Events = req.Events
	}
	if req.Active != nil {
		wh.Active = *req.Active
	}
	if req.MaxRetries != nil {
		wh.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		wh.TimeoutSeconds = *req.TimeoutSeconds
	}
	if err := s.store.UpdateWebhook(r.Context(), wh); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookToResponse(wh))
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	wh := s.ownedWebhook(w, r, chi.URLParam(r, "id"))
	if wh == nil {
		return
	}
	if err := s.store.DeleteWebhook(r.Context(), wh.ID); err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	wh := s.ownedWebhook(w, r, chi.URLParam(r, "id"))
	if wh == nil {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	deliveries, err := s.store.ListWebhookDeliveries(r.Context(), wh.ID, limit)
	if err != nil {
		apierr.Internal(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// handleTestWebhook queues a synthetic event at the webhook's project so
// the receiver can verify connectivity and signature handling.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	wh := s.ownedWebhook(w, r, chi.URLParam(r, "id"))
	if wh == nil {
		return
	}
	event := webhook.NewEventBuilder(r, wh.ProjectID).
		ForResource("experiment", "test").
		WithStates(nil, map[string]any{"test": true}).
		Build()
	s.webhooks.Dispatch(event)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
