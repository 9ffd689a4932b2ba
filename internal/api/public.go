package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/identity"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/validation"
)

// experimentRef is the experiment shape in library-surface responses.
type experimentRef struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// variantRef is the variant shape in library-surface responses.
type variantRef struct {
	ID      string         `json:"id"`
	Key     string         `json:"key"`
	Payload map[string]any `json:"payload"`
}

type variantResponse struct {
	Experiment experimentRef `json:"experiment"`
	Variant    variantRef    `json:"variant"`
}

type assignmentEntry struct {
	Experiment experimentRef `json:"experiment"`
	Variant    variantRef    `json:"variant"`
}

type assignmentsResponse struct {
	User        userSummary       `json:"user"`
	Experiments []assignmentEntry `json:"experiments"`
}

// userSummary is the user shape returned by identify and the assignment
// listing.
type userSummary struct {
	ID         string         `json:"id"`
	DeviceID   *string        `json:"device_id"`
	Email      *string        `json:"email"`
	ExternalID *string        `json:"external_id"`
	URL        string         `json:"url,omitempty"`
	OS         string         `json:"os,omitempty"`
	OSVersion  string         `json:"os_version,omitempty"`
	DeviceType string         `json:"device_type,omitempty"`
	Properties map[string]any `json:"properties"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
}

func summarizeUser(u *store.User) userSummary {
	return userSummary{
		ID:         u.ID,
		DeviceID:   u.DeviceID,
		Email:      u.Email,
		ExternalID: u.ExternalID,
		URL:        u.Metadata.URL,
		OS:         u.Metadata.OS,
		OSVersion:  u.Metadata.OSVersion,
		DeviceType: u.Metadata.DeviceType,
		Properties: u.Properties,
		FirstSeen:  u.FirstSeen,
		LastSeen:   u.LastSeen,
	}
}

// handleGetVariant serves GET /experiments/{key}/variant: resolves the
// caller's identifiers to a user and returns the persisted-or-new
// assignment for one running experiment.
func (s *Server) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())
	key := chi.URLParam(r, "key")

	ids := identifiersFromQuery(r)
	if ids.Empty() {
		apierr.NoIdentifier(w, r)
		return
	}

	exp, err := s.store.GetExperimentByKey(r.Context(), project.ID, key)
	if err != nil {
		apierr.ExperimentNotFound(w, r)
		return
	}
	if exp.Status != store.ExperimentStatusRunning {
		apierr.ExperimentNotRunning(w, r, string(exp.Status))
		return
	}

	user, err := s.resolver.Identify(r.Context(), project.ID, identity.IdentifyInput{IDs: ids})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	d, err := s.dist.GetOrCreate(r.Context(), user.ID, exp.ID)
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}
	variant, err := s.store.GetVariant(r.Context(), d.VariantID)
	if err != nil {
		apierr.Internal(w, r)
		return
	}

	writeJSON(w, http.StatusOK, variantResponse{
		Experiment: experimentRef{ID: exp.ID, Key: exp.Key, Name: exp.Name},
		Variant:    variantRef{ID: variant.ID, Key: variant.Key, Payload: variant.Payload},
	})
}

// handleListAssignments serves GET /experiments: assignments across every
// running experiment in the project. The read and any distribution
// creations happen against one consistent view per experiment.
func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	ids := identifiersFromQuery(r)
	if ids.Empty() {
		apierr.NoIdentifier(w, r)
		return
	}

	user, err := s.resolver.Identify(r.Context(), project.ID, identity.IdentifyInput{IDs: ids})
	if err != nil {
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	running, err := s.store.ListExperiments(r.Context(), store.ExperimentFilter{
		ProjectID: project.ID,
		Status:    store.ExperimentStatusRunning,
	})
	if err != nil {
		apierr.Internal(w, r)
		return
	}

	entries := make([]assignmentEntry, 0, len(running))
	for _, exp := range running {
		d, err := s.dist.GetOrCreate(r.Context(), user.ID, exp.ID)
		if err != nil {
			// A running experiment with no variants is a configuration
			// bug on that experiment alone; skip it rather than failing
			// the whole listing.
			s.log.Warn().Err(err).Str("experiment_id", exp.ID).Msg("assignment failed")
			continue
		}
		variant, err := s.store.GetVariant(r.Context(), d.VariantID)
		if err != nil {
			continue
		}
		entries = append(entries, assignmentEntry{
			Experiment: experimentRef{ID: exp.ID, Key: exp.Key, Name: exp.Name},
			Variant:    variantRef{ID: variant.ID, Key: variant.Key, Payload: variant.Payload},
		})
	}

	writeJSON(w, http.StatusOK, assignmentsResponse{User: summarizeUser(user), Experiments: entries})
}

// identifyRequest is the POST /users/identify body.
type identifyRequest struct {
	ID               string         `json:"id"`
	DeviceID         string         `json:"device_id"`
	Email            string         `json:"email"`
	ExternalID       string         `json:"external_id"`
	LatestURL        string         `json:"latest_url"`
	LatestOS         string         `json:"latest_os"`
	LatestOSVersion  string         `json:"latest_os_version"`
	LatestDeviceType string         `json:"latest_device_type"`
	Properties       map[string]any `json:"properties"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	project, _ := auth.ProjectFromContext(r.Context())

	var req identifyRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.BadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	ids := store.IdentifierSet{
		ID:         req.ID,
		DeviceID:   req.DeviceID,
		Email:      req.Email,
		ExternalID: req.ExternalID,
	}
	if result := validation.ValidateIdentifierSet(ids); !result.Valid {
		if ids.Empty() {
			apierr.NoIdentifier(w, r)
		} else {
			apierr.Validation(w, r, "invalid identifiers", result.Errors)
		}
		return
	}

	user, err := s.resolver.Identify(r.Context(), project.ID, identity.IdentifyInput{
		IDs: ids,
		Metadata: store.UserMetadata{
			URL:        req.LatestURL,
			OS:         req.LatestOS,
			OSVersion:  req.LatestOSVersion,
			DeviceType: req.LatestDeviceType,
		},
		Properties: req.Properties,
	})
	if err != nil {
		if errors.Is(err, store.ErrNoIdentifier) {
			apierr.NoIdentifier(w, r)
			return
		}
		apierr.FromStoreOrRollout(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summarizeUser(user))
}
