// Package distribution implements the Distribution Store and Recalculator:
// assignment persistence with get-or-create semantics, and the sweep that
// reconciles Distributions after a variant configuration change.
package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/goflagship/experiments/internal/cache"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/rollout"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/telemetry"
)

// Service implements get-or-create and recalculation over a Store,
// publishing change events through a notify.Hub. An optional assignment
// cache fronts the read path; the store remains the source of truth.
type Service struct {
	store store.Store
	hub   *notify.Hub
	cache *cache.Assignments
}

// New constructs a distribution Service.
func New(s store.Store, hub *notify.Hub) *Service {
	return &Service{store: s, hub: hub}
}

// UseCache fronts reads with the given assignment cache. Call before
// serving traffic; not safe to toggle concurrently with requests.
func (s *Service) UseCache(c *cache.Assignments) {
	s.cache = c
}

// GetOrCreate returns the existing Distribution for (user, experiment), or
// allocates one via the Variant Selector and inserts it. The store's
// uniqueness index on (user, experiment) is the sole serialization point:
// on a conflicting concurrent insert this re-reads and returns the winning
// row rather than erroring. A newly created assignment for a running
// experiment is announced to group user:{id} as a distribution_update.
func (s *Service) GetOrCreate(ctx context.Context, userID, experimentID string) (*store.Distribution, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(ctx, experimentID, userID); ok {
			return &store.Distribution{
				ID:           e.DistributionID,
				UserID:       userID,
				ExperimentID: experimentID,
				VariantID:    e.VariantID,
			}, nil
		}
	}

	if d, err := s.store.GetDistribution(ctx, userID, experimentID); err == nil {
		s.cachePut(ctx, d)
		return d, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("distribution: get: %w", err)
	}

	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("distribution: get experiment: %w", err)
	}
	variants, err := s.store.ListVariants(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("distribution: list variants: %w", err)
	}
	variant, err := rollout.SelectVariant(variants, userID, experimentID)
	if err != nil {
		return nil, err
	}

	d := &store.Distribution{UserID: userID, ExperimentID: experimentID, VariantID: variant.ID}
	err = s.store.CreateDistribution(ctx, d)
	if errors.Is(err, store.ErrUniqueViolation) {
		return s.store.GetDistribution(ctx, userID, experimentID)
	}
	if err != nil {
		return nil, fmt.Errorf("distribution: create: %w", err)
	}
	telemetry.DistributionsCreated.Inc()
	s.cachePut(ctx, d)

	if exp.Status == store.ExperimentStatusRunning {
		s.hub.Publish(notify.Event{
			Type:  notify.EventDistributionUpdate,
			Group: "user:" + userID,
			Payload: notify.DistributionUpdatePayload{
				Experiment: notify.SummarizeExperiment(exp),
				Variant:    notify.SummarizeVariant(variant),
			},
		})
	}
	return d, nil
}

func (s *Service) cachePut(ctx context.Context, d *store.Distribution) {
	if s.cache == nil {
		return
	}
	s.cache.Put(ctx, d.ExperimentID, d.UserID, cache.Entry{DistributionID: d.ID, VariantID: d.VariantID})
}
