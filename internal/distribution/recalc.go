package distribution

import (
	"context"
	"fmt"

	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/rollout"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/telemetry"
)

// Recalculate implements the Recalculator: in a single
// transaction it iterates every Distribution of the experiment, computes
// the expected variant against the current variant configuration, and
// updates the ones that no longer match. Changed distributions are
// emitted to the Change Notifier as distribution_update events only
// after the transaction commits.
// A no-op call returns 0 and emits nothing.
func (s *Service) Recalculate(ctx context.Context, experimentID string) (int, error) {
	var changedCount int
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		exp, err := tx.GetExperiment(ctx, experimentID)
		if err != nil {
			return fmt.Errorf("distribution: recalculate: get experiment: %w", err)
		}
		variants, err := tx.ListVariants(ctx, experimentID)
		if err != nil {
			return fmt.Errorf("distribution: recalculate: list variants: %w", err)
		}
		if len(variants) == 0 {
			return rollout.ErrNoVariants
		}
		variantByID := make(map[string]*store.Variant, len(variants))
		for _, v := range variants {
			variantByID[v.ID] = v
		}

		dists, err := tx.ListDistributions(ctx, store.DistributionFilter{ExperimentID: experimentID})
		if err != nil {
			return fmt.Errorf("distribution: recalculate: list distributions: %w", err)
		}

		var changed []*store.Distribution
		for _, d := range dists {
			expected, err := rollout.SelectVariant(variants, d.UserID, experimentID)
			if err != nil {
				return err
			}
			if expected.ID == d.VariantID {
				continue
			}
			if err := tx.UpdateDistributionVariant(ctx, d.ID, expected.ID); err != nil {
				return fmt.Errorf("distribution: recalculate: update distribution: %w", err)
			}
			d.VariantID = expected.ID
			changed = append(changed, d)
		}
		changedCount = len(changed)

		if len(changed) > 0 {
			summary := notify.SummarizeExperiment(exp)
			running := exp.Status == store.ExperimentStatusRunning
			tx.AfterCommit(func() {
				telemetry.RecalcChangedRows.Add(float64(len(changed)))
				for _, d := range changed {
					if s.cache != nil {
						s.cache.Invalidate(ctx, d.ExperimentID, d.UserID)
					}
					if !running {
						continue
					}
					v := variantByID[d.VariantID]
					s.hub.Publish(notify.Event{
						Type:  notify.EventDistributionUpdate,
						Group: "user:" + d.UserID,
						Payload: notify.DistributionUpdatePayload{
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
		return 0, err
	}
	return changedCount, nil
}

// Stats computes per-variant assignment percentages for an experiment,
// rounded to two decimal places.
func (s *Service) Stats(ctx context.Context, experimentID string) (map[string]float64, error) {
	variants, err := s.store.ListVariants(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	dists, err := s.store.ListDistributions(ctx, store.DistributionFilter{ExperimentID: experimentID})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(variants))
	for _, v := range variants {
		counts[v.ID] = 0
	}
	for _, d := range dists {
		counts[d.VariantID]++
	}
	total := len(dists)
	out := make(map[string]float64, len(variants))
	for _, v := range variants {
		if total == 0 {
			out[v.Key] = 0
			continue
		}
		pct := 100 * float64(counts[v.ID]) / float64(total)
		out[v.Key] = roundTo2dp(pct)
	}
	return out, nil
}

func roundTo2dp(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
