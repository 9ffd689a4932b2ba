package rollout

import (
	"context"

	"github.com/goflagship/experiments/internal/store"
)

// SelectVariant implements the Variant Selector: given an
// experiment's variants (already ordered by stable id, as
// store.ListVariants returns them) and a user, it returns the assigned
// variant.
func SelectVariant(variants []*store.Variant, userID, experimentID string) (*store.Variant, error) {
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	var total float64
	var onlyPositive *store.Variant
	positiveCount := 0
	for _, v := range variants {
		total += v.Rollout
		if v.Rollout > 0 {
			positiveCount++
			onlyPositive = v
		}
	}

	// Short-circuit: exactly one variant carries all the traffic. This
	// avoids floating-point boundary sensitivity for the common
	// rollout=1.0-on-one-variant case.
	if positiveCount == 1 {
		return onlyPositive, nil
	}

	if total <= 0 {
		// No variant has positive rollout; nothing to normalize against.
		// Falls back to the same last-variant rule used for numeric
		// drift below, since there is no principled choice otherwise.
		return variants[len(variants)-1], nil
	}

	h := Hash(userID, experimentID)

	acc := 0.0
	for _, v := range variants {
		width := v.Rollout / total
		if h >= acc && h < acc+width {
			return v, nil
		}
		acc += width
	}

	// Only reachable under ulp-scale drift in the accumulated ranges;
	// fall back to the last variant rather than failing the request.
	return variants[len(variants)-1], nil
}

// Allocator resolves an experiment's variants and user into an assignment,
// fetching from the Store. It is a thin context-aware wrapper around
// SelectVariant; the Distribution Store and Recalculator list variants
// themselves and call SelectVariant directly.
func Allocator(ctx context.Context, s store.Store, experimentID, userID string) (*store.Variant, error) {
	variants, err := s.ListVariants(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return SelectVariant(variants, userID, experimentID)
}
