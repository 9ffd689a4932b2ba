package rollout

import "github.com/goflagship/experiments/internal/store"

// Validate implements the Rollout Validator for a single variant
// create/update: S is the sum of rollout over every sibling
// variant of the same experiment excluding the one being written (pass
// excludeID = "" for a create). Returns a *RolloutOverflowError if
// S + candidate exceeds 1.0.
func Validate(siblings []*store.Variant, excludeID string, candidate float64) error {
	sum := candidate
	for _, v := range siblings {
		if v.ID == excludeID {
			continue
		}
		sum += v.Rollout
	}
	if sum > 1.0 {
		return &RolloutOverflowError{Sum: sum}
	}
	return nil
}

// VariantWrite is one row of a bulk variant update: ID is empty for a new variant.
type VariantWrite struct {
	ID      string
	Rollout float64
}

// ValidateBatch validates the aggregate rollout of a whole bulk write at
// once: a batch must hold the sum invariant as a set, not row by row,
// or the order rows are checked in would decide whether the batch
// passes. current is every existing variant of the experiment; writes is
// the full set of rows being applied in this batch (rows not present in
// writes keep their current rollout).
func ValidateBatch(current []*store.Variant, writes []VariantWrite) error {
	written := make(map[string]float64, len(writes))
	for _, w := range writes {
		written[w.ID] = w.Rollout
	}

	sum := 0.0
	for _, v := range current {
		if r, ok := written[v.ID]; ok {
			sum += r
		} else {
			sum += v.Rollout
		}
	}
	// New variants (ID == "" in the batch) aren't in current at all.
	for _, w := range writes {
		if w.ID == "" {
			sum += w.Rollout
		}
	}
	if sum > 1.0 {
		return &RolloutOverflowError{Sum: sum}
	}
	return nil
}
