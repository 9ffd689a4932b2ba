package rollout

import "github.com/goflagship/experiments/internal/store"

// Toggle variant keys: a toggle experiment is constrained to exactly these
// two.
const (
	ToggleKeyEnabled = "enabled"
	ToggleKeyControl = "control"
)

// DefaultToggleVariants returns the two variants a toggle experiment is
// created with: {enabled: 0.5}, {control: 0.5}, both with an empty
// payload. The caller fills in ExperimentID and persists via
// store.ReplaceVariants.
func DefaultToggleVariants() []*store.Variant {
	return []*store.Variant{
		{Key: ToggleKeyEnabled, Rollout: 0.5, Payload: map[string]any{}},
		{Key: ToggleKeyControl, Rollout: 0.5, Payload: map[string]any{}},
	}
}

// ValidateToggleKey rejects a variant create/update on a toggle experiment
// whose key is not one of the two allowed keys.
func ValidateToggleKey(key string) error {
	if key != ToggleKeyEnabled && key != ToggleKeyControl {
		return &ToggleConstraintError{Reason: "variant key must be \"enabled\" or \"control\""}
	}
	return nil
}

// ValidateToggleDelete rejects deleting a variant of a toggle experiment:
// a toggle experiment always has exactly two variants, so removing either
// would leave fewer than both required keys present.
func ValidateToggleDelete() error {
	return &ToggleConstraintError{Reason: "cannot delete a variant of a toggle experiment"}
}

// ValidateKindImmutable rejects changing an experiment's kind after
// creation.
func ValidateKindImmutable(existing, next store.ExperimentKind) error {
	if existing != next {
		return &ToggleConstraintError{Reason: "experiment kind is immutable after creation"}
	}
	return nil
}
