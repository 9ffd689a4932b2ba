package rollout

import "fmt"

// ErrNoVariants means the experiment has no variants to select from: a
// configuration bug surfaced as an internal error, never papered over by
// inventing a variant.
var ErrNoVariants = fmt.Errorf("rollout: experiment has no variants")

// RolloutOverflowError reports that a write would push the sum of an
// experiment's variant rollouts above 1.0.
type RolloutOverflowError struct {
	Sum float64
}

func (e *RolloutOverflowError) Error() string {
	return fmt.Sprintf("rollout: sum of rollouts would be %.6f, exceeds 1.0", e.Sum)
}

// ToggleConstraintError reports a variant write or delete that would
// violate the structural shape of a toggle experiment.
type ToggleConstraintError struct {
	Reason string
}

func (e *ToggleConstraintError) Error() string {
	return "rollout: toggle constraint violated: " + e.Reason
}
