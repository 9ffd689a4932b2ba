package apierr

import (
	"errors"
	"net/http"

	"github.com/goflagship/experiments/internal/rollout"
	"github.com/goflagship/experiments/internal/store"
)

// FromStoreOrRollout inspects err for the sentinel/typed errors produced
// by internal/store and internal/rollout and writes the matching response.
// Handlers that don't need a more specific mapping can call this as their
// fallback instead of hand-rolling a switch per endpoint.
func FromStoreOrRollout(w http.ResponseWriter, r *http.Request, err error) {
	var overflow *rollout.RolloutOverflowError
	var toggle *rollout.ToggleConstraintError

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExperimentNotFound):
		ExperimentNotFound(w, r)
	case errors.Is(err, store.ErrProjectNotFound):
		ProjectNotFound(w, r)
	case errors.Is(err, store.ErrNoIdentifier):
		NoIdentifier(w, r)
	case errors.Is(err, store.ErrUniqueViolation):
		UniquenessViolation(w, r, err.Error())
	case errors.Is(err, rollout.ErrNoVariants):
		NoVariants(w, r)
	case errors.As(err, &overflow):
		RolloutOverflow(w, r, overflow.Sum)
	case errors.As(err, &toggle):
		ToggleConstraint(w, r, toggle.Reason)
	default:
		Internal(w, r)
	}
}
