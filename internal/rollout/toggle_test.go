package rollout

import (
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestDefaultToggleVariants(t *testing.T) {
	variants := DefaultToggleVariants()
	if len(variants) != 2 {
		t.Fatalf("expected exactly 2 variants, got %d", len(variants))
	}
	keys := map[string]float64{}
	for _, v := range variants {
		keys[v.Key] = v.Rollout
	}
	if keys[ToggleKeyEnabled] != 0.5 || keys[ToggleKeyControl] != 0.5 {
		t.Fatalf("expected enabled/control at 0.5 each, got %+v", keys)
	}
}

func TestValidateToggleKey_RejectsUnknownKey(t *testing.T) {
	if err := ValidateToggleKey("treatment"); err == nil {
		t.Fatal("expected ToggleConstraintError for unknown key")
	}
}

func TestValidateToggleKey_AllowsKnownKeys(t *testing.T) {
	if err := ValidateToggleKey(ToggleKeyEnabled); err != nil {
		t.Errorf("unexpected error for enabled: %v", err)
	}
	if err := ValidateToggleKey(ToggleKeyControl); err != nil {
		t.Errorf("unexpected error for control: %v", err)
	}
}

func TestValidateToggleDelete_AlwaysRejected(t *testing.T) {
	if err := ValidateToggleDelete(); err == nil {
		t.Fatal("expected deleting a toggle variant to always be rejected")
	}
}

func TestValidateKindImmutable(t *testing.T) {
	if err := ValidateKindImmutable(store.ExperimentKindToggle, store.ExperimentKindMulti); err == nil {
		t.Fatal("expected error changing kind from toggle to multi")
	}
	if err := ValidateKindImmutable(store.ExperimentKindToggle, store.ExperimentKindToggle); err != nil {
		t.Errorf("unexpected error keeping the same kind: %v", err)
	}
}
