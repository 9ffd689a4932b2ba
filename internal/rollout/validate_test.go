package rollout

import (
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestValidate_RejectsOverflow(t *testing.T) {
	siblings := []*store.Variant{
		{ID: "1", Rollout: 0.6},
		{ID: "2", Rollout: 0.3},
	}
	if err := Validate(siblings, "", 0.2); err == nil {
		t.Fatal("expected overflow error, got nil")
	}
}

func TestValidate_AllowsExactlyOne(t *testing.T) {
	siblings := []*store.Variant{
		{ID: "1", Rollout: 0.6},
		{ID: "2", Rollout: 0.3},
	}
	if err := Validate(siblings, "", 0.1); err != nil {
		t.Fatalf("expected no error at exactly 1.0, got %v", err)
	}
}

func TestValidate_ExcludesVariantUnderEdit(t *testing.T) {
	siblings := []*store.Variant{
		{ID: "1", Rollout: 0.6},
		{ID: "2", Rollout: 0.3},
	}
	// Editing variant "1" up to 0.7 should only be checked against 0.3,
	// not against its own old value.
	if err := Validate(siblings, "1", 0.7); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateBatch_RejectsAggregateOverflow(t *testing.T) {
	current := []*store.Variant{
		{ID: "1", Rollout: 0.5},
		{ID: "2", Rollout: 0.5},
	}
	writes := []VariantWrite{{ID: "1", Rollout: 0.8}, {ID: "2", Rollout: 0.3}}
	if err := ValidateBatch(current, writes); err == nil {
		t.Fatal("expected overflow error for aggregate sum 1.1, got nil")
	}
}

func TestValidateBatch_AllowsAggregateAtExactlyOne(t *testing.T) {
	current := []*store.Variant{
		{ID: "1", Rollout: 0.5},
		{ID: "2", Rollout: 0.5},
	}
	writes := []VariantWrite{{ID: "1", Rollout: 1.0}, {ID: "2", Rollout: 0.0}}
	if err := ValidateBatch(current, writes); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateBatch_IncludesNewVariants(t *testing.T) {
	current := []*store.Variant{{ID: "1", Rollout: 0.5}}
	writes := []VariantWrite{{ID: "1", Rollout: 0.5}, {ID: "", Rollout: 0.6}}
	if err := ValidateBatch(current, writes); err == nil {
		t.Fatal("expected overflow including new variant, got nil")
	}
}
