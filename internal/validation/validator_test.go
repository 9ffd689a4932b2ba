package validation

import (
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestValidateKey_RejectsEmpty(t *testing.T) {
	r := ValidateKey("key", "  ")
	if r.Valid {
		t.Fatal("expected invalid result for empty key")
	}
}

func TestValidateKey_RejectsBadCharacters(t *testing.T) {
	r := ValidateKey("key", "has spaces!")
	if r.Valid {
		t.Fatal("expected invalid result for key with spaces")
	}
}

func TestValidateKey_AcceptsGoodKey(t *testing.T) {
	r := ValidateKey("key", "checkout_flow-v2")
	if !r.Valid {
		t.Fatalf("expected valid result, got errors: %+v", r.Errors)
	}
}

func TestValidateExperiment_RejectsUnknownKind(t *testing.T) {
	e := &store.Experiment{Key: "x", Name: "X", Kind: "bogus", Status: store.ExperimentStatusDraft}
	r := ValidateExperiment(e)
	if r.Valid {
		t.Fatal("expected invalid result for unknown kind")
	}
	if _, ok := r.Errors["kind"]; !ok {
		t.Fatal("expected a kind error")
	}
}

func TestValidateExperiment_AcceptsValid(t *testing.T) {
	e := &store.Experiment{Key: "x", Name: "X", Kind: store.ExperimentKindMulti, Status: store.ExperimentStatusDraft}
	r := ValidateExperiment(e)
	if !r.Valid {
		t.Fatalf("expected valid result, got errors: %+v", r.Errors)
	}
}

func TestValidateVariant_RejectsRolloutOutOfRange(t *testing.T) {
	v := &store.Variant{Key: "a", Rollout: 1.5}
	r := ValidateVariant(v, 0)
	if r.Valid {
		t.Fatal("expected invalid result for rollout > 1")
	}
}

func TestValidateIdentifierSet_RejectsEmpty(t *testing.T) {
	r := ValidateIdentifierSet(store.IdentifierSet{})
	if r.Valid {
		t.Fatal("expected invalid result for empty identifier set")
	}
}

func TestValidateIdentifierSet_AcceptsSingleIdentifier(t *testing.T) {
	r := ValidateIdentifierSet(store.IdentifierSet{DeviceID: "d1"})
	if !r.Valid {
		t.Fatalf("expected valid result, got errors: %+v", r.Errors)
	}
}
