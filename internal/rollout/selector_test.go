package rollout

import (
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestSelectVariant_NoVariants(t *testing.T) {
	_, err := SelectVariant(nil, "u1", "e1")
	if err != ErrNoVariants {
		t.Fatalf("expected ErrNoVariants, got %v", err)
	}
}

func TestSelectVariant_ShortCircuitSingleWinner(t *testing.T) {
	variants := []*store.Variant{
		{ID: "1", Key: "a", Rollout: 1.0},
		{ID: "2", Key: "b", Rollout: 0.0},
	}
	for i := 0; i < 50; i++ {
		v, err := SelectVariant(variants, itoa(i), "exp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Key != "a" {
			t.Fatalf("expected short-circuit to variant a, got %s", v.Key)
		}
	}
}

func TestSelectVariant_Deterministic(t *testing.T) {
	variants := []*store.Variant{
		{ID: "1", Key: "a", Rollout: 0.5},
		{ID: "2", Key: "b", Rollout: 0.5},
	}
	v1, err := SelectVariant(variants, "device-1", "exp-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		v2, err := SelectVariant(variants, "device-1", "exp-x")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v2.Key != v1.Key {
			t.Fatalf("selection drifted across calls: %s vs %s", v1.Key, v2.Key)
		}
	}
}

func TestSelectVariant_CoversAllVariants(t *testing.T) {
	variants := []*store.Variant{
		{ID: "1", Key: "a", Rollout: 0.3},
		{ID: "2", Key: "b", Rollout: 0.3},
		{ID: "3", Key: "c", Rollout: 0.4},
	}
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		v, err := SelectVariant(variants, itoa(i), "exp-y")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[v.Key] = true
	}
	for _, key := range []string{"a", "b", "c"} {
		if !seen[key] {
			t.Errorf("variant %s was never selected across 500 samples", key)
		}
	}
}

func TestSelectVariant_FallsBackToLastOnNoRollout(t *testing.T) {
	variants := []*store.Variant{
		{ID: "1", Key: "a", Rollout: 0},
		{ID: "2", Key: "b", Rollout: 0},
	}
	v, err := SelectVariant(variants, "u1", "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Key != "b" {
		t.Fatalf("expected fallback to last variant b, got %s", v.Key)
	}
}
