package distribution

import (
	"context"
	"testing"

	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/store"
)

func setupExperiment(t *testing.T, s store.Store, rollouts map[string]float64) (*store.Experiment, []*store.Variant) {
	t.Helper()
	ctx := context.Background()
	p := &store.Project{Owner: "o", APIKey: "k1"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	e := &store.Experiment{ProjectID: p.ID, Key: "x", Name: "X", Status: store.ExperimentStatusRunning, Kind: store.ExperimentKindMulti}
	if err := s.CreateExperiment(ctx, e); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	var variants []*store.Variant
	for key, r := range rollouts {
		v := &store.Variant{ExperimentID: e.ID, Key: key, Rollout: r, Payload: map[string]any{}}
		if err := s.CreateVariant(ctx, v); err != nil {
			t.Fatalf("create variant: %v", err)
		}
		variants = append(variants, v)
	}
	return e, variants
}

func TestGetOrCreate_PersistsAssignment(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, notify.NewHub())
	e, _ := setupExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})
	ctx := context.Background()

	d1, err := svc.GetOrCreate(ctx, "user-1", e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := svc.GetOrCreate(ctx, "user-1", e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1.VariantID != d2.VariantID {
		t.Fatalf("assignment drifted: %s vs %s", d1.VariantID, d2.VariantID)
	}
}

func TestRecalculate_NoOpWhenUnchanged(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, notify.NewHub())
	e, _ := setupExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := svc.GetOrCreate(ctx, itoaHelper(i), e.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	changed, err := svc.Recalculate(ctx, e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed != 0 {
		t.Fatalf("expected 0 changed on no-op recalculation, got %d", changed)
	}
}

func TestRecalculate_ReweightMovesAssignments(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, notify.NewHub())
	e, variants := setupExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})
	ctx := context.Background()

	var onB int
	for i := 0; i < 200; i++ {
		d, err := svc.GetOrCreate(ctx, itoaHelper(i), e.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, v := range variants {
			if v.ID == d.VariantID && v.Key == "b" {
				onB++
			}
		}
	}

	// Reweight to all-on-a.
	for _, v := range variants {
		if v.Key == "a" {
			v.Rollout = 1.0
		} else {
			v.Rollout = 0.0
		}
		if err := s.UpdateVariant(ctx, v); err != nil {
			t.Fatalf("update variant: %v", err)
		}
	}

	changed, err := svc.Recalculate(ctx, e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed != onB {
		t.Fatalf("expected %d changed (previously on b), got %d", onB, changed)
	}

	stats, err := svc.Stats(ctx, e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats["a"] != 100.0 || stats["b"] != 0.0 {
		t.Fatalf("expected stats {a:100, b:0}, got %+v", stats)
	}
}

func itoaHelper(i int) string {
	if i == 0 {
		return "u0"
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	return "u" + s
}
