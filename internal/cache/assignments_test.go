package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestAssignmentKey(t *testing.T) {
	got := assignmentKey("exp-1", "user-1")
	want := "ab_assignment:exp-1:user-1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

// With no Redis listening, every operation must degrade to a miss or a
// no-op rather than an error surfacing to callers.
func TestAssignments_DegradesWhenRedisUnreachable(t *testing.T) {
	c := NewAssignments("127.0.0.1:1", zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "e", "u"); ok {
		t.Fatal("expected miss when redis is unreachable")
	}
	c.Put(ctx, "e", "u", Entry{DistributionID: "d", VariantID: "v"})
	c.Invalidate(ctx, "e", "u")
	if _, ok := c.Get(ctx, "e", "u"); ok {
		t.Fatal("expected miss after failed put")
	}
}
