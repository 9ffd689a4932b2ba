package identity

import (
	"context"
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, store.Store, string) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	p := &store.Project{Owner: "owner", APIKey: "k", Title: "proj"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return New(s), s, p.ID
}

func TestIdentify_NoIdentifierFails(t *testing.T) {
	r, _, projectID := newTestResolver(t)
	_, err := r.Identify(context.Background(), projectID, IdentifyInput{})
	if err == nil {
		t.Fatal("expected error for empty identifier set")
	}
}

func TestIdentify_CreatesOnFirstCall(t *testing.T) {
	r, _, projectID := newTestResolver(t)
	u, err := r.Identify(context.Background(), projectID, IdentifyInput{
		IDs: store.IdentifierSet{DeviceID: "d1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.DeviceID == nil || *u.DeviceID != "d1" {
		t.Fatalf("expected device_id d1, got %+v", u)
	}
}

func TestIdentify_SecondCallSameDeviceReturnsSameUser(t *testing.T) {
	r, _, projectID := newTestResolver(t)
	ctx := context.Background()
	u1, err := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{DeviceID: "d1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u2, err := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{DeviceID: "d1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("expected same user, got %s and %s", u1.ID, u2.ID)
	}
}

func TestIdentify_FillsNullIdentifierOnMatch(t *testing.T) {
	r, _, projectID := newTestResolver(t)
	ctx := context.Background()
	u1, _ := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{DeviceID: "d1"}})
	u2, err := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{DeviceID: "d1", Email: "e1@example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("expected same user updated in place")
	}
	if u2.Email == nil || *u2.Email != "e1@example.com" {
		t.Fatalf("expected email to be filled in, got %+v", u2)
	}
}

func TestIdentify_PropertiesIncomingWinsOnConflict(t *testing.T) {
	r, _, projectID := newTestResolver(t)
	ctx := context.Background()
	r.Identify(ctx, projectID, IdentifyInput{
		IDs:        store.IdentifierSet{DeviceID: "d1"},
		Properties: map[string]any{"plan": "free"},
	})
	u, err := r.Identify(ctx, projectID, IdentifyInput{
		IDs:        store.IdentifierSet{DeviceID: "d1"},
		Properties: map[string]any{"plan": "pro"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Properties["plan"] != "pro" {
		t.Fatalf("expected incoming property to win, got %v", u.Properties["plan"])
	}
}

func TestIdentify_MergesOnMultipleMatches(t *testing.T) {
	r, s, projectID := newTestResolver(t)
	ctx := context.Background()

	u1, err := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{DeviceID: "d1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u2, err := r.Identify(ctx, projectID, IdentifyInput{IDs: store.IdentifierSet{Email: "e1@example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u1.ID == u2.ID {
		t.Fatalf("expected two distinct users before merge")
	}

	merged, err := r.Identify(ctx, projectID, IdentifyInput{
		IDs: store.IdentifierSet{DeviceID: "d1", Email: "e1@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.DeviceID == nil || *merged.DeviceID != "d1" {
		t.Fatalf("expected merged user to carry device_id")
	}
	if merged.Email == nil || *merged.Email != "e1@example.com" {
		t.Fatalf("expected merged user to carry email")
	}

	survivorCount := 0
	if _, err := s.GetUser(ctx, u1.ID); err == nil {
		survivorCount++
	}
	if _, err := s.GetUser(ctx, u2.ID); err == nil {
		survivorCount++
	}
	if survivorCount != 1 {
		t.Fatalf("expected exactly one survivor, got %d", survivorCount)
	}
}
