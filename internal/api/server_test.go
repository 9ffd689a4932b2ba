package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/testutil"
)

// seedRunningExperiment creates a project with one running experiment and
// the given variant rollouts.
func seedRunningExperiment(t *testing.T, s store.Store, rollouts map[string]float64) (*store.Project, *store.Experiment) {
	t.Helper()
	ctx := context.Background()
	p := &store.Project{Owner: "admin@example.com", APIKey: "exk_test0000000000000000000000000", Title: "Test"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	e := &store.Experiment{ProjectID: p.ID, Key: "checkout", Name: "Checkout", Status: store.ExperimentStatusRunning, Kind: store.ExperimentKindMulti}
	if err := s.CreateExperiment(ctx, e); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	for key, r := range rollouts {
		v := &store.Variant{ExperimentID: e.ID, Key: key, Rollout: r, Payload: map[string]any{"label": key}}
		if err := s.CreateVariant(ctx, v); err != nil {
			t.Fatalf("create variant: %v", err)
		}
	}
	return p, e
}

type variantResp struct {
	Experiment struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"experiment"`
	Variant struct {
		ID      string         `json:"id"`
		Key     string         `json:"key"`
		Payload map[string]any `json:"payload"`
	} `json:"variant"`
}

func getVariant(t *testing.T, ts *httptest.Server, apiKey, expKey, query string) (variantResp, int) {
	t.Helper()
	body, status := testutil.DoJSON(t, ts, "GET", "/experiments/"+expKey+"/variant?api_key="+apiKey+"&"+query, "", nil)
	var out variantResp
	if status == http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode variant response: %v", err)
		}
	}
	return out, status
}

func TestVariantEndpoint_DeterministicAssignment(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, _ := seedRunningExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})

	first, status := getVariant(t, ts, p.APIKey, "checkout", "device_id=d1")
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	for i := 0; i < 10; i++ {
		got, status := getVariant(t, ts, p.APIKey, "checkout", "device_id=d1")
		if status != http.StatusOK {
			t.Fatalf("unexpected status %d on call %d", status, i)
		}
		if got.Variant.Key != first.Variant.Key {
			t.Fatalf("assignment drifted on call %d: %s vs %s", i, got.Variant.Key, first.Variant.Key)
		}
	}
}

func TestVariantEndpoint_ShortCircuitAssignsEveryone(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, _ := seedRunningExperiment(t, s, map[string]float64{"a": 1.0, "b": 0.0})

	for i := 0; i < 25; i++ {
		got, status := getVariant(t, ts, p.APIKey, "checkout", fmt.Sprintf("device_id=user-%d", i))
		if status != http.StatusOK {
			t.Fatalf("unexpected status %d", status)
		}
		if got.Variant.Key != "a" {
			t.Fatalf("user %d assigned %q, expected a", i, got.Variant.Key)
		}
	}
}

func TestVariantEndpoint_Errors(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, e := seedRunningExperiment(t, s, map[string]float64{"a": 1.0})

	t.Run("missing api key", func(t *testing.T) {
		_, status := testutil.DoJSON(t, ts, "GET", "/experiments/checkout/variant?device_id=d1", "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})

	t.Run("invalid api key", func(t *testing.T) {
		_, status := getVariant(t, ts, "bogus", "checkout", "device_id=d1")
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})

	t.Run("no identifier", func(t *testing.T) {
		body, status := testutil.DoJSON(t, ts, "GET", "/experiments/checkout/variant?api_key="+p.APIKey, "", nil)
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", status, body)
		}
	})

	t.Run("unknown experiment", func(t *testing.T) {
		_, status := getVariant(t, ts, p.APIKey, "nope", "device_id=d1")
		if status != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", status)
		}
	})

	t.Run("not running", func(t *testing.T) {
		e.Status = store.ExperimentStatusCompleted
		if err := s.UpdateExperiment(context.Background(), e); err != nil {
			t.Fatalf("update experiment: %v", err)
		}
		body, status := testutil.DoJSON(t, ts, "GET", "/experiments/checkout/variant?api_key="+p.APIKey+"&device_id=d1", "", nil)
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
		var resp struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.Status != "completed" {
			t.Fatalf("expected status completed in error body, got %q", resp.Status)
		}
	})
}

func TestListAssignments(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, _ := seedRunningExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})

	// A draft experiment must not appear in the listing.
	draft := &store.Experiment{ProjectID: p.ID, Key: "draft-exp", Name: "Draft", Status: store.ExperimentStatusDraft, Kind: store.ExperimentKindMulti}
	if err := s.CreateExperiment(context.Background(), draft); err != nil {
		t.Fatalf("create draft experiment: %v", err)
	}

	body, status := testutil.DoJSON(t, ts, "GET", "/experiments?api_key="+p.APIKey+"&device_id=d1", "", nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, body)
	}
	var resp struct {
		User struct {
			ID       string  `json:"id"`
			DeviceID *string `json:"device_id"`
		} `json:"user"`
		Experiments []struct {
			Experiment struct {
				Key string `json:"key"`
			} `json:"experiment"`
		} `json:"experiments"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.DeviceID == nil || *resp.User.DeviceID != "d1" {
		t.Fatalf("expected device_id d1 on user, got %v", resp.User.DeviceID)
	}
	if len(resp.Experiments) != 1 || resp.Experiments[0].Experiment.Key != "checkout" {
		t.Fatalf("expected exactly the running experiment, got %+v", resp.Experiments)
	}
}

func TestIdentifyMerge(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, _ := seedRunningExperiment(t, s, map[string]float64{"a": 0.5, "b": 0.5})

	identify := func(payload map[string]any) map[string]any {
		t.Helper()
		body, status := testutil.DoJSON(t, ts, "POST", "/users/identify?api_key="+p.APIKey, "", payload)
		if status != http.StatusOK {
			t.Fatalf("identify failed with %d: %s", status, body)
		}
		var out map[string]any
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode identify response: %v", err)
		}
		return out
	}

	u1 := identify(map[string]any{"device_id": "d1"})
	u2 := identify(map[string]any{"email": "e1@example.com"})
	if u1["id"] == u2["id"] {
		t.Fatal("expected two distinct users before merge")
	}

	merged := identify(map[string]any{"device_id": "d1", "email": "e1@example.com"})
	if merged["device_id"] != "d1" || merged["email"] != "e1@example.com" {
		t.Fatalf("merged user missing identifiers: %+v", merged)
	}

	users, err := s.ListUsers(context.Background(), store.UserFilter{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected one surviving user, got %d", len(users))
	}

	// Both identifiers now resolve to the same persisted assignment.
	byDevice, _ := getVariant(t, ts, p.APIKey, "checkout", "device_id=d1")
	byEmail, _ := getVariant(t, ts, p.APIKey, "checkout", "email=e1@example.com")
	if byDevice.Variant.Key != byEmail.Variant.Key {
		t.Fatalf("identifiers diverged after merge: %s vs %s", byDevice.Variant.Key, byEmail.Variant.Key)
	}
}

func TestIdentify_NoIdentifier(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	p, _ := seedRunningExperiment(t, s, map[string]float64{"a": 1.0})

	body, status := testutil.DoJSON(t, ts, "POST", "/users/identify?api_key="+p.APIKey, "", map[string]any{"properties": map[string]any{"plan": "pro"}})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
}
