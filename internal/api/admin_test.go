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

const (
	adminEmail    = "admin@example.com"
	adminPassword = "correct-horse-battery"
)

// adminSetup seeds an admin user and logs in through the HTTP surface.
func adminSetup(t *testing.T) (*httptest.Server, *store.MemoryStore, string) {
	t.Helper()
	ts, s := testutil.NewTestServer(t)
	testutil.SeedAdmin(t, s, adminEmail, adminPassword)
	token := testutil.LoginToken(t, ts, adminEmail, adminPassword)
	return ts, s, token
}

func TestAdminLogin(t *testing.T) {
	ts, s := testutil.NewTestServer(t)
	testutil.SeedAdmin(t, s, adminEmail, adminPassword)

	t.Run("username alias", func(t *testing.T) {
		body, status := testutil.DoJSON(t, ts, "POST", "/admin/login", "", map[string]string{"username": adminEmail, "password": adminPassword})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", status, body)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, status := testutil.DoJSON(t, ts, "POST", "/admin/login", "", map[string]string{"email": adminEmail, "password": "nope"})
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})

	t.Run("admin routes reject missing token", func(t *testing.T) {
		_, status := testutil.DoJSON(t, ts, "GET", "/admin/projects/", "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})
}

func createProject(t *testing.T, ts *httptest.Server, token, title string) map[string]any {
	t.Helper()
	body, status := testutil.DoJSON(t, ts, "POST", "/admin/projects/", token, map[string]string{"title": title})
	if status != http.StatusCreated {
		t.Fatalf("create project failed with %d: %s", status, body)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	return out
}

func createExperiment(t *testing.T, ts *httptest.Server, token string, payload map[string]any) map[string]any {
	t.Helper()
	body, status := testutil.DoJSON(t, ts, "POST", "/admin/experiments/", token, payload)
	if status != http.StatusCreated {
		t.Fatalf("create experiment failed with %d: %s", status, body)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode experiment: %v", err)
	}
	return out
}

func TestAdminProjectLifecycle(t *testing.T) {
	ts, _, token := adminSetup(t)

	p := createProject(t, ts, token, "Mobile")
	id := p["id"].(string)
	if len(p["api_key"].(string)) != len("exk_")+32 {
		t.Fatalf("expected prefixed 32-hex api key, got %q", p["api_key"])
	}

	body, status := testutil.DoJSON(t, ts, "POST", "/admin/projects/"+id+"/regenerate_api_key", token, nil)
	if status != http.StatusOK {
		t.Fatalf("regenerate failed with %d: %s", status, body)
	}
	var regen struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &regen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if regen.APIKey == p["api_key"].(string) {
		t.Fatal("expected a fresh api key")
	}

	// The old key must stop resolving on the library surface.
	_, status = testutil.DoJSON(t, ts, "GET", "/experiments?api_key="+p["api_key"].(string)+"&device_id=d1", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with revoked key, got %d", status)
	}

	_, status = testutil.DoJSON(t, ts, "DELETE", "/admin/projects/"+id, token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete failed with %d", status)
	}
	_, status = testutil.DoJSON(t, ts, "GET", "/admin/projects/"+id, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestCreateToggleExperiment(t *testing.T) {
	ts, _, token := adminSetup(t)
	p := createProject(t, ts, token, "Web")
	projectID := p["id"].(string)

	exp := createExperiment(t, ts, token, map[string]any{
		"project_id": projectID,
		"key":        "dark_mode",
		"name":       "Dark mode",
		"kind":       "toggle",
	})
	expID := exp["id"].(string)

	body, status := testutil.DoJSON(t, ts, "GET", "/admin/variants/?experiment_id="+expID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("list variants failed with %d: %s", status, body)
	}
	var listing struct {
		Variants []struct {
			Key     string         `json:"key"`
			Rollout float64        `json:"rollout"`
			Payload map[string]any `json:"payload"`
		} `json:"variants"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode variants: %v", err)
	}
	if len(listing.Variants) != 2 {
		t.Fatalf("expected exactly 2 variants, got %d", len(listing.Variants))
	}
	seen := map[string]float64{}
	for _, v := range listing.Variants {
		seen[v.Key] = v.Rollout
		if len(v.Payload) != 0 {
			t.Fatalf("expected empty payload on %s, got %v", v.Key, v.Payload)
		}
	}
	if seen["enabled"] != 0.5 || seen["control"] != 0.5 {
		t.Fatalf("expected enabled/control at 0.5 each, got %v", seen)
	}

	// Adding a third variant violates the toggle constraint.
	body, status = testutil.DoJSON(t, ts, "POST", "/admin/variants/", token, map[string]any{
		"experiment_id": expID,
		"key":           "treatment",
		"rollout":       0.0,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	var errResp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "TOGGLE_CONSTRAINT" {
		t.Fatalf("expected TOGGLE_CONSTRAINT, got %q", errResp.Code)
	}

	// Deleting either toggle variant is rejected too.
	var variantID string
	var listAgain struct {
		Variants []struct {
			ID string `json:"id"`
		} `json:"variants"`
	}
	body, _ = testutil.DoJSON(t, ts, "GET", "/admin/variants/?experiment_id="+expID, token, nil)
	if err := json.Unmarshal(body, &listAgain); err != nil {
		t.Fatalf("decode variants: %v", err)
	}
	variantID = listAgain.Variants[0].ID
	_, status = testutil.DoJSON(t, ts, "DELETE", "/admin/variants/"+variantID, token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting toggle variant, got %d", status)
	}

	// Kind is immutable after creation.
	_, status = testutil.DoJSON(t, ts, "PUT", "/admin/experiments/"+expID, token, map[string]any{"kind": "multi"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 changing kind, got %d", status)
	}
}

func TestRolloutOverflowRejected(t *testing.T) {
	ts, _, token := adminSetup(t)
	p := createProject(t, ts, token, "Web")
	exp := createExperiment(t, ts, token, map[string]any{
		"project_id": p["id"].(string),
		"key":        "checkout",
		"name":       "Checkout",
		"kind":       "multi",
	})
	expID := exp["id"].(string)

	_, status := testutil.DoJSON(t, ts, "POST", "/admin/variants/", token, map[string]any{
		"experiment_id": expID, "key": "a", "rollout": 0.7,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	body, status := testutil.DoJSON(t, ts, "POST", "/admin/variants/", token, map[string]any{
		"experiment_id": expID, "key": "b", "rollout": 0.4,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	var errResp struct {
		Code string  `json:"code"`
		Sum  float64 `json:"sum"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "ROLLOUT_OVERFLOW" {
		t.Fatalf("expected ROLLOUT_OVERFLOW, got %q", errResp.Code)
	}
	if errResp.Sum < 1.09 || errResp.Sum > 1.11 {
		t.Fatalf("expected offending sum ~1.1, got %v", errResp.Sum)
	}
}

func TestBulkUpdateValidatesAggregate(t *testing.T) {
	ts, s, token := adminSetup(t)
	p := createProject(t, ts, token, "Web")
	exp := createExperiment(t, ts, token, map[string]any{
		"project_id": p["id"].(string),
		"key":        "checkout",
		"name":       "Checkout",
		"kind":       "multi",
	})
	expID := exp["id"].(string)

	var ids []string
	for _, row := range []map[string]any{
		{"experiment_id": expID, "key": "a", "rollout": 0.5},
		{"experiment_id": expID, "key": "b", "rollout": 0.5},
	} {
		body, status := testutil.DoJSON(t, ts, "POST", "/admin/variants/", token, row)
		if status != http.StatusCreated {
			t.Fatalf("create variant failed with %d: %s", status, body)
		}
		var v struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, v.ID)
	}

	// 0.8 + 0.5 (b unchanged) exceeds 1.0: the whole batch must fail even
	// though 0.8 alone would be fine one-by-one after b drops to 0.2.
	body, status := testutil.DoJSON(t, ts, "POST", "/admin/experiments/"+expID+"/bulk_update_variants", token, map[string]any{
		"variants": []map[string]any{{"id": ids[0], "rollout": 0.8}},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}

	// No partial write happened.
	variants, err := s.ListVariants(context.Background(), expID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	for _, v := range variants {
		if v.Rollout != 0.5 {
			t.Fatalf("expected rollouts untouched after rejected batch, got %v on %s", v.Rollout, v.Key)
		}
	}

	// The same rewrite as one atomic batch succeeds.
	body, status = testutil.DoJSON(t, ts, "POST", "/admin/experiments/"+expID+"/bulk_update_variants", token, map[string]any{
		"variants": []map[string]any{
			{"id": ids[0], "rollout": 0.8},
			{"id": ids[1], "rollout": 0.2},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
}

func TestRecalculateAfterReweight(t *testing.T) {
	ts, s, token := adminSetup(t)
	p := createProject(t, ts, token, "Web")
	apiKey := p["api_key"].(string)
	exp := createExperiment(t, ts, token, map[string]any{
		"project_id": p["id"].(string),
		"key":        "checkout",
		"name":       "Checkout",
		"kind":       "multi",
		"status":     "running",
	})
	expID := exp["id"].(string)

	var ids []string
	for _, row := range []map[string]any{
		{"experiment_id": expID, "key": "a", "rollout": 0.5},
		{"experiment_id": expID, "key": "b", "rollout": 0.5},
	} {
		body, status := testutil.DoJSON(t, ts, "POST", "/admin/variants/", token, row)
		if status != http.StatusCreated {
			t.Fatalf("create variant failed with %d: %s", status, body)
		}
		var v struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, v.ID)
	}

	// Populate distributions through the library surface.
	for i := 0; i < 100; i++ {
		_, status := testutil.DoJSON(t, ts, "GET", fmt.Sprintf("/experiments/checkout/variant?api_key=%s&device_id=u%d", apiKey, i), "", nil)
		if status != http.StatusOK {
			t.Fatalf("assignment %d failed with %d", i, status)
		}
	}
	var onB int
	dists, err := s.ListDistributions(context.Background(), store.DistributionFilter{ExperimentID: expID})
	if err != nil {
		t.Fatalf("list distributions: %v", err)
	}
	for _, d := range dists {
		if d.VariantID == ids[1] {
			onB++
		}
	}
	if onB == 0 {
		t.Fatal("expected some users on b under a 50/50 split")
	}

	// Reweight to all-on-a via the bulk endpoint (this also triggers an
	// automatic recalculation for the running experiment).
	body, status := testutil.DoJSON(t, ts, "POST", "/admin/experiments/"+expID+"/bulk_update_variants", token, map[string]any{
		"variants": []map[string]any{
			{"id": ids[0], "rollout": 1.0},
			{"id": ids[1], "rollout": 0.0},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("bulk update failed with %d: %s", status, body)
	}

	// An explicit recalculation right after is a no-op and reports stats.
	body, status = testutil.DoJSON(t, ts, "POST", "/admin/experiments/"+expID+"/recalculate", token, nil)
	if status != http.StatusOK {
		t.Fatalf("recalculate failed with %d: %s", status, body)
	}
	var res struct {
		CountChanged int                `json:"count_changed"`
		Stats        map[string]float64 `json:"stats"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.CountChanged != 0 {
		t.Fatalf("expected 0 changed on second sweep, got %d", res.CountChanged)
	}
	if res.Stats["a"] != 100.0 || res.Stats["b"] != 0.0 {
		t.Fatalf("expected stats {a:100, b:0}, got %v", res.Stats)
	}
}

func TestAdminOwnershipScoping(t *testing.T) {
	ts, s, token := adminSetup(t)
	p := createProject(t, ts, token, "Mine")

	// A second admin cannot see or touch the first admin's project.
	testutil.SeedAdmin(t, s, "other@example.com", "other-password")
	otherToken := testutil.LoginToken(t, ts, "other@example.com", "other-password")

	_, status := testutil.DoJSON(t, ts, "GET", "/admin/projects/"+p["id"].(string), otherToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}

	body, status := testutil.DoJSON(t, ts, "GET", "/admin/projects/", otherToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list failed with %d", status)
	}
	var listing struct {
		Projects []any `json:"projects"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Projects) != 0 {
		t.Fatalf("expected empty listing for the other admin, got %d", len(listing.Projects))
	}
}
