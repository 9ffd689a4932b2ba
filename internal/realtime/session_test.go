package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/goflagship/experiments/internal/distribution"
	"github.com/goflagship/experiments/internal/identity"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store, *store.Project, *store.Experiment, *notify.Hub) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	p := &store.Project{Owner: "o", APIKey: "test-key"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	e := &store.Experiment{ProjectID: p.ID, Key: "checkout", Name: "Checkout", Status: store.ExperimentStatusRunning, Kind: store.ExperimentKindMulti}
	if err := s.CreateExperiment(ctx, e); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	for key, r := range map[string]float64{"a": 0.5, "b": 0.5} {
		v := &store.Variant{ExperimentID: e.ID, Key: key, Rollout: r, Payload: map[string]any{"label": key}}
		if err := s.CreateVariant(ctx, v); err != nil {
			t.Fatalf("create variant: %v", err)
		}
	}

	hub := notify.NewHub()
	resolver := identity.New(s)
	dist := distribution.New(s, hub)
	mgr := New(s, resolver, dist, hub, zerolog.Nop())
	return mgr, s, p, e, hub
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/experiments/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestSubscriptionManager_RejectsMissingAPIKey(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "device_id=d1")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != CloseMissingAPIKey {
		t.Fatalf("expected close code %d, got %d", CloseMissingAPIKey, ce.Code)
	}
}

func TestSubscriptionManager_RejectsInvalidAPIKey(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key=bogus&device_id=d1")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != CloseInvalidAPIKey {
		t.Fatalf("expected close code %d, got %d", CloseInvalidAPIKey, ce.Code)
	}
}

func TestSubscriptionManager_RejectsNoIdentifier(t *testing.T) {
	mgr, _, p, _, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey)
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != CloseNoIdentifier {
		t.Fatalf("expected close code %d, got %d", CloseNoIdentifier, ce.Code)
	}
}

func TestSubscriptionManager_InitialPushSendsExperimentState(t *testing.T) {
	mgr, _, p, e, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey+"&device_id=d1&experiments="+e.Key)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "experiment_state" {
		t.Fatalf("expected experiment_state, got %v", msg["type"])
	}
}

func TestSubscriptionManager_UnknownExperimentKeyIgnored(t *testing.T) {
	mgr, _, p, _, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey+"&device_id=d1&experiments=does-not-exist")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected no message for unknown experiment key, got one")
	}
}

func TestSubscriptionManager_DispatchesExperimentUpdate(t *testing.T) {
	mgr, _, p, e, hub := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey+"&device_id=d1&experiments="+e.Key)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial map[string]any
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	hub.Publish(notify.Event{
		Type:  notify.EventExperimentUpdate,
		Group: "experiment:" + e.ID,
		Payload: notify.ExperimentUpdatePayload{
			Experiment: notify.SummarizeExperiment(e),
			Variant:    notify.VariantSummary{ID: "v1", Key: "a", Payload: map[string]any{"label": "changed"}},
		},
	})

	update := readUntilType(t, conn, "experiment_updated")
	variant, _ := update["variant"].(map[string]any)
	if variant == nil {
		t.Fatalf("expected variant in experiment_updated, got %v", update)
	}
	payload, _ := variant["payload"].(map[string]any)
	if payload["label"] != "changed" {
		t.Fatalf("expected updated payload, got %v", payload)
	}
}

// readUntilType reads messages until one with the wanted type arrives,
// skipping others (the creation-time distribution_updated in particular
// may interleave with what a test is waiting for).
func readUntilType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("no %s message before deadline", want)
	return nil
}

func TestSubscriptionManager_DispatchesDistributionUpdateOnRecalc(t *testing.T) {
	mgr, s, p, e, _ := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey+"&device_id=d1&experiments="+e.Key)
	defer conn.Close()

	initial := readUntilType(t, conn, "experiment_state")
	initialVariant, _ := initial["variant"].(map[string]any)
	initialKey, _ := initialVariant["key"].(string)

	// The assignment created for the initial push is announced too; consume
	// it so the next distribution_updated is the one the recalculation sends.
	readUntilType(t, conn, "distribution_updated")

	// Push all traffic onto the variant the user is NOT on, so the
	// recalculation is guaranteed to move this assignment.
	ctx := context.Background()
	variants, err := s.ListVariants(ctx, e.ID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	var wantKey string
	for _, v := range variants {
		if v.Key == initialKey {
			v.Rollout = 0.0
		} else {
			v.Rollout = 1.0
			wantKey = v.Key
		}
		if err := s.UpdateVariant(ctx, v); err != nil {
			t.Fatalf("update variant: %v", err)
		}
	}

	changed, err := mgr.dist.Recalculate(ctx, e.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 changed distribution, got %d", changed)
	}

	update := readUntilType(t, conn, "distribution_updated")
	variant, _ := update["variant"].(map[string]any)
	if variant["key"] != wantKey {
		t.Fatalf("expected new variant %q, got %v", wantKey, variant["key"])
	}
}

func TestSubscriptionManager_UnsubscribeStopsDelivery(t *testing.T) {
	mgr, _, p, e, hub := newTestManager(t)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	conn := dial(t, srv, "api_key="+p.APIKey+"&device_id=d1&experiments="+e.Key)
	defer conn.Close()

	readUntilType(t, conn, "experiment_state")

	if err := conn.WriteJSON(map[string]string{"type": "unsubscribe_experiment", "experiment_key": e.Key}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	// Give the read loop a moment to process the command.
	time.Sleep(100 * time.Millisecond)

	hub.Publish(notify.Event{
		Type:  notify.EventExperimentUpdate,
		Group: "experiment:" + e.ID,
		Payload: notify.ExperimentUpdatePayload{
			Experiment: notify.SummarizeExperiment(e),
			Variant:    notify.VariantSummary{ID: "v1", Key: "a", Payload: map[string]any{}},
		},
	})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg map[string]any
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			return // timed out with no experiment_updated, as expected
		}
		if msg["type"] == "experiment_updated" {
			t.Fatal("received experiment_updated after unsubscribing")
		}
	}
}
