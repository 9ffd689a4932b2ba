package webhook

import (
	"encoding/json"
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		webhook store.Webhook
		event   Event
		want    bool
	}{
		{
			name:    "matches event type and project",
			webhook: store.Webhook{ProjectID: "p1", Events: []string{EventExperimentCreated, EventExperimentUpdated}},
			event:   Event{ProjectID: "p1", Type: EventExperimentUpdated},
			want:    true,
		},
		{
			name:    "does not match event type",
			webhook: store.Webhook{ProjectID: "p1", Events: []string{EventExperimentCreated}},
			event:   Event{ProjectID: "p1", Type: EventExperimentDeleted},
			want:    false,
		},
		{
			name:    "does not match project",
			webhook: store.Webhook{ProjectID: "p1", Events: []string{EventExperimentUpdated}},
			event:   Event{ProjectID: "p2", Type: EventExperimentUpdated},
			want:    false,
		},
		{
			name:    "multiple event types",
			webhook: store.Webhook{ProjectID: "p1", Events: []string{EventExperimentCreated, EventVariantUpdated, EventExperimentDeleted}},
			event:   Event{ProjectID: "p1", Type: EventExperimentDeleted},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matches(&tt.webhook, tt.event)
			if got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	event := Event{
		Type:      EventVariantUpdated,
		ProjectID: "proj_1",
		Resource: Resource{
			Type: "variant",
			Key:  "control",
		},
		Data: EventData{
			Before:  map[string]any{"rollout": 0.5},
			After:   map[string]any{"rollout": 0.6},
			Changes: map[string]any{"rollout": map[string]any{"before": 0.5, "after": 0.6}},
		},
		Metadata: Metadata{
			ActorID:   "admin_1",
			IPAddress: "192.168.1.100",
			RequestID: "req-456",
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("marshaled event is empty")
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if decoded.Type != event.Type {
		t.Errorf("type mismatch: got %v, want %v", decoded.Type, event.Type)
	}
	if decoded.ProjectID != event.ProjectID {
		t.Errorf("project_id mismatch: got %v, want %v", decoded.ProjectID, event.ProjectID)
	}
}
