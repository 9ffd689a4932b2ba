// Package webhook dispatches change events to project-scoped HTTP
// delivery targets, with HMAC-signed payloads and retried delivery.
//
// Flow:
//  1. A handler or service builds an Event and calls Dispatcher.Dispatch
//  2. The event is queued on a buffered channel (non-blocking, async)
//  3. A background worker looks up active webhooks for the event's
//     project and type, and delivers to each with exponential backoff
//  4. Every attempt is recorded via store.CreateWebhookDelivery
package webhook

import "time"

// Event types that can trigger webhooks.
const (
	EventExperimentCreated    = "experiment.created"
	EventExperimentUpdated    = "experiment.updated"
	EventExperimentDeleted    = "experiment.deleted"
	EventVariantCreated       = "variant.created"
	EventVariantUpdated       = "variant.updated"
	EventVariantDeleted       = "variant.deleted"
	EventDistributionUpdated = "distribution.updated"
)

// Event is what gets queued for delivery to subscribed webhooks.
type Event struct {
	Type      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id"`
	Resource  Resource       `json:"resource"`
	Data      EventData      `json:"data"`
	Metadata  Metadata       `json:"metadata"`
}

// Resource identifies the resource that triggered the event.
type Resource struct {
	Type string `json:"type"` // "experiment", "variant", "distribution"
	Key  string `json:"key"`
}

// EventData carries before/after state and a computed diff.
type EventData struct {
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

// Metadata carries request-scoped context about what triggered the event.
type Metadata struct {
	ActorID   string `json:"actor_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
