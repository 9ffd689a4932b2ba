package webhook

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/goflagship/experiments/internal/auth"
)

// EventBuilder provides a fluent API for constructing webhook events from
// an inbound admin request.
//
//	event := webhook.NewEventBuilder(r, projectID).
//		ForResource("experiment", exp.Key).
//		WithStates(before, after).
//		WithChanges(changes).
//		Build()
//	dispatcher.Dispatch(event)
type EventBuilder struct {
	event Event
}

// NewEventBuilder initializes a builder with request-scoped metadata:
// request ID, remote address (set by middleware.RealIP upstream), and the
// authenticated admin principal if present.
func NewEventBuilder(r *http.Request, projectID string) *EventBuilder {
	metadata := Metadata{
		RequestID: middleware.GetReqID(r.Context()),
		IPAddress: r.RemoteAddr,
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		metadata.ActorID = p.AdminID
	}
	return &EventBuilder{
		event: Event{
			Timestamp: time.Now(),
			ProjectID: projectID,
			Metadata:  metadata,
		},
	}
}

// ForResource sets the resource the event is about.
func (b *EventBuilder) ForResource(resourceType, key string) *EventBuilder {
	b.event.Resource = Resource{Type: resourceType, Key: key}
	return b
}

// WithStates sets before/after state and derives the event type:
//
//	before=nil, after!=nil → created
//	before!=nil, after=nil → deleted
//	both non-nil          → updated
func (b *EventBuilder) WithStates(before, after map[string]any) *EventBuilder {
	b.event.Data.Before = before
	b.event.Data.After = after
	switch {
	case before == nil && after != nil:
		b.event.Type = eventTypeFor(b.event.Resource.Type, "created")
	case before != nil && after == nil:
		b.event.Type = eventTypeFor(b.event.Resource.Type, "deleted")
	case before != nil && after != nil:
		b.event.Type = eventTypeFor(b.event.Resource.Type, "updated")
	}
	return b
}

func eventTypeFor(resourceType, action string) string {
	return resourceType + "." + action
}

// WithChanges sets the computed field-level diff.
func (b *EventBuilder) WithChanges(changes map[string]any) *EventBuilder {
	b.event.Data.Changes = changes
	return b
}

// Build returns the constructed Event, ready for Dispatcher.Dispatch.
func (b *EventBuilder) Build() Event {
	return b.event
}
