package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/store"
)

// EntryBuilder provides a fluent API for constructing audit entries from
// an inbound admin request.
//
//	entry := audit.NewEntryBuilder(r, project.ID).
//		ForResource(audit.ResourceTypeExperiment, exp.ID).
//		WithAction(audit.ActionCreated).
//		WithAfterState(payload).
//		Success().
//		Build()
//	service.Log(entry)
type EntryBuilder struct {
	entry store.AuditEntry
}

// NewEntryBuilder initializes a builder with request-scoped metadata and
// the authenticated actor (an admin principal, or ActorKindSystem if none).
func NewEntryBuilder(r *http.Request, projectID string) *EntryBuilder {
	b := &EntryBuilder{
		entry: store.AuditEntry{
			ProjectID: projectID,
			RequestID: middleware.GetReqID(r.Context()),
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Status:    StatusSuccess,
			ActorKind: store.ActorKindSystem,
		},
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		b.entry.ActorKind = store.ActorKindAdmin
		b.entry.ActorID = p.AdminID
	}
	return b
}

// ForResource sets the resource type and ID for the entry.
func (b *EntryBuilder) ForResource(resourceType, resourceID string) *EntryBuilder {
	b.entry.ResourceType = resourceType
	b.entry.ResourceID = resourceID
	return b
}

// WithAction sets the action (created, updated, deleted, ...).
func (b *EntryBuilder) WithAction(action string) *EntryBuilder {
	b.entry.Action = action
	return b
}

// WithBeforeState sets the pre-mutation state.
func (b *EntryBuilder) WithBeforeState(state map[string]any) *EntryBuilder {
	b.entry.BeforeState = state
	return b
}

// WithAfterState sets the post-mutation state.
func (b *EntryBuilder) WithAfterState(state map[string]any) *EntryBuilder {
	b.entry.AfterState = state
	return b
}

// WithChanges sets the computed field-level diff.
func (b *EntryBuilder) WithChanges(changes map[string]any) *EntryBuilder {
	b.entry.Changes = changes
	return b
}

// Success marks the entry as successful (the default).
func (b *EntryBuilder) Success() *EntryBuilder {
	b.entry.Status = StatusSuccess
	return b
}

// Failure marks the entry as failed.
func (b *EntryBuilder) Failure() *EntryBuilder {
	b.entry.Status = StatusFailure
	return b
}

// Build returns the constructed AuditEntry, ready for Service.Log.
func (b *EntryBuilder) Build() *store.AuditEntry {
	e := b.entry
	return &e
}
