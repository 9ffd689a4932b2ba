// Package audit records who did what to which resource, asynchronously
// and with sensitive fields redacted, via a pluggable Sink.
package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/store"
)

// Action names for AuditEntry.Action.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionRecalc   = "recalculated"
	ActionAuthFail = "auth_failed"
)

// Resource type names for AuditEntry.ResourceType.
const (
	ResourceTypeProject    = "project"
	ResourceTypeExperiment = "experiment"
	ResourceTypeVariant    = "variant"
	ResourceTypeUser       = "user"
)

// Status names for AuditEntry.Status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Clock is a testable source of the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator is a testable source of audit entry IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator implements IDGenerator using google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string { return uuid.NewString() }

// Redactor strips sensitive values out of a before/after state map.
type Redactor interface {
	Redact(data map[string]any) map[string]any
}

// DefaultRedactor blanks out a fixed set of sensitive key names,
// recursing into nested maps.
type DefaultRedactor struct {
	sensitiveKeys []string
}

// NewDefaultRedactor returns a DefaultRedactor with a standard key list.
func NewDefaultRedactor() *DefaultRedactor {
	return &DefaultRedactor{
		sensitiveKeys: []string{
			"password", "password_hash", "secret", "token", "api_key",
			"authorization", "cookie", "session",
		},
	}
}

func (r *DefaultRedactor) Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	redacted := make(map[string]any, len(data))
	for k, v := range data {
		sensitive := false
		for _, s := range r.sensitiveKeys {
			if k == s {
				sensitive = true
				break
			}
		}
		switch {
		case sensitive:
			redacted[k] = "[REDACTED]"
		case isNestedMap(v):
			redacted[k] = r.Redact(v.(map[string]any))
		default:
			redacted[k] = v
		}
	}
	return redacted
}

func isNestedMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// Sink persists one AuditEntry. StoreSink (sink.go) is the production
// implementation, backed by store.Store.CreateAuditEntry.
type Sink interface {
	Write(ctx context.Context, entry *store.AuditEntry) error
}

// Service queues AuditEntry writes and flushes them on a background
// worker so audit logging never blocks the request path.
type Service struct {
	sink     Sink
	clock    Clock
	idgen    IDGenerator
	redactor Redactor
	queue    chan *store.AuditEntry
	stopCh   chan struct{}
	closed   int32
	log      zerolog.Logger
}

// NewService creates a Service and starts its background worker. A nil
// clock/idgen/redactor falls back to the defaults above.
func NewService(sink Sink, clock Clock, idgen IDGenerator, redactor Redactor, queueSize int, log zerolog.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	if redactor == nil {
		redactor = NewDefaultRedactor()
	}
	s := &Service{
		sink:     sink,
		clock:    clock,
		idgen:    idgen,
		redactor: redactor,
		queue:    make(chan *store.AuditEntry, queueSize),
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "audit").Logger(),
	}
	go s.worker()
	return s
}

func (s *Service) worker() {
	for {
		select {
		case entry := <-s.queue:
			s.write(entry)
		case <-s.stopCh:
			for len(s.queue) > 0 {
				s.write(<-s.queue)
			}
			return
		}
	}
}

func (s *Service) write(entry *store.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Write(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("resource_type", entry.ResourceType).Str("resource_id", entry.ResourceID).
			Msg("failed to write audit entry")
	}
}

// Close signals the background worker to stop; the worker writes any
// entries still queued before it exits. Close returns without waiting for
// that to finish. Safe to call multiple times.
func (s *Service) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.stopCh)
	return nil
}

// Log redacts before/after state and queues entry for asynchronous
// persistence. Non-blocking; if the queue is full the entry is dropped.
func (s *Service) Log(entry *store.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	if entry.ID == "" {
		entry.ID = s.idgen.Generate()
	}
	if entry.BeforeState != nil {
		entry.BeforeState = s.redactor.Redact(entry.BeforeState)
	}
	if entry.AfterState != nil {
		entry.AfterState = s.redactor.Redact(entry.AfterState)
	}
	select {
	case s.queue <- entry:
	default:
		s.log.Warn().Str("resource_type", entry.ResourceType).Str("resource_id", entry.ResourceID).
			Msg("audit queue full, dropping entry")
	}
}

// LogFromRequest fills RequestID/ActorKind/ActorID/IPAddress from r and
// queues the entry.
func (s *Service) LogFromRequest(r *http.Request, entry *store.AuditEntry) {
	entry.RequestID = middleware.GetReqID(r.Context())
	entry.IPAddress = r.RemoteAddr
	entry.UserAgent = r.UserAgent()
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		entry.ActorKind = store.ActorKindAdmin
		entry.ActorID = p.AdminID
	} else {
		entry.ActorKind = store.ActorKindSystem
	}
	s.Log(entry)
}

// ComputeChanges returns a before/after diff of every key that changed
// or was added/removed between before and after, or nil if identical.
func ComputeChanges(before, after map[string]any) map[string]any {
	if before == nil && after == nil {
		return nil
	}
	if before == nil {
		before = map[string]any{}
	}
	if after == nil {
		after = map[string]any{}
	}
	changes := make(map[string]any)
	for key, afterVal := range after {
		beforeVal, existed := before[key]
		beforeJSON, _ := json.Marshal(beforeVal)
		afterJSON, _ := json.Marshal(afterVal)
		if !existed || string(beforeJSON) != string(afterJSON) {
			changes[key] = map[string]any{"before": beforeVal, "after": afterVal}
		}
	}
	for key, beforeVal := range before {
		if _, existsAfter := after[key]; !existsAfter {
			changes[key] = map[string]any{"before": beforeVal, "after": nil}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}
