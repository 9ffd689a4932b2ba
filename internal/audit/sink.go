package audit

import (
	"context"
	"sync"

	"github.com/goflagship/experiments/internal/store"
)

// StoreSink persists audit entries through the main Store, landing them
// in the audit_log table alongside every other domain write.
type StoreSink struct {
	store store.Store
}

// NewStoreSink wraps s as a Sink.
func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (sk *StoreSink) Write(ctx context.Context, entry *store.AuditEntry) error {
	return sk.store.CreateAuditEntry(ctx, entry)
}

// MemorySink accumulates entries in-process, for tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []*store.AuditEntry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (sk *MemorySink) Write(ctx context.Context, entry *store.AuditEntry) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.entries = append(sk.entries, entry)
	return nil
}

// Entries returns a snapshot of everything written so far.
func (sk *MemorySink) Entries() []*store.AuditEntry {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	out := make([]*store.AuditEntry, len(sk.entries))
	copy(out, sk.entries)
	return out
}
