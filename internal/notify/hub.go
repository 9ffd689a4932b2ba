// Package notify is the Change Notifier: it publishes events to named
// groups (user:{id}, project:{id}, experiment:{id}) and lets sessions
// join and leave groups.
package notify

import "sync"

// EventType discriminates the two events the Change Notifier emits.
type EventType string

const (
	EventExperimentUpdate  EventType = "experiment_update"
	EventDistributionUpdate EventType = "distribution_update"
)

// Event is published to a group. Payload carries whatever shape the
// corresponding outgoing message needs; the Subscription Manager
// translates it into the wire message.
type Event struct {
	Type    EventType
	Group   string
	Payload any
}

// Sub is one session's inbound event channel, returned by Hub.Subscribe.
type Sub = chan Event

// Hub is the group pub/sub registry. One Hub instance is shared by the
// HTTP/admin layer (publisher) and the realtime Subscription Manager
// (subscriber).
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[Sub]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[Sub]struct{})}
}

// NewSub allocates a session's event channel. Buffered so one slow
// consumer doesn't make Publish block.
func NewSub() Sub {
	return make(Sub, 16)
}

// Join registers ch to receive events published to group.
func (h *Hub) Join(ch Sub, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.groups[group]
	if !ok {
		set = make(map[Sub]struct{})
		h.groups[group] = set
	}
	set[ch] = struct{}{}
}

// Leave removes ch from group. Safe to call for a group ch never joined.
func (h *Hub) Leave(ch Sub, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.groups[group]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.groups, group)
	}
}

// LeaveAll removes ch from every group it belongs to, for session
// termination.
func (h *Hub) LeaveAll(ch Sub, groups []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		if set, ok := h.groups[g]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.groups, g)
			}
		}
	}
}

// Publish fans evt out to every channel currently joined to evt.Group,
// non-blocking per subscriber: a slow or dead session is skipped rather
// than allowed to stall the publisher.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.groups[evt.Group] {
		select {
		case ch <- evt:
		default:
		}
	}
}
