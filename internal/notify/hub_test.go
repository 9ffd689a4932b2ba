package notify

import (
	"testing"
	"time"
)

func TestHub_PublishDeliversToJoinedGroup(t *testing.T) {
	h := NewHub()
	ch := NewSub()
	h.Join(ch, "experiment:e1")

	h.Publish(Event{Type: EventExperimentUpdate, Group: "experiment:e1", Payload: "hello"})

	select {
	case evt := <-ch:
		if evt.Payload != "hello" {
			t.Errorf("unexpected payload: %v", evt.Payload)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestHub_PublishDoesNotCrossGroups(t *testing.T) {
	h := NewHub()
	ch := NewSub()
	h.Join(ch, "experiment:e1")

	h.Publish(Event{Type: EventExperimentUpdate, Group: "experiment:e2", Payload: "other"})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event delivered: %v", evt)
	default:
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	ch := NewSub()
	h.Join(ch, "user:u1")
	h.Leave(ch, "user:u1")

	h.Publish(Event{Type: EventDistributionUpdate, Group: "user:u1", Payload: nil})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after leave: %v", evt)
	default:
	}
}

func TestHub_LeaveAllClearsEverything(t *testing.T) {
	h := NewHub()
	ch := NewSub()
	h.Join(ch, "user:u1")
	h.Join(ch, "project:p1")

	h.LeaveAll(ch, []string{"user:u1", "project:p1"})

	h.Publish(Event{Type: EventDistributionUpdate, Group: "user:u1", Payload: nil})
	h.Publish(Event{Type: EventExperimentUpdate, Group: "project:p1", Payload: nil})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after leave-all: %v", evt)
	default:
	}
}

func TestHub_PublishNonBlockingOnFullChannel(t *testing.T) {
	h := NewHub()
	ch := make(Sub, 1)
	h.Join(ch, "g")
	ch <- Event{}
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Group: "g"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
