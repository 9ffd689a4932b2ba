package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/store"
)

const writeTimeout = 10 * time.Second

// incoming is the envelope for client -> server commands.
type incoming struct {
	Type          string `json:"type"`
	ExperimentKey string `json:"experiment_key"`
}

// experimentStatePayload is the outgoing experiment_state message body.
type experimentStatePayload struct {
	Type       string                   `json:"type"`
	Experiment notify.ExperimentSummary `json:"experiment"`
	Variant    notify.VariantSummary    `json:"variant"`
}

// experimentUpdatedPayload is the outgoing experiment_updated message body.
type experimentUpdatedPayload struct {
	Type       string                   `json:"type"`
	Experiment notify.ExperimentSummary `json:"experiment"`
	Variant    notify.VariantSummary    `json:"variant"`
}

// distributionUpdatedPayload is the outgoing distribution_updated message body.
type distributionUpdatedPayload struct {
	Type       string                   `json:"type"`
	Experiment notify.ExperimentSummary `json:"experiment"`
	Variant    notify.VariantSummary    `json:"variant"`
}

// subscribeExperimentKey resolves an experiment key within the session's
// project, joins its group and pushes the current experiment_state, for
// both the initial push and the subscribe_experiment command. Unknown
// keys are silently ignored.
func (s *session) subscribeExperimentKey(ctx context.Context, key string) {
	exp, err := s.mgr.experimentByKey(ctx, s.project.ID, key)
	if err != nil {
		return
	}
	s.join("experiment:" + exp.ID)

	variants, err := s.mgr.store.ListVariants(ctx, exp.ID)
	if err != nil || len(variants) == 0 {
		return
	}
	d, err := s.mgr.dist.GetOrCreate(ctx, s.user.ID, exp.ID)
	if err != nil {
		return
	}
	var chosen *store.Variant
	for _, v := range variants {
		if v.ID == d.VariantID {
			chosen = v
			break
		}
	}
	if chosen == nil {
		return
	}
	s.send(experimentStatePayload{
		Type:       "experiment_state",
		Experiment: notify.SummarizeExperiment(exp),
		Variant:    notify.SummarizeVariant(chosen),
	})
}

// unsubscribeExperimentKey resolves an experiment key and leaves its group,
// per the unsubscribe_experiment command. Unknown keys are ignored.
func (s *session) unsubscribeExperimentKey(ctx context.Context, key string) {
	exp, err := s.mgr.experimentByKey(ctx, s.project.ID, key)
	if err != nil {
		return
	}
	s.leave("experiment:" + exp.ID)
}

// readLoop reads incoming commands until the connection errors or closes.
func (s *session) readLoop(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg incoming
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe_experiment":
			s.subscribeExperimentKey(ctx, msg.ExperimentKey)
		case "unsubscribe_experiment":
			s.unsubscribeExperimentKey(ctx, msg.ExperimentKey)
		default:
			// unknown types are ignored
		}
	}
}

// dispatchLoop translates notify.Event deliveries into outgoing wire
// messages until done is closed.
func (s *session) dispatchLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-s.sub:
			if !ok {
				return
			}
			s.dispatch(evt)
		}
	}
}

func (s *session) dispatch(evt notify.Event) {
	switch evt.Type {
	case notify.EventExperimentUpdate:
		p, ok := evt.Payload.(notify.ExperimentUpdatePayload)
		if !ok {
			return
		}
		s.send(experimentUpdatedPayload{Type: "experiment_updated", Experiment: p.Experiment, Variant: p.Variant})
	case notify.EventDistributionUpdate:
		p, ok := evt.Payload.(notify.DistributionUpdatePayload)
		if !ok {
			return
		}
		s.send(distributionUpdatedPayload{Type: "distribution_updated", Experiment: p.Experiment, Variant: p.Variant})
	}
}

// send writes one complete JSON message to the connection. Subscribers
// never receive partial events.
func (s *session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.mgr.log.Debug().Err(err).Msg("realtime: write failed")
	}
}
