package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goflagship/experiments/internal/store"
)

const (
	// queueSize is the buffer size for the event queue.
	queueSize = 1000

	// maxResponseBodySize limits how much of the response body is stored.
	maxResponseBodySize = 1024
)

// Dispatcher matches queued Events against a project's active Webhooks
// and delivers each with retry and per-attempt logging.
type Dispatcher struct {
	store  store.Store
	client *http.Client
	queue  chan Event
	done   chan struct{}
	closed int32
	log    zerolog.Logger
}

// NewDispatcher creates a Dispatcher backed by s. Start must be called
// before events are processed.
func NewDispatcher(s store.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  s,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Start begins processing events from the queue.
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close stops accepting new events and waits for the queue to drain.
// Safe to call multiple times.
func (d *Dispatcher) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Dispatch queues an event for delivery. Non-blocking; if the dispatcher
// is closed or the queue is full the event is dropped and logged.
func (d *Dispatcher) Dispatch(event Event) {
	if atomic.LoadInt32(&d.closed) == 1 {
		d.log.Warn().Str("type", event.Type).Str("resource", event.Resource.Key).
			Msg("webhook dispatcher closed, dropping event")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.log.Warn().Str("type", event.Type).Str("resource", event.Resource.Key).
			Msg("webhook queue full, dropping event")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for event := range d.queue {
		webhooks, err := d.matchingWebhooks(context.Background(), event)
		if err != nil {
			d.log.Error().Err(err).Str("type", event.Type).Msg("failed to list webhooks")
			continue
		}
		for _, wh := range webhooks {
			d.deliverWithRetry(context.Background(), wh, event)
		}
	}
}

func (d *Dispatcher) matchingWebhooks(ctx context.Context, event Event) ([]*store.Webhook, error) {
	all, err := d.store.ListActiveWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	var matching []*store.Webhook
	for _, wh := range all {
		if matches(wh, event) {
			matching = append(matching, wh)
		}
	}
	return matching, nil
}

// matches reports whether wh should receive event: same project, and
// event.Type present in wh.Events.
func matches(wh *store.Webhook, event Event) bool {
	if wh.ProjectID != event.ProjectID {
		return false
	}
	for _, e := range wh.Events {
		if e == event.Type {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, wh *store.Webhook, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.log.Error().Err(err).Str("webhook_id", wh.ID).Msg("failed to marshal event")
		d.logDelivery(ctx, wh.ID, event.Type, nil, 0, "", err.Error(), 0, false, 0)
		return
	}

	signature := SignPayload(payload, wh.Secret)
	deliveryID := uuid.NewString()
	timeout := time.Duration(wh.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	attempt := 0
	err = retry.Do(
		func() error {
			start := time.Now()

			req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(payload))
			if err != nil {
				d.logDelivery(ctx, wh.ID, event.Type, payload, 0, "", err.Error(), 0, false, attempt)
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Flagship-Signature", signature)
			req.Header.Set("X-Flagship-Event", event.Type)
			req.Header.Set("X-Flagship-Delivery", deliveryID)

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			resp, err := d.client.Do(req.WithContext(reqCtx))
			cancel()

			duration := time.Since(start)
			var statusCode int
			var responseBody, errorMsg string
			if err != nil {
				errorMsg = err.Error()
			} else {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
				responseBody = string(body)
				statusCode = resp.StatusCode
				resp.Body.Close()
			}

			success := err == nil && statusCode >= 200 && statusCode < 300
			d.logDelivery(ctx, wh.ID, event.Type, payload, statusCode, responseBody, errorMsg, int(duration.Milliseconds()), success, attempt)
			attempt++

			if success {
				return nil
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("webhook: endpoint returned %d", statusCode)
		},
		retry.Context(ctx),
		retry.Attempts(uint(wh.MaxRetries)+1),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.log.Warn().Str("webhook_id", wh.ID).Uint("attempt", n+1).Err(err).
				Msg("webhook delivery failed, retrying")
		}),
	)
	if err != nil {
		d.log.Error().Str("webhook_id", wh.ID).Int("attempts", attempt).Err(err).
			Msg("webhook delivery failed permanently")
		return
	}
	_ = d.store.TouchWebhookTriggered(ctx, wh.ID, time.Now().UTC())
}

func (d *Dispatcher) logDelivery(ctx context.Context, webhookID, eventType string, payload []byte, statusCode int, responseBody, errorMsg string, durationMs int, success bool, retryCount int) {
	delivery := &store.WebhookDelivery{
		WebhookID:    webhookID,
		EventType:    eventType,
		Payload:      payload,
		StatusCode:   statusCode,
		ResponseBody: responseBody,
		ErrorMessage: errorMsg,
		DurationMs:   durationMs,
		Success:      success,
		RetryCount:   retryCount,
	}
	if err := d.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		d.log.Error().Err(err).Str("webhook_id", webhookID).Msg("failed to record webhook delivery")
	}
}
