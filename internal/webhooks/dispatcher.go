package webhooks

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"supportdesk/api/internal/logging"
	"supportdesk/api/internal/metrics"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/util"
)

// DeliveryStore is the persistence the dispatcher needs.
type DeliveryStore interface {
	ListActiveWebhooks(ctx context.Context) ([]store.Webhook, error)
	GetWebhook(ctx context.Context, webhookID string) (store.Webhook, error)
	InsertWebhookDelivery(ctx context.Context, item store.WebhookDelivery) error
}

// Deliverer sends one event to one webhook.
type Deliverer interface {
	Send(ctx context.Context, hook store.Webhook, event Event) Result
}

// Dispatcher fans events out to subscribed webhooks.
type Dispatcher struct {
	store       DeliveryStore
	sender      Deliverer
	concurrency int
	log         zerolog.Logger
}

func NewDispatcher(store DeliveryStore, sender Deliverer, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		concurrency: concurrency,
		log:         logging.Component("webhooks"),
	}
}

// Dispatch delivers event to every active webhook subscribed to its type and
// waits for all attempts. A failing subscriber does not affect the others.
// The error is only non-nil when the subscriber list cannot be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) ([]Result, error) {
	hooks, err := d.store.ListActiveWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	matched := make([]store.Webhook, 0, len(hooks))
	for _, hook := range hooks {
		if hook.IsActive && Subscribes(hook.Events, event.Type) {
			matched = append(matched, hook)
		}
	}
	if len(matched) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(matched))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, hook := range matched {
		g.Go(func() error {
			results[i] = d.deliver(ctx, hook, event)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	d.log.Info().
		Str("event_id", event.ID).
		Str("event", string(event.Type)).
		Int("subscribers", len(matched)).
		Int("failed", failed).
		Msg("event dispatched")
	return results, nil
}

// Test sends a webhook.test event to one webhook, ignoring its event filter
// and active flag.
func (d *Dispatcher) Test(ctx context.Context, webhookID string) (Result, error) {
	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return Result{}, err
	}
	event := NewEvent(EventWebhookTest, map[string]any{
		"webhookId": hook.ID,
		"name":      hook.Name,
		"message":   "This is a test delivery.",
	})
	return d.deliver(ctx, hook, event), nil
}

func (d *Dispatcher) deliver(ctx context.Context, hook store.Webhook, event Event) Result {
	result := d.sender.Send(ctx, hook, event)
	result.DeliveryID = util.NewID("dlv")
	metrics.RecordWebhookDelivery(string(event.Type), result.Status, result.Duration)

	record := store.WebhookDelivery{
		ID:             result.DeliveryID,
		WebhookID:      hook.ID,
		EventID:        event.ID,
		EventType:      string(event.Type),
		Payload:        stripNULEscapes(result.Payload),
		Status:         result.Status,
		ResponseStatus: result.ResponseStatus,
		ResponseBody:   result.ResponseBody,
		ErrorMessage:   result.Error,
		DurationMS:     result.Duration.Milliseconds(),
	}
	if len(record.Payload) == 0 {
		record.Payload = []byte("{}")
	}
	// The attempt is logged even when the caller has gone away.
	if err := d.store.InsertWebhookDelivery(context.WithoutCancel(ctx), record); err != nil {
		d.log.Error().Err(err).
			Str("webhook_id", hook.ID).
			Str("event_id", event.ID).
			Msg("write delivery log")
	}

	if !result.OK() {
		d.log.Warn().
			Str("webhook_id", hook.ID).
			Str("event", string(event.Type)).
			Str("error", result.Error).
			Msg("webhook delivery failed")
	}
	return result
}

// stripNULEscapes drops \u0000 escapes from an encoded JSON document. Postgres
// jsonb cannot store them.
func stripNULEscapes(raw []byte) []byte {
	if !bytes.Contains(raw, nulEscape) {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}
		if bytes.HasPrefix(raw[i:], nulEscape) {
			i += len(nulEscape) - 1
			continue
		}
		out = append(out, raw[i], raw[i+1])
		i++
	}
	return out
}

var nulEscape = []byte(`\u0000`)
