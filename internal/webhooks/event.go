// Package webhooks delivers domain events to registered HTTP endpoints.
//
// A Registry stores webhook configurations, a Dispatcher fans one event out
// to every active subscriber, and a Sender performs the single HTTP POST for
// each of them. Every attempt is written to the delivery log.
package webhooks

import (
	"time"

	"github.com/goccy/go-json"

	"supportdesk/api/internal/util"
)

type EventType string

const (
	EventConversationCreated       EventType = "conversation.created"
	EventConversationStatusChanged EventType = "conversation.status_changed"
	EventConversationAssigned      EventType = "conversation.assigned"
	EventMessageCreated            EventType = "message.created"
	EventWebhookTest               EventType = "webhook.test"

	// Wildcard subscribes a webhook to every event type.
	Wildcard = "*"
)

// KnownEvents lists the event types a webhook may subscribe to.
var KnownEvents = []EventType{
	EventConversationCreated,
	EventConversationStatusChanged,
	EventConversationAssigned,
	EventMessageCreated,
	EventWebhookTest,
}

// IsKnownEvent reports whether name is a subscribable event or the wildcard.
func IsKnownEvent(name string) bool {
	if name == Wildcard {
		return true
	}
	for _, known := range KnownEvents {
		if string(known) == name {
			return true
		}
	}
	return false
}

// Event is one domain occurrence fanned out to subscribers.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Data       map[string]any
}

func NewEvent(eventType EventType, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:         util.NewID("evt"),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type envelope struct {
	ID        string         `json:"id"`
	Event     EventType      `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Payload is the JSON body POSTed to subscribers.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(envelope{
		ID:        e.ID,
		Event:     e.Type,
		Timestamp: e.OccurredAt.UTC().Format(time.RFC3339),
		Data:      e.Data,
	})
}

// Subscribes reports whether a webhook filtering on events wants eventType.
func Subscribes(events []string, eventType EventType) bool {
	for _, name := range events {
		if name == Wildcard || name == string(eventType) {
			return true
		}
	}
	return false
}
