package app

import (
	"context"
	"strings"

	"supportdesk/api/internal/validation"
	"supportdesk/api/internal/webhooks"
)

func (s *Service) CreateWebhook(ctx context.Context, session Session, input webhooks.CreateInput) (webhooks.View, error) {
	hook, err := s.registry.Create(ctx, session.UserID, input)
	if err != nil {
		return webhooks.View{}, err
	}
	return webhooks.NewView(hook), nil
}

func (s *Service) GetWebhook(ctx context.Context, webhookID string) (webhooks.View, error) {
	hook, err := s.registry.Get(ctx, webhookID)
	if err != nil {
		return webhooks.View{}, err
	}
	return webhooks.NewView(hook), nil
}

func (s *Service) ListWebhooks(ctx context.Context) ([]webhooks.View, error) {
	hooks, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]webhooks.View, 0, len(hooks))
	for _, hook := range hooks {
		views = append(views, webhooks.NewView(hook))
	}
	return views, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, webhookID string, input webhooks.UpdateInput) (webhooks.View, error) {
	hook, err := s.registry.Update(ctx, webhookID, input)
	if err != nil {
		return webhooks.View{}, err
	}
	return webhooks.NewView(hook), nil
}

func (s *Service) DeleteWebhook(ctx context.Context, webhookID string) error {
	return s.registry.Delete(ctx, webhookID)
}

func (s *Service) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]webhooks.DeliveryView, error) {
	items, err := s.registry.ListDeliveries(ctx, webhookID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]webhooks.DeliveryView, 0, len(items))
	for _, item := range items {
		views = append(views, webhooks.NewDeliveryView(item))
	}
	return views, nil
}

// TestWebhook sends a webhook.test event to one webhook and waits for the outcome.
func (s *Service) TestWebhook(ctx context.Context, webhookID string) (webhooks.ResultView, error) {
	result, err := s.dispatcher.Test(ctx, webhookID)
	if err != nil {
		return webhooks.ResultView{}, err
	}
	return webhooks.NewResultView(result), nil
}

type InternalEventInput struct {
	Type       string         `json:"type"`
	CustomerID string         `json:"customerId"`
	Data       map[string]any `json:"data"`
}

// DispatchInternal fans out an event raised by another service. Unlike
// events from conversation writes, the dispatch runs in the request.
func (s *Service) DispatchInternal(ctx context.Context, input InternalEventInput) (webhooks.Event, []webhooks.ResultView, error) {
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return webhooks.Event{}, nil, validation.Fail("type", "required", "type is required")
	}
	if eventType == webhooks.Wildcard || !webhooks.IsKnownEvent(eventType) {
		return webhooks.Event{}, nil, validation.Fail("type", "event", "type must be a known event")
	}

	event := webhooks.NewEvent(webhooks.EventType(eventType), input.Data)
	if s.hub != nil {
		s.hub.Publish(eventType, strings.TrimSpace(input.CustomerID), event.Data)
	}
	results, err := s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		return webhooks.Event{}, nil, err
	}
	views := make([]webhooks.ResultView, 0, len(results))
	for _, result := range results {
		views = append(views, webhooks.NewResultView(result))
	}
	return event, views, nil
}
