package webhooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"supportdesk/api/internal/store"
	"supportdesk/api/internal/validation"
)

func ptr[T any](v T) *T { return &v }

func TestCreateValidatesPerScheme(t *testing.T) {
	cases := []struct {
		name  string
		input CreateInput
		field string
	}{
		{name: "missing url", input: CreateInput{Name: "a", Events: []string{"*"}}, field: "url"},
		{name: "non http url", input: CreateInput{Name: "a", URL: "ftp://example.com", Events: []string{"*"}}, field: "url"},
		{name: "no events", input: CreateInput{Name: "a", URL: "https://example.com/hook"}, field: "events"},
		{name: "unknown event", input: CreateInput{Name: "a", URL: "https://example.com/hook", Events: []string{"ticket.created"}}, field: "events"},
		{name: "bad auth type", input: CreateInput{Name: "a", URL: "https://example.com/hook", Events: []string{"*"}, AuthType: "digest"}, field: "authType"},
		{name: "bearer without token", input: CreateInput{Name: "a", URL: "https://example.com/hook", Events: []string{"*"}, AuthType: "bearer"}, field: "authToken"},
		{name: "basic without password", input: CreateInput{Name: "a", URL: "https://example.com/hook", Events: []string{"*"}, AuthType: "basic", AuthUsername: "u"}, field: "authPassword"},
		{name: "hmac without secret", input: CreateInput{Name: "a", URL: "https://example.com/hook", Events: []string{"*"}, AuthType: "hmac"}, field: "secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry := NewRegistry(newMemStore())
			_, err := registry.Create(context.Background(), "usr_admin", tc.input)
			var verr *validation.Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Fields[0].Field != tc.field {
				t.Fatalf("expected field %q, got %+v", tc.field, verr.Fields)
			}
		})
	}
}

func TestCreateNormalizesAndMasks(t *testing.T) {
	mem := newMemStore()
	registry := NewRegistry(mem)

	hook, err := registry.Create(context.Background(), "usr_admin", CreateInput{
		Name:      "  CRM  ",
		URL:       "https://crm.example.com/hooks",
		Events:    []string{"message.created", "message.created", " conversation.created "},
		AuthType:  "HMAC",
		AuthToken: "stray",
		Secret:    "shh",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if hook.Name != "CRM" || hook.AuthType != "hmac" || !hook.IsActive || hook.CreatedBy != "usr_admin" {
		t.Fatalf("unexpected webhook: %+v", hook)
	}
	if len(hook.Events) != 2 {
		t.Fatalf("expected deduplicated events, got %v", hook.Events)
	}
	if hook.AuthToken != "" {
		t.Fatalf("expected unused credentials dropped, got token %q", hook.AuthToken)
	}

	view := NewView(hook)
	if !view.HasSecret || view.HasAuthToken {
		t.Fatalf("unexpected credential flags: %+v", view)
	}
}

func TestUpdateIsPartial(t *testing.T) {
	mem := newMemStore()
	registry := NewRegistry(mem)
	created, err := registry.Create(context.Background(), "usr_admin", CreateInput{
		Name:      "CRM",
		URL:       "https://crm.example.com/hooks",
		Events:    []string{"*"},
		AuthType:  "bearer",
		AuthToken: "tok",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := registry.Update(context.Background(), created.ID, UpdateInput{
		Name:     ptr("CRM v2"),
		IsActive: ptr(false),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "CRM v2" || updated.IsActive {
		t.Fatalf("expected patched fields, got %+v", updated)
	}
	if updated.AuthToken != "tok" || updated.URL != created.URL {
		t.Fatalf("expected untouched fields kept, got %+v", updated)
	}

	if _, err := registry.Update(context.Background(), created.ID, UpdateInput{AuthType: ptr("basic")}); err == nil {
		t.Fatal("expected switching to basic without credentials to fail")
	}
	if _, err := registry.Update(context.Background(), "whk_missing", UpdateInput{}); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListDeliveriesClampsLimit(t *testing.T) {
	mem := newMemStore(store.Webhook{ID: "whk_1"})
	registry := NewRegistry(mem)

	if _, err := registry.ListDeliveries(context.Background(), "whk_1", 0); err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if mem.lastLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", mem.lastLimit)
	}
	if _, err := registry.ListDeliveries(context.Background(), "whk_1", 1000); err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if mem.lastLimit != 200 {
		t.Fatalf("expected limit capped at 200, got %d", mem.lastLimit)
	}
	if _, err := registry.ListDeliveries(context.Background(), "whk_missing", 10); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListDeliveriesNewestFirst(t *testing.T) {
	mem := newMemStore(store.Webhook{ID: "whk_1"}, store.Webhook{ID: "whk_2"})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.deliveries = []store.WebhookDelivery{
		{ID: "dlv_b", WebhookID: "whk_1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "dlv_other", WebhookID: "whk_2", CreatedAt: base.Add(5 * time.Minute)},
		{ID: "dlv_c", WebhookID: "whk_1", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "dlv_a", WebhookID: "whk_1", CreatedAt: base.Add(time.Minute)},
	}
	registry := NewRegistry(mem)

	items, err := registry.ListDeliveries(context.Background(), "whk_1", 10)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.ID)
	}
	if strings.Join(got, ",") != "dlv_c,dlv_b,dlv_a" {
		t.Fatalf("expected newest first, got %v", got)
	}

	items, err = registry.ListDeliveries(context.Background(), "whk_1", 2)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected limit to apply, got %d rows", len(items))
	}
}
