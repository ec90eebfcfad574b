package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"supportdesk/api/internal/store"
)

type memStore struct {
	mu         sync.Mutex
	hooks      map[string]store.Webhook
	deliveries []store.WebhookDelivery
	deliverErr error
	lastLimit  int
}

func newMemStore(hooks ...store.Webhook) *memStore {
	m := &memStore{hooks: make(map[string]store.Webhook)}
	for i, hook := range hooks {
		hook.CreatedAt = time.Unix(int64(i), 0)
		m.hooks[hook.ID] = hook
	}
	return m
}

func (m *memStore) InsertWebhook(_ context.Context, item store.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.hooks[item.ID] = item
	return nil
}

func (m *memStore) GetWebhook(_ context.Context, webhookID string) (store.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook, ok := m.hooks[webhookID]
	if !ok {
		return store.Webhook{}, sql.ErrNoRows
	}
	return hook, nil
}

func (m *memStore) ListWebhooks(_ context.Context) ([]store.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Webhook, 0, len(m.hooks))
	for _, hook := range m.hooks {
		items = append(items, hook)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

// ListActiveWebhooks returns every hook so the dispatcher's own active check
// is exercised.
func (m *memStore) ListActiveWebhooks(ctx context.Context) ([]store.Webhook, error) {
	return m.ListWebhooks(ctx)
}

func (m *memStore) UpdateWebhook(_ context.Context, item store.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hooks[item.ID]; !ok {
		return sql.ErrNoRows
	}
	item.UpdatedAt = time.Now()
	m.hooks[item.ID] = item
	return nil
}

func (m *memStore) DeleteWebhook(_ context.Context, webhookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hooks[webhookID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.hooks, webhookID)
	return nil
}

func (m *memStore) InsertWebhookDelivery(ctx context.Context, item store.WebhookDelivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliverErr != nil {
		return m.deliverErr
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.deliveries = append(m.deliveries, item)
	return nil
}

func (m *memStore) ListWebhookDeliveries(_ context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	items := make([]store.WebhookDelivery, 0)
	for i := len(m.deliveries) - 1; i >= 0 && len(items) < limit; i-- {
		if m.deliveries[i].WebhookID == webhookID {
			items = append(items, m.deliveries[i])
		}
	}
	return items, nil
}

func (m *memStore) deliveriesFor(webhookID string) []store.WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.WebhookDelivery
	for _, item := range m.deliveries {
		if item.WebhookID == webhookID {
			items = append(items, item)
		}
	}
	return items
}

var errLogDown = errors.New("log table unavailable")
