package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"supportdesk/api/internal/store"
	"supportdesk/api/internal/util"
	"supportdesk/api/internal/validation"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 200
)

// RegistryStore is the persistence behind Registry.
type RegistryStore interface {
	InsertWebhook(ctx context.Context, item store.Webhook) error
	GetWebhook(ctx context.Context, webhookID string) (store.Webhook, error)
	ListWebhooks(ctx context.Context) ([]store.Webhook, error)
	UpdateWebhook(ctx context.Context, item store.Webhook) error
	DeleteWebhook(ctx context.Context, webhookID string) error
	ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error)
}

// Registry manages webhook configurations.
type Registry struct {
	store RegistryStore
}

func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store}
}

// View is a webhook as returned by the API. Credentials are replaced by flags.
type View struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	Events          []string  `json:"events"`
	AuthType        string    `json:"authType"`
	AuthUsername    string    `json:"authUsername,omitempty"`
	HasAuthToken    bool      `json:"hasAuthToken"`
	HasAuthPassword bool      `json:"hasAuthPassword"`
	HasSecret       bool      `json:"hasSecret"`
	IsActive        bool      `json:"isActive"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func NewView(hook store.Webhook) View {
	events := hook.Events
	if events == nil {
		events = []string{}
	}
	return View{
		ID:              hook.ID,
		Name:            hook.Name,
		URL:             hook.URL,
		Events:          events,
		AuthType:        hook.AuthType,
		AuthUsername:    hook.AuthUsername,
		HasAuthToken:    hook.AuthToken != "",
		HasAuthPassword: hook.AuthPassword != "",
		HasSecret:       hook.Secret != "",
		IsActive:        hook.IsActive,
		CreatedBy:       hook.CreatedBy,
		CreatedAt:       hook.CreatedAt,
		UpdatedAt:       hook.UpdatedAt,
	}
}

type DeliveryView struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhookId"`
	EventID        string          `json:"eventId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	ResponseStatus *int            `json:"responseStatus"`
	ResponseBody   string          `json:"responseBody"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	DurationMS     int64           `json:"durationMs"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func NewDeliveryView(item store.WebhookDelivery) DeliveryView {
	payload := json.RawMessage(item.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return DeliveryView{
		ID:             item.ID,
		WebhookID:      item.WebhookID,
		EventID:        item.EventID,
		EventType:      item.EventType,
		Payload:        payload,
		Status:         item.Status,
		ResponseStatus: item.ResponseStatus,
		ResponseBody:   item.ResponseBody,
		ErrorMessage:   item.ErrorMessage,
		DurationMS:     item.DurationMS,
		CreatedAt:      item.CreatedAt,
	}
}

// ResultView summarises a delivery attempt, e.g. for the test endpoint.
type ResultView struct {
	DeliveryID     string `json:"deliveryId"`
	WebhookID      string `json:"webhookId"`
	EventID        string `json:"eventId"`
	Status         string `json:"status"`
	ResponseStatus *int   `json:"responseStatus"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"durationMs"`
}

func NewResultView(r Result) ResultView {
	return ResultView{
		DeliveryID:     r.DeliveryID,
		WebhookID:      r.WebhookID,
		EventID:        r.EventID,
		Status:         r.Status,
		ResponseStatus: r.ResponseStatus,
		Error:          r.Error,
		DurationMS:     r.Duration.Milliseconds(),
	}
}

type CreateInput struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	AuthType     string   `json:"authType"`
	AuthToken    string   `json:"authToken"`
	AuthUsername string   `json:"authUsername"`
	AuthPassword string   `json:"authPassword"`
	Secret       string   `json:"secret"`
	IsActive     *bool    `json:"isActive"`
}

// UpdateInput is a partial patch; nil fields keep their stored value.
type UpdateInput struct {
	Name         *string   `json:"name"`
	URL          *string   `json:"url"`
	Events       *[]string `json:"events"`
	AuthType     *string   `json:"authType"`
	AuthToken    *string   `json:"authToken"`
	AuthUsername *string   `json:"authUsername"`
	AuthPassword *string   `json:"authPassword"`
	Secret       *string   `json:"secret"`
	IsActive     *bool     `json:"isActive"`
}

// webhookConfig carries the validation rules for a merged configuration.
type webhookConfig struct {
	Name         string   `json:"name" validate:"required,max=120"`
	URL          string   `json:"url" validate:"required,http_url,max=2048"`
	Events       []string `json:"events" validate:"required,min=1,max=16,dive,required"`
	AuthType     string   `json:"authType" validate:"oneof=none bearer basic hmac"`
	AuthToken    string   `json:"authToken" validate:"required_if=AuthType bearer"`
	AuthUsername string   `json:"authUsername" validate:"required_if=AuthType basic"`
	AuthPassword string   `json:"authPassword" validate:"required_if=AuthType basic"`
	Secret       string   `json:"secret" validate:"required_if=AuthType hmac"`
}

func validateWebhook(hook store.Webhook) error {
	cfg := webhookConfig{
		Name:         hook.Name,
		URL:          hook.URL,
		Events:       hook.Events,
		AuthType:     hook.AuthType,
		AuthToken:    hook.AuthToken,
		AuthUsername: hook.AuthUsername,
		AuthPassword: hook.AuthPassword,
		Secret:       hook.Secret,
	}
	if err := validation.Struct(cfg); err != nil {
		return err
	}
	for _, name := range hook.Events {
		if !IsKnownEvent(name) {
			return validation.Fail("events", "event", fmt.Sprintf("unknown event %q", name))
		}
	}
	return nil
}

// normalize trims input, defaults the auth type and drops credentials the
// chosen scheme does not use.
func normalize(hook *store.Webhook) {
	hook.Name = strings.TrimSpace(hook.Name)
	hook.URL = strings.TrimSpace(hook.URL)
	hook.AuthType = strings.ToLower(strings.TrimSpace(hook.AuthType))
	if hook.AuthType == "" {
		hook.AuthType = string(AuthNone)
	}

	events := make([]string, 0, len(hook.Events))
	seen := make(map[string]bool, len(hook.Events))
	for _, name := range hook.Events {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		events = append(events, name)
	}
	hook.Events = events

	switch AuthType(hook.AuthType) {
	case AuthNone:
		hook.AuthToken, hook.AuthUsername, hook.AuthPassword, hook.Secret = "", "", "", ""
	case AuthBearer:
		hook.AuthUsername, hook.AuthPassword, hook.Secret = "", "", ""
	case AuthBasic:
		hook.AuthToken, hook.Secret = "", ""
	case AuthHMAC:
		hook.AuthToken, hook.AuthUsername, hook.AuthPassword = "", "", ""
	}
}

func (r *Registry) Create(ctx context.Context, createdBy string, input CreateInput) (store.Webhook, error) {
	hook := store.Webhook{
		ID:           util.NewID("whk"),
		Name:         input.Name,
		URL:          input.URL,
		Events:       input.Events,
		AuthType:     input.AuthType,
		AuthToken:    input.AuthToken,
		AuthUsername: input.AuthUsername,
		AuthPassword: input.AuthPassword,
		Secret:       input.Secret,
		IsActive:     true,
		CreatedBy:    createdBy,
	}
	if input.IsActive != nil {
		hook.IsActive = *input.IsActive
	}
	normalize(&hook)
	if err := validateWebhook(hook); err != nil {
		return store.Webhook{}, err
	}
	if err := r.store.InsertWebhook(ctx, hook); err != nil {
		return store.Webhook{}, err
	}
	return r.store.GetWebhook(ctx, hook.ID)
}

func (r *Registry) Get(ctx context.Context, webhookID string) (store.Webhook, error) {
	return r.store.GetWebhook(ctx, webhookID)
}

func (r *Registry) List(ctx context.Context) ([]store.Webhook, error) {
	return r.store.ListWebhooks(ctx)
}

func (r *Registry) Update(ctx context.Context, webhookID string, input UpdateInput) (store.Webhook, error) {
	hook, err := r.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return store.Webhook{}, err
	}
	if input.Name != nil {
		hook.Name = *input.Name
	}
	if input.URL != nil {
		hook.URL = *input.URL
	}
	if input.Events != nil {
		hook.Events = *input.Events
	}
	if input.AuthType != nil {
		hook.AuthType = *input.AuthType
	}
	if input.AuthToken != nil {
		hook.AuthToken = *input.AuthToken
	}
	if input.AuthUsername != nil {
		hook.AuthUsername = *input.AuthUsername
	}
	if input.AuthPassword != nil {
		hook.AuthPassword = *input.AuthPassword
	}
	if input.Secret != nil {
		hook.Secret = *input.Secret
	}
	if input.IsActive != nil {
		hook.IsActive = *input.IsActive
	}
	normalize(&hook)
	if err := validateWebhook(hook); err != nil {
		return store.Webhook{}, err
	}
	if err := r.store.UpdateWebhook(ctx, hook); err != nil {
		return store.Webhook{}, err
	}
	return r.store.GetWebhook(ctx, webhookID)
}

func (r *Registry) Delete(ctx context.Context, webhookID string) error {
	return r.store.DeleteWebhook(ctx, webhookID)
}

// ListDeliveries returns the newest delivery-log rows for one webhook.
func (r *Registry) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error) {
	if _, err := r.store.GetWebhook(ctx, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	if limit > maxDeliveryLimit {
		limit = maxDeliveryLimit
	}
	items, err := r.store.ListWebhookDeliveries(ctx, webhookID, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}
