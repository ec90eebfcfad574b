package app

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"supportdesk/api/internal/authpw"
	"supportdesk/api/internal/config"
	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/search"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/webhooks"
)

// fakeStore is an in-memory dataStore. The Fn hooks override single calls.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	conversations map[string]store.Conversation
	messages      []store.Message
	hooks         map[string]store.Webhook
	deliveries    []store.WebhookDelivery
	refresh       map[string]string
	revoked       map[string]bool
	resets        map[string]store.PasswordReset

	listConversationsFn        func(context.Context, string, string) ([]store.Conversation, error)
	updateConversationStatusFn func(context.Context, string, string) error
	getUserByIDFn              func(context.Context, string) (store.User, error)
	insertMessageFn            func(context.Context, store.Message) error
	createUserFn               func(context.Context, store.User) error
	pingFn                     func(context.Context) error
}

func newFakeStore(users ...store.User) *fakeStore {
	f := &fakeStore{
		users:         make(map[string]store.User),
		conversations: make(map[string]store.Conversation),
		hooks:         make(map[string]store.Webhook),
		refresh:       make(map[string]string),
		revoked:       make(map[string]bool),
		resets:        make(map[string]store.PasswordReset),
	}
	for _, user := range users {
		f.users[user.ID] = user
	}
	return f
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		if err := f.createUserFn(ctx, user); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CountUsersByRole(_ context.Context, role string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, user := range f.users {
		if user.Role == role {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) InsertConversation(ctx context.Context, item store.Conversation, first store.Message) error {
	first.ConversationID = item.ID
	if f.insertMessageFn != nil {
		if err := f.insertMessageFn(ctx, first); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[item.ID] = item
	f.messages = append(f.messages, first)
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, conversationID string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.conversations[conversationID]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, customerID, status string) ([]store.Conversation, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx, customerID, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Conversation, 0)
	for _, item := range f.conversations {
		if customerID != "" && item.CustomerID != customerID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateConversationStatus(ctx context.Context, conversationID, status string) error {
	if f.updateConversationStatusFn != nil {
		return f.updateConversationStatusFn(ctx, conversationID, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.conversations[conversationID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	f.conversations[conversationID] = item
	return nil
}

func (f *fakeStore) AssignConversation(_ context.Context, conversationID, assigneeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.conversations[conversationID]
	if !ok {
		return sql.ErrNoRows
	}
	item.AssigneeID = &assigneeID
	f.conversations[conversationID] = item
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, item store.Message) error {
	if f.insertMessageFn != nil {
		if err := f.insertMessageFn(ctx, item); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, item)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Message, 0)
	for _, item := range f.messages {
		if item.ConversationID == conversationID {
			items = append(items, item)
		}
	}
	return items, nil
}

// UpdateUserPassword also drops the user's refresh sessions, as Postgres does.
func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	for tokenHash, owner := range f.refresh {
		if owner == userID {
			delete(f.refresh, tokenHash)
		}
	}
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, item store.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[item.TokenHash] = item
	return nil
}

func (f *fakeStore) ConsumePasswordReset(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.resets[tokenHash]
	if !ok || !item.ExpiresAt.After(time.Now()) {
		return "", sql.ErrNoRows
	}
	delete(f.resets, tokenHash)
	return item.UserID, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertWebhook(_ context.Context, item store.Webhook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	f.hooks[item.ID] = item
	return nil
}

func (f *fakeStore) GetWebhook(_ context.Context, webhookID string) (store.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook, ok := f.hooks[webhookID]
	if !ok {
		return store.Webhook{}, sql.ErrNoRows
	}
	return hook, nil
}

func (f *fakeStore) ListWebhooks(context.Context) ([]store.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Webhook, 0, len(f.hooks))
	for _, hook := range f.hooks {
		items = append(items, hook)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) ListActiveWebhooks(ctx context.Context) ([]store.Webhook, error) {
	all, err := f.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]store.Webhook, 0, len(all))
	for _, hook := range all {
		if hook.IsActive {
			active = append(active, hook)
		}
	}
	return active, nil
}

func (f *fakeStore) UpdateWebhook(_ context.Context, item store.Webhook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.hooks[item.ID]; !ok {
		return sql.ErrNoRows
	}
	f.hooks[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteWebhook(_ context.Context, webhookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.hooks[webhookID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.hooks, webhookID)
	return nil
}

func (f *fakeStore) InsertWebhookDelivery(_ context.Context, item store.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	f.deliveries = append(f.deliveries, item)
	return nil
}

func (f *fakeStore) ListWebhookDeliveries(_ context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.WebhookDelivery, 0)
	for i := len(f.deliveries) - 1; i >= 0 && len(items) < limit; i-- {
		if f.deliveries[i].WebhookID == webhookID {
			items = append(items, f.deliveries[i])
		}
	}
	return items, nil
}

func (f *fakeStore) deliveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

type published struct {
	eventType  string
	customerID string
	data       any
}

type fakeHub struct {
	mu     sync.Mutex
	events []published
}

func (h *fakeHub) Publish(eventType, customerID string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, published{eventType: eventType, customerID: customerID, data: data})
}

func (h *fakeHub) Serve(w http.ResponseWriter, _ *http.Request, _ string, _ rbac.Role, _ string) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (h *fakeHub) published() []published {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]published(nil), h.events...)
}

type sentReset struct {
	to       string
	userName string
	resetURL string
	validFor time.Duration
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, userName, resetURL string, validFor time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{to: to, userName: userName, resetURL: resetURL, validFor: validFor})
	return m.err
}

func (m *fakeMailer) messages() []sentReset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentReset(nil), m.sent...)
}

type fakeSearch struct {
	searchFn      func(context.Context, search.Query) search.Response
	conversations []search.ConversationRecord
	messages      []search.MessageRecord
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexConversation(c search.ConversationRecord) {
	f.conversations = append(f.conversations, c)
}

func (f *fakeSearch) IndexMessage(m search.MessageRecord) {
	f.messages = append(f.messages, m)
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:     "test-secret",
			InternalToken: "internal-test-token",
			AccessTTL:        time.Hour,
			RefreshTTL:       24 * time.Hour,
			CORSOrigin:       "*",
			PasswordResetURL: "https://desk.example.com/reset-password",
			PasswordResetTTL: time.Hour,
		},
		store:      fs,
		sessions:   fs,
		passwords:  authpw.NewService(fs, time.Hour),
		registry:   webhooks.NewRegistry(fs),
		dispatcher: webhooks.NewDispatcher(fs, webhooks.NewSender(2*time.Second, "supportdesk-test"), 4),
	}
}

// sessionFor issues a real session for user, who must already be in fs.
func sessionFor(t *testing.T, svc *Service, user store.User) Session {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session
}

func waitForDispatches(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.WaitForDispatches(ctx); err != nil {
		t.Fatalf("wait for dispatches: %v", err)
	}
}

var (
	testCustomer = store.User{ID: "usr_customer", DisplayName: "Casey", Email: "casey@example.com", Role: "customer"}
	testOther    = store.User{ID: "usr_other", DisplayName: "Olive", Email: "olive@example.com", Role: "customer"}
	testAgent    = store.User{ID: "usr_agent", DisplayName: "Avery", Email: "avery@example.com", Role: "agent"}
	testAdmin    = store.User{ID: "usr_admin", DisplayName: "Ada", Email: "ada@example.com", Role: "admin"}
)
