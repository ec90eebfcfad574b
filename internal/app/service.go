package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"supportdesk/api/internal/auth"
	"supportdesk/api/internal/authpw"
	"supportdesk/api/internal/config"
	"supportdesk/api/internal/email"
	"supportdesk/api/internal/logging"
	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/realtime"
	"supportdesk/api/internal/search"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/util"
	"supportdesk/api/internal/webhooks"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	CountUsersByRole(context.Context, string) (int, error)
	InsertConversation(context.Context, store.Conversation, store.Message) error
	GetConversation(context.Context, string) (store.Conversation, error)
	ListConversations(context.Context, string, string) ([]store.Conversation, error)
	UpdateConversationStatus(context.Context, string, string) error
	AssignConversation(context.Context, string, string) error
	InsertMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)
}

// SessionStore keeps refresh tokens and revoked access-token ids. Both the
// Postgres store and the Redis session store satisfy it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, authpw.SignInRequest) (store.User, error)
	EnsureUser(context.Context, authpw.SignUpRequest, rbac.Role) (store.User, error)
	RequestPasswordReset(context.Context, string) (store.User, string, error)
	ResetPassword(context.Context, authpw.ResetPasswordRequest) (string, error)
}

type mailer interface {
	SendPasswordReset(ctx context.Context, to, userName, resetURL string, validFor time.Duration) error
}

type webhookRegistry interface {
	Create(context.Context, string, webhooks.CreateInput) (store.Webhook, error)
	Get(context.Context, string) (store.Webhook, error)
	List(context.Context) ([]store.Webhook, error)
	Update(context.Context, string, webhooks.UpdateInput) (store.Webhook, error)
	Delete(context.Context, string) error
	ListDeliveries(context.Context, string, int) ([]store.WebhookDelivery, error)
}

type webhookDispatcher interface {
	Dispatch(context.Context, webhooks.Event) ([]webhooks.Result, error)
	Test(context.Context, string) (webhooks.Result, error)
}

type realtimeHub interface {
	Publish(eventType, customerID string, data any)
	Serve(w http.ResponseWriter, r *http.Request, userID string, role rbac.Role, allowOrigin string)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexConversation(search.ConversationRecord)
	IndexMessage(search.MessageRecord)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   SessionStore
	passwords  passwordAuth
	registry   webhookRegistry
	dispatcher webhookDispatcher
	hub        realtimeHub
	search     searchIndex
	mailer     mailer
	background sync.WaitGroup
}

// New wires the service over Postgres. sessions may be nil to keep refresh
// sessions in Postgres; hub and searchSvc may be nil to disable those features.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, hub *realtime.Hub, searchSvc *search.Service) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	svc := &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   sessions,
		passwords:  authpw.NewService(dataStore, cfg.PasswordResetTTL),
		registry:   webhooks.NewRegistry(dataStore),
		dispatcher: webhooks.NewDispatcher(dataStore, webhooks.NewSender(cfg.WebhookTimeout, cfg.WebhookUserAgent), cfg.WebhookConcurrency),
	}
	if hub != nil {
		svc.hub = hub
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if cfg.SMTPHost != "" {
		svc.mailer = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			StartTLS: cfg.SMTPStartTLS,
		})
	}
	return svc
}

// Bootstrap creates the configured admin account when no admin exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	adminEmail := strings.TrimSpace(s.cfg.BootstrapAdminEmail)
	if adminEmail == "" {
		return nil
	}
	admins, err := s.store.CountUsersByRole(ctx, string(rbac.RoleAdmin))
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}

	user, err := s.passwords.EnsureUser(ctx, authpw.SignUpRequest{
		Email:       adminEmail,
		Password:    s.cfg.BootstrapAdminPassword,
		DisplayName: "Administrator",
	}, rbac.RoleAdmin)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if user.Role != string(rbac.RoleAdmin) {
		if err := s.store.UpdateUserRole(ctx, user.ID, string(rbac.RoleAdmin)); err != nil {
			return fmt.Errorf("promote bootstrap admin: %w", err)
		}
	}
	logging.Info().Str("user_id", user.ID).Msg("bootstrap admin ready")
	return nil
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so role changes apply.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("revoke refresh token")
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Role(role), action)
}

func (s *Service) InternalToken() string {
	return s.cfg.InternalToken
}

func (s *Service) CORSOrigin() string {
	return s.cfg.CORSOrigin
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// emit publishes event to connected browsers and hands it to the webhook
// dispatcher in the background. The dispatch outlives the request.
func (s *Service) emit(ctx context.Context, eventType webhooks.EventType, customerID string, data map[string]any) {
	if s.hub != nil {
		s.hub.Publish(string(eventType), customerID, data)
	}
	if s.dispatcher == nil {
		return
	}

	event := webhooks.NewEvent(eventType, data)
	detached := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.dispatcher.Dispatch(detached, event); err != nil {
			logging.Ctx(detached).Error().Err(err).Str("event", string(eventType)).Msg("dispatch webhooks")
		}
	}()
}

// WaitForDispatches blocks until background webhook dispatches finish or ctx ends.
func (s *Service) WaitForDispatches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
