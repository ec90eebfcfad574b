// Package authpw provides email/password sign-up and sign-in.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"supportdesk/api/internal/auth"
	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/util"
	"supportdesk/api/internal/validation"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// Service provides email/password authentication
type Service struct {
	store    UserStore
	cost     int
	resetTTL time.Duration
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, item store.PasswordReset) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error)
}

// NewService creates a new auth service. Reset tokens live for resetTTL,
// one hour when zero.
func NewService(store UserStore, resetTTL time.Duration) *Service {
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Service{store: store, cost: bcrypt.DefaultCost, resetTTL: resetTTL}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email,max=320"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
}

// SignUp creates a customer account. Role escalation happens through the admin
// user endpoints or the bootstrap admin.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validation.Struct(req); err != nil {
		return store.User{}, err
	}
	return s.create(ctx, req, rbac.RoleCustomer)
}

// EnsureUser creates the account with the given role unless the email is
// already registered. It is used for the bootstrap admin.
func (s *Service) EnsureUser(ctx context.Context, req SignUpRequest, role rbac.Role) (store.User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if existing, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return existing, nil
	}
	if err := validation.Struct(req); err != nil {
		return store.User{}, err
	}
	return s.create(ctx, req, role)
}

func (s *Service) create(ctx context.Context, req SignUpRequest, role rbac.Role) (store.User, error) {
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         string(role),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent sign-up for the same email.
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validation.Struct(req); err != nil {
		return store.User{}, err
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// RequestPasswordReset issues a reset token for email. Unknown addresses
// return a zero user and an empty token so callers cannot tell which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.User, string, error) {
	req := resetRequest{Email: strings.TrimSpace(strings.ToLower(email))}
	if err := validation.Struct(req); err != nil {
		return store.User{}, "", err
	}
	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, "", nil
		}
		return store.User{}, "", fmt.Errorf("lookup user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return store.User{}, "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, store.PasswordReset{
		TokenHash: auth.HashToken(token),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.resetTTL),
	}); err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

// ResetPassword spends a reset token and sets the new password. It returns the
// id of the user whose password changed.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	req.Token = strings.TrimSpace(req.Token)
	if err := validation.Struct(req); err != nil {
		return "", err
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(req.Token))
	if err != nil {
		if store.IsNotFound(err) {
			return "", ErrInvalidResetToken
		}
		return "", fmt.Errorf("consume reset token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	return userID, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
