package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/validation"
)

type UserView struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func userView(user store.User) UserView {
	return UserView{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        string(rbac.Normalize(user.Role)),
		CreatedAt:   user.CreatedAt,
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]UserView, 0, len(users))
	for _, user := range users {
		views = append(views, userView(user))
	}
	return views, nil
}

// UpdateUserRole changes another user's role. Admins cannot change their own.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (UserView, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.Valid(role) {
		return UserView{}, validation.Fail("role", "oneof", "role must be one of: customer agent admin")
	}
	if userID == session.UserID {
		return UserView{}, domainError(http.StatusConflict, "SELF_ROLE_CHANGE", "You cannot change your own role", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	if user.Role != role {
		if err := s.store.UpdateUserRole(ctx, user.ID, role); err != nil {
			return UserView{}, err
		}
		user.Role = role
	}
	return userView(user), nil
}
