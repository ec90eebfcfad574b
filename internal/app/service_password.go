package app

import (
	"context"
	"net/url"
	"time"

	"supportdesk/api/internal/authpw"
	"supportdesk/api/internal/logging"
)

const resetMailTimeout = 30 * time.Second

// RequestPasswordReset mails a reset link when email belongs to an account.
// The outcome is the same for unknown addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, token, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	if s.mailer == nil {
		logging.Ctx(ctx).Warn().Str("user_id", user.ID).Msg("password reset requested but smtp is not configured")
		return nil
	}

	resetURL, err := resetLink(s.cfg.PasswordResetURL, token)
	if err != nil {
		return err
	}
	detached := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		sendCtx, cancel := context.WithTimeout(detached, resetMailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordReset(sendCtx, user.Email, user.DisplayName, resetURL, s.cfg.PasswordResetTTL); err != nil {
			logging.Ctx(detached).Error().Err(err).Str("user_id", user.ID).Msg("send password reset mail")
			return
		}
		logging.Ctx(detached).Info().Str("user_id", user.ID).Msg("password reset mail sent")
	}()
	return nil
}

// ResetPassword sets a new password from a reset token. Existing refresh
// sessions for the account are revoked by the store.
func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error {
	userID, err := s.passwords.ResetPassword(ctx, req)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("user_id", userID).Msg("password reset")
	return nil
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
