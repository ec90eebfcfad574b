package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"supportdesk/api/internal/auth"
	"supportdesk/api/internal/authpw"
	"supportdesk/api/internal/store"
)

func signUpCasey(t *testing.T, svc *Service) Session {
	t.Helper()
	session, err := svc.SignUp(context.Background(), authpw.SignUpRequest{
		Email:       "casey@example.com",
		Password:    "original-password",
		DisplayName: "Casey",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return session
}

func TestPasswordResetRoundTrip(t *testing.T) {
	fs := newFakeStore()
	mail := &fakeMailer{}
	svc := newTestService(fs)
	svc.mailer = mail
	server := NewHTTPServer(svc, "*")
	session := signUpCasey(t, svc)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/password-reset/request", "", `{"email":"Casey@Example.com"}`)
	if rr.Code != http.StatusAccepted || payload["ok"] != true {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	waitForDispatches(t, svc)

	sent := mail.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one reset mail, got %d", len(sent))
	}
	if sent[0].to != "casey@example.com" || sent[0].userName != "Casey" || sent[0].validFor != svc.cfg.PasswordResetTTL {
		t.Fatalf("unexpected mail: %+v", sent[0])
	}
	link, err := url.Parse(sent[0].resetURL)
	if err != nil {
		t.Fatalf("parse reset link: %v", err)
	}
	if link.Host != "desk.example.com" || link.Path != "/reset-password" {
		t.Fatalf("unexpected reset link %q", sent[0].resetURL)
	}
	token := link.Query().Get("token")
	if token == "" {
		t.Fatalf("expected token in reset link %q", sent[0].resetURL)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/password-reset", "",
		fmt.Sprintf(`{"token":%q,"newPassword":"brand-new-password"}`, token))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", `{"email":"casey@example.com","password":"brand-new-password"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected sign in with new password, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", `{"email":"casey@example.com","password":"original-password"}`)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected old password rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
	if _, err := fs.LookupRefreshSession(context.Background(), auth.HashToken(session.RefreshToken)); err == nil {
		t.Fatal("expected earlier refresh session to be revoked")
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/password-reset", "",
		fmt.Sprintf(`{"token":%q,"newPassword":"another-password"}`, token))
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_RESET_TOKEN" {
		t.Fatalf("expected reused token rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPasswordResetRequestForUnknownEmailLooksTheSame(t *testing.T) {
	fs := newFakeStore()
	mail := &fakeMailer{}
	svc := newTestService(fs)
	svc.mailer = mail
	server := NewHTTPServer(svc, "*")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/password-reset/request", "", `{"email":"nobody@example.com"}`)
	if rr.Code != http.StatusAccepted || payload["ok"] != true {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	waitForDispatches(t, svc)
	if len(mail.messages()) != 0 {
		t.Fatal("expected no mail for unknown address")
	}
	if len(fs.resets) != 0 {
		t.Fatal("expected no reset grant for unknown address")
	}
}

func TestPasswordResetRequestWithoutMailerStillAccepts(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	signUpCasey(t, svc)

	rr, _ := doJSON(t, server, http.MethodPost, "/api/auth/password-reset/request", "", `{"email":"casey@example.com"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPasswordResetValidation(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/password-reset/request", "", `{"email":"not-an-email"}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/password-reset", "", `{"token":"abc","newPassword":"short"}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/password-reset", "", `{"token":"unknown","newPassword":"long-enough-pw"}`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_RESET_TOKEN" {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignUpRaceOnEmailConflicts(t *testing.T) {
	fs := newFakeStore()
	fs.createUserFn = func(context.Context, store.User) error {
		return fmt.Errorf("create user: %w", &pgconn.PgError{Code: "23505"})
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"late@example.com","password":"long-enough-pw","displayName":"Late"}`)
	if rr.Code != http.StatusConflict || payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected 409 EMAIL_EXISTS, got %d body=%s", rr.Code, rr.Body.String())
	}
}
