package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/storage/sqlite"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

var testStart = time.Date(2026, 3, 2, 10, 0, 15, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	svc := New(store)
	at := testStart
	svc.clock = func() time.Time { return at }
	return svc
}

func registerUser(t *testing.T, svc *Service, username, password string) LoginResult {
	t.Helper()
	result, err := svc.Register(context.Background(), username, password, "", ClientMeta{})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return result
}

func TestRegisterCreatesVerifiedSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result := registerUser(t, svc, "alice", "secret1")
	if result.User.Username != "alice" {
		t.Fatalf("expected username preserved, got %q", result.User.Username)
	}
	if !result.Session.MFAVerified {
		t.Fatal("expected fresh account session to be verified")
	}
	if result.Session.Token == "" || len(result.Session.Token) != 64 {
		t.Fatalf("expected 64-character hex token, got %q", result.Session.Token)
	}

	session, err := svc.GetValidSession(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("get valid session: %v", err)
	}
	if !session.ExpiresAt.Equal(testStart.Add(SessionTTL)) {
		t.Fatalf("expected 24h expiry, got %v", session.ExpiresAt)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "alice", "short", "", ClientMeta{})
	if apperrors.GetCode(err) != apperrors.CodePasswordTooShort {
		t.Fatalf("expected password policy error, got %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "alice", "secret1")

	_, err := svc.Register(context.Background(), "alice", "secret2", "", ClientMeta{})
	if apperrors.GetCode(err) != apperrors.CodeUsernameTaken {
		t.Fatalf("expected username taken, got %v", err)
	}
}

func TestUsernamesAreCaseSensitive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "Alice", "secret1")

	// A differently-cased registration is a distinct identity.
	if _, err := svc.Register(ctx, "alice", "secret2", "", ClientMeta{}); err != nil {
		t.Fatalf("expected lowercase registration to succeed: %v", err)
	}
	if _, err := svc.Login(ctx, "ALICE", "secret1", ClientMeta{}); apperrors.GetCode(err) != apperrors.CodeInvalidCredentials {
		t.Fatalf("expected uppercase login to fail generically, got %v", err)
	}
}

func TestLoginWithoutMFAIsImmediatelyVerified(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "alice", "secret1")

	result, err := svc.Login(ctx, "alice", "secret1", ClientMeta{UserAgent: "harness/1.0", IPAddress: "203.0.113.9"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !result.Session.MFAVerified {
		t.Fatal("expected no-MFA login to be verified immediately")
	}
	if result.MFARequired {
		t.Fatal("expected no second factor required")
	}
	if result.Session.UserAgent != "harness/1.0" {
		t.Fatalf("expected client metadata on session, got %+v", result.Session)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "alice", "secret1")

	_, unknownErr := svc.Login(ctx, "nobody", "secret1", ClientMeta{})
	_, wrongErr := svc.Login(ctx, "alice", "wrong-password", ClientMeta{})
	if apperrors.GetCode(unknownErr) != apperrors.CodeInvalidCredentials {
		t.Fatalf("expected generic failure for unknown user, got %v", unknownErr)
	}
	if apperrors.GetCode(wrongErr) != apperrors.CodeInvalidCredentials {
		t.Fatalf("expected generic failure for wrong password, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("expected undifferentiated messages, got %q vs %q", unknownErr, wrongErr)
	}

	// The audit trail keeps the distinction the caller never sees.
	events, err := svc.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var reasons []string
	for _, record := range events {
		if record.Type != event.TypeLoginFailed {
			continue
		}
		detail, err := event.DecodeDetail(record.Type, record.Details)
		if err != nil {
			t.Fatalf("decode detail: %v", err)
		}
		reasons = append(reasons, detail.(event.LoginFailed).Reason)
	}
	if len(reasons) != 2 || reasons[0] != "invalid_password" || reasons[1] != "user_not_found" {
		t.Fatalf("expected both failure reasons recorded, got %v", reasons)
	}
}

func TestTOTPEnrollmentAndStepUp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup totp: %v", err)
	}
	if setup.Secret == "" || setup.ProvisioningURI == "" {
		t.Fatalf("expected secret and provisioning uri, got %+v", setup)
	}

	// Pending secret does not require a second factor yet.
	pending, err := svc.Login(ctx, "alice", "secret1", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !pending.Session.MFAVerified {
		t.Fatal("expected pending-secret login to stay verified")
	}

	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, alice.User.ID, code); err != nil {
		t.Fatalf("enable totp: %v", err)
	}

	result, err := svc.Login(ctx, "alice", "secret1", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Session.MFAVerified {
		t.Fatal("expected TOTP login to start unverified")
	}
	if !result.MFARequired {
		t.Fatal("expected second factor required")
	}

	code, _, err = svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.VerifyTOTP(ctx, result.Session, code); err != nil {
		t.Fatalf("verify totp: %v", err)
	}
	session, err := svc.GetValidSession(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.MFAVerified {
		t.Fatal("expected session verified after step-up")
	}

	// Re-verifying an already-verified session is a no-op, not an error.
	if err := svc.VerifyTOTP(ctx, session, code); err != nil {
		t.Fatalf("expected idempotent re-verify: %v", err)
	}
}

func TestEnableTOTPRejectsWrongCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup totp: %v", err)
	}
	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	if err := svc.EnableTOTP(ctx, alice.User.ID, wrong); apperrors.GetCode(err) != apperrors.CodeTOTPCodeInvalid {
		t.Fatalf("expected invalid code, got %v", err)
	}
	got, err := svc.GetUser(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.TOTPEnabled {
		t.Fatal("expected failed enable to leave state unchanged")
	}
}

func TestSetupTOTPOverwritesPendingSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	first, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("first setup: %v", err)
	}
	second, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("second setup: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh pending secret")
	}

	code, _, err := svc.totp.CurrentCode(first.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, alice.User.ID, code); apperrors.GetCode(err) != apperrors.CodeTOTPCodeInvalid {
		t.Fatalf("expected stale secret's code to fail, got %v", err)
	}
}

func TestDisableTOTPClearsSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, alice.User.ID, code); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := svc.DisableTOTP(ctx, alice.User.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err := svc.GetUser(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.TOTPEnabled || got.TOTPSecret != "" {
		t.Fatalf("expected cleared state, got %+v", got)
	}
}

func TestEmailCodeStepUp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	if err := svc.EnableEmailMFA(ctx, alice.User.ID); err != nil {
		t.Fatalf("enable email mfa: %v", err)
	}

	result, err := svc.Login(ctx, "alice", "secret1", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Session.MFAVerified {
		t.Fatal("expected email-MFA login to start unverified")
	}

	code, err := svc.SendEmailCode(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected six-digit code, got %q", code)
	}

	if err := svc.VerifyEmailCode(ctx, result.Session, code); err != nil {
		t.Fatalf("verify code: %v", err)
	}
	session, err := svc.GetValidSession(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.MFAVerified {
		t.Fatal("expected session verified")
	}

	// Single use: a second verify with the same code fails.
	if err := svc.VerifyEmailCode(ctx, session, code); apperrors.GetCode(err) != apperrors.CodeEmailCodeInvalid {
		t.Fatalf("expected consumed code to fail, got %v", err)
	}
}

func TestNewEmailCodeInvalidatesPriorOne(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	if err := svc.EnableEmailMFA(ctx, alice.User.ID); err != nil {
		t.Fatalf("enable email mfa: %v", err)
	}

	result, err := svc.Login(ctx, "alice", "secret1", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	first, err := svc.SendEmailCode(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	second, err := svc.SendEmailCode(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("send second: %v", err)
	}

	if first != second {
		if err := svc.VerifyEmailCode(ctx, result.Session, first); apperrors.GetCode(err) != apperrors.CodeEmailCodeInvalid {
			t.Fatalf("expected superseded code to fail, got %v", err)
		}
	}
	if err := svc.VerifyEmailCode(ctx, result.Session, second); err != nil {
		t.Fatalf("expected latest code to verify: %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	if err := svc.Logout(ctx, alice.Session.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.GetValidSession(ctx, alice.Session.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}

	// Logging out an unknown token is a no-op.
	if err := svc.Logout(ctx, "ghost"); err != nil {
		t.Fatalf("expected logout of unknown token to succeed: %v", err)
	}
}

func TestExpiredSessionIsNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	at := testStart.Add(SessionTTL + time.Minute)
	svc.clock = func() time.Time { return at }

	if _, err := svc.GetValidSession(ctx, alice.Session.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired session to read as missing, got %v", err)
	}
}

func TestSessionStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	status, err := svc.SessionStatus(ctx, alice.Session.Token)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Authenticated || !status.MFAVerified || status.MFARequired {
		t.Fatalf("unexpected status %+v", status)
	}

	status, err = svc.SessionStatus(ctx, "ghost")
	if err != nil {
		t.Fatalf("status for unknown token: %v", err)
	}
	if status.Authenticated {
		t.Fatal("expected unauthenticated status for unknown token")
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	if err := svc.ResetPassword(ctx, alice.User.ID, "secret2"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := svc.GetValidSession(ctx, alice.Session.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "secret1", ClientMeta{}); apperrors.GetCode(err) != apperrors.CodeInvalidCredentials {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "secret2", ClientMeta{}); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
}

func TestCurrentTOTPCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	if _, err := svc.CurrentTOTPCode(ctx, alice.User.ID); apperrors.GetCode(err) != apperrors.CodeTOTPNotConfigured {
		t.Fatalf("expected not configured, got %v", err)
	}

	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	current, err := svc.CurrentTOTPCode(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if len(current.Code) != 6 {
		t.Fatalf("expected six digits, got %q", current.Code)
	}
	if current.RemainingSeconds != 15 {
		t.Fatalf("expected 15 seconds remaining at the fixed clock, got %d", current.RemainingSeconds)
	}
	if !svc.totp.Verify(current.Code, setup.Secret) {
		t.Fatal("expected reported code to verify")
	}
}

func TestUpdateUserPatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, alice.User.ID, code); err != nil {
		t.Fatalf("enable: %v", err)
	}

	email := "alice@example.com"
	disabled := false
	updated, err := svc.UpdateUser(ctx, alice.User.ID, UserPatch{Email: &email, TOTPEnabled: &disabled})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != email {
		t.Fatalf("expected email patched, got %q", updated.Email)
	}
	if updated.TOTPEnabled || updated.TOTPSecret != "" {
		t.Fatalf("expected TOTP fully cleared, got %+v", updated)
	}
}

func TestResetWipesEverything(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "alice", "secret1")

	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty store, got %d users", len(users))
	}
}

func TestGetUserDetailAggregates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	if _, err := svc.SendEmailCode(ctx, alice.User.ID); err != nil {
		t.Fatalf("send code: %v", err)
	}

	detail, err := svc.GetUserDetail(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.User.ID != alice.User.ID {
		t.Fatalf("unexpected user %+v", detail.User)
	}
	if len(detail.Sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(detail.Sessions))
	}
	if len(detail.EmailCodes) != 1 {
		t.Fatalf("expected one email code, got %d", len(detail.EmailCodes))
	}
	if len(detail.Events) == 0 {
		t.Fatal("expected audit events")
	}
}
