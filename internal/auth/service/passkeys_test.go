package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// fakeWebAuthn stands in for the ceremony library so tests can drive the
// orchestrator's branching without real authenticator hardware.
type fakeWebAuthn struct {
	credentialID []byte
	userHandle   []byte
	signCount    uint32
	validateErr  error
}

func (f *fakeWebAuthn) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "challenge", UserID: user.WebAuthnID()}, nil
}

func (f *fakeWebAuthn) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return &webauthn.Credential{ID: f.credentialID}, nil
}

func (f *fakeWebAuthn) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "challenge", UserID: user.WebAuthnID()}, nil
}

func (f *fakeWebAuthn) BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "challenge"}, nil
}

func (f *fakeWebAuthn) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	resolved, err := handler(nil, f.userHandle)
	if err != nil {
		return nil, nil, err
	}
	return resolved, &webauthn.Credential{
		ID:            f.credentialID,
		Authenticator: webauthn.Authenticator{SignCount: f.signCount},
	}, nil
}

type fakeParser struct {
	rawID []byte
}

func (f *fakeParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f *fakeParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return &protocol.ParsedCredentialAssertionData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{RawID: f.rawID},
	}, nil
}

func newPasskeyService(t *testing.T) (*Service, *fakeWebAuthn) {
	t.Helper()
	svc := newTestService(t)
	fake := &fakeWebAuthn{credentialID: []byte("credential-1")}
	svc.webAuthn = fake
	svc.parser = &fakeParser{rawID: fake.credentialID}
	svc.passkeyErr = nil
	return svc, fake
}

func registerPasskey(t *testing.T, svc *Service, fake *fakeWebAuthn, userID, friendlyName string) string {
	t.Helper()
	ctx := context.Background()
	fake.userHandle = []byte(userID)

	options, err := svc.BeginPasskeyRegistration(ctx, userID)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	credentialID, err := svc.FinishPasskeyRegistration(ctx, userID, options.RequestToken, friendlyName, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	return credentialID
}

func TestPasskeyRegistrationStoresCredential(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")

	options, err := svc.BeginPasskeyRegistration(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if options.RequestToken == "" || len(options.OptionsJSON) == 0 {
		t.Fatalf("expected token and options, got %+v", options)
	}

	fake.userHandle = []byte(alice.User.ID)
	credentialID, err := svc.FinishPasskeyRegistration(ctx, alice.User.ID, options.RequestToken, "YubiKey", []byte(`{}`))
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}

	credentials, err := svc.ListPasskeys(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("list passkeys: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected one credential, got %d", len(credentials))
	}
	if credentials[0].CredentialID != credentialID || credentials[0].FriendlyName != "YubiKey" {
		t.Fatalf("unexpected credential %+v", credentials[0])
	}
}

func TestPasskeyRegistrationChallengeIsSingleUse(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	fake.userHandle = []byte(alice.User.ID)

	options, err := svc.BeginPasskeyRegistration(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if _, err := svc.FinishPasskeyRegistration(ctx, alice.User.ID, options.RequestToken, "", []byte(`{}`)); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	_, err = svc.FinishPasskeyRegistration(ctx, alice.User.ID, options.RequestToken, "", []byte(`{}`))
	if apperrors.GetCode(err) != apperrors.CodeChallengeNotFound {
		t.Fatalf("expected challenge not found on replay, got %v", err)
	}
}

func TestPasskeyLoginMintsVerifiedSession(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	registerPasskey(t, svc, fake, alice.User.ID, "")
	fake.signCount = 1

	options, err := svc.BeginPasskeyAuthentication(ctx, "")
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	result, err := svc.FinishPasskeyAuthentication(ctx, options.RequestToken, []byte(`{}`), nil, ClientMeta{UserAgent: "harness/1.0"})
	if err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if result.Action != PasskeyActionLoggedIn {
		t.Fatalf("expected logged_in action, got %q", result.Action)
	}
	if !result.Session.MFAVerified {
		t.Fatal("expected passkey login session to be verified")
	}
	if result.User.ID != alice.User.ID {
		t.Fatalf("expected alice, got %+v", result.User)
	}

	session, err := svc.GetValidSession(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.MFAVerified {
		t.Fatal("expected stored session verified")
	}
}

func TestPasskeyStepUpMarksExistingSession(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	registerPasskey(t, svc, fake, alice.User.ID, "")
	fake.signCount = 1

	// TOTP enrollment forces the next login to need a second factor.
	setup, err := svc.SetupTOTP(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("setup totp: %v", err)
	}
	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, alice.User.ID, code); err != nil {
		t.Fatalf("enable totp: %v", err)
	}

	login, err := svc.Login(ctx, "alice", "secret1", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Session.MFAVerified {
		t.Fatal("expected unverified session before step-up")
	}

	options, err := svc.BeginPasskeyAuthentication(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	result, err := svc.FinishPasskeyAuthentication(ctx, options.RequestToken, []byte(`{}`), &login.Session, ClientMeta{})
	if err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if result.Action != PasskeyActionMFAVerified {
		t.Fatalf("expected mfa_verified action, got %q", result.Action)
	}
	if result.Session.Token != login.Session.Token {
		t.Fatal("expected the existing session to be reused")
	}

	session, err := svc.GetValidSession(ctx, login.Session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.MFAVerified {
		t.Fatal("expected step-up to verify the session in place")
	}
}

func TestPasskeyOwnerMismatchRejected(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	bob := registerUser(t, svc, "bob", "secret2")
	registerPasskey(t, svc, fake, alice.User.ID, "")
	fake.signCount = 1

	// Force bob's session to be unverified so a successful step-up would show.
	setup, err := svc.SetupTOTP(ctx, bob.User.ID)
	if err != nil {
		t.Fatalf("setup totp: %v", err)
	}
	code, _, err := svc.totp.CurrentCode(setup.Secret)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if err := svc.EnableTOTP(ctx, bob.User.ID, code); err != nil {
		t.Fatalf("enable totp: %v", err)
	}
	bobLogin, err := svc.Login(ctx, "bob", "secret2", ClientMeta{})
	if err != nil {
		t.Fatalf("login bob: %v", err)
	}

	options, err := svc.BeginPasskeyAuthentication(ctx, "")
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	_, err = svc.FinishPasskeyAuthentication(ctx, options.RequestToken, []byte(`{}`), &bobLogin.Session, ClientMeta{})
	if apperrors.GetCode(err) != apperrors.CodeCredentialMismatch {
		t.Fatalf("expected credential mismatch, got %v", err)
	}

	session, err := svc.GetValidSession(ctx, bobLogin.Session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.MFAVerified {
		t.Fatal("expected bob's session untouched")
	}
}

func TestPasskeyCounterRegressionFailsClosed(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	registerPasskey(t, svc, fake, alice.User.ID, "")

	// First authentication advances the counter to 5.
	fake.signCount = 5
	options, err := svc.BeginPasskeyAuthentication(ctx, "")
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	if _, err := svc.FinishPasskeyAuthentication(ctx, options.RequestToken, []byte(`{}`), nil, ClientMeta{}); err != nil {
		t.Fatalf("finish first: %v", err)
	}

	// A replayed counter signals a cloned authenticator.
	options, err = svc.BeginPasskeyAuthentication(ctx, "")
	if err != nil {
		t.Fatalf("begin second: %v", err)
	}
	_, err = svc.FinishPasskeyAuthentication(ctx, options.RequestToken, []byte(`{}`), nil, ClientMeta{})
	if apperrors.GetCode(err) != apperrors.CodeCounterRegression {
		t.Fatalf("expected counter regression, got %v", err)
	}

	// The stored credential keeps its last good counter.
	stored, err := svc.passkeys.GetPasskeyCredential(ctx, encodeCredentialID(fake.credentialID))
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	var credential webauthn.Credential
	if err := json.Unmarshal([]byte(stored.CredentialJSON), &credential); err != nil {
		t.Fatalf("decode credential: %v", err)
	}
	if credential.Authenticator.SignCount != 5 {
		t.Fatalf("expected counter untouched at 5, got %d", credential.Authenticator.SignCount)
	}
}

func TestDeletePasskeyEnforcesOwnership(t *testing.T) {
	svc, fake := newPasskeyService(t)
	ctx := context.Background()
	alice := registerUser(t, svc, "alice", "secret1")
	bob := registerUser(t, svc, "bob", "secret2")
	credentialID := registerPasskey(t, svc, fake, alice.User.ID, "")

	if err := svc.DeletePasskey(ctx, bob.User.ID, credentialID); apperrors.GetCode(err) != apperrors.CodeCredentialMismatch {
		t.Fatalf("expected ownership rejection, got %v", err)
	}
	if err := svc.DeletePasskey(ctx, alice.User.ID, credentialID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}

	credentials, err := svc.ListPasskeys(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("list passkeys: %v", err)
	}
	if len(credentials) != 0 {
		t.Fatalf("expected no credentials, got %d", len(credentials))
	}
}
