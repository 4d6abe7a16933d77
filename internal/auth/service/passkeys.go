package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// Actions recorded on a finished passkey authentication.
const (
	PasskeyActionMFAVerified = "mfa_verified"
	PasskeyActionLoggedIn    = "logged_in"
)

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// PasskeyOptions is the first half of a ceremony: the library's options
// document plus the opaque request token that binds the finish call back to
// the server-held challenge.
type PasskeyOptions struct {
	RequestToken string
	OptionsJSON  []byte
}

// PasskeyAuthResult is the outcome of a finished authentication ceremony.
type PasskeyAuthResult struct {
	User    user.User
	Session storage.Session
	Action  string
}

var errCeremonyNotReady = apperrors.New(apperrors.CodeCeremonyFailed, "passkey configuration is not available")

func (s *Service) passkeyReady() error {
	if s.passkeyErr != nil || s.webAuthn == nil || s.parser == nil {
		return errCeremonyNotReady
	}
	return nil
}

// BeginPasskeyRegistration opens a registration ceremony for a user.
//
// Existing credential ids are excluded so an authenticator cannot register
// twice, and resident keys are required so later logins can be discoverable.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, userID string) (PasskeyOptions, error) {
	if err := s.passkeyReady(); err != nil {
		return PasskeyOptions{}, err
	}

	baseUser, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return PasskeyOptions{}, err
	}
	passkeyUser, err := s.loadPasskeyUser(ctx, baseUser)
	if err != nil {
		return PasskeyOptions{}, fmt.Errorf("load passkey user: %w", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(passkeyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(passkeyUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.webAuthn.BeginRegistration(passkeyUser, options...)
	if err != nil {
		return PasskeyOptions{}, fmt.Errorf("begin passkey registration: %w", err)
	}

	return s.storeCeremony(ctx, passkey.ChallengeKindRegistration, baseUser.ID, session, creation)
}

// FinishPasskeyRegistration verifies the authenticator's response and stores
// the new credential.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, userID, requestToken, friendlyName string, response []byte) (string, error) {
	if err := s.passkeyReady(); err != nil {
		return "", err
	}
	if len(response) == 0 {
		return "", apperrors.New(apperrors.CodeValidation, "credential response is required")
	}

	baseUser, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	sessionData, err := s.redeemCeremony(ctx, requestToken, passkey.ChallengeKindRegistration, baseUser.ID)
	if err != nil {
		return "", err
	}

	passkeyUser, err := s.loadPasskeyUser(ctx, baseUser)
	if err != nil {
		return "", fmt.Errorf("load passkey user: %w", err)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		s.logPasskeyFailure(ctx, baseUser.ID, "register", "parse_failed")
		return "", apperrors.Wrap(apperrors.CodeValidation, "parse credential response", err)
	}
	credential, err := s.webAuthn.CreateCredential(passkeyUser, sessionData, parsed)
	if err != nil {
		s.logPasskeyFailure(ctx, baseUser.ID, "register", err.Error())
		return "", apperrors.Wrap(apperrors.CodeCeremonyFailed, "verify credential response", err)
	}

	credentialID := encodeCredentialID(credential.ID)
	if err := s.storePasskeyCredential(ctx, baseUser.ID, *credential, friendlyName, false); err != nil {
		return "", fmt.Errorf("store passkey credential: %w", err)
	}
	s.logEvent(ctx, baseUser.ID, event.TypePasskeyRegistered, event.PasskeyRegistered{
		CredentialID: credentialID,
		FriendlyName: friendlyName,
	})
	return credentialID, nil
}

// BeginPasskeyAuthentication opens an authentication ceremony.
//
// With a known user the allow list is restricted to that user's credentials;
// without one any discoverable credential may answer.
func (s *Service) BeginPasskeyAuthentication(ctx context.Context, userID string) (PasskeyOptions, error) {
	if err := s.passkeyReady(); err != nil {
		return PasskeyOptions{}, err
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
	)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		var err error
		assertion, session, err = s.webAuthn.BeginDiscoverableLogin()
		if err != nil {
			return PasskeyOptions{}, fmt.Errorf("begin passkey login: %w", err)
		}
	} else {
		baseUser, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return PasskeyOptions{}, err
		}
		passkeyUser, err := s.loadPasskeyUser(ctx, baseUser)
		if err != nil {
			return PasskeyOptions{}, fmt.Errorf("load passkey user: %w", err)
		}
		assertion, session, err = s.webAuthn.BeginLogin(passkeyUser)
		if err != nil {
			return PasskeyOptions{}, fmt.Errorf("begin passkey login: %w", err)
		}
	}

	return s.storeCeremony(ctx, passkey.ChallengeKindAuthentication, userID, session, assertion)
}

// FinishPasskeyAuthentication verifies a signed assertion and decides the
// session outcome.
//
// If the caller already holds a session for the credential's owner, that
// session is marked MFA-verified in place; otherwise a fresh fully-verified
// session is minted, since a passkey ceremony is factor-complete on its own.
func (s *Service) FinishPasskeyAuthentication(ctx context.Context, requestToken string, response []byte, current *storage.Session, meta ClientMeta) (PasskeyAuthResult, error) {
	if err := s.passkeyReady(); err != nil {
		return PasskeyAuthResult{}, err
	}
	if len(response) == 0 {
		return PasskeyAuthResult{}, apperrors.New(apperrors.CodeValidation, "credential response is required")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		s.logPasskeyFailure(ctx, sessionUserID(current), "authenticate", "parse_failed")
		return PasskeyAuthResult{}, apperrors.Wrap(apperrors.CodeValidation, "parse credential response", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logPasskeyFailure(ctx, sessionUserID(current), "authenticate", "unknown_credential")
			return PasskeyAuthResult{}, apperrors.New(apperrors.CodeCeremonyFailed, "unknown credential")
		}
		return PasskeyAuthResult{}, err
	}

	// Ownership is checked before any cryptography: a credential belonging to
	// another user can never act on the caller's session.
	if current != nil && current.UserID != stored.UserID {
		s.logPasskeyFailure(ctx, current.UserID, "authenticate", "credential_owner_mismatch")
		return PasskeyAuthResult{}, apperrors.New(apperrors.CodeCredentialMismatch, "credential does not belong to this user")
	}

	sessionData, err := s.redeemCeremony(ctx, requestToken, passkey.ChallengeKindAuthentication, stored.UserID)
	if err != nil {
		s.logPasskeyFailure(ctx, stored.UserID, "authenticate", "challenge_not_found")
		return PasskeyAuthResult{}, err
	}

	var priorCredential webauthn.Credential
	if err := json.Unmarshal([]byte(stored.CredentialJSON), &priorCredential); err != nil {
		return PasskeyAuthResult{}, fmt.Errorf("decode credential %s: %w", credentialID, err)
	}

	validatedUser, validatedCredential, err := s.webAuthn.ValidatePasskeyLogin(s.passkeyUserHandler(ctx), sessionData, parsed)
	if err != nil {
		s.logPasskeyFailure(ctx, stored.UserID, "authenticate", err.Error())
		return PasskeyAuthResult{}, apperrors.Wrap(apperrors.CodeCeremonyFailed, "verify passkey assertion", err)
	}
	record, ok := validatedUser.(*passkeyUserRecord)
	if !ok {
		return PasskeyAuthResult{}, fmt.Errorf("passkey user type mismatch")
	}
	if record.user.ID != stored.UserID {
		s.logPasskeyFailure(ctx, stored.UserID, "authenticate", "credential_owner_mismatch")
		return PasskeyAuthResult{}, apperrors.New(apperrors.CodeCredentialMismatch, "credential does not belong to this user")
	}

	// A signature counter that fails to advance past a nonzero stored value
	// indicates a cloned authenticator. The stored credential stays untouched.
	priorCount := priorCredential.Authenticator.SignCount
	newCount := validatedCredential.Authenticator.SignCount
	if priorCount > 0 && newCount <= priorCount {
		s.logPasskeyFailure(ctx, stored.UserID, "authenticate", "counter_regression")
		return PasskeyAuthResult{}, apperrors.New(apperrors.CodeCounterRegression, "credential counter did not advance")
	}

	if err := s.storePasskeyCredential(ctx, stored.UserID, *validatedCredential, stored.FriendlyName, true); err != nil {
		return PasskeyAuthResult{}, fmt.Errorf("store passkey credential: %w", err)
	}

	if current != nil {
		if err := s.markSessionVerified(ctx, *current); err != nil {
			return PasskeyAuthResult{}, fmt.Errorf("mark session verified: %w", err)
		}
		verified := *current
		verified.MFAVerified = true
		s.logEvent(ctx, stored.UserID, event.TypePasskeyAuthSuccess, event.PasskeyAuthSuccess{Action: PasskeyActionMFAVerified})
		return PasskeyAuthResult{User: record.user, Session: verified, Action: PasskeyActionMFAVerified}, nil
	}

	session, err := s.createSession(ctx, stored.UserID, meta, true)
	if err != nil {
		return PasskeyAuthResult{}, err
	}
	s.logEvent(ctx, stored.UserID, event.TypePasskeyAuthSuccess, event.PasskeyAuthSuccess{Action: PasskeyActionLoggedIn})
	return PasskeyAuthResult{User: record.user, Session: session, Action: PasskeyActionLoggedIn}, nil
}

// ListPasskeys returns a user's registered credentials.
func (s *Service) ListPasskeys(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	return s.passkeys.ListPasskeyCredentials(ctx, userID)
}

// DeletePasskey removes a credential. A non-empty ownerID restricts deletion
// to that user's own credentials; admin callers pass it empty.
func (s *Service) DeletePasskey(ctx context.Context, ownerID, credentialID string) error {
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if ownerID != "" && stored.UserID != ownerID {
		return apperrors.New(apperrors.CodeCredentialMismatch, "credential does not belong to this user")
	}
	if err := s.passkeys.DeletePasskeyCredential(ctx, credentialID); err != nil {
		return err
	}
	s.logEvent(ctx, stored.UserID, event.TypePasskeyDeleted, event.PasskeyDeleted{CredentialID: credentialID})
	return nil
}

type passkeyUserRecord struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *passkeyUserRecord) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *passkeyUserRecord) WebAuthnName() string {
	return u.user.Username
}

func (u *passkeyUserRecord) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *passkeyUserRecord) WebAuthnIcon() string {
	return ""
}

func (u *passkeyUserRecord) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadPasskeyUser(ctx context.Context, base user.User) (*passkeyUserRecord, error) {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &passkeyUserRecord{user: base, credentials: credentials}, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// storeCeremony persists the library's session data under a fresh request
// token. Expired challenges are swept opportunistically on every insert.
func (s *Service) storeCeremony(ctx context.Context, kind passkey.ChallengeKind, userID string, session *webauthn.SessionData, options any) (PasskeyOptions, error) {
	if session == nil {
		return PasskeyOptions{}, fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return PasskeyOptions{}, fmt.Errorf("encode ceremony session: %w", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return PasskeyOptions{}, fmt.Errorf("encode ceremony options: %w", err)
	}

	requestToken, err := s.requestTokenGenerator()
	if err != nil {
		return PasskeyOptions{}, fmt.Errorf("generate request token: %w", err)
	}

	now := s.now().UTC()
	_ = s.challenges.DeleteExpiredChallenges(ctx, now)

	challenge := storage.Challenge{
		RequestToken: requestToken,
		Kind:         kind,
		UserID:       userID,
		SessionJSON:  string(payload),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.challengeTTL()),
	}
	if err := s.challenges.PutChallenge(ctx, challenge); err != nil {
		return PasskeyOptions{}, fmt.Errorf("store ceremony challenge: %w", err)
	}
	return PasskeyOptions{RequestToken: requestToken, OptionsJSON: optionsJSON}, nil
}

var errChallengeNotFound = apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found or expired")

// redeemCeremony consumes a challenge exactly once and returns the library
// session it protected. expectedUserID guards a challenge minted for one
// user against being finished by another; challenges from unbound ceremonies
// carry no user and skip that check.
func (s *Service) redeemCeremony(ctx context.Context, requestToken string, kind passkey.ChallengeKind, expectedUserID string) (webauthn.SessionData, error) {
	if strings.TrimSpace(requestToken) == "" {
		return webauthn.SessionData{}, errChallengeNotFound
	}

	challenge, err := s.challenges.RedeemChallenge(ctx, requestToken, s.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return webauthn.SessionData{}, errChallengeNotFound
		}
		return webauthn.SessionData{}, err
	}
	if challenge.Kind != kind {
		return webauthn.SessionData{}, errChallengeNotFound
	}
	if challenge.UserID != "" && challenge.UserID != expectedUserID {
		return webauthn.SessionData{}, errChallengeNotFound
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge.SessionJSON), &sessionData); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return sessionData, nil
}

func (s *Service) storePasskeyCredential(ctx context.Context, userID string, credential webauthn.Credential, friendlyName string, used bool) error {
	credentialID := encodeCredentialID(credential.ID)
	now := s.now().UTC()

	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) && used {
		return fmt.Errorf("passkey credential not found")
	}

	createdAt := now
	if err == nil {
		createdAt = stored.CreatedAt
		if friendlyName == "" {
			friendlyName = stored.FriendlyName
		}
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return err
	}
	var lastUsed *time.Time
	if used {
		value := now
		lastUsed = &value
	} else if stored.LastUsedAt != nil {
		lastUsed = stored.LastUsedAt
	}

	return s.passkeys.PutPasskeyCredential(ctx, storage.PasskeyCredential{
		CredentialID:   credentialID,
		UserID:         userID,
		FriendlyName:   friendlyName,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      createdAt,
		UpdatedAt:      now,
		LastUsedAt:     lastUsed,
	})
}

func (s *Service) passkeyUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := string(userHandle)
		if strings.TrimSpace(userID) == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		baseUser, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadPasskeyUser(ctx, baseUser)
	}
}

func (s *Service) challengeTTL() time.Duration {
	if s.passkeyConfig.ChallengeTTL > 0 {
		return s.passkeyConfig.ChallengeTTL
	}
	return 5 * time.Minute
}

func (s *Service) logPasskeyFailure(ctx context.Context, userID, action, reason string) {
	s.logEvent(ctx, userID, event.TypePasskeyAuthFailed, event.PasskeyAuthFailed{Action: action, Reason: reason})
}

func sessionUserID(session *storage.Session) string {
	if session == nil {
		return ""
	}
	return session.UserID
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
