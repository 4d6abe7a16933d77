// Package service hosts the auth orchestrator: it owns the session state
// machine and decides when a login becomes fully verified.
package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/totp"
	"github.com/keyfold/keyfold/internal/platform/id"
)

const (
	// SessionTTL is the absolute lifetime of a login session.
	SessionTTL = 24 * time.Hour
	// EmailCodeTTL is the lifetime of a one-time email code.
	EmailCodeTTL = 10 * time.Minute

	// Issuer labels TOTP provisioning URIs in authenticator apps.
	Issuer = "Keyfold"
)

// Store is the full persistence surface the orchestrator needs.
type Store interface {
	storage.UserStore
	storage.SessionStore
	storage.PasskeyStore
	storage.ChallengeStore
	storage.EmailCodeStore
	storage.EventStore
	storage.ResetStore
}

// ClientMeta carries per-request client attribution onto sessions.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// Service coordinates the stores and second-factor adapters.
//
// It is constructed once at startup with an explicit store; there is no
// hidden global handle. Clock and generator fields are injectable for tests.
type Service struct {
	store storage.UserStore

	sessions   storage.SessionStore
	passkeys   storage.PasskeyStore
	challenges storage.ChallengeStore
	emailCodes storage.EmailCodeStore
	events     storage.EventStore
	reset      storage.ResetStore

	totp          totp.Adapter
	passkeyConfig passkey.Config
	webAuthn      passkeyProvider
	passkeyErr    error
	parser        passkeyParser

	clock                 func() time.Time
	idGenerator           func() (string, error)
	tokenGenerator        func() (string, error)
	requestTokenGenerator func() (string, error)
}

// New builds a service with defaults for the auth package.
//
// Defaults are intentionally assembled here so transport handlers can treat
// this as the canonical auth domain entrypoint.
func New(store Store) *Service {
	config := passkey.LoadConfigFromEnv()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})

	service := &Service{
		store:                 store,
		sessions:              store,
		passkeys:              store,
		challenges:            store,
		emailCodes:            store,
		events:                store,
		reset:                 store,
		passkeyConfig:         config,
		webAuthn:              webAuthn,
		passkeyErr:            err,
		parser:                defaultPasskeyParser{},
		clock:                 time.Now,
		idGenerator:           id.NewID,
		tokenGenerator:        newSessionToken,
		requestTokenGenerator: newRequestToken,
	}
	service.totp = totp.Adapter{Clock: service.now}
	return service
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// newSessionToken returns a 256-bit hex token for session identity.
func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// newRequestToken correlates the two steps of a passkey ceremony.
func newRequestToken() (string, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate request token: %w", err)
	}
	return token.String(), nil
}
