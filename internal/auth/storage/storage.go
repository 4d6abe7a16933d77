// Package storage defines the persistence contracts for auth data.
package storage

import (
	"context"
	"time"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/user"
	"github.com/keyfold/keyfold/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Session is a server-side login session addressed by its bearer token.
type Session struct {
	Token       string
	UserID      string
	MFAVerified bool
	UserAgent   string
	IPAddress   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SessionStore persists login sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	MarkSessionMFAVerified(ctx context.Context, token string) error
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionsByUser(ctx context.Context, userID string) error
	DeleteAllSessions(ctx context.Context) error
	ListSessionsByUser(ctx context.Context, userID string) ([]Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// PasskeyCredential stores a WebAuthn credential for a user.
//
// CredentialJSON holds the library's serialized credential so signature
// counters and transports survive round trips without schema churn.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	FriendlyName   string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyStore persists WebAuthn credential data.
type PasskeyStore interface {
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	DeletePasskeyCredential(ctx context.Context, credentialID string) error
}

// Challenge stores an in-flight WebAuthn ceremony keyed by an opaque request
// token handed to the client. SessionJSON carries the library's ceremony
// state verbatim.
type Challenge struct {
	RequestToken string
	Kind         passkey.ChallengeKind
	UserID       string
	SessionJSON  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// ChallengeStore persists WebAuthn ceremony challenges.
//
// RedeemChallenge must remove the challenge in the same operation that reads
// it, so a request token can never complete two ceremonies.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	RedeemChallenge(ctx context.Context, requestToken string, now time.Time) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// EmailCode is a one-time numeric code delivered out of band.
type EmailCode struct {
	ID        string
	UserID    string
	Code      string
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// EmailCodeStore persists one-time email codes.
//
// CreateEmailCode invalidates every live code for the user before inserting
// the new one; ConsumeEmailCode flips used in the same statement that checks
// it, so a code can never verify twice.
type EmailCodeStore interface {
	CreateEmailCode(ctx context.Context, code EmailCode) error
	ConsumeEmailCode(ctx context.Context, userID string, code string, now time.Time) error
	ListEmailCodesByUser(ctx context.Context, userID string) ([]EmailCode, error)
	DeleteExpiredEmailCodes(ctx context.Context, now time.Time) error
}

// EventStore appends and reads the audit trail.
type EventStore interface {
	AppendEvent(ctx context.Context, record event.Event) error
	ListEventsByUser(ctx context.Context, userID string, limit int) ([]event.Event, error)
	ListEvents(ctx context.Context, limit int) ([]event.Event, error)
}

// ResetStore wipes all auth state. Test harness use only.
type ResetStore interface {
	WipeAll(ctx context.Context) error
}
