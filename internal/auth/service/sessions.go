package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// createSession mints a session for a user.
//
// verified seeds mfa_verified: true when the user has no second factor
// configured or the session originates from a passkey ceremony.
func (s *Service) createSession(ctx context.Context, userID string, meta ClientMeta, verified bool) (storage.Session, error) {
	token, err := s.tokenGenerator()
	if err != nil {
		return storage.Session{}, fmt.Errorf("create session: %w", err)
	}

	now := s.now().UTC()
	session := storage.Session{
		Token:       token,
		UserID:      userID,
		MFAVerified: verified,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(SessionTTL),
	}
	if err := s.sessions.PutSession(ctx, session); err != nil {
		return storage.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetValidSession resolves a bearer token to a live session.
//
// Missing and expired tokens both come back as ErrNotFound; middleware treats
// absence as "not authenticated", never as a server fault.
func (s *Service) GetValidSession(ctx context.Context, token string) (storage.Session, error) {
	if strings.TrimSpace(token) == "" {
		return storage.Session{}, storage.ErrNotFound
	}
	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		return storage.Session{}, err
	}
	if !session.ExpiresAt.After(s.now().UTC()) {
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

// markSessionVerified flips mfa_verified on a session. Idempotent: a session
// that is already verified stays verified.
func (s *Service) markSessionVerified(ctx context.Context, session storage.Session) error {
	if session.MFAVerified {
		return nil
	}
	return s.sessions.MarkSessionMFAVerified(ctx, session.Token)
}

// Logout deletes the session and records the event. Unknown tokens are a
// no-op so logout is always safe to call.
func (s *Service) Logout(ctx context.Context, token string) error {
	session, err := s.GetValidSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logEvent(ctx, session.UserID, event.TypeLogout, nil)
	return nil
}

// Status describes the caller's authentication state.
type Status struct {
	Authenticated bool
	MFAVerified   bool
	MFARequired   bool
	User          user.User
}

// SessionStatus reports whether a token identifies a live session and how far
// through the second-factor step it is.
func (s *Service) SessionStatus(ctx context.Context, token string) (Status, error) {
	session, err := s.GetValidSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}

	owner, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}

	return Status{
		Authenticated: true,
		MFAVerified:   session.MFAVerified,
		MFARequired:   owner.MFARequired(),
		User:          owner,
	}, nil
}

// requireSessionUser loads the owner of a session, mapping a dangling user
// reference to not-authenticated.
func (s *Service) requireSessionUser(ctx context.Context, session storage.Session) (user.User, error) {
	owner, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperrors.New(apperrors.CodeNotAuthenticated, "not authenticated")
		}
		return user.User{}, err
	}
	return owner, nil
}
