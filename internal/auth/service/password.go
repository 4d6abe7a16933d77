package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/password"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// LoginResult is the outcome of a successful password or passkey login.
type LoginResult struct {
	User        user.User
	Session     storage.Session
	MFARequired bool
}

var errInvalidCredentials = apperrors.New(apperrors.CodeInvalidCredentials, "invalid username or password")

// Register creates a user and logs them straight in.
//
// The fresh account has no second factor configured, so the first session is
// seeded fully verified.
func (s *Service) Register(ctx context.Context, username, pass, email string, meta ClientMeta) (LoginResult, error) {
	if err := user.ValidatePassword(pass); err != nil {
		return LoginResult{}, err
	}

	hash, err := password.Hash(pass)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}, s.clock, s.idGenerator)
	if err != nil {
		return LoginResult{}, err
	}

	if _, err := s.store.GetUserByUsername(ctx, created.Username); err == nil {
		return LoginResult{}, apperrors.New(apperrors.CodeUsernameTaken, "username is already taken")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return LoginResult{}, err
	}

	if err := s.store.PutUser(ctx, created); err != nil {
		if isUniqueViolation(err) {
			return LoginResult{}, apperrors.New(apperrors.CodeUsernameTaken, "username is already taken")
		}
		return LoginResult{}, err
	}

	session, err := s.createSession(ctx, created.ID, meta, true)
	if err != nil {
		return LoginResult{}, err
	}
	s.logEvent(ctx, created.ID, event.TypeRegister, nil)

	return LoginResult{User: created, Session: session}, nil
}

// Login checks a password and mints a session.
//
// Unknown usernames and wrong passwords return the same generic failure; the
// audit trail keeps the distinction.
func (s *Service) Login(ctx context.Context, username, pass string, meta ClientMeta) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || pass == "" {
		return LoginResult{}, errInvalidCredentials
	}

	found, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logEvent(ctx, "", event.TypeLoginFailed, event.LoginFailed{Username: username, Reason: "user_not_found"})
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !password.Verify(found.PasswordHash, pass) {
		s.logEvent(ctx, found.ID, event.TypeLoginFailed, event.LoginFailed{Username: username, Reason: "invalid_password"})
		return LoginResult{}, errInvalidCredentials
	}

	mfaRequired := found.MFARequired()
	session, err := s.createSession(ctx, found.ID, meta, !mfaRequired)
	if err != nil {
		return LoginResult{}, err
	}
	s.logEvent(ctx, found.ID, event.TypeLoginSuccess, nil)

	return LoginResult{User: found, Session: session, MFARequired: mfaRequired}, nil
}

// isUniqueViolation catches the database-level race the pre-check misses.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint") || strings.Contains(value, "constraint failed")
}
