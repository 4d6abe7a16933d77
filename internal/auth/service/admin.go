package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/password"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// Admin operations back the harness's unauthenticated inspection surface.
// They reuse the same stores and invariants as the user-facing flows.

// AdminCreateUser creates a user without minting a session.
func (s *Service) AdminCreateUser(ctx context.Context, username, pass, email string) (user.User, error) {
	if err := user.ValidatePassword(pass); err != nil {
		return user.User{}, err
	}
	hash, err := password.Hash(pass)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}

	if _, err := s.store.GetUserByUsername(ctx, created.Username); err == nil {
		return user.User{}, apperrors.New(apperrors.CodeUsernameTaken, "username is already taken")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, err
	}

	if err := s.store.PutUser(ctx, created); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, apperrors.New(apperrors.CodeUsernameTaken, "username is already taken")
		}
		return user.User{}, err
	}
	s.logEvent(ctx, created.ID, event.TypeRegister, nil)
	return created, nil
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser returns one user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (user.User, error) {
	return s.store.GetUser(ctx, userID)
}

// GetUserByUsername resolves an exact, case-sensitive username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// UserDetail aggregates everything the harness knows about one user.
type UserDetail struct {
	User       user.User
	Sessions   []storage.Session
	Passkeys   []storage.PasskeyCredential
	EmailCodes []storage.EmailCode
	Events     []event.Event
}

const userDetailEventLimit = 20

// GetUserDetail loads a user together with their sessions, credentials,
// codes, and most recent audit events.
func (s *Service) GetUserDetail(ctx context.Context, userID string) (UserDetail, error) {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}

	sessions, err := s.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	credentials, err := s.passkeys.ListPasskeyCredentials(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	codes, err := s.emailCodes.ListEmailCodesByUser(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	events, err := s.events.ListEventsByUser(ctx, userID, userDetailEventLimit)
	if err != nil {
		return UserDetail{}, err
	}

	return UserDetail{
		User:       owner,
		Sessions:   sessions,
		Passkeys:   credentials,
		EmailCodes: codes,
		Events:     events,
	}, nil
}

// UserPatch describes an admin field update; nil fields stay untouched.
type UserPatch struct {
	Email           *string
	TOTPEnabled     *bool
	EmailMFAEnabled *bool
}

// UpdateUser applies a patch to a user record.
//
// Disabling TOTP through the patch also clears the secret so the user drops
// back to the unenrolled state, same as the user-facing disable.
func (s *Service) UpdateUser(ctx context.Context, userID string, patch UserPatch) (user.User, error) {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if patch.Email != nil {
		owner.Email = *patch.Email
	}
	if patch.TOTPEnabled != nil {
		owner.TOTPEnabled = *patch.TOTPEnabled
		if !owner.TOTPEnabled {
			owner.TOTPSecret = ""
		}
	}
	if patch.EmailMFAEnabled != nil {
		owner.EmailMFAEnabled = *patch.EmailMFAEnabled
	}

	if err := s.store.PutUser(ctx, owner); err != nil {
		return user.User{}, fmt.Errorf("update user: %w", err)
	}
	return owner, nil
}

// DeleteUser removes a user; dependent rows cascade at the store level.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.store.DeleteUser(ctx, userID)
}

// ResetPassword replaces a user's password hash and revokes their sessions.
func (s *Service) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if err := user.ValidatePassword(newPassword); err != nil {
		return err
	}
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	owner.PasswordHash = hash
	if err := s.store.PutUser(ctx, owner); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if err := s.sessions.DeleteSessionsByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logEvent(ctx, owner.ID, event.TypePasswordReset, nil)
	return nil
}

// TOTPCurrent is the harness's window into a user's live code.
type TOTPCurrent struct {
	Code             string
	RemainingSeconds int
}

// CurrentTOTPCode computes the code for the active window. Harness-only
// visibility feature; a production service never exposes this.
func (s *Service) CurrentTOTPCode(ctx context.Context, userID string) (TOTPCurrent, error) {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return TOTPCurrent{}, err
	}
	if owner.TOTPSecret == "" {
		return TOTPCurrent{}, apperrors.New(apperrors.CodeTOTPNotConfigured, "totp is not configured")
	}
	code, remaining, err := s.totp.CurrentCode(owner.TOTPSecret)
	if err != nil {
		return TOTPCurrent{}, fmt.Errorf("current totp code: %w", err)
	}
	return TOTPCurrent{Code: code, RemainingSeconds: remaining}, nil
}

// ListEmailCodes returns a user's email codes, newest first.
func (s *Service) ListEmailCodes(ctx context.Context, userID string) ([]storage.EmailCode, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.emailCodes.ListEmailCodesByUser(ctx, userID)
}

// ListSessions returns every live and expired session.
func (s *Service) ListSessions(ctx context.Context) ([]storage.Session, error) {
	return s.sessions.ListSessions(ctx)
}

// ListUserSessions returns one user's sessions.
func (s *Service) ListUserSessions(ctx context.Context, userID string) ([]storage.Session, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.sessions.ListSessionsByUser(ctx, userID)
}

// RevokeSession deletes one session by token.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}

// RevokeUserSessions deletes every session for a user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	return s.sessions.DeleteSessionsByUser(ctx, userID)
}

// RevokeAllSessions deletes every session in the store.
func (s *Service) RevokeAllSessions(ctx context.Context) error {
	return s.sessions.DeleteAllSessions(ctx)
}

// ListEvents returns the global audit trail, newest first.
func (s *Service) ListEvents(ctx context.Context, limit int) ([]event.Event, error) {
	return s.events.ListEvents(ctx, limit)
}

// ListUserEvents returns one user's audit trail, newest first.
func (s *Service) ListUserEvents(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	return s.events.ListEventsByUser(ctx, userID, limit)
}

// Reset wipes the entire store. Harness teardown only.
func (s *Service) Reset(ctx context.Context) error {
	return s.reset.WipeAll(ctx)
}
