// Package user provides auth user management.
package user

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/platform/id"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUsernameEmpty, "username is required")
	// ErrPasswordTooShort indicates a password under the minimum length.
	ErrPasswordTooShort = apperrors.New(apperrors.CodePasswordTooShort,
		fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
)

// User represents an authenticated identity record.
//
// TOTPSecret is set by setup before TOTPEnabled flips; a user in that window
// holds a pending secret that a later setup call overwrites.
type User struct {
	ID              string
	Username        string
	Email           string
	PasswordHash    string
	TOTPEnabled     bool
	TOTPSecret      string
	EmailMFAEnabled bool
	CreatedAt       time.Time
}

// MFARequired reports whether a password login for this user must complete a
// second factor before the session counts as fully verified.
func (u User) MFARequired() bool {
	return u.TOTPEnabled || u.EmailMFAEnabled
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
}

// CreateUser creates a durable user identity from validated input.
//
// Username matching is case-sensitive across the service, so the exact
// trimmed value becomes the canonical identity.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	return User{
		ID:           userID,
		Username:     normalized.Username,
		Email:        normalized.Email,
		PasswordHash: normalized.PasswordHash,
		CreatedAt:    now().UTC(),
	}, nil
}

// NormalizeCreateUserInput trims input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if input.PasswordHash == "" {
		return CreateUserInput{}, fmt.Errorf("password hash is required")
	}
	return input, nil
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
