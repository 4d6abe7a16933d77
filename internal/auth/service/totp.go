package service

import (
	"context"
	"fmt"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/storage"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// TOTPSetup is the enrollment payload for an authenticator app.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

var errTOTPCodeInvalid = apperrors.New(apperrors.CodeTOTPCodeInvalid, "invalid code")

// SetupTOTP generates a pending secret for a user.
//
// The secret is stored without flipping totp_enabled; re-running setup before
// confirmation replaces the pending secret.
func (s *Service) SetupTOTP(ctx context.Context, userID string) (TOTPSetup, error) {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return TOTPSetup{}, err
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("setup totp: %w", err)
	}

	owner.TOTPSecret = secret
	owner.TOTPEnabled = false
	if err := s.store.PutUser(ctx, owner); err != nil {
		return TOTPSetup{}, fmt.Errorf("setup totp: %w", err)
	}

	return TOTPSetup{
		Secret:          secret,
		ProvisioningURI: s.totp.ProvisioningURI(owner.Username, Issuer, secret),
	}, nil
}

// EnableTOTP confirms the pending secret with a live code and activates the
// factor.
func (s *Service) EnableTOTP(ctx context.Context, userID, code string) error {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if owner.TOTPSecret == "" {
		return apperrors.New(apperrors.CodeTOTPNotConfigured, "totp setup has not been started")
	}

	if !s.totp.Verify(code, owner.TOTPSecret) {
		s.logEvent(ctx, owner.ID, event.TypeTOTPFailed, event.TOTPFailed{Action: "enable"})
		return errTOTPCodeInvalid
	}

	owner.TOTPEnabled = true
	if err := s.store.PutUser(ctx, owner); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	s.logEvent(ctx, owner.ID, event.TypeTOTPEnabled, nil)
	return nil
}

// VerifyTOTP is the login-time check: a valid code marks the session (not the
// user) MFA-verified. Verifying an already-verified session is a no-op.
func (s *Service) VerifyTOTP(ctx context.Context, session storage.Session, code string) error {
	owner, err := s.requireSessionUser(ctx, session)
	if err != nil {
		return err
	}
	if !owner.TOTPEnabled || owner.TOTPSecret == "" {
		return apperrors.New(apperrors.CodeTOTPNotConfigured, "totp is not enabled")
	}

	if !s.totp.Verify(code, owner.TOTPSecret) {
		s.logEvent(ctx, owner.ID, event.TypeTOTPFailed, event.TOTPFailed{Action: "verify"})
		return errTOTPCodeInvalid
	}

	if err := s.markSessionVerified(ctx, session); err != nil {
		return fmt.Errorf("verify totp: %w", err)
	}
	s.logEvent(ctx, owner.ID, event.TypeTOTPVerified, nil)
	return nil
}

// DisableTOTP clears the secret and the enabled flag, returning the user to
// the unenrolled state regardless of where they were.
func (s *Service) DisableTOTP(ctx context.Context, userID string) error {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	owner.TOTPEnabled = false
	owner.TOTPSecret = ""
	if err := s.store.PutUser(ctx, owner); err != nil {
		return fmt.Errorf("disable totp: %w", err)
	}
	s.logEvent(ctx, owner.ID, event.TypeTOTPDisabled, nil)
	return nil
}
