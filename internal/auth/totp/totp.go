// Package totp wraps the time-based one-time code algorithm behind a small
// adapter the auth service calls for setup and verification.
package totp

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the code rotation interval in seconds.
	Period = 30
	// Skew is the number of periods accepted either side of now for clock drift.
	Skew = 1

	secretSize = 20
)

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Adapter generates and checks six-digit time-based codes.
//
// The zero clock means time.Now; tests inject a fixed clock to pin the
// active window.
type Adapter struct {
	Clock func() time.Time
}

func (a Adapter) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

// GenerateSecret returns a fresh base32 shared secret.
func (a Adapter) GenerateSecret() (string, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth URL an authenticator app enrolls from.
func (a Adapter) ProvisioningURI(accountLabel, issuerLabel, secret string) string {
	params := url.Values{}
	params.Set("secret", secret)
	params.Set("issuer", issuerLabel)
	params.Set("period", fmt.Sprintf("%d", Period))
	params.Set("digits", "6")
	params.Set("algorithm", "SHA1")
	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(issuerLabel),
		url.PathEscape(accountLabel),
		params.Encode(),
	)
}

// CurrentCode returns the code for the active window plus the seconds left in it.
func (a Adapter) CurrentCode(secret string) (string, int, error) {
	now := a.now()
	code, err := totp.GenerateCodeCustom(padSecret(secret), now, validateOpts)
	if err != nil {
		return "", 0, fmt.Errorf("generate totp code: %w", err)
	}
	remaining := Period - int(now.UTC().Unix()%Period)
	return code, remaining, nil
}

// Verify checks a submitted six-digit code against the secret, tolerating one
// step of clock drift either side of the current window.
func (a Adapter) Verify(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, padSecret(secret), a.now(), validateOpts)
	return err == nil && ok
}

// padSecret restores base32 padding stripped at generation time.
func padSecret(secret string) string {
	if rem := len(secret) % 8; rem != 0 {
		return secret + "========"[:8-rem]
	}
	return secret
}
