// Package event defines the append-only audit trail for security outcomes.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type tags an audit event. The set is closed; readers switch on it to decode
// the detail payload.
type Type string

const (
	TypeLoginSuccess     Type = "login_success"
	TypeLoginFailed      Type = "login_failed"
	TypeLogout           Type = "logout"
	TypeRegister         Type = "register"
	TypePasswordReset    Type = "password_reset"
	TypeTOTPEnabled      Type = "mfa_totp_enabled"
	TypeTOTPDisabled     Type = "mfa_totp_disabled"
	TypeTOTPVerified     Type = "mfa_totp_verified"
	TypeTOTPFailed       Type = "mfa_totp_failed"
	TypeEmailMFAEnabled  Type = "mfa_email_enabled"
	TypeEmailMFADisabled Type = "mfa_email_disabled"
	TypeEmailCodeSent    Type = "mfa_email_sent"
	TypeEmailVerified    Type = "mfa_email_verified"
	TypeEmailFailed      Type = "mfa_email_failed"

	TypePasskeyRegistered  Type = "passkey_registered"
	TypePasskeyDeleted     Type = "passkey_deleted"
	TypePasskeyAuthSuccess Type = "passkey_auth_success"
	TypePasskeyAuthFailed  Type = "passkey_auth_failed"
)

// Detail is a typed payload attached to an event. Each implementation
// corresponds to exactly one event Type.
type Detail interface {
	EventType() Type
}

// LoginFailed records a rejected password login. UserID on the event is unset
// when the username did not resolve.
type LoginFailed struct {
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason"`
}

func (LoginFailed) EventType() Type { return TypeLoginFailed }

// TOTPFailed records a rejected TOTP code during enable or verify.
type TOTPFailed struct {
	Action string `json:"action"`
}

func (TOTPFailed) EventType() Type { return TypeTOTPFailed }

// EmailCodeSent records a minted email code. The code is visible by design:
// this harness surfaces it in the admin panel instead of sending mail.
type EmailCodeSent struct {
	Code string `json:"code"`
}

func (EmailCodeSent) EventType() Type { return TypeEmailCodeSent }

// PasskeyRegistered records a completed registration ceremony.
type PasskeyRegistered struct {
	CredentialID string `json:"credentialId"`
	FriendlyName string `json:"friendlyName,omitempty"`
}

func (PasskeyRegistered) EventType() Type { return TypePasskeyRegistered }

// PasskeyDeleted records credential removal.
type PasskeyDeleted struct {
	CredentialID string `json:"credentialId"`
}

func (PasskeyDeleted) EventType() Type { return TypePasskeyDeleted }

// PasskeyAuthSuccess records a completed authentication ceremony.
// Action is "mfa_verified" for step-up or "logged_in" for a fresh session.
type PasskeyAuthSuccess struct {
	Action string `json:"action"`
}

func (PasskeyAuthSuccess) EventType() Type { return TypePasskeyAuthSuccess }

// PasskeyAuthFailed records a rejected ceremony with the adapter's reason.
type PasskeyAuthFailed struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (PasskeyAuthFailed) EventType() Type { return TypePasskeyAuthFailed }

// Event is one append-only audit record.
type Event struct {
	ID        int64
	UserID    string
	Type      Type
	Details   string
	CreatedAt time.Time
}

// EncodeDetail serializes a typed payload for storage. A nil detail encodes
// to the empty string.
func EncodeDetail(detail Detail) (string, error) {
	if detail == nil {
		return "", nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("encode event detail: %w", err)
	}
	return string(raw), nil
}

// DecodeDetail parses a stored payload back into the typed form for its
// event type. Types without payloads return nil.
func DecodeDetail(eventType Type, details string) (Detail, error) {
	if details == "" {
		return nil, nil
	}
	var target Detail
	switch eventType {
	case TypeLoginFailed:
		target = &LoginFailed{}
	case TypeTOTPFailed:
		target = &TOTPFailed{}
	case TypeEmailCodeSent:
		target = &EmailCodeSent{}
	case TypePasskeyRegistered:
		target = &PasskeyRegistered{}
	case TypePasskeyDeleted:
		target = &PasskeyDeleted{}
	case TypePasskeyAuthSuccess:
		target = &PasskeyAuthSuccess{}
	case TypePasskeyAuthFailed:
		target = &PasskeyAuthFailed{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal([]byte(details), target); err != nil {
		return nil, fmt.Errorf("decode %s detail: %w", eventType, err)
	}
	return deref(target), nil
}

func deref(d Detail) Detail {
	switch v := d.(type) {
	case *LoginFailed:
		return *v
	case *TOTPFailed:
		return *v
	case *EmailCodeSent:
		return *v
	case *PasskeyRegistered:
		return *v
	case *PasskeyDeleted:
		return *v
	case *PasskeyAuthSuccess:
		return *v
	case *PasskeyAuthFailed:
		return *v
	default:
		return d
	}
}
