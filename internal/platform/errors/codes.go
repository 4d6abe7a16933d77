// Package errors provides structured error handling for the auth harness.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Credential errors
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeUsernameTaken      Code = "USERNAME_TAKEN"
	CodePasswordTooShort   Code = "PASSWORD_TOO_SHORT"
	CodeUsernameEmpty      Code = "USERNAME_EMPTY"

	// Session errors
	CodeNotAuthenticated Code = "NOT_AUTHENTICATED"

	// Validation errors
	CodeValidation Code = "VALIDATION"

	// MFA errors
	CodeTOTPNotConfigured Code = "TOTP_NOT_CONFIGURED"
	CodeTOTPCodeInvalid   Code = "TOTP_CODE_INVALID"
	CodeEmailCodeInvalid  Code = "EMAIL_CODE_INVALID"

	// Passkey errors
	CodeChallengeNotFound   Code = "CHALLENGE_NOT_FOUND"
	CodeCredentialMismatch  Code = "CREDENTIAL_MISMATCH"
	CodeCounterRegression   Code = "COUNTER_REGRESSION"
	CodeCeremonyFailed      Code = "CEREMONY_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotAuthenticated:
		return http.StatusUnauthorized

	case CodeInvalidCredentials,
		CodeTOTPCodeInvalid,
		CodeEmailCodeInvalid:
		return http.StatusForbidden

	case CodeValidation,
		CodePasswordTooShort,
		CodeUsernameEmpty,
		CodeTOTPNotConfigured,
		CodeChallengeNotFound,
		CodeCredentialMismatch,
		CodeCounterRegression,
		CodeCeremonyFailed:
		return http.StatusBadRequest

	case CodeNotFound:
		return http.StatusNotFound

	case CodeUsernameTaken:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
