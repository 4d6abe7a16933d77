// Package httpapi exposes the auth orchestrator over an HTTP JSON API.
package httpapi

import (
	"net/http"

	"github.com/keyfold/keyfold/internal/auth/service"
)

// SessionCookie is the name of the browser session cookie.
const SessionCookie = "session_id"

// Handler routes HTTP requests to the auth service.
type Handler struct {
	svc *service.Service
}

// New builds a handler around the service.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers every endpoint on a fresh mux.
//
// The admin surface is intentionally unauthenticated: this service is a test
// harness and the admin panel is its inspection window.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/status", h.handleStatus)

	mux.HandleFunc("POST /mfa/totp/setup", h.handleTOTPSetup)
	mux.HandleFunc("POST /mfa/totp/enable", h.handleTOTPEnable)
	mux.HandleFunc("POST /mfa/totp/verify", h.handleTOTPVerify)
	mux.HandleFunc("POST /mfa/totp/disable", h.handleTOTPDisable)
	mux.HandleFunc("POST /mfa/email/enable", h.handleEmailEnable)
	mux.HandleFunc("POST /mfa/email/disable", h.handleEmailDisable)
	mux.HandleFunc("POST /mfa/email/send", h.handleEmailSend)
	mux.HandleFunc("POST /mfa/email/verify", h.handleEmailVerify)

	mux.HandleFunc("POST /webauthn/register/options", h.handleWebAuthnRegisterOptions)
	mux.HandleFunc("POST /webauthn/register/verify", h.handleWebAuthnRegisterVerify)
	mux.HandleFunc("POST /webauthn/auth/options", h.handleWebAuthnAuthOptions)
	mux.HandleFunc("POST /webauthn/auth/verify", h.handleWebAuthnAuthVerify)
	mux.HandleFunc("GET /webauthn/credentials", h.handleWebAuthnListCredentials)
	mux.HandleFunc("DELETE /webauthn/credentials/{id}", h.handleWebAuthnDeleteCredential)

	mux.HandleFunc("GET /admin/users", h.handleAdminListUsers)
	mux.HandleFunc("POST /admin/users", h.handleAdminCreateUser)
	mux.HandleFunc("GET /admin/users/{id}", h.handleAdminGetUser)
	mux.HandleFunc("PATCH /admin/users/{id}", h.handleAdminUpdateUser)
	mux.HandleFunc("DELETE /admin/users/{id}", h.handleAdminDeleteUser)
	mux.HandleFunc("POST /admin/users/{id}/reset-password", h.handleAdminResetPassword)
	mux.HandleFunc("GET /admin/users/{id}/totp/current", h.handleAdminCurrentTOTP)
	mux.HandleFunc("DELETE /admin/users/{id}/totp", h.handleAdminDisableTOTP)
	mux.HandleFunc("POST /admin/users/{id}/email-codes", h.handleAdminMintEmailCode)
	mux.HandleFunc("GET /admin/users/{id}/email-codes", h.handleAdminListEmailCodes)
	mux.HandleFunc("GET /admin/users/{id}/sessions", h.handleAdminListUserSessions)
	mux.HandleFunc("DELETE /admin/users/{id}/sessions", h.handleAdminRevokeUserSessions)
	mux.HandleFunc("GET /admin/users/{id}/events", h.handleAdminListUserEvents)
	mux.HandleFunc("GET /admin/sessions", h.handleAdminListSessions)
	mux.HandleFunc("DELETE /admin/sessions", h.handleAdminRevokeAllSessions)
	mux.HandleFunc("DELETE /admin/sessions/{token}", h.handleAdminRevokeSession)
	mux.HandleFunc("GET /admin/events", h.handleAdminListEvents)
	mux.HandleFunc("POST /admin/reset", h.handleAdminReset)

	return mux
}
