package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/keyfold/keyfold/internal/auth/service"
)

// Passkey registration requires an authenticated session; authentication
// works with or without one (step-up vs passwordless login).

func (h *Handler) handleWebAuthnRegisterOptions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	options, err := h.svc.BeginPasskeyRegistration(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"requestToken": options.RequestToken,
		"options":      json.RawMessage(options.OptionsJSON),
	})
}

type webAuthnVerifyRequest struct {
	RequestToken string          `json:"requestToken"`
	FriendlyName string          `json:"friendlyName"`
	Response     json.RawMessage `json:"response"`
}

func (h *Handler) handleWebAuthnRegisterVerify(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var req webAuthnVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	credentialID, err := h.svc.FinishPasskeyRegistration(r.Context(), session.UserID, req.RequestToken, req.FriendlyName, req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"credentialId": credentialID,
	})
}

type webAuthnAuthOptionsRequest struct {
	Username string `json:"username"`
}

func (h *Handler) handleWebAuthnAuthOptions(w http.ResponseWriter, r *http.Request) {
	var req webAuthnAuthOptionsRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	// A current session scopes the ceremony to its user for step-up; a
	// username does the same for passwordless login from the login page.
	userID := ""
	if session := h.sessionFromRequest(r); session != nil {
		userID = session.UserID
	} else if req.Username != "" {
		found, err := h.svc.GetUserByUsername(r.Context(), req.Username)
		if err != nil {
			writeError(w, err)
			return
		}
		userID = found.ID
	}

	options, err := h.svc.BeginPasskeyAuthentication(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"requestToken": options.RequestToken,
		"options":      json.RawMessage(options.OptionsJSON),
	})
}

func (h *Handler) handleWebAuthnAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req webAuthnVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	current := h.sessionFromRequest(r)
	result, err := h.svc.FinishPasskeyAuthentication(r.Context(), req.RequestToken, req.Response, current, clientMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Action == service.PasskeyActionLoggedIn {
		setSessionCookie(w, result.Session)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  result.Action,
		"user":    toUserJSON(result.User),
	})
}

func (h *Handler) handleWebAuthnListCredentials(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	credentials, err := h.svc.ListPasskeys(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credentials": toPasskeysJSON(credentials)})
}

func (h *Handler) handleWebAuthnDeleteCredential(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeletePasskey(r.Context(), session.UserID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
