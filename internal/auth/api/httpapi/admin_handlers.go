package httpapi

import (
	"net/http"
	"strconv"

	"github.com/keyfold/keyfold/internal/auth/service"
)

// The admin surface mirrors the repository operations one-to-one so tests can
// inspect and mutate any auth state directly.

func (h *Handler) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, toUserJSON(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": out})
}

func (h *Handler) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.svc.AdminCreateUser(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": toUserJSON(created)})
}

func (h *Handler) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetUserDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"user":       toUserJSON(detail.User),
		"sessions":   toSessionsJSON(detail.Sessions),
		"passkeys":   toPasskeysJSON(detail.Passkeys),
		"emailCodes": toEmailCodesJSON(detail.EmailCodes),
		"events":     toEventsJSON(detail.Events),
	})
}

type adminUpdateUserRequest struct {
	Email           *string `json:"email"`
	TOTPEnabled     *bool   `json:"totpEnabled"`
	EmailMFAEnabled *bool   `json:"emailMfaEnabled"`
}

func (h *Handler) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req adminUpdateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.svc.UpdateUser(r.Context(), r.PathValue("id"), service.UserPatch{
		Email:           req.Email,
		TOTPEnabled:     req.TOTPEnabled,
		EmailMFAEnabled: req.EmailMFAEnabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserJSON(updated)})
}

func (h *Handler) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type adminResetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleAdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req adminResetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), r.PathValue("id"), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminCurrentTOTP(w http.ResponseWriter, r *http.Request) {
	current, err := h.svc.CurrentTOTPCode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"code":             current.Code,
		"remainingSeconds": current.RemainingSeconds,
	})
}

func (h *Handler) handleAdminDisableTOTP(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DisableTOTP(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminMintEmailCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.SendEmailCode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "code": code})
}

func (h *Handler) handleAdminListEmailCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.svc.ListEmailCodes(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "codes": toEmailCodesJSON(codes)})
}

func (h *Handler) handleAdminListUserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListUserSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": toSessionsJSON(sessions)})
}

func (h *Handler) handleAdminRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeUserSessions(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": toSessionsJSON(sessions)})
}

func (h *Handler) handleAdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeSession(r.Context(), r.PathValue("token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminRevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeAllSessions(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAdminListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": toEventsJSON(events)})
}

func (h *Handler) handleAdminListUserEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListUserEvents(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": toEventsJSON(events)})
}

func (h *Handler) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func queryLimit(r *http.Request) int {
	value, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return value
}
