package httpapi

import "net/http"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), req.Username, req.Password, req.Email, clientMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}

	setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"user":        toUserJSON(result.User),
		"mfaRequired": false,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Login(r.Context(), req.Username, req.Password, clientMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}

	setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"user":        toUserJSON(result.User),
		"mfaRequired": result.MFARequired,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
			writeError(w, err)
			return
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		token = cookie.Value
	}

	status, err := h.svc.SessionStatus(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	if !status.Authenticated {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"mfaVerified":   status.MFAVerified,
		"mfaRequired":   status.MFARequired,
		"user":          toUserJSON(status.User),
	})
}
