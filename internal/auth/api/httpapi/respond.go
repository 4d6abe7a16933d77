package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/event"
	"github.com/keyfold/keyfold/internal/auth/service"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps a domain error to its HTTP status with a generic message.
// Internal details never reach the client.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()

	message := "internal error"
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	} else if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
		message = "not found"
	}
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		message = "internal error"
	}

	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
		return false
	}
	return true
}

// clientMeta extracts session attribution from proxy headers, falling back to
// the socket address.
func clientMeta(r *http.Request) service.ClientMeta {
	ip := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		ip = strings.TrimSpace(parts[0])
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return service.ClientMeta{UserAgent: r.UserAgent(), IPAddress: ip}
}

func setSessionCookie(w http.ResponseWriter, session storage.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

var errNotAuthenticated = apperrors.New(apperrors.CodeNotAuthenticated, "not authenticated")

// requireSession resolves the caller's cookie to a live session or writes a
// 401. A missing or expired session is absence, never a server fault.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (storage.Session, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, errNotAuthenticated)
		return storage.Session{}, false
	}
	session, err := h.svc.GetValidSession(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, errNotAuthenticated)
		} else {
			writeError(w, err)
		}
		return storage.Session{}, false
	}
	return session, true
}

// sessionFromRequest is the optional variant: no session means nil, not 401.
func (h *Handler) sessionFromRequest(r *http.Request) *storage.Session {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	session, err := h.svc.GetValidSession(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return &session
}

type userJSON struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email,omitempty"`
	TOTPEnabled     bool      `json:"totpEnabled"`
	EmailMFAEnabled bool      `json:"emailMfaEnabled"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toUserJSON(u user.User) userJSON {
	return userJSON{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		TOTPEnabled:     u.TOTPEnabled,
		EmailMFAEnabled: u.EmailMFAEnabled,
		CreatedAt:       u.CreatedAt,
	}
}

type sessionJSON struct {
	Token       string    `json:"token"`
	UserID      string    `json:"userId"`
	MFAVerified bool      `json:"mfaVerified"`
	UserAgent   string    `json:"userAgent,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func toSessionJSON(s storage.Session) sessionJSON {
	return sessionJSON{
		Token:       s.Token,
		UserID:      s.UserID,
		MFAVerified: s.MFAVerified,
		UserAgent:   s.UserAgent,
		IPAddress:   s.IPAddress,
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}

func toSessionsJSON(sessions []storage.Session) []sessionJSON {
	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionJSON(s))
	}
	return out
}

type passkeyJSON struct {
	CredentialID string     `json:"credentialId"`
	UserID       string     `json:"userId"`
	FriendlyName string     `json:"friendlyName,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

func toPasskeysJSON(credentials []storage.PasskeyCredential) []passkeyJSON {
	out := make([]passkeyJSON, 0, len(credentials))
	for _, c := range credentials {
		out = append(out, passkeyJSON{
			CredentialID: c.CredentialID,
			UserID:       c.UserID,
			FriendlyName: c.FriendlyName,
			CreatedAt:    c.CreatedAt,
			LastUsedAt:   c.LastUsedAt,
		})
	}
	return out
}

type emailCodeJSON struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func toEmailCodesJSON(codes []storage.EmailCode) []emailCodeJSON {
	out := make([]emailCodeJSON, 0, len(codes))
	for _, c := range codes {
		out = append(out, emailCodeJSON{
			ID:        c.ID,
			Code:      c.Code,
			Used:      c.Used,
			CreatedAt: c.CreatedAt,
			ExpiresAt: c.ExpiresAt,
		})
	}
	return out
}

type eventJSON struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toEventsJSON(events []event.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, record := range events {
		var details json.RawMessage
		if record.Details != "" {
			details = json.RawMessage(record.Details)
		}
		out = append(out, eventJSON{
			ID:        record.ID,
			UserID:    record.UserID,
			Type:      string(record.Type),
			Details:   details,
			CreatedAt: record.CreatedAt,
		})
	}
	return out
}
