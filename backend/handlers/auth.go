package handlers

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/PhilHem/villa-auth/backend/auth"
	"github.com/PhilHem/villa-auth/backend/security"

	"github.com/gorilla/sessions"
)

const pendingSessionName = "villa_admin_2fa"

// NewSessionStore returns the signed and encrypted cookie store that holds
// a pending 2FA login between the password and code steps.
func NewSessionStore(secret string, timeout time.Duration, secure bool) *sessions.CookieStore {
	blockKey := sha256.Sum256([]byte("session-encryption:" + secret))
	store := sessions.NewCookieStore([]byte(secret), blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/admin",
		MaxAge:   int(timeout.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
	return store
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AdminLogin checks the password and, for 2FA accounts, either an inline
// totpCode or starts a pending login completed at /admin/verify-2fa.
func (a *API) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := a.auth.AdminLogin(r.Context(), auth.AdminLoginInput{
		Username: req.Username,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
		Source:   a.clientIP(r),
	})
	if errors.Is(err, auth.ErrTOTPRequired) {
		if serr := a.startPending(w, r, req.Username); serr != nil {
			slog.Error("failed to save pending session", "source", "auth", "error", serr.Error())
			writeError(w, r, serr)
			return
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (a *API) startPending(w http.ResponseWriter, r *http.Request, username string) error {
	session, _ := a.sessions.Get(r, pendingSessionName)
	session.Values["pending_admin"] = username
	session.Values["pending_at"] = a.now().Unix()
	return session.Save(r, w)
}

// pendingAdmin returns the username whose password step succeeded, if the
// pending login has not timed out.
func (a *API) pendingAdmin(r *http.Request) (*sessions.Session, string, bool) {
	session, err := a.sessions.Get(r, pendingSessionName)
	if err != nil {
		return session, "", false
	}
	username, ok := session.Values["pending_admin"].(string)
	if !ok || username == "" {
		return session, "", false
	}
	at, ok := session.Values["pending_at"].(int64)
	if !ok || a.now().Sub(time.Unix(at, 0)) > a.pendingTTL {
		return session, "", false
	}
	return session, username, true
}

// TOTPVerifyStatus reports whether a pending login exists and hands out the
// CSRF token the code step must echo.
func (a *API) TOTPVerifyStatus(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.pendingAdmin(r); !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no pending login"})
		return
	}
	token, err := a.csrf.Token(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": true, "csrfToken": token})
}

// TOTPVerify completes a pending login with a TOTP code.
func (a *API) TOTPVerify(w http.ResponseWriter, r *http.Request) {
	session, username, ok := a.pendingAdmin(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no pending login"})
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := a.auth.CompleteAdminTOTP(r.Context(), username, req.Code, a.clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Clear pending state
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		slog.Warn("failed to clear pending session", "source", "auth", "error", err.Error())
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

type verifyTokenResponse struct {
	Valid bool `json:"valid"`
	*security.Identity
}

// VerifyToken reports whether a token is valid. Invalid tokens are a 200
// with valid=false.
func (a *API) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := a.auth.VerifyToken(req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, verifyTokenResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, verifyTokenResponse{Valid: true, Identity: &id})
}
