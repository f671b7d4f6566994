package handlers

import (
	"errors"
	"net/http"

	"github.com/PhilHem/villa-auth/backend/auth"
	"github.com/PhilHem/villa-auth/backend/middleware"
)

type totpSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningURI"`
	QRCode          string `json:"qrCode"`
}

func currentAdmin(r *http.Request) string {
	id, _ := middleware.IdentityFrom(r.Context())
	return id.Subject
}

// TOTPSetup re-proves the password and returns a fresh pending secret
func (a *API) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	e, err := a.auth.BeginTOTPSetup(r.Context(), currentAdmin(r), req.Password, a.clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		Secret:          e.Secret,
		ProvisioningURI: e.ProvisioningURI,
		QRCode:          e.QRCode,
	})
}

// TOTPEnable confirms the pending secret with a code
func (a *API) TOTPEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.auth.ConfirmTOTP(r.Context(), currentAdmin(r), req.Code); err != nil {
		writeErrorStatus(w, r, err, badCodeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// TOTPDisable turns 2FA off given the password and a current code
func (a *API) TOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := a.auth.DisableTOTP(r.Context(), currentAdmin(r), req.Password, req.Code, a.clientIP(r))
	if err != nil {
		writeErrorStatus(w, r, err, badCodeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (a *API) TOTPStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.auth.TOTPStatus(r.Context(), currentAdmin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// badCodeStatus makes a wrong code a 400 on the management endpoints; at
// login it stays 401.
func badCodeStatus(err error) int {
	if errors.Is(err, auth.ErrInvalidTOTP) {
		return http.StatusBadRequest
	}
	return 0
}
