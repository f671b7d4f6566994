package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/PhilHem/villa-auth/backend/auth"
	"github.com/PhilHem/villa-auth/backend/middleware"
	"github.com/PhilHem/villa-auth/backend/models"
)

type registerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	AcceptTerms bool   `json:"acceptTerms"`
	Address     string `json:"address"`
}

type registerResponse struct {
	Member               *models.MemberAccount `json:"member"`
	VerificationRequired bool                  `json:"verificationRequired"`
}

type memberLoginResponse struct {
	Member    *models.MemberAccount `json:"member"`
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expiresAt"`
}

type memberResponse struct {
	Member *models.MemberAccount `json:"member"`
}

func (a *API) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := a.auth.RegisterMember(r.Context(), auth.RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    req.Password,
		AcceptTerms: req.AcceptTerms,
		Address:     req.Address,
	})
	if err != nil {
		status := 0
		if errors.Is(err, auth.ErrInvalidInput) {
			status = http.StatusUnprocessableEntity
		}
		writeErrorStatus(w, r, err, status)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Member: m, VerificationRequired: true})
}

func (a *API) MemberLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, sess, err := a.auth.MemberLogin(r.Context(), req.Email, req.Password, a.clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberLoginResponse{Member: m, Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := a.auth.VerifyEmail(r.Context(), req.Email, req.Code, a.clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Member: m})
}

func (a *API) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.auth.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

// Me returns the member the bearer token belongs to.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())
	m, err := a.auth.Member(r.Context(), id.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Member: m})
}
