package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/PhilHem/villa-auth/backend/auth"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error        string            `json:"error"`
	Fields       map[string]string `json:"fields,omitempty"`
	Reasons      []string          `json:"reasons,omitempty"`
	TOTPRequired bool              `json:"totpRequired,omitempty"`
	RetryAfter   int               `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v. On failure it writes the 400
// and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return false
	}
	return true
}

var kindStatus = map[auth.Kind]int{
	auth.KindInternal:             http.StatusInternalServerError,
	auth.KindInvalidCredentials:   http.StatusUnauthorized,
	auth.KindAccountLocked:        http.StatusTooManyRequests,
	auth.KindRateLimited:          http.StatusTooManyRequests,
	auth.KindInvalidTOTP:          http.StatusUnauthorized,
	auth.KindTOTPRequired:         http.StatusUnauthorized,
	auth.KindWeakPassword:         http.StatusUnprocessableEntity,
	auth.KindInvalidInput:         http.StatusBadRequest,
	auth.KindDuplicateAccount:     http.StatusBadRequest,
	auth.KindTokenInvalid:         http.StatusUnauthorized,
	auth.KindUnverifiedAccount:    http.StatusUnauthorized,
	auth.KindCodeInvalidOrExpired: http.StatusBadRequest,
	auth.KindUnknownAccount:       http.StatusNotFound,
}

var kindMessage = map[auth.Kind]string{
	auth.KindInternal:             "internal error",
	auth.KindInvalidCredentials:   "invalid credentials",
	auth.KindAccountLocked:        "too many failed attempts",
	auth.KindRateLimited:          "rate limited",
	auth.KindInvalidTOTP:          "invalid code",
	auth.KindTOTPRequired:         "two-factor code required",
	auth.KindWeakPassword:         "password does not meet requirements",
	auth.KindInvalidInput:         "invalid input",
	auth.KindDuplicateAccount:     "account already exists",
	auth.KindTokenInvalid:         "unauthorized",
	auth.KindUnverifiedAccount:    "email not verified",
	auth.KindCodeInvalidOrExpired: "invalid or expired code",
	auth.KindUnknownAccount:       "unknown account",
}

// writeError renders err with the status for its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, err, 0)
}

// writeErrorStatus renders err with status, or the kind's default when
// status is 0. Internal causes are logged and never sent.
func writeErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	var e *auth.Error
	if !errors.As(err, &e) {
		e = &auth.Error{Kind: auth.KindInternal, Err: err}
	}
	if status == 0 {
		status = kindStatus[e.Kind]
	}
	if e.Kind == auth.KindInternal {
		slog.Error("request failed", "source", "http", "path", r.URL.Path, "error", err.Error())
	}

	resp := errorResponse{
		Error:        kindMessage[e.Kind],
		Fields:       e.Fields,
		Reasons:      e.Reasons,
		TOTPRequired: e.Kind == auth.KindTOTPRequired,
	}
	if e.RetryAfter > 0 {
		resp.RetryAfter = retrySeconds(e.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	writeJSON(w, status, resp)
}

func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
